// Package runner drives the engine from a snapshot source: one Step per
// snapshot, each finished before the next snapshot is pulled.
package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/models"
)

// Stepper is the engine surface the runner drives.
type Stepper interface {
	Step(ctx context.Context, history []models.OptionChainSnapshot) *models.Decision
}

// PriceSink receives every snapshot before the engine sees it. The paper
// broker uses it to price simulated fills.
type PriceSink interface {
	UpdatePrices(snap *models.OptionChainSnapshot)
}

// Archiver persists snapshots for later replay.
type Archiver interface {
	SaveSnapshot(ctx context.Context, snap *models.OptionChainSnapshot) error
}

// Options configures a Runner. Sink and Archiver are optional.
type Options struct {
	Source   feed.Source
	Engine   Stepper
	History  *feed.History
	Sink     PriceSink
	Archiver Archiver
	Logger   zerolog.Logger
	// Pace sleeps between snapshots when replaying a file in real time.
	Pace time.Duration
}

// Stats summarises a run.
type Stats struct {
	Snapshots int                   `json:"snapshots"`
	Skipped   int                   `json:"skipped"`
	Actions   map[models.Action]int `json:"actions"`
}

// Runner pulls snapshots and steps the engine.
type Runner struct {
	opts    Options
	history *feed.History
	logger  zerolog.Logger
}

// New creates a runner.
func New(opts Options) *Runner {
	h := opts.History
	if h == nil {
		h = feed.NewHistory(feed.DefaultRetention)
	}
	return &Runner{
		opts:    opts,
		history: h,
		logger:  opts.Logger.With().Str("component", "runner").Logger(),
	}
}

// History returns the rolling snapshot window the engine is stepped with.
func (r *Runner) History() *feed.History { return r.history }

// Run processes snapshots until the source is exhausted or ctx is cancelled.
// Undecodable input is logged and skipped; snapshots that decode but fail
// validation still reach the engine, which records the skip itself.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	stats := Stats{Actions: make(map[models.Action]int)}

	for {
		snap, err := r.opts.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info().Int("snapshots", stats.Snapshots).Int("skipped", stats.Skipped).Msg("source exhausted")
			return stats, nil
		}
		if err != nil {
			var dataErr *apperrors.DataError
			if errors.As(err, &dataErr) {
				stats.Skipped++
				r.logger.Warn().Err(err).Msg("skipping undecodable snapshot")
				continue
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, err
		}

		if r.opts.Archiver != nil {
			if err := r.opts.Archiver.SaveSnapshot(ctx, snap); err != nil {
				r.logger.Error().Err(err).Str("snapshot_id", snap.ID).Msg("failed to archive snapshot")
			}
		}
		if r.opts.Sink != nil {
			r.opts.Sink.UpdatePrices(snap)
		}

		r.history.Add(*snap)
		d := r.opts.Engine.Step(ctx, r.history.Snapshots())
		stats.Snapshots++
		if d != nil {
			stats.Actions[d.Action]++
		}

		if r.opts.Pace > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(r.opts.Pace):
			}
		}
	}
}
