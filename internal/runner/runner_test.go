package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/broker"
	"nifty-options-engine/internal/engine"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

var open = time.Date(2024, 10, 17, 10, 0, 0, 0, utils.IndiaLocation)

// chain builds strikes 22900..23100 priced at 100 except the overrides.
func chain(i int, und float64, overrides map[float64]float64) models.OptionChainSnapshot {
	s := models.OptionChainSnapshot{
		ID:         fmt.Sprintf("snap-%d", i),
		Timestamp:  open.Add(time.Duration(i) * 30 * time.Second),
		Underlying: models.Underlying{LTP: models.Float(und)},
		ATMStrike:  23000,
	}
	for k := 22900.0; k <= 23100; k += 50 {
		ce := 100.0
		if p, ok := overrides[k]; ok {
			ce = p
		}
		s.Rows = append(s.Rows, models.SnapshotRow{
			Strike: k,
			CE:     &models.OptionLeg{LTP: models.Float(ce), TradingSymbol: fmt.Sprintf("NIFTY24O24%.0fCE", k)},
			PE:     &models.OptionLeg{LTP: models.Float(100), TradingSymbol: fmt.Sprintf("NIFTY24O24%.0fPE", k)},
		})
	}
	return s
}

// session is ten flat snapshots, a breakout into 23050CE at 80, then the
// call collapsing through its stop.
func session() []models.OptionChainSnapshot {
	var out []models.OptionChainSnapshot
	for i := 0; i < 10; i++ {
		out = append(out, chain(i, 23000, nil))
	}
	out = append(out, chain(10, 23020, map[float64]float64{23000: 115, 23050: 80}))
	out = append(out, chain(11, 23010, map[float64]float64{23050: 50}))
	return out
}

func jsonl(t *testing.T, snaps []models.OptionChainSnapshot, extra ...string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	for _, s := range snaps {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	for _, line := range extra {
		buf.WriteString(line + "\n")
	}
	return &buf
}

type memArchive struct {
	mu    sync.Mutex
	snaps []string
}

func (m *memArchive) SaveSnapshot(_ context.Context, s *models.OptionChainSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s.ID)
	return nil
}

func TestRunDrivesLiveEngineThroughPaperBroker(t *testing.T) {
	pb := broker.NewPaperBroker(broker.PaperBrokerConfig{})
	cfg := models.DefaultEngineConfig()
	cfg.LiveArmed = true
	eng := engine.New(engine.Options{
		Config: cfg,
		Live:   true,
		Broker: pb,
		Sleep:  func(context.Context, time.Duration) error { return nil },
		Logger: zerolog.Nop(),
	})

	archive := &memArchive{}
	r := New(Options{
		Source:   feed.NewJSONLSource(jsonl(t, session(), "{broken")),
		Engine:   eng,
		Sink:     pb,
		Archiver: archive,
		Logger:   zerolog.Nop(),
	})

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Snapshots)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Actions[models.ActionEnter])
	assert.Equal(t, 1, stats.Actions[models.ActionExit])
	assert.Equal(t, 10, stats.Actions[models.ActionNoTrade])
	assert.Len(t, archive.snaps, 12)

	st := eng.State()
	assert.Nil(t, st.CurrentTrade)
	require.Len(t, st.TradeHistory, 1)
	assert.Equal(t, models.ExitSLHit, st.TradeHistory[0].ExitReason)
	assert.True(t, st.TradeHistory[0].FillConfirmed)
	assert.Zero(t, pb.Position("NIFTY24O2423050CE"), "bought and sold through the paper broker")
	assert.Equal(t, 12, r.History().Len())
}

func TestRunPassesInvalidSnapshotsToEngine(t *testing.T) {
	eng := engine.New(engine.Options{Logger: zerolog.Nop()})

	bad := chain(0, 23000, nil)
	bad.Rows[0], bad.Rows[1] = bad.Rows[1], bad.Rows[0]

	r := New(Options{
		Source: feed.NewJSONLSource(jsonl(t, []models.OptionChainSnapshot{bad})),
		Engine: eng,
		Logger: zerolog.Nop(),
	})
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Actions[models.ActionNoTrade])
}

type endless struct{}

func (endless) Next(ctx context.Context) (*models.OptionChainSnapshot, error) {
	s := chain(0, 23000, nil)
	return &s, nil
}

type stepCounter struct{ n int }

func (s *stepCounter) Step(context.Context, []models.OptionChainSnapshot) *models.Decision {
	s.n++
	return &models.Decision{Action: models.ActionNoTrade}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	steps := &stepCounter{}
	r := New(Options{Source: endless{}, Engine: steps, Logger: zerolog.Nop(), Pace: 5 * time.Millisecond})
	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, steps.n)
}
