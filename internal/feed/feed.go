// Package feed supplies option-chain snapshots to the engine driver.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/internal/store"
)

// Source yields snapshots in arrival order. Next returns io.EOF when the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) (*models.OptionChainSnapshot, error)
}

// maxLineSize bounds a single snapshot line; a full NIFTY chain is well under it.
const maxLineSize = 4 << 20

// JSONLSource reads one JSON snapshot per line, as written by an external
// chain collector. Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLSource creates a source over r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONLSource{scanner: sc}
}

// Next decodes the next snapshot. A malformed line yields a DataError and the
// source stays usable for the following lines.
func (s *JSONLSource) Next(ctx context.Context) (*models.OptionChainSnapshot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading snapshot line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++

		data := s.scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		var snap models.OptionChainSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, apperrors.NewDataError("snapshot", fmt.Sprintf("line %d", s.line), "malformed JSON", err)
		}
		return &snap, nil
	}
}

// SnapshotReader is the part of the store a StoreSource needs.
type SnapshotReader interface {
	GetSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]models.OptionChainSnapshot, error)
}

// DefaultPageSize is the number of archived snapshots fetched per query.
const DefaultPageSize = 500

// StoreSource replays archived snapshots in [From, To], paging through the
// store so long sessions are not loaded at once.
type StoreSource struct {
	reader   SnapshotReader
	next     time.Time
	to       time.Time
	pageSize int
	buf      []models.OptionChainSnapshot
	done     bool
}

// NewStoreSource creates a replay source. A zero to means no upper bound.
func NewStoreSource(reader SnapshotReader, from, to time.Time, pageSize int) *StoreSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &StoreSource{reader: reader, next: from, to: to, pageSize: pageSize}
}

// Next returns the next archived snapshot.
func (s *StoreSource) Next(ctx context.Context) (*models.OptionChainSnapshot, error) {
	if len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		page, err := s.reader.GetSnapshots(ctx, store.SnapshotFilter{From: s.next, To: s.to, Limit: s.pageSize})
		if err != nil {
			return nil, fmt.Errorf("loading archived snapshots: %w", err)
		}
		if len(page) < s.pageSize {
			s.done = true
		}
		if len(page) == 0 {
			return nil, io.EOF
		}
		s.buf = page
		s.next = page[len(page)-1].Timestamp.Add(time.Nanosecond)
	}

	snap := s.buf[0]
	s.buf = s.buf[1:]
	return &snap, nil
}
