package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// Sink stores readings and assigns their IDs.
type Sink interface {
	AppendReading(ctx context.Context, r spray.Reading) (spray.Reading, error)
}

// Stats counts what an Ingester has seen since start.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Ingester parses lines and appends them to the sink. It is safe for
// concurrent use by several sources.
type Ingester struct {
	sink    Sink
	parser  Parser
	clock   timeutil.Clock
	metrics *monitoring.Metrics

	accepted atomic.Int64
	rejected atomic.Int64
}

func NewIngester(sink Sink, parser Parser, clock timeutil.Clock, metrics *monitoring.Metrics) *Ingester {
	return &Ingester{sink: sink, parser: parser, clock: clock, metrics: metrics}
}

// Append stores one reading. A reading without a timestamp is stamped with
// the current time.
func (in *Ingester) Append(ctx context.Context, r spray.Reading) (spray.Reading, error) {
	r.ID = 0
	if r.Time.IsZero() {
		r.Time = in.clock.Now().UTC()
	}
	stored, err := in.sink.AppendReading(ctx, r)
	if err != nil {
		return stored, fmt.Errorf("append reading: %w", err)
	}
	in.accepted.Add(1)
	in.metrics.ReadingIngested()
	return stored, nil
}

// IngestLine parses and stores one line from the named source. Malformed
// lines are counted and returned as ErrMalformed; the first of every
// hundred is logged.
func (in *Ingester) IngestLine(ctx context.Context, name string, line []byte) error {
	r, err := in.parser.Parse(line)
	if err != nil {
		in.reject(name, err)
		return err
	}
	_, err = in.Append(ctx, r)
	return err
}

func (in *Ingester) reject(name string, err error) {
	n := in.rejected.Add(1)
	in.metrics.ReadingRejected(name)
	if n%100 == 1 {
		monitoring.Logf("%s: dropped line (%d so far): %v", name, n, err)
	}
}

// Stats returns the running counters.
func (in *Ingester) Stats() Stats {
	return Stats{Accepted: in.accepted.Load(), Rejected: in.rejected.Load()}
}

// handleLine is the per-line callback shared by the streaming sources:
// malformed input is skipped, a store failure stops the source.
func handleLine(ctx context.Context, in *Ingester, name string, line []byte) error {
	err := in.IngestLine(ctx, name, line)
	if err == nil || errors.Is(err, ErrMalformed) {
		return nil
	}
	return err
}
