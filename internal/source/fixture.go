package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// Fixture replays a recorded telemetry file, one reading per line.
type Fixture struct {
	path  string
	pace  time.Duration
	clock timeutil.Clock
	// Rebase shifts recorded timestamps so the first one lands on the
	// current time, keeping the original spacing.
	Rebase bool
}

// NewFixture replays path with pace between lines. A zero pace replays as
// fast as the store accepts readings.
func NewFixture(path string, pace time.Duration, clock timeutil.Clock) *Fixture {
	return &Fixture{path: path, pace: pace, clock: clock}
}

func (f *Fixture) Name() string { return "fixture" }

// Run replays the file once and returns nil at its end.
func (f *Fixture) Run(ctx context.Context, in *Ingester) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	var tick <-chan time.Time
	if f.pace > 0 {
		ticker := f.clock.NewTicker(f.pace)
		defer ticker.Stop()
		tick = ticker.C()
	}

	var offset time.Duration
	rebased := false
	n := 0
	scan := bufio.NewScanner(file)
	for scan.Scan() {
		if len(scan.Bytes()) == 0 {
			continue
		}
		if tick != nil && n > 0 {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		r, err := in.parser.Parse(scan.Bytes())
		if err != nil {
			in.reject(f.Name(), err)
			continue
		}
		if f.Rebase && !r.Time.IsZero() {
			if !rebased {
				offset = f.clock.Now().Sub(r.Time)
				rebased = true
			}
			r.Time = r.Time.Add(offset)
		}
		if _, err := in.Append(ctx, r); err != nil {
			return fmt.Errorf("fixture line %d: %w", n+1, err)
		}
		n++
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	monitoring.Logf("fixture: replayed %d readings from %s", n, f.path)
	return nil
}
