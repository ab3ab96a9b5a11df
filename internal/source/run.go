package source

import (
	"context"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
)

// Source delivers readings to an Ingester until its input ends, it fails or
// ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, in *Ingester) error
}

// RunWithRetry restarts src after a failure, waiting backoff between
// attempts, until ctx is cancelled. A source that ends cleanly is not
// restarted.
func RunWithRetry(ctx context.Context, src Source, in *Ingester, backoff time.Duration) error {
	for {
		err := src.Run(ctx, in)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		monitoring.Logf("%s source failed, retrying in %s: %v", src.Name(), backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
