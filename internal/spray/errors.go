package spray

import "errors"

var (
	// ErrNoBaseline means the nominal sample set for a pump is empty. Checks
	// that depend on it are skipped, not passed.
	ErrNoBaseline = errors.New("no nominal baseline")

	ErrInvalidPumpType = errors.New("invalid pump type")

	// ErrInProgress is returned by a batch operation that is already running.
	ErrInProgress = errors.New("operation already in progress")

	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEstimationDegenerate is produced by a regression strategy whose fit
	// cannot be inverted. The filter estimator recovers from it locally.
	ErrEstimationDegenerate = errors.New("estimation degenerate")

	ErrNotFound = errors.New("not found")
)

// OpError ties a failure to the gateway operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }
