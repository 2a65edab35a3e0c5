package syncer

import (
	"errors"

	"peer-sync/pkg/store"
)

// Failure kinds of a reconciliation pass. Network-level failures are not a separate
// kind; they surface as FetchFailed or WriteFailed with an "unreachable" message.
var (
	ErrNotConfigured = store.ErrNotConfigured
	ErrFetchFailed   = errors.New("fetch failed")
	ErrWriteFailed   = errors.New("write failed")
	ErrInvalidConfig = errors.New("invalid sync configuration")
	ErrBusy          = errors.New("sync already in progress")
)

// PassError carries the failure kind and a message fit for the history log.
type PassError struct {
	Kind error
	Op   string
	Err  error
}

func (e *PassError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *PassError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
