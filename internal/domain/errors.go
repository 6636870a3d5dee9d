package domain

import "errors"

// Scheduler error taxonomy. Storage implementations return these (possibly
// wrapped); callers check with errors.Is.
var (
	// ErrConflict means a compare-and-set lost against a concurrent
	// mutation. The caller retries the whole operation.
	ErrConflict = errors.New("conflict")

	// ErrNotOwner means the caller's lease on the job is gone: it expired
	// and another worker took over, or the job moved on. The caller
	// abandons the job.
	ErrNotOwner = errors.New("not lease owner")

	// ErrNotFound means the job id is unknown.
	ErrNotFound = errors.New("job not found")
)

// ErrorCode maps a taxonomy error to its wire code, or "" for errors
// outside the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return ""
}
