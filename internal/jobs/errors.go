package jobs

import "errors"

// Error kinds. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("job not found")
	ErrNotReady   = errors.New("report not ready")
	ErrUpstream   = errors.New("inference service error")
	ErrConflict   = errors.New("job transition conflict")
)

const (
	msgNotFound = "Job not found"
	msgNotReady = "Report not ready"
)

// Error is a caller-facing failure. Its text is safe to return verbatim.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func notFound() *Error { return newError(ErrNotFound, msgNotFound) }
