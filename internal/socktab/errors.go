package socktab

import "errors"

// Sentinel errors the façade returns; the root package's dispatcher maps
// these onto the structured error taxonomy (spec.md §7) without
// socktab needing to import the root package.
var (
	ErrBadgeNotFound = errors.New("socktab: unknown badge")
	ErrWouldBlock    = errors.New("socktab: would block")
	ErrInvalidArgs   = errors.New("socktab: invalid arguments")
	ErrNotSupported  = errors.New("socktab: not supported")
	ErrIO            = errors.New("socktab: stack I/O error")
	ErrInternal      = errors.New("socktab: internal error")
)

// wrappedError pairs a sentinel with stack-provided detail so callers
// can still log something useful while errors.Is keeps working against
// the sentinel.
type wrappedError struct {
	sentinel error
	detail   string
}

func (w *wrappedError) Error() string { return w.sentinel.Error() + ": " + w.detail }
func (w *wrappedError) Unwrap() error { return w.sentinel }

func wrap(sentinel error, detail string) error {
	if detail == "" {
		return sentinel
	}
	return &wrappedError{sentinel: sentinel, detail: detail}
}
