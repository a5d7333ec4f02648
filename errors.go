package a2dp

import "github.com/pkg/errors"

// Result codes shared by every layer. A nil error is success.
var (
	ErrUnavailable      = errors.New("unavailable")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyReleased  = errors.New("already released")
	ErrBadRequest       = errors.New("bad request")
	ErrIllegalState     = errors.New("illegal state")
	ErrTimedOut         = errors.New("timed out")
	ErrClosed           = errors.New("closed")
	ErrInProgress       = errors.New("in progress")
	ErrGeneral          = errors.New("general failure")
)

// Is reports whether err, once unwrapped, is the result code target.
func Is(err, target error) bool {
	return errors.Cause(err) == target
}
