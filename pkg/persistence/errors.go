package persistence

import "errors"

// ErrRunNotFound indicates no run record exists under the given id.
var ErrRunNotFound = errors.New("run not found")

// IsRunNotFound reports whether err wraps ErrRunNotFound.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
