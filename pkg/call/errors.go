package call

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive is returned by StartCall when a call is already in
// progress or being established.
var ErrAlreadyActive = errors.New("call already active")

// ErrConnectTimeout is returned when the voice connection cannot be
// established within the configured timeout.
var ErrConnectTimeout = errors.New("voice connection timed out")

// TokenError indicates the remote credential mint failed.
type TokenError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token mint failed: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token mint failed: %s: %v", e.Message, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }
