package errors

import stderrors "errors"

// Re-exports so callers importing this package do not also need the
// standard library errors package.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
)

// Plain returns a simple error with the given text.
func Plain(text string) error {
	return stderrors.New(text)
}
