package services

import "fmt"

// UserError carries a message safe to show the shopper alongside the
// internal cause. Handlers surface Message; logs get the wrapped error.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func userErrorf(err error, format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Err: err}
}

// UserMessage extracts the shopper-facing message from err, falling back to
// a generic one so raw backend errors never leak to the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if userErr, ok := e.(*UserError); ok {
			return userErr.Message
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return "Something went wrong. Please try again."
}
