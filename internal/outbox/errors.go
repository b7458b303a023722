package outbox

import "errors"

// PermanentError marks a dispatch failure that no amount of retrying
// can fix (malformed payload, unknown entity type). The dispatcher
// moves such entries straight to the terminal failed state instead of
// burning the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
