package checkin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoScan is returned when an operation needs a scan result and there is none.
	ErrNoScan = errors.New("checkin: no current scan result")

	// ErrInvalidState is returned when an action is not offered for the current status.
	ErrInvalidState = errors.New("checkin: action not available for current scan status")
)

// ValidationError reports local input that blocks a submission. It is raised
// before any request is sent.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalidState(op string, want, got Status) error {
	return fmt.Errorf("%w: %s requires %s, current status is %s", ErrInvalidState, op, want, got)
}
