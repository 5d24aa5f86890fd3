package synthesis

import "fmt"

// InputValidationError reports a malformed request. It is never retried.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidInput(field, format string, args ...any) error {
	return &InputValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
