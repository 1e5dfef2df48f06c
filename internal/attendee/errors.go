package attendee

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateEmail  = errors.New("email already exists")
	ErrSlotUnavailable = errors.New("time slot unavailable")

	// ErrLockTimeout and ErrTransaction are returned by stores. The service
	// retries both before giving up.
	ErrLockTimeout = errors.New("store lock timeout")
	ErrTransaction = errors.New("store transaction failed")
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// ValidationErrors collects every problem found in one payload.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Is(target error) bool { return target == ErrValidation }

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Details flattens any validation error into field details.
func Details(err error) []ValidationError {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var one ValidationError
	if errors.As(err, &one) {
		return []ValidationError{one}
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
