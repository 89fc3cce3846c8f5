package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ganapathi9191/vegie9/shared/validation"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidState       = errors.New("operation not allowed in current account state")
	ErrNotFound           = errors.New("account not found")
	ErrTooManyAttempts    = errors.New("too many failed attempts")
)

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// validationError returns an error matching ErrValidation that also carries
// the per-field messages as validation.FieldErrors.
func validationError(fields validation.FieldErrors) error {
	return fmt.Errorf("%w: %w", ErrValidation, fields)
}

// requireFields reports every empty value in fields, keyed by field name.
func requireFields(fields map[string]string) validation.FieldErrors {
	missing := validation.FieldErrors{}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing[name] = name + " is a required field"
		}
	}
	return missing
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
