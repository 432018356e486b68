package identity

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is or the Is* helpers.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already registered")
)

// Error is a store failure: the operation, its kind and an optional detail
// such as the conflicting key column.
type Error struct {
	Op     string
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, detail string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Detail: detail}
}

func notFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound}
}

// conflict names the column that is already taken: "email", "public_x" or "public_ed".
func conflict(op, column string) error {
	return &Error{Op: op, Kind: ErrConflict, Detail: column}
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
