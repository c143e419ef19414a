package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/agro-freight/internal/storage"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrForbiddenRole     = errors.New("role not allowed")
	ErrForbidden         = errors.New("access denied")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCapacityExceeded  = errors.New("vehicle capacity exceeded")
)

// fromStore maps a storage failure onto the service's error vocabulary. what names
// the missing thing in not-found messages; conflict is the error a lost conditional
// write becomes.
func fromStore(err error, what string, conflict error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, storage.ErrVehicleBusy):
		return fmt.Errorf("%w: vehicle is not available", ErrInvalidState)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %w", conflict, err)
	case errors.Is(err, storage.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}
