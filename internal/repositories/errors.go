package repositories

import (
	"fmt"

	"github.com/activitycal/backend/internal/auth"
)

// storageError tags a driver failure with auth.ErrStorage so callers can map it
// without knowing which backend produced it.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, auth.ErrStorage, err)
}
