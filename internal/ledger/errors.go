package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("incident not found")
	ErrDuplicateID = errors.New("duplicate incident id")
	ErrMissingID   = errors.New("incident id is required")
)

// PersistenceError reports that a mutation could not be written. The
// in-memory ledger is unchanged when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: persist failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
