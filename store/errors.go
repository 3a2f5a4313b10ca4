package store

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// Sentinel errors for the store package.
var (
	// ErrMailboxNotFound is returned when a path or id does not resolve to a mailbox.
	ErrMailboxNotFound = errors.New("store: mailbox not found")

	// ErrMailboxExists is returned when creating or renaming onto a path that is taken.
	ErrMailboxExists = errors.New("store: mailbox already exists")

	// ErrMessageNotFound is returned when a UID does not resolve to a message.
	ErrMessageNotFound = errors.New("store: message not found")

	// ErrNotSupported is returned by mappers for capabilities the backend lacks.
	ErrNotSupported = errors.New("store: not supported")

	// ErrPersistence is returned when the backend fails to read or write.
	ErrPersistence = errors.New("store: persistence failure")

	// ErrConcurrentModification is reported per UID when a message vanished
	// between selection and update.
	ErrConcurrentModification = errors.New("store: concurrent modification")

	// ErrBackendUnavailable is returned when no session-bound handle can be established.
	ErrBackendUnavailable = errors.New("store: backend unavailable")

	// ErrInvalidPath is returned for malformed mailbox paths.
	ErrInvalidPath = errors.New("store: invalid mailbox path")

	// ErrInvalidID is returned when an id cannot be parsed by the backend.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")
)

// Error checking helpers.

func IsMailboxNotFound(err error) bool {
	return errors.Is(err, ErrMailboxNotFound)
}

func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// PersistenceError wraps a backend I/O failure so that it matches ErrPersistence
// while keeping the driver error reachable through errors.As.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Persistence wraps err as a *PersistenceError. A nil err stays nil, and errors
// that already carry a store sentinel are returned unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrPersistence, ErrMailboxNotFound, ErrMailboxExists, ErrMessageNotFound,
		ErrNotSupported, ErrBackendUnavailable, ErrNotConnected, ErrInvalidID,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}

// UIDError reports a failure scoped to a single message of a batch.
type UIDError struct {
	UID imap.UID
	Err error
}

func (e *UIDError) Error() string {
	return fmt.Sprintf("store: uid %d: %v", e.UID, e.Err)
}

func (e *UIDError) Unwrap() error {
	return e.Err
}
