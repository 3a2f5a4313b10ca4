package mailstore

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// Sentinel errors for the mailstore package. Use errors.Is() to check.
//
// Errors that have a store counterpart wrap it, so
// errors.Is(err, mailstore.ErrMailboxNotFound) also matches errors returned
// straight from a backend.
var (
	// ErrMailboxNotFound wraps store.ErrMailboxNotFound.
	ErrMailboxNotFound = fmt.Errorf("mailstore: %w", store.ErrMailboxNotFound)

	// ErrMailboxExists wraps store.ErrMailboxExists.
	ErrMailboxExists = fmt.Errorf("mailstore: %w", store.ErrMailboxExists)

	// ErrMessageNotFound wraps store.ErrMessageNotFound.
	ErrMessageNotFound = fmt.Errorf("mailstore: %w", store.ErrMessageNotFound)

	// ErrNotSupported wraps store.ErrNotSupported.
	ErrNotSupported = fmt.Errorf("mailstore: %w", store.ErrNotSupported)

	// ErrPersistence wraps store.ErrPersistence.
	ErrPersistence = fmt.Errorf("mailstore: %w", store.ErrPersistence)

	// ErrConcurrentModification wraps store.ErrConcurrentModification.
	ErrConcurrentModification = fmt.Errorf("mailstore: %w", store.ErrConcurrentModification)

	// ErrBackendUnavailable wraps store.ErrBackendUnavailable.
	ErrBackendUnavailable = fmt.Errorf("mailstore: %w", store.ErrBackendUnavailable)

	// ErrInvalidPath wraps store.ErrInvalidPath.
	ErrInvalidPath = fmt.Errorf("mailstore: %w", store.ErrInvalidPath)

	// ErrNotConnected wraps store.ErrNotConnected.
	ErrNotConnected = fmt.Errorf("mailstore: %w", store.ErrNotConnected)

	// ErrAlreadyConnected wraps store.ErrAlreadyConnected.
	ErrAlreadyConnected = fmt.Errorf("mailstore: %w", store.ErrAlreadyConnected)

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("mailstore: manager is closed")

	// ErrFactoryRequired is returned by New without WithFactory.
	ErrFactoryRequired = errors.New("mailstore: session mapper factory is required")

	// ErrInvalidUser is returned for user names unusable in paths.
	ErrInvalidUser = errors.New("mailstore: invalid user")

	// ErrInvalidMessage is returned for malformed appended messages.
	ErrInvalidMessage = errors.New("mailstore: invalid message")

	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("mailstore: message too large")

	// ErrAttachmentTooLarge is returned when an attachment exceeds MaxAttachmentSize.
	ErrAttachmentTooLarge = errors.New("mailstore: attachment too large")

	// ErrInvalidAnnotation is returned for malformed annotation entries.
	ErrInvalidAnnotation = errors.New("mailstore: invalid annotation")

	// ErrInboxImmutable is returned when deleting or renaming INBOX.
	ErrInboxImmutable = errors.New("mailstore: INBOX cannot be deleted or renamed")

	// ErrCacheInvalidationFailed is returned in strict mode when a mutation
	// committed but its cache entry could not be invalidated. Cached
	// aggregates of the mailbox may be stale until the next successful
	// invalidation.
	ErrCacheInvalidationFailed = errors.New("mailstore: cache invalidation failed")
)

// ValidationError describes a rejected input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Err, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CacheError is returned with ErrCacheInvalidationFailed. The mutation it
// follows was committed; Mailbox identifies the possibly stale entry.
type CacheError struct {
	Mailbox string
	Err     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("%s: mailbox %s: %v", ErrCacheInvalidationFailed, e.Mailbox, e.Err)
}

func (e *CacheError) Unwrap() []error {
	return []error{ErrCacheInvalidationFailed, e.Err}
}

// IsRetryableError reports whether an operation that failed with err may
// succeed when repeated. A CacheError is never retryable: the mutation
// already happened.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCacheInvalidationFailed) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return retry.DefaultIsRetryable(err)
}

// wrap maps store sentinels to their mailstore counterparts, keeping the
// original error reachable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	for _, pair := range [...]struct{ store, pkg error }{
		{store.ErrMailboxNotFound, ErrMailboxNotFound},
		{store.ErrMailboxExists, ErrMailboxExists},
		{store.ErrMessageNotFound, ErrMessageNotFound},
		{store.ErrNotSupported, ErrNotSupported},
		{store.ErrNotConnected, ErrNotConnected},
		{store.ErrBackendUnavailable, ErrBackendUnavailable},
		{store.ErrPersistence, ErrPersistence},
		{store.ErrInvalidPath, ErrInvalidPath},
	} {
		if errors.Is(err, pair.pkg) {
			return err
		}
		if errors.Is(err, pair.store) {
			return fmt.Errorf("%w: %w", pair.pkg, err)
		}
	}
	return err
}
