package mailstore

import "fmt"

// OperationResult is the outcome of one mailbox within a multi-mailbox
// operation.
type OperationResult struct {
	// Mailbox is the mailbox name.
	Mailbox string
	// Count is the number of messages affected.
	Count int
	// Error is nil on success.
	Error error
}

// BulkResult collects per-mailbox outcomes in mailbox order.
type BulkResult struct {
	Results []OperationResult
}

// SuccessCount returns the number of mailboxes processed without error.
func (r *BulkResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Error == nil {
			n++
		}
	}
	return n
}

// FailureCount returns the number of mailboxes that failed.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results) - r.SuccessCount()
}

// Total returns the number of messages affected across all mailboxes.
func (r *BulkResult) Total() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		n += res.Count
	}
	return n
}

// Err returns a *BulkOperationError if any mailbox failed.
func (r *BulkResult) Err() error {
	if r.FailureCount() == 0 {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError is returned when some mailboxes of a multi-mailbox
// operation failed.
type BulkOperationError struct {
	Result *BulkResult
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("mailstore: operation failed for %d of %d mailboxes",
		e.Result.FailureCount(), len(e.Result.Results))
}

// Unwrap returns the individual mailbox errors.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}
