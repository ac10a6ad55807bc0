package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPageSize is returned when a batch size below 1 is requested.
	ErrInvalidPageSize = errors.New("page size must be >= 1")

	// ErrPageCapReached stops offset pagination that never terminates.
	ErrPageCapReached = errors.New("page cap reached")
)

// TransferLimitExceededError reports a short page flagged with
// exceededTransferLimit. The layer cannot be paged reliably.
type TransferLimitExceededError struct {
	Offset    int
	Received  int
	PageLimit int
}

func (e *TransferLimitExceededError) Error() string {
	return fmt.Sprintf("transfer limit exceeded on short page at offset %d (%d of %d features)",
		e.Offset, e.Received, e.PageLimit)
}

// BatchFetchFailure is a batch that exhausted its retries.
type BatchFetchFailure struct {
	Batch    int
	Size     int
	Attempts int
	Err      error
}

func (e *BatchFetchFailure) Error() string {
	return fmt.Sprintf("batch %d (%d ids) failed after %d attempts: %v", e.Batch, e.Size, e.Attempts, e.Err)
}

func (e *BatchFetchFailure) Unwrap() error { return e.Err }
