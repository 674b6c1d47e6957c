package operation

import "errors"

// ErrOperationFailed is surfaced by a timing method when a container's
// execute step (or a per-rank status reduced with max) reports failure
// (spec section 7: "a non-zero status aborts measurement").
var ErrOperationFailed = errors.New("operation: execution failed")
