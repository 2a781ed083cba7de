package ranking

import "errors"

// ErrIncompleteResult reports a score vector with missing or non-finite
// entries when tolerant mode is off.
var ErrIncompleteResult = errors.New("incomplete inference result")
