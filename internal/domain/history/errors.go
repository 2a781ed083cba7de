package history

import "errors"

// ErrInvalidFeedback reports a feedback entry that failed validation.
var ErrInvalidFeedback = errors.New("invalid feedback")
