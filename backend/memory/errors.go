package memory

import "errors"

// ErrWriteFailed is returned by Set when FailWrites is enabled.
var ErrWriteFailed = errors.New("memory store: write failed")
