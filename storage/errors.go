package storage

import (
	"github.com/jmgilman/go/errors"
)

// CodeQuotaExceeded indicates the backend refused a write because its byte
// budget or the device is full.
const CodeQuotaExceeded errors.ErrorCode = "QUOTA_EXCEEDED"

// ErrQuotaExceeded is returned internally by the key-value backend when a
// write does not fit into its budget.
var ErrQuotaExceeded = errors.New(CodeQuotaExceeded, "storage quota exceeded")

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New(errors.CodeUnavailable, "storage backend is closed")

// IsQuotaExceeded reports whether err is a quota failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.GetCode(err) == CodeQuotaExceeded
}
