package rng

import "errors"

// ErrInsufficientEntropy means the source returned fewer than 8 bytes.
var ErrInsufficientEntropy = errors.New("insufficient random bytes received")

// ErrAuditWriteDegraded marks a failure on the audit path. It is logged and
// never returned by Generate.
var ErrAuditWriteDegraded = errors.New("audit write degraded")

// SourceUnavailableError wraps a failure reported by the randomness source.
type SourceUnavailableError struct {
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return "randomness source unavailable: " + e.Err.Error()
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }
