// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the codec, the analyzer and the harness.
var (
	// Wire classification and decoding errors
	ErrNotProtocolTraffic = errors.New("cmutcp: not protocol traffic")
	ErrTooShort           = errors.New("cmutcp: segment too short")
	ErrInvalidHeader      = errors.New("cmutcp: invalid header")

	// Conformance errors
	ErrTimeout              = errors.New("cmutcp: timeout exceeded")
	ErrUnexpectedReply      = errors.New("cmutcp: unexpected reply")
	ErrFieldMismatch        = errors.New("cmutcp: field mismatch")
	ErrOrchestration        = errors.New("cmutcp: orchestration failure")
	ErrInsufficientEvidence = errors.New("cmutcp: insufficient evidence")

	// Configuration errors
	ErrConfigInvalid = errors.New("cmutcp: invalid configuration")

	// Capture errors
	ErrUnsupportedPlatform = errors.New("cmutcp: unsupported platform")
)

// IsDecodeError reports whether err is a malformed or truncated segment, as
// opposed to a discardable classification.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrTooShort) || errors.Is(err, ErrInvalidHeader)
}
