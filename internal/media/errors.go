package media

import (
	"errors"
	"fmt"
)

// AcquireCode classifies acquisition failures. PolicyDisallowed is kept
// separate from PermissionDenied because remediation differs: the former
// needs an OS/embedding-level setting changed, the latter a user grant.
type AcquireCode string

const (
	CodePermissionDenied  AcquireCode = "permission_denied"
	CodePolicyDisallowed  AcquireCode = "policy_disallowed"
	CodeSourceUnavailable AcquireCode = "source_unavailable"
	CodeAborted           AcquireCode = "aborted"
	CodeNoAudioTrack      AcquireCode = "no_audio_track"
	CodeUnknown           AcquireCode = "unknown"
)

// AcquireError is a typed acquisition failure. Hint carries the
// user-actionable remediation text surfaced next to the capture control.
type AcquireError struct {
	Code    AcquireCode
	Message string
	Hint    string
	cause   error
}

func (e *AcquireError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AcquireError) Unwrap() error { return e.cause }

func newAcquireError(code AcquireCode, message, hint string, cause error) *AcquireError {
	return &AcquireError{Code: code, Message: message, Hint: hint, cause: cause}
}

// CodeOf extracts the acquisition code from err, or CodeUnknown.
func CodeOf(err error) AcquireCode {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}
