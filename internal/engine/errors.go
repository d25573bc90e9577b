package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies engine errors. NoSpeech is the only recoverable code: a
// silence timeout must not terminate an active listening session.
type Code string

const (
	CodeNoSpeech     Code = "no-speech"
	CodeAudioCapture Code = "audio-capture"
	CodeNotAllowed   Code = "not-allowed"
	CodeOther        Code = "other"
)

// Error is a classified engine failure.
type Error struct {
	Code  Code
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("engine %s: %v", e.Code, e.cause)
	}
	return "engine " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether this error terminates the session.
func (e *Error) Fatal() bool { return e.Code != CodeNoSpeech }

// Classify maps a backend error onto the engine taxonomy.
func Classify(err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no-speech") || strings.Contains(msg, "no speech"):
		return &Error{Code: CodeNoSpeech, cause: err}
	case strings.Contains(msg, "audio-capture") || strings.Contains(msg, "audio capture"):
		return &Error{Code: CodeAudioCapture, cause: err}
	case strings.Contains(msg, "not-allowed") || strings.Contains(msg, "not allowed") || strings.Contains(msg, "unauthorized"):
		return &Error{Code: CodeNotAllowed, cause: err}
	}
	return &Error{Code: CodeOther, cause: err}
}

// UnsupportedError is returned by the factory when no recognition backend
// is available for the requested configuration.
type UnsupportedError struct {
	Mode   string
	Reason string
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transcription backend %q unsupported: %s", e.Mode, e.Reason)
	}
	return fmt.Sprintf("transcription backend %q unsupported", e.Mode)
}
