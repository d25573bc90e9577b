package engine

import (
	"log/slog"

	"github.com/echoprep/echoprep-core/internal/config"
)

// NewRecognizer returns the backend for the configured mode, or a typed
// UnsupportedError when no backend can serve it. Capability is decided
// once here, at construction time, so call sites never probe.
func NewRecognizer(cfg config.EngineConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "websocket":
		if cfg.Endpoint == "" {
			return nil, &UnsupportedError{Mode: cfg.Mode, Reason: "no endpoint configured"}
		}
		return NewWebsocketRecognizer(cfg, log), nil
	case "exec":
		rec, err := NewExecRecognizer(cfg)
		if err != nil {
			return nil, &UnsupportedError{Mode: cfg.Mode, Reason: err.Error()}
		}
		return rec, nil
	}
	return nil, &UnsupportedError{Mode: cfg.Mode}
}

// StreamConfigFor derives the recognizer stream settings from capture and
// engine configuration.
func StreamConfigFor(capture config.CaptureConfig, eng config.EngineConfig) StreamConfig {
	return StreamConfig{
		SampleRate: capture.SampleRate,
		Channels:   capture.Channels,
		Language:   eng.Language,
		Interim:    eng.Interim,
	}
}
