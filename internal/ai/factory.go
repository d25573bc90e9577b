package ai

import (
	"fmt"

	"github.com/echoprep/echoprep-core/internal/config"
)

// NewGenerator builds the model backend for the configured mode.
func NewGenerator(cfg config.CoachConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	}
	return nil, fmt.Errorf("unknown coach mode %q", cfg.Mode)
}
