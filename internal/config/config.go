package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	AppName      string          `yaml:"app_name"`
	Environment  string          `yaml:"environment"`
	HTTP         HTTPConfig      `yaml:"http"`
	Telemetry    TelemetryConfig `yaml:"telemetry"`
	Bus          BusConfig       `yaml:"bus"`
	Capture      CaptureConfig   `yaml:"capture"`
	Engine       EngineConfig    `yaml:"engine"`
	Segmenter    SegmenterConfig `yaml:"segmenter"`
	Coach        CoachConfig     `yaml:"coach"`
	SessionStore StoreConfig     `yaml:"session_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CaptureConfig covers microphone and display-audio acquisition.
type CaptureConfig struct {
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	AnswerWindowMS  int    `yaml:"answer_window_ms"`
	DisplayCommand  string `yaml:"display_command"`
	ClipDir         string `yaml:"clip_dir"`
}

// EngineConfig selects and tunes the live transcription backend.
type EngineConfig struct {
	Mode           string  `yaml:"mode"` // mock, websocket, exec
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Language       string  `yaml:"language"`
	Command        string  `yaml:"command"`
	ModelPath      string  `yaml:"model_path"`
	PartialEveryMS int     `yaml:"partial_every_ms"`
	Interim        bool    `yaml:"interim"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// SegmenterConfig tunes the debounce between raw final segments and the
// downstream suggestion trigger.
type SegmenterConfig struct {
	SettleMS int `yaml:"settle_ms"`
}

type CoachConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		AppName:     "echoprep",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			AnswerWindowMS:  15000,
			DisplayCommand:  "",
			ClipDir:         "./data/clips",
		},
		Engine: EngineConfig{
			Mode:           "mock",
			Language:       "en-US",
			PartialEveryMS: 800,
			Interim:        true,
		},
		Segmenter: SegmenterConfig{
			SettleMS: 2500,
		},
		Coach: CoachConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   512,
			Temperature: 0.7,
		},
		SessionStore: StoreConfig{
			Path:        "./data/echoprep-sessions.db",
			MaxSessions: 20,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AppName, "ECHOPREP_APP_NAME")
	overrideString(&cfg.Environment, "ECHOPREP_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ECHOPREP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ECHOPREP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ECHOPREP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ECHOPREP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ECHOPREP_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ECHOPREP_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ECHOPREP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ECHOPREP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ECHOPREP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ECHOPREP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ECHOPREP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ECHOPREP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ECHOPREP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ECHOPREP_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.SampleRate, "ECHOPREP_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "ECHOPREP_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "ECHOPREP_CAPTURE_FRAME_DURATION_MS")
	overrideInt(&cfg.Capture.AnswerWindowMS, "ECHOPREP_CAPTURE_ANSWER_WINDOW_MS")
	overrideString(&cfg.Capture.DisplayCommand, "ECHOPREP_CAPTURE_DISPLAY_COMMAND")
	overrideString(&cfg.Capture.ClipDir, "ECHOPREP_CAPTURE_CLIP_DIR")
	overrideString(&cfg.Engine.Mode, "ECHOPREP_ENGINE_MODE")
	overrideString(&cfg.Engine.Endpoint, "ECHOPREP_ENGINE_ENDPOINT")
	overrideString(&cfg.Engine.APIKey, "ECHOPREP_ENGINE_API_KEY")
	overrideString(&cfg.Engine.Model, "ECHOPREP_ENGINE_MODEL")
	overrideString(&cfg.Engine.Language, "ECHOPREP_ENGINE_LANGUAGE")
	overrideString(&cfg.Engine.Command, "ECHOPREP_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "ECHOPREP_ENGINE_MODEL_PATH")
	overrideInt(&cfg.Engine.PartialEveryMS, "ECHOPREP_ENGINE_PARTIAL_EVERY_MS")
	overrideBool(&cfg.Engine.Interim, "ECHOPREP_ENGINE_INTERIM")
	overrideFloat(&cfg.Engine.MinConfidence, "ECHOPREP_ENGINE_MIN_CONFIDENCE")
	overrideInt(&cfg.Segmenter.SettleMS, "ECHOPREP_SEGMENTER_SETTLE_MS")
	overrideBool(&cfg.Coach.Enabled, "ECHOPREP_COACH_ENABLED")
	overrideString(&cfg.Coach.Mode, "ECHOPREP_COACH_MODE")
	overrideString(&cfg.Coach.Endpoint, "ECHOPREP_COACH_ENDPOINT")
	overrideString(&cfg.Coach.APIKey, "ECHOPREP_COACH_API_KEY")
	overrideString(&cfg.Coach.Command, "ECHOPREP_COACH_COMMAND")
	overrideString(&cfg.Coach.Model, "ECHOPREP_COACH_MODEL")
	overrideInt(&cfg.Coach.MaxTokens, "ECHOPREP_COACH_MAX_TOKENS")
	overrideFloat(&cfg.Coach.Temperature, "ECHOPREP_COACH_TEMPERATURE")
	overrideString(&cfg.SessionStore.Path, "ECHOPREP_SESSION_STORE_PATH")
	overrideInt(&cfg.SessionStore.MaxSessions, "ECHOPREP_SESSION_STORE_MAX_SESSIONS")
	overrideBool(&cfg.SessionStore.VacuumOnStart, "ECHOPREP_SESSION_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.Capture.AnswerWindowMS <= 0 {
		return errors.New("capture.answer_window_ms must be positive")
	}
	if cfg.Capture.ClipDir == "" {
		return errors.New("capture.clip_dir must not be empty")
	}
	switch cfg.Engine.Mode {
	case "mock", "websocket", "exec":
	default:
		return errors.New("engine.mode must be one of mock|websocket|exec")
	}
	if cfg.Engine.Mode == "websocket" && cfg.Engine.Endpoint == "" {
		return errors.New("engine.endpoint must be set when mode=websocket")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Segmenter.SettleMS <= 0 {
		return errors.New("segmenter.settle_ms must be positive")
	}
	if cfg.Coach.Enabled {
		switch cfg.Coach.Mode {
		case "mock", "ollama", "openai", "exec":
		default:
			return errors.New("coach.mode must be one of mock|ollama|openai|exec")
		}
		if cfg.Coach.Mode == "ollama" && cfg.Coach.Endpoint == "" {
			return errors.New("coach.endpoint must be set when mode=ollama")
		}
		if cfg.Coach.Mode == "openai" && cfg.Coach.APIKey == "" {
			return errors.New("coach.api_key must be set when mode=openai")
		}
		if cfg.Coach.Mode == "exec" && cfg.Coach.Command == "" {
			return errors.New("coach.command must be set when mode=exec")
		}
		if cfg.Coach.MaxTokens < 0 {
			return errors.New("coach.max_tokens must be >= 0")
		}
	}
	if cfg.SessionStore.Path == "" {
		return errors.New("session_store.path must not be empty")
	}
	if cfg.SessionStore.MaxSessions <= 0 {
		return errors.New("session_store.max_sessions must be >= 1")
	}
	return nil
}
