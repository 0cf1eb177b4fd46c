package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/transcription"
	"github.com/ethanbaker/meeting-assistant/pkg/utils"
)

// ErrMissingKey is wrapped by ConfigError when a required secret is absent
var ErrMissingKey = errors.New("missing required configuration")

// AI providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Defaults applied when a key is unset
const (
	DefaultDeepgramURL   = transcription.DefaultDeepgramURL
	DefaultModel         = "nova-2"
	DefaultLanguage      = "en-US"
	DefaultGeminiModel   = "gemini-pro"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultChunkInterval = 200 * time.Millisecond
	DefaultPort          = "8080"
)

// Settings is the validated, typed configuration of the assistant
type Settings struct {
	DeepgramAPIKey string
	GoogleAPIKey   string
	OpenAIAPIKey   string

	AIProvider       string
	AIModel          string
	AnswerPromptPath string

	DeepgramURL   string
	Model         string
	Language      string
	SmartFormat   bool
	ChunkInterval time.Duration

	APIPort        string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	FFmpegPath    string
	DisplayInput  string
	MonitorSource string
	MicSource     string
	CaptureVideo  bool
}

// ConfigError lists every required key that could not be resolved
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingKey, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error {
	return ErrMissingKey
}

// Load resolves settings from a config view. It does not validate; call Validate
// before constructing backend clients
func Load(cfg *utils.Config) *Settings {
	provider := strings.ToLower(cfg.GetWithDefault("AI_PROVIDER", ProviderGemini))

	defaultModel := DefaultGeminiModel
	if provider == ProviderOpenAI {
		defaultModel = DefaultOpenAIModel
	}

	var origins []string
	for _, origin := range strings.Split(cfg.GetWithDefault("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &Settings{
		DeepgramAPIKey: cfg.First("DEEPGRAM_API_KEY", "VITE_DEEPGRAM_API"),
		GoogleAPIKey:   cfg.First("GOOGLE_AI_API_KEY", "VITE_GOOGLE_AI"),
		OpenAIAPIKey:   cfg.Get("OPENAI_API_KEY"),

		AIProvider:       provider,
		AIModel:          cfg.GetWithDefault("AI_MODEL", defaultModel),
		AnswerPromptPath: cfg.Get("ANSWER_PROMPT_PATH"),

		DeepgramURL:   cfg.GetWithDefault("DEEPGRAM_URL", DefaultDeepgramURL),
		Model:         cfg.GetWithDefault("TRANSCRIPTION_MODEL", DefaultModel),
		Language:      cfg.GetWithDefault("TRANSCRIPTION_LANGUAGE", DefaultLanguage),
		SmartFormat:   cfg.GetBoolWithDefault("TRANSCRIPTION_SMART_FORMAT", true),
		ChunkInterval: cfg.GetMillis("CHUNK_INTERVAL_MS", DefaultChunkInterval),

		APIPort:        cfg.GetWithDefault("API_PORT", DefaultPort),
		AllowedOrigins: origins,

		LogLevel:  cfg.GetWithDefault("LOG_LEVEL", "info"),
		LogFormat: cfg.GetWithDefault("LOG_FORMAT", "json"),

		FFmpegPath:    cfg.GetWithDefault("FFMPEG_PATH", "ffmpeg"),
		DisplayInput:  cfg.GetWithDefault("CAPTURE_DISPLAY", ":0.0"),
		MonitorSource: cfg.GetWithDefault("CAPTURE_MONITOR_SOURCE", "@DEFAULT_MONITOR@"),
		MicSource:     cfg.GetWithDefault("CAPTURE_MIC_SOURCE", "default"),
		CaptureVideo:  cfg.GetBool("CAPTURE_VIDEO"),
	}
}

// FromFiles loads the .env file (ENV_FILE wins when set) and, when given, a YAML
// file whose values sit underneath the environment
func FromFiles(envFile, yamlFile string) (*utils.Config, error) {
	env := utils.NewConfigFromEnv(utils.EnvFile(envFile))

	if yamlFile == "" {
		yamlFile = env.Get("ASSISTANT_CONFIG_PATH")
	}
	if yamlFile == "" {
		return env, nil
	}

	cfg, err := utils.NewConfigFromYAML(yamlFile)
	if err != nil {
		return nil, err
	}
	cfg.Merge(env)

	return cfg, nil
}

// Validate fails fast when a secret needed by the selected backends is missing
func (s *Settings) Validate() error {
	var missing []string

	if s.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}

	switch s.AIProvider {
	case ProviderGemini:
		if s.GoogleAPIKey == "" {
			missing = append(missing, "GOOGLE_AI_API_KEY")
		}
	case ProviderOpenAI:
		if s.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q (expected %q or %q)", s.AIProvider, ProviderGemini, ProviderOpenAI)
	}

	if s.ChunkInterval <= 0 {
		return fmt.Errorf("CHUNK_INTERVAL_MS must be positive, got %s", s.ChunkInterval)
	}

	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}
