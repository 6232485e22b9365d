package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all livescribe environment variables.
const EnvPrefix = "LIVESCRIBE_"

const (
	defaultFinalizeDrain        = 5 * time.Second
	defaultTranscriptionTimeout = 30 * time.Second
	defaultSummarizationTimeout = 60 * time.Second
)

// Preset is one summarization prompt. UserTemplate may reference
// {{transcript}} and {{date}}.
type Preset struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
	Model        string `yaml:"model"`
}

type Summarization struct {
	Model   string            `yaml:"model"`
	Timeout string            `yaml:"timeout"`
	Presets map[string]Preset `yaml:"presets"`
}

type Transcription struct {
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// SourcePolicy controls which audio chunks a source may submit.
type SourcePolicy struct {
	MinBytes         int      `yaml:"min_bytes"`
	RequireSignature *bool    `yaml:"require_signature"`
	Formats          []string `yaml:"formats"`
}

// SignatureRequired defaults to true when unset.
func (p SourcePolicy) SignatureRequired() bool {
	return p.RequireSignature == nil || *p.RequireSignature
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Addr                  string                  `yaml:"addr"`
	DBPath                string                  `yaml:"db_path"`
	ExportDir             string                  `yaml:"export_dir"`
	AllowedOrigins        []string                `yaml:"allowed_origins"`
	FinalizeDrain         string                  `yaml:"finalize_drain"`
	BufferSize            int                     `yaml:"buffer_size"`
	Transcription         Transcription           `yaml:"transcription"`
	Summarization         Summarization           `yaml:"summarization"`
	Validation            map[string]SourcePolicy `yaml:"validation"`
	RedisURL              string                  `yaml:"redis_url"`
	GDriveFolderID        string                  `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string                  `yaml:"google_credentials_file"`

	// Secrets, env vars only.
	GeminiAPIKey    string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

func defaults() Config {
	return Config{
		Addr:      ":3001",
		DBPath:    "data/livescribe.db",
		ExportDir: "data/exports",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		FinalizeDrain: "5s",
		BufferSize:    4,
		Transcription: Transcription{
			Model:   "gemini/gemini-2.0-flash",
			Timeout: "30s",
		},
		Summarization: Summarization{
			Model:   "gemini/gemini-2.0-flash",
			Timeout: "60s",
			Presets: map[string]Preset{"default": DefaultPreset()},
		},
		Validation: map[string]SourcePolicy{
			"microphone": {MinBytes: 1000, Formats: []string{"webm"}},
			"tab":        {MinBytes: 1000, Formats: []string{"webm"}},
		},
		GoogleCredentialsFile: "./service-account.json",
	}
}

// DefaultPreset is the meeting summary prompt used when no presets are
// configured.
func DefaultPreset() Preset {
	return Preset{
		Description:  "General meeting: discussion points, decisions, action items",
		SystemPrompt: "You summarize meeting transcripts. Format your response in Markdown.",
		UserTemplate: `Analyze this meeting transcript and provide a comprehensive summary in the following format:

## Key Discussion Points
- List 3-5 main topics discussed

## Decisions Made
- List all decisions that were made during the meeting

## Action Items
- List all action items with responsible person (if mentioned) and deadline (if mentioned)

## Overall Summary
Provide a 2-3 sentence summary of the entire meeting.

Transcript:
{{transcript}}`,
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) ParsedFinalizeDrain() time.Duration {
	return parseDuration(c.FinalizeDrain, defaultFinalizeDrain)
}

func (c *Config) ParsedTranscriptionTimeout() time.Duration {
	return parseDuration(c.Transcription.Timeout, defaultTranscriptionTimeout)
}

func (c *Config) ParsedSummarizationTimeout() time.Duration {
	return parseDuration(c.Summarization.Timeout, defaultSummarizationTimeout)
}

// APIKey returns the secret for an LLM or speech provider name.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "gemini":
		return c.GeminiAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "deepgram":
		return c.DeepgramAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv(EnvPrefix + "FINALIZE_DRAIN"); v != "" {
		cfg.FinalizeDrain = v
	}
	if v := os.Getenv(EnvPrefix + "BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.BufferSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_TIMEOUT"); v != "" {
		cfg.Transcription.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZATION_MODEL"); v != "" {
		cfg.Summarization.Model = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZATION_TIMEOUT"); v != "" {
		cfg.Summarization.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

// loadSecrets reads prefixed keys first and falls back to the provider's
// conventional variable name.
func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = secret("GEMINI_API_KEY")
	cfg.OpenAIAPIKey = secret("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = secret("ANTHROPIC_API_KEY")
	cfg.DeepgramAPIKey = secret("DEEPGRAM_API_KEY")
}

func secret(name string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return os.Getenv(name)
}

func validate(cfg *Config) []string {
	var warnings []string

	if provider, ok := modelProvider(cfg.Transcription.Model); !ok {
		warnings = append(warnings, fmt.Sprintf("Invalid transcription model %q: expected provider/model. Live transcription is disabled.", cfg.Transcription.Model))
	} else if cfg.APIKey(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured: live transcription is disabled. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	if provider, ok := modelProvider(cfg.Summarization.Model); !ok {
		warnings = append(warnings, fmt.Sprintf("Invalid summarization model %q: expected provider/model. Summaries fall back to a transcript excerpt.", cfg.Summarization.Model))
	} else if cfg.APIKey(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured: summaries fall back to a transcript excerpt. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	if len(cfg.Summarization.Presets) == 0 {
		cfg.Summarization.Presets = map[string]Preset{"default": DefaultPreset()}
	}

	for name, raw := range map[string]string{
		"finalize_drain":        cfg.FinalizeDrain,
		"transcription.timeout": cfg.Transcription.Timeout,
		"summarization.timeout": cfg.Summarization.Timeout,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q: using default.", name, raw))
		}
	}

	if cfg.BufferSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid buffer_size %d: using 4.", cfg.BufferSize))
		cfg.BufferSize = 4
	}

	for source, policy := range cfg.Validation {
		if source != "microphone" && source != "tab" {
			warnings = append(warnings, fmt.Sprintf("Unknown validation source %q is ignored.", source))
		}
		if policy.SignatureRequired() && len(policy.Formats) == 0 {
			warnings = append(warnings, fmt.Sprintf("Validation for %q requires a signature but lists no formats: every audio chunk will be dropped.", source))
		}
	}

	return warnings
}

func modelProvider(model string) (string, bool) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok || provider == "" || name == "" {
		return "", false
	}
	return provider, true
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}
