// Package config assembles the server configuration from three layers: an
// optional YAML file, process environment variables, and built-in defaults.
// The file wins for any key it sets; the environment fills the gaps; defaults
// cover the rest. A `.env` file next to the binary is preloaded with
// setdefault semantics, so real environment variables always beat it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider is one chat-completion endpoint in a failover chain.
type Provider struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// LLM configures a provider chain plus the sampling parameters shared by
// every provider in it.
type LLM struct {
	Providers   []Provider `yaml:"providers"`
	MaxTokens   int        `yaml:"max_tokens"`
	Temperature float64    `yaml:"temperature"`
}

// STT selects and configures the transcription backend.
type STT struct {
	Provider  string `yaml:"provider"` // groq, openai or whisper-native
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	ModelPath string `yaml:"model_path"` // whisper-native only
}

// TTS configures the local synthesis voice.
type TTS struct {
	ModelPath  string  `yaml:"model_path"`
	SpeakerID  *int    `yaml:"speaker_id"`
	Speed      float64 `yaml:"speed"`
	VoiceStyle string  `yaml:"voice_style"`
}

// VAD holds the voice-activity thresholds. Zero values fall back to the
// detector's tuned defaults.
type VAD struct {
	SpeechThreshold     float64 `yaml:"speech_threshold"`
	SilenceThreshold    float64 `yaml:"silence_threshold"`
	SpeechFramesNeeded  int     `yaml:"speech_frames_needed"`
	SilenceFramesNeeded int     `yaml:"silence_frames_needed"`
}

// Config is the full server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	LLM       LLM `yaml:"llm"`
	IntentLLM LLM `yaml:"intent_llm"`
	STT       STT `yaml:"stt"`
	TTS       TTS `yaml:"tts"`
	VAD       VAD `yaml:"vad"`

	MaxChatHistory int    `yaml:"max_chat_history"`
	AlarmStorePath string `yaml:"alarm_store_path"`

	PiperBin  string `yaml:"piper_bin"`
	FFmpegBin string `yaml:"ffmpeg_bin"`
	YtdlpBin  string `yaml:"ytdlp_bin"`

	// PreferFastIntentOnly skips the LLM intent classifier when the rule
	// pass already matched.
	PreferFastIntentOnly *bool `yaml:"prefer_fast_intent_only"`
}

// LoadDotEnv reads a `KEY=VALUE` file and sets each key that is not already
// present in the environment. Missing file is not an error.
func LoadDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
	return nil
}

// Load builds the configuration. path may be empty, in which case only the
// environment and defaults apply. Unknown YAML keys are an error so typos
// surface at startup instead of silently using a default.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.fillFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillFromEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")

	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = providersFromEnv("LLM_PROVIDERS", "OPENAI_API_KEY")
	}
	setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS")
	setFloat(&c.LLM.Temperature, "LLM_TEMPERATURE")

	if len(c.IntentLLM.Providers) == 0 {
		c.IntentLLM.Providers = providersFromEnv("INTENT_LLM_PROVIDERS", "INTENT_LLM_API_KEY")
	}

	setString(&c.STT.Provider, "STT_PROVIDER")
	setString(&c.STT.APIKey, "STT_API_KEY")
	setString(&c.STT.Model, "STT_MODEL")
	setString(&c.STT.Language, "STT_LANGUAGE")
	setString(&c.STT.ModelPath, "STT_MODEL_PATH")

	setString(&c.TTS.ModelPath, "TTS_MODEL_PATH")
	if c.TTS.SpeakerID == nil {
		if raw := os.Getenv("TTS_SPEAKER_ID"); raw != "" {
			if id, err := strconv.Atoi(raw); err == nil {
				c.TTS.SpeakerID = &id
			}
		}
	}
	setFloat(&c.TTS.Speed, "TTS_SPEED")
	setString(&c.TTS.VoiceStyle, "TTS_VOICE_STYLE")

	setInt(&c.MaxChatHistory, "MAX_CHAT_HISTORY")
	setString(&c.AlarmStorePath, "ALARM_STORE_PATH")
	setString(&c.PiperBin, "PIPER_BIN")
	setString(&c.FFmpegBin, "FFMPEG_BIN")
	setString(&c.YtdlpBin, "YTDLP_BIN")

	if c.PreferFastIntentOnly == nil {
		if raw := os.Getenv("PREFER_FAST_INTENT_ONLY"); raw != "" {
			if v, err := strconv.ParseBool(raw); err == nil {
				c.PreferFastIntentOnly = &v
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = []Provider{defaultProvider()}
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 500
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}

	// Intent classification rides the main chain unless configured apart,
	// so it never falls back to an incompatible local endpoint. Sampling is
	// not inherited: classification wants its own tight defaults.
	if len(c.IntentLLM.Providers) == 0 {
		c.IntentLLM.Providers = c.LLM.Providers
	}

	if c.STT.Provider == "" {
		c.STT.Provider = "groq"
	}
	switch c.STT.Provider {
	case "groq":
		if c.STT.BaseURL == "" {
			c.STT.BaseURL = "https://api.groq.com/openai/v1"
		}
		if c.STT.Model == "" {
			c.STT.Model = "whisper-large-v3-turbo"
		}
		if c.STT.APIKey == "" {
			c.STT.APIKey = os.Getenv("GROQ_API_KEY")
		}
	case "openai":
		if c.STT.BaseURL == "" {
			c.STT.BaseURL = os.Getenv("OPENAI_BASE_URL")
		}
		if c.STT.Model == "" {
			c.STT.Model = "whisper-1"
		}
		if c.STT.APIKey == "" {
			c.STT.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.STT.Language == "" {
		c.STT.Language = "vi"
	}

	if c.TTS.ModelPath == "" {
		c.TTS.ModelPath = "models/vi_VN-vais1000-medium.onnx"
	}
	if c.TTS.Speed == 0 {
		c.TTS.Speed = 0.7
	}
	if c.TTS.VoiceStyle == "" {
		c.TTS.VoiceStyle = "normal"
	}

	if c.MaxChatHistory == 0 {
		c.MaxChatHistory = 20
	}
	if c.AlarmStorePath == "" {
		c.AlarmStorePath = "alarms.json"
	}
	if c.PiperBin == "" {
		c.PiperBin = "piper"
	}
	if c.FFmpegBin == "" {
		c.FFmpegBin = "ffmpeg"
	}
	if c.YtdlpBin == "" {
		c.YtdlpBin = "yt-dlp"
	}
	if c.PreferFastIntentOnly == nil {
		v := true
		c.PreferFastIntentOnly = &v
	}
}

// Validate checks the assembled configuration and reports every problem at
// once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.LLM.Providers) == 0 {
		errs = append(errs, errors.New("config: llm needs at least one provider"))
	}
	for i, p := range c.LLM.Providers {
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("config: llm provider %d (%s) has no model", i, p.Name))
		}
	}

	switch c.STT.Provider {
	case "groq", "openai":
		if c.STT.APIKey == "" {
			errs = append(errs, fmt.Errorf("config: stt provider %q needs an api key", c.STT.Provider))
		}
		if c.STT.BaseURL == "" {
			errs = append(errs, fmt.Errorf("config: stt provider %q needs a base url", c.STT.Provider))
		}
	case "whisper-native":
		if c.STT.ModelPath == "" {
			errs = append(errs, errors.New("config: stt provider whisper-native needs STT_MODEL_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown stt provider %q", c.STT.Provider))
	}

	if c.TTS.Speed <= 0 {
		errs = append(errs, fmt.Errorf("config: tts speed must be positive, got %v", c.TTS.Speed))
	}
	if c.MaxChatHistory < 2 {
		errs = append(errs, fmt.Errorf("config: max_chat_history must be at least 2, got %d", c.MaxChatHistory))
	}

	return errors.Join(errs...)
}

// providersFromEnv parses a semicolon-separated list of
// "name|base_url|model[|api_key]" entries. Entries without their own key use
// the named fallback env key.
func providersFromEnv(listKey, defaultKeyEnv string) []Provider {
	raw := os.Getenv(listKey)
	if raw == "" {
		return nil
	}
	var providers []Provider
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			continue
		}
		p := Provider{
			Name:    strings.TrimSpace(parts[0]),
			BaseURL: strings.TrimSpace(parts[1]),
			Model:   strings.TrimSpace(parts[2]),
		}
		if len(parts) > 3 {
			p.APIKey = strings.TrimSpace(parts[3])
		} else {
			p.APIKey = os.Getenv(defaultKeyEnv)
			if p.APIKey == "" {
				p.APIKey = os.Getenv("OPENAI_API_KEY")
			}
		}
		providers = append(providers, p)
	}
	return providers
}

func defaultProvider() Provider {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8045/v1"
	}
	model := os.Getenv("OPENAI_LLM_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return Provider{
		Name:    "default",
		BaseURL: baseURL,
		Model:   model,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

func setString(dst *string, key string) {
	if *dst == "" {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func setInt(dst *int, key string) {
	if *dst == 0 {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

func setFloat(dst *float64, key string) {
	if *dst == 0 {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
}
