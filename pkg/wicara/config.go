package wicara

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/wicara/pkg/configutil"
	"github.com/harunnryd/wicara/pkg/signaling"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Signaling     SignalingConfig     `mapstructure:"signaling"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type SignalingConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ConversationConfig struct {
	Greeting  string          `mapstructure:"greeting"`
	Responder ResponderConfig `mapstructure:"responder"`
}

type ResponderConfig struct {
	Mode        string `mapstructure:"mode"`
	ReplyPrefix string `mapstructure:"reply_prefix"`
	DeltaMS     int    `mapstructure:"delta_ms"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	LogEvents     bool    `mapstructure:"log_events"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	RetentionDays int     `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("signaling.provider", "webrtc")
	v.SetDefault("conversation.greeting", "Hello! Ask me anything about the book.")
	v.SetDefault("conversation.responder.mode", "echo")
	v.SetDefault("conversation.responder.reply_prefix", "You said: ")
	v.SetDefault("conversation.responder.delta_ms", 40)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.log_events", false)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Signaling.Provider, "signaling.provider"); err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(c.Signaling.Provider), "webrtc") {
		return fmt.Errorf("signaling.provider %q is not supported", c.Signaling.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.Conversation.Responder.Mode)) {
	case "echo", "silent":
	default:
		return fmt.Errorf("conversation.responder.mode %q is not supported", c.Conversation.Responder.Mode)
	}
	if err := configutil.ValidateSettings(c.Signaling.Settings, configutil.Schema{
		Optional: []string{"addr", "stun_urls", "channel_label", "observe_path", "allow_any_origin", "allowed_origins"},
	}); err != nil {
		return fmt.Errorf("signaling.settings: %w", err)
	}
	return nil
}

// SignalingServerConfig decodes the free-form settings map into the typed
// endpoint configuration.
func (c *Config) SignalingServerConfig() (signaling.Config, error) {
	var out signaling.Config
	if err := configutil.DecodeSettings(c.Signaling.Settings, &out); err != nil {
		return signaling.Config{}, fmt.Errorf("decode signaling settings: %w", err)
	}
	return out, nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Environment = os.ExpandEnv(cfg.Environment)
	cfg.Conversation.Greeting = os.ExpandEnv(cfg.Conversation.Greeting)
	cfg.Conversation.Responder.ReplyPrefix = os.ExpandEnv(cfg.Conversation.Responder.ReplyPrefix)
	cfg.Observability.ArtifactsDir = os.ExpandEnv(cfg.Observability.ArtifactsDir)
	cfg.Signaling.Settings = expandSettings(cfg.Signaling.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
