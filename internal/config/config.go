// Package config loads the command line session configuration from defaults,
// an optional TOML file, .env files and EMA_REALTIME_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	orchestration "github.com/koscakluka/ema-realtime/core"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "EMA_REALTIME"
	configName = "config"
	configType = "toml"
	configDir  = "ema-realtime"
	fileMode   = 0o600
	dirMode    = 0o700

	BackendMiniaudio = "miniaudio"
	BackendPortaudio = "portaudio"
	BackendNone      = "none"
)

var ErrInvalidConfig = errors.New("invalid config")

var backends = []string{BackendMiniaudio, BackendPortaudio, BackendNone}

type Config struct {
	ServerURL          string `mapstructure:"server_url" toml:"server_url" json:"server_url" jsonschema:"required,description=Realtime websocket endpoint (ws or wss)"`
	AuthToken          string `mapstructure:"auth_token" toml:"auth_token" json:"auth_token" jsonschema:"required,description=Bearer token forwarded to the transport"`
	Model              string `mapstructure:"model" toml:"model" json:"model,omitempty"`
	Voice              string `mapstructure:"voice" toml:"voice" json:"voice,omitempty"`
	Instructions       string `mapstructure:"instructions" toml:"instructions" json:"instructions,omitempty"`
	TranscriptionModel string `mapstructure:"transcription_model" toml:"transcription_model" json:"transcription_model,omitempty"`
	AudioBackend       string `mapstructure:"audio_backend" toml:"audio_backend" json:"audio_backend" jsonschema:"enum=miniaudio,enum=portaudio,enum=none"`
	OutboundQueueSize  int    `mapstructure:"outbound_queue_size" toml:"outbound_queue_size" json:"outbound_queue_size,omitempty" jsonschema:"minimum=0"`
}

func Default() Config {
	return Config{
		ServerURL:          "wss://api.openai.com/v1/realtime",
		Model:              "gpt-4o-realtime-preview",
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
		AudioBackend:       BackendMiniaudio,
		OutboundQueueSize:  64,
	}
}

// DefaultPath is the config file used when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, configDir, configName+"."+configType), nil
}

// Load reads the configuration. An empty path searches the default config
// directory and a missing file is not an error. Variables from .env files
// never override the process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	defaults := Default()
	v.SetDefault("server_url", defaults.ServerURL)
	v.SetDefault("auth_token", defaults.AuthToken)
	v.SetDefault("model", defaults.Model)
	v.SetDefault("voice", defaults.Voice)
	v.SetDefault("instructions", defaults.Instructions)
	v.SetDefault("transcription_model", defaults.TranscriptionModel)
	v.SetDefault("audio_backend", defaults.AudioBackend)
	v.SetDefault("outbound_queue_size", defaults.OutboundQueueSize)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configDir))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server_url: scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.AuthToken == "" {
		errs = append(errs, errors.New("auth_token is required"))
	}
	if !slices.Contains(backends, c.AudioBackend) {
		errs = append(errs, fmt.Errorf("audio_backend must be one of %s, got %q", strings.Join(backends, ", "), c.AudioBackend))
	}
	if c.OutboundQueueSize < 0 {
		errs = append(errs, errors.New("outbound_queue_size must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Session maps the file configuration onto the session configuration.
func (c *Config) Session() orchestration.Config {
	return orchestration.Config{
		ServerURL:          c.ServerURL,
		AuthToken:          c.AuthToken,
		Model:              c.Model,
		Voice:              c.Voice,
		Instructions:       c.Instructions,
		TranscriptionModel: c.TranscriptionModel,
		OutboundQueueSize:  c.OutboundQueueSize,
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.AuthToken != "" {
		c.AuthToken = "********"
	}
	return c
}

// Encode renders the configuration as TOML.
func Encode(cfg Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// WriteFile writes cfg as TOML, creating parent directories. Existing files
// are replaced.
func WriteFile(path string, cfg Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Schema describes the config file for editors and validation tooling.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Config{})
	schema.Title = "ema-realtime configuration"
	return schema
}
