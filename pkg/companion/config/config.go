// Package config defines the assistant's configuration surface and loads
// it from YAML, following the teacher's struct-of-structs convention
// (pkg/devclaw/copilot/config.go) trimmed to the components SPEC_FULL.md
// actually wires: the LLM client, the hardware sink, the external
// task-service OAuth client, the proactive poller, and the complexity
// cache.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name used in prompts and logs.
	Name string `yaml:"name"`

	// WakeWord is the phrase that opens a dialogue turn.
	WakeWord string `yaml:"wake_word"`

	// Timezone is used to resolve relative schedule phrases ("tomorrow").
	Timezone string `yaml:"timezone"`

	API         APIConfig         `yaml:"api"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	TaskService TaskServiceConfig `yaml:"task_service"`
	Poller      PollerConfig      `yaml:"poller"`
	Cache       CacheConfig       `yaml:"cache"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
	WebUI       WebUIConfig       `yaml:"webui"`
	Discord     DiscordConfig     `yaml:"discord"`
}

// APIConfig configures the LLM provider endpoint and credentials.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible chat-completions endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Can also be set via the
	// COMPANION_API_KEY environment variable or the OS keyring.
	APIKey string `yaml:"api_key"`

	// Model is the multimodal chat model used by both the Dialogue Loop
	// and the Completion Oracle.
	Model string `yaml:"model"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`
}

// HardwareConfig configures the actuator serial link and safety envelope.
type HardwareConfig struct {
	// SerialPort is the OS device path for the actuator link (e.g.
	// "/dev/ttyUSB0"). Empty disables hardware writes (logged, no-op).
	SerialPort string `yaml:"serial_port"`

	// BaudRate is the serial link speed.
	BaudRate int `yaml:"baud_rate"`

	// MaxServoChange caps the per-call servo delta (default ~20 units).
	MaxServoChange int `yaml:"max_servo_change"`

	// DispatchQueueCapacity bounds the action dispatcher's pending queue.
	DispatchQueueCapacity int `yaml:"dispatch_queue_capacity"`
}

// TaskServiceConfig configures the external task-service OAuth2 client.
type TaskServiceConfig struct {
	BaseURL      string   `yaml:"base_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	RedirectPort int      `yaml:"redirect_port"`
	TokenPath    string   `yaml:"token_path"`
}

// PollerConfig configures the Proactive Poller.
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig configures the query complexity cache.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig configures the ScheduledAction persistence layer.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebUIConfig configures the admin health endpoint.
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	// AdminUser/AdminPasswordHash gate /healthz with HTTP Basic Auth when
	// both are set. AdminPasswordHash is a bcrypt hash, never a plaintext
	// password — generate one with `companion setup` or bcrypt directly.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// DiscordConfig configures the optional proactive-delivery sink.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:     "Companion",
		WakeWord: "hey companion",
		Timezone: "UTC",
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		Hardware: HardwareConfig{
			BaudRate:              115200,
			MaxServoChange:        20,
			DispatchQueueCapacity: 16,
		},
		TaskService: TaskServiceConfig{
			RedirectPort: 8734,
		},
		Poller: PollerConfig{
			Enabled:  true,
			Interval: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Path: "./data/complexity_cache.json",
		},
		Store: StoreConfig{
			Path: "./data/companion.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebUI: WebUIConfig{
			Enabled: false,
			Address: ":8090",
		},
	}
}

// Load reads a YAML config file at path, overlaying it on Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
