// Package config assembles the bot configuration.
//
// Values are layered: built-in defaults, then the optional TOML file named by
// BOT_CONFIG_FILE, then environment variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/message"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/validation"
)

const FileEnv = "BOT_CONFIG_FILE"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Datastore   DatastoreConfig   `toml:"datastore"`
	Client      ClientConfig      `toml:"client"`
	Reconnect   ReconnectConfig   `toml:"reconnect"`
	Ack         AckConfig         `toml:"ack"`
	Webhook     WebhookConfig     `toml:"webhook"`
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	Log         LogConfig         `toml:"log"`
}

type CredentialsConfig struct {
	Path string `toml:"path"`
}

type DatastoreConfig struct {
	Type string `toml:"type"`
	URI  string `toml:"uri"`
}

type ClientConfig struct {
	Name     string `toml:"name"`
	Platform string `toml:"platform"`
	ProxyURL string `toml:"proxy_url"`

	ExitOnLogout bool `toml:"exit_on_logout"`

	VersionRefreshOnConnect   bool          `toml:"version_refresh_on_connect"`
	VersionRefreshMinInterval time.Duration `toml:"version_refresh_min_interval"`
	VersionRefreshCron        bool          `toml:"version_refresh_cron"`
	VersionRefreshCronSpec    string        `toml:"version_refresh_cron_spec"`
	HealthCheckCron           bool          `toml:"health_check_cron"`
}

type ReconnectConfig struct {
	Initial     time.Duration `toml:"initial"`
	Max         time.Duration `toml:"max"`
	Multiplier  float64       `toml:"multiplier"`
	Jitter      float64       `toml:"jitter"`
	MaxAttempts int           `toml:"max_attempts"`
}

type AckConfig struct {
	Template      string  `toml:"template"`
	Unsupported   string  `toml:"unsupported"`
	MaxLength     int     `toml:"max_length"`
	Reaction      string  `toml:"reaction"`
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

type WebhookConfig struct {
	URLs         []string `toml:"urls"`
	Secret       string   `toml:"secret"`
	Events       []string `toml:"events"`
	Workers      int      `toml:"workers"`
	RetryLimit   int      `toml:"retry_limit"`
	AllowPrivate bool     `toml:"allow_private"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    string `toml:"port"`
}

type AuthConfig struct {
	AdminSecret string        `toml:"admin_secret"`
	JWTSecret   string        `toml:"jwt_secret"`
	JWTTTL      time.Duration `toml:"jwt_ttl"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	ack := message.DefaultConfig()
	backoff := reconnect.DefaultConfig()

	return Config{
		Credentials: CredentialsConfig{Path: "./creds.json"},
		Datastore: DatastoreConfig{
			Type: "sqlite3",
			URI:  "file:whatsapp.db?_foreign_keys=on",
		},
		Client: ClientConfig{
			Name:                      "Echo Bot",
			Platform:                  "Safari",
			VersionRefreshOnConnect:   true,
			VersionRefreshMinInterval: 10 * time.Minute,
			VersionRefreshCronSpec:    "0 0 3 * * *",
			HealthCheckCron:           true,
		},
		Reconnect: ReconnectConfig{
			Initial:     backoff.InitialInterval,
			Max:         backoff.MaxInterval,
			Multiplier:  backoff.Multiplier,
			Jitter:      backoff.RandomizationFactor,
			MaxAttempts: backoff.MaxAttempts,
		},
		Ack: AckConfig{
			Template:      ack.Template,
			Unsupported:   string(ack.Unsupported),
			MaxLength:     ack.MaxLength,
			Reaction:      ack.Reaction,
			RatePerSecond: ack.RatePerSecond,
			Burst:         ack.Burst,
		},
		Webhook: WebhookConfig{
			Workers:    4,
			RetryLimit: 3,
		},
		Server: ServerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    "7001",
		},
		Auth: AuthConfig{JWTTTL: 15 * time.Minute},
		Log:  LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional TOML file and
// the environment, then validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := env.GetEnvStringOrDefault(FileEnv, ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a TOML file.
func (c *Config) LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() {
	c.Credentials.Path = env.GetEnvStringOrDefault("WHATSAPP_CREDENTIALS_PATH", c.Credentials.Path)

	c.Datastore.Type = env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_TYPE", c.Datastore.Type)
	c.Datastore.URI = env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_URI", c.Datastore.URI)

	c.Client.Name = env.GetEnvStringOrDefault("WHATSAPP_CLIENT_NAME", c.Client.Name)
	c.Client.Platform = env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PLATFORM", c.Client.Platform)
	c.Client.ProxyURL = env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", c.Client.ProxyURL)
	c.Client.ExitOnLogout = env.GetEnvBoolOrDefault("WHATSAPP_EXIT_ON_LOGOUT", c.Client.ExitOnLogout)
	c.Client.VersionRefreshOnConnect = env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_ON_CONNECT", c.Client.VersionRefreshOnConnect)
	c.Client.VersionRefreshMinInterval = env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", c.Client.VersionRefreshMinInterval)
	c.Client.VersionRefreshCron = env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", c.Client.VersionRefreshCron)
	c.Client.VersionRefreshCronSpec = env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", c.Client.VersionRefreshCronSpec)
	c.Client.HealthCheckCron = env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", c.Client.HealthCheckCron)

	c.Reconnect.Initial = env.GetEnvDurationOrDefault("RECONNECT_BACKOFF_INITIAL", c.Reconnect.Initial)
	c.Reconnect.Max = env.GetEnvDurationOrDefault("RECONNECT_BACKOFF_MAX", c.Reconnect.Max)
	c.Reconnect.Multiplier = env.GetEnvFloat64OrDefault("RECONNECT_BACKOFF_MULTIPLIER", c.Reconnect.Multiplier)
	c.Reconnect.Jitter = env.GetEnvFloat64OrDefault("RECONNECT_BACKOFF_JITTER", c.Reconnect.Jitter)
	c.Reconnect.MaxAttempts = env.GetEnvIntOrDefault("RECONNECT_MAX_ATTEMPTS", c.Reconnect.MaxAttempts)

	c.Ack.Template = env.GetEnvStringOrDefault("ACK_TEMPLATE", c.Ack.Template)
	c.Ack.Unsupported = env.GetEnvStringOrDefault("ACK_UNSUPPORTED", c.Ack.Unsupported)
	c.Ack.MaxLength = env.GetEnvIntOrDefault("ACK_MAX_LENGTH", c.Ack.MaxLength)
	c.Ack.Reaction = env.GetEnvStringOrDefault("ACK_REACTION", c.Ack.Reaction)
	c.Ack.RatePerSecond = env.GetEnvFloat64OrDefault("ACK_RATE_PER_SECOND", c.Ack.RatePerSecond)
	c.Ack.Burst = env.GetEnvIntOrDefault("ACK_RATE_BURST", c.Ack.Burst)

	c.Webhook.URLs = env.GetEnvListOrDefault("WEBHOOK_URLS", c.Webhook.URLs)
	c.Webhook.Secret = env.GetEnvStringOrDefault("WEBHOOK_SECRET", c.Webhook.Secret)
	c.Webhook.Events = env.GetEnvListOrDefault("WEBHOOK_EVENTS", c.Webhook.Events)
	c.Webhook.Workers = env.GetEnvIntOrDefault("WEBHOOK_WORKERS", c.Webhook.Workers)
	c.Webhook.RetryLimit = env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", c.Webhook.RetryLimit)
	c.Webhook.AllowPrivate = env.GetEnvBoolOrDefault("WEBHOOK_ALLOW_PRIVATE", c.Webhook.AllowPrivate)

	c.Server.Enabled = env.GetEnvBoolOrDefault("HTTP_ENABLED", c.Server.Enabled)
	c.Server.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", c.Server.Address)
	c.Server.Port = env.GetEnvStringOrDefault("SERVER_PORT", c.Server.Port)

	c.Auth.AdminSecret = env.GetEnvStringOrDefault("ADMIN_SECRET_KEY", c.Auth.AdminSecret)
	c.Auth.JWTSecret = env.GetEnvStringOrDefault("JWT_SECRET_KEY", c.Auth.JWTSecret)
	c.Auth.JWTTTL = env.GetEnvDurationOrDefault("JWT_TTL", c.Auth.JWTTTL)

	c.Log.Level = env.GetEnvStringOrDefault("LOG_LEVEL", c.Log.Level)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Credentials.Path) == "" {
		return fmt.Errorf("%w: credentials path is empty", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Datastore.Type) {
	case "sqlite3", "pgx", "postgres", "postgresql":
	default:
		return fmt.Errorf("%w: unsupported datastore type %q", ErrInvalidConfig, c.Datastore.Type)
	}
	if strings.TrimSpace(c.Datastore.URI) == "" {
		return fmt.Errorf("%w: datastore uri is empty", ErrInvalidConfig)
	}

	if c.Reconnect.Initial < 0 || c.Reconnect.Max < 0 {
		return fmt.Errorf("%w: reconnect intervals must not be negative", ErrInvalidConfig)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("%w: reconnect multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("%w: reconnect jitter must be between 0 and 1", ErrInvalidConfig)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("%w: reconnect max attempts must not be negative", ErrInvalidConfig)
	}

	if err := c.Acknowledgment().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Client.ProxyURL != "" {
		if err := validation.ValidateURL(c.Client.ProxyURL, "http", "https", "socks5"); err != nil {
			return fmt.Errorf("%w: proxy url: %w", ErrInvalidConfig, err)
		}
	}

	for _, target := range c.Webhook.URLs {
		if err := validation.ValidateURL(target, "http", "https"); err != nil {
			return fmt.Errorf("%w: webhook url %q: %w", ErrInvalidConfig, target, err)
		}
	}
	for _, evt := range c.Webhook.Events {
		if !isKnownWebhookEvent(webhook.EventType(evt)) {
			return fmt.Errorf("%w: unknown webhook event %q", ErrInvalidConfig, evt)
		}
	}

	if c.Server.Enabled {
		if _, err := strconv.ParseUint(c.Server.Port, 10, 16); err != nil {
			return fmt.Errorf("%w: invalid server port %q", ErrInvalidConfig, c.Server.Port)
		}
	}

	return nil
}

// Policy converts the reconnect section into a backoff configuration.
func (c Config) Policy() reconnect.Config {
	return reconnect.Config{
		InitialInterval:     c.Reconnect.Initial,
		MaxInterval:         c.Reconnect.Max,
		Multiplier:          c.Reconnect.Multiplier,
		RandomizationFactor: c.Reconnect.Jitter,
		MaxAttempts:         c.Reconnect.MaxAttempts,
	}
}

func (c Config) Acknowledgment() message.Config {
	return message.Config{
		Template:      c.Ack.Template,
		Unsupported:   message.UnsupportedMode(strings.ToLower(c.Ack.Unsupported)),
		MaxLength:     c.Ack.MaxLength,
		Reaction:      c.Ack.Reaction,
		RatePerSecond: c.Ack.RatePerSecond,
		Burst:         c.Ack.Burst,
	}
}

func (c Config) Webhooks() webhook.Config {
	events := make([]webhook.EventType, 0, len(c.Webhook.Events))
	for _, evt := range c.Webhook.Events {
		events = append(events, webhook.EventType(evt))
	}
	return webhook.Config{
		URLs:         c.Webhook.URLs,
		Secret:       c.Webhook.Secret,
		Events:       events,
		Workers:      c.Webhook.Workers,
		RetryLimit:   c.Webhook.RetryLimit,
		AllowPrivate: c.Webhook.AllowPrivate,
	}
}

// JWTSecretKey falls back to the admin secret when no signing key is set.
func (c Config) JWTSecretKey() string {
	if c.Auth.JWTSecret != "" {
		return c.Auth.JWTSecret
	}
	return c.Auth.AdminSecret
}

func isKnownWebhookEvent(evt webhook.EventType) bool {
	switch evt {
	case webhook.EventMessageReceived, webhook.EventMessageAcknowledged,
		webhook.EventConnectionOpen, webhook.EventConnectionClosed,
		webhook.EventSessionHalted, webhook.EventCredentialsUpdated:
		return true
	}
	return false
}
