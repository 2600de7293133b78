package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for a notifier run
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Sheet   SheetConfig   `mapstructure:"sheet"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Sender  SenderConfig  `mapstructure:"sender"`
	Message MessageConfig `mapstructure:"message"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Lock    LockConfig    `mapstructure:"lock"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SheetConfig holds the subscriber spreadsheet configuration
type SheetConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// CredentialsFile is read when CredentialsJSON is empty
	CredentialsFile string `mapstructure:"credentials_file"`
	// SpreadsheetName is the display name looked up through Drive
	SpreadsheetName string `mapstructure:"spreadsheet_name"`
	// SpreadsheetID skips the Drive lookup when set
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	// Column is the 1-based column holding addresses (2 = column B)
	Column int `mapstructure:"column"`
	// HeaderRows is the number of leading cells dropped from the column
	HeaderRows int `mapstructure:"header_rows"`
}

// RelayConfig holds the mail relay configuration
type RelayConfig struct {
	// Provider is the relay to use: "smtp" or "gmail"
	Provider string `mapstructure:"provider"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// InsecureSkipVerify disables TLS certificate checks (test relays only)
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// CredentialsJSON is the service account JSON used by the gmail provider
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID, ClientSecret and RefreshToken are the gmail provider's OAuth2 alternative
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// SenderConfig holds the From identity
type SenderConfig struct {
	// Address defaults to relay.user when empty
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// MessageConfig holds the notification content
type MessageConfig struct {
	Subject  string `mapstructure:"subject"`
	SiteName string `mapstructure:"site_name"`
	PostURL  string `mapstructure:"post_url"`
	HTMLBody string `mapstructure:"html_body"`
	TextBody string `mapstructure:"text_body"`
}

// BatchConfig holds the send loop pacing
type BatchConfig struct {
	// ReconnectEvery is the number of successful sends per relay session
	ReconnectEvery int           `mapstructure:"reconnect_every"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// LockConfig holds the optional Redis run lock configuration
type LockConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr returns the Redis address
func (c LockConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SenderAddress returns the From address, falling back to the relay login
func (c *Config) SenderAddress() string {
	if c.Sender.Address != "" {
		return c.Sender.Address
	}
	return c.Relay.User
}

// ValidateSheet checks the settings needed to load subscribers
func (c *Config) ValidateSheet() error {
	var errs []error

	if c.Sheet.CredentialsJSON == "" && c.Sheet.CredentialsFile == "" {
		errs = append(errs, errors.New("sheet.credentials_json or sheet.credentials_file is required"))
	}
	if c.Sheet.SpreadsheetName == "" && c.Sheet.SpreadsheetID == "" {
		errs = append(errs, errors.New("sheet.spreadsheet_name or sheet.spreadsheet_id is required"))
	}
	if c.Sheet.Column < 1 {
		errs = append(errs, fmt.Errorf("sheet.column must be >= 1, got %d", c.Sheet.Column))
	}

	return errors.Join(errs...)
}

// Validate checks the settings a send run cannot do without
func (c *Config) Validate() error {
	errs := []error{c.ValidateSheet()}

	switch c.Relay.Provider {
	case "smtp":
		if c.Relay.Host == "" || c.Relay.Port == 0 {
			errs = append(errs, errors.New("relay.host and relay.port are required"))
		}
		if c.Relay.User == "" || c.Relay.Password == "" {
			errs = append(errs, errors.New("relay.user and relay.password are required"))
		}
	case "gmail":
		if c.Relay.CredentialsJSON == "" && c.Relay.RefreshToken == "" {
			errs = append(errs, errors.New("relay.credentials_json or relay.refresh_token is required for the gmail provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown relay.provider %q", c.Relay.Provider))
	}
	if c.SenderAddress() == "" {
		errs = append(errs, errors.New("sender.address or relay.user is required"))
	}

	if c.Batch.ReconnectEvery < 1 {
		errs = append(errs, fmt.Errorf("batch.reconnect_every must be >= 1, got %d", c.Batch.ReconnectEvery))
	}
	if c.Batch.MinDelay < 0 || c.Batch.MaxDelay < c.Batch.MinDelay {
		errs = append(errs, fmt.Errorf("invalid batch delay range [%s, %s)", c.Batch.MinDelay, c.Batch.MaxDelay))
	}

	return errors.Join(errs...)
}

// Load reads configuration from .env, config file and environment variables
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/notifier")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the variable names used by existing CI workflows working.
// The prefixed name still wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"relay.user":             "GMAIL_USER",
		"relay.password":         "GMAIL_PASS",
		"sheet.credentials_json": "GOOGLE_CREDENTIALS",
	}
	for key, env := range legacy {
		prefixed := "NOTIFIER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Sheet defaults
	v.SetDefault("sheet.credentials_json", "")
	v.SetDefault("sheet.credentials_file", "")
	v.SetDefault("sheet.spreadsheet_name", "Newsletter Subscribers")
	v.SetDefault("sheet.spreadsheet_id", "")
	v.SetDefault("sheet.column", 2)
	v.SetDefault("sheet.header_rows", 1)

	// Relay defaults
	v.SetDefault("relay.provider", "smtp")
	v.SetDefault("relay.host", "smtp.gmail.com")
	v.SetDefault("relay.port", 465)
	v.SetDefault("relay.user", "")
	v.SetDefault("relay.password", "")
	v.SetDefault("relay.insecure_skip_verify", false)
	v.SetDefault("relay.credentials_json", "")
	v.SetDefault("relay.client_id", "")
	v.SetDefault("relay.client_secret", "")
	v.SetDefault("relay.refresh_token", "")

	// Sender defaults
	v.SetDefault("sender.address", "")
	v.SetDefault("sender.name", "Blog Notifier")

	// Message defaults
	v.SetDefault("message.subject", "New post on the blog")
	v.SetDefault("message.site_name", "The blog")
	v.SetDefault("message.post_url", "https://your-blog-url.com")
	v.SetDefault("message.html_body", "")
	v.SetDefault("message.text_body", "")

	// Batch defaults
	v.SetDefault("batch.reconnect_every", 20)
	v.SetDefault("batch.min_delay", "2s")
	v.SetDefault("batch.max_delay", "5s")
	v.SetDefault("batch.cooldown", "5s")

	// Lock defaults
	v.SetDefault("lock.enabled", false)
	v.SetDefault("lock.host", "localhost")
	v.SetDefault("lock.port", 6379)
	v.SetDefault("lock.password", "")
	v.SetDefault("lock.db", 0)
	v.SetDefault("lock.key", "notifier:run")
	v.SetDefault("lock.ttl", "2h")
}
