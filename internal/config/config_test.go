package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Sheet.Column)
	assert.Equal(t, 1, cfg.Sheet.HeaderRows)
	assert.Equal(t, "smtp", cfg.Relay.Provider)
	assert.Equal(t, "smtp.gmail.com", cfg.Relay.Host)
	assert.Equal(t, 465, cfg.Relay.Port)
	assert.Equal(t, 20, cfg.Batch.ReconnectEvery)
	assert.Equal(t, 2*time.Second, cfg.Batch.MinDelay)
	assert.Equal(t, 5*time.Second, cfg.Batch.MaxDelay)
	assert.Equal(t, 5*time.Second, cfg.Batch.Cooldown)
	assert.False(t, cfg.Lock.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Lock.TTL)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("GMAIL_USER", "bot@example.com")
	t.Setenv("GMAIL_PASS", "app-password")
	t.Setenv("GOOGLE_CREDENTIALS", `{"type":"service_account"}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bot@example.com", cfg.Relay.User)
	assert.Equal(t, "app-password", cfg.Relay.Password)
	assert.Equal(t, `{"type":"service_account"}`, cfg.Sheet.CredentialsJSON)
	assert.Equal(t, "bot@example.com", cfg.SenderAddress())
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("GMAIL_USER", "legacy@example.com")
	t.Setenv("NOTIFIER_RELAY_USER", "prefixed@example.com")
	t.Setenv("NOTIFIER_BATCH_RECONNECT_EVERY", "10")
	t.Setenv("NOTIFIER_BATCH_MAX_DELAY", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prefixed@example.com", cfg.Relay.User)
	assert.Equal(t, 10, cfg.Batch.ReconnectEvery)
	assert.Equal(t, 3*time.Second, cfg.Batch.MaxDelay)
}

func validConfig() *Config {
	return &Config{
		Sheet: SheetConfig{
			CredentialsJSON: "{}",
			SpreadsheetName: "Subscribers",
			Column:          2,
			HeaderRows:      1,
		},
		Relay: RelayConfig{
			Provider: "smtp",
			Host:     "smtp.example.com",
			Port:     465,
			User:     "bot@example.com",
			Password: "secret",
		},
		Batch: BatchConfig{
			ReconnectEvery: 20,
			MinDelay:       2 * time.Second,
			MaxDelay:       5 * time.Second,
			Cooldown:       5 * time.Second,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid smtp config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing sheet credentials",
			mutate:  func(c *Config) { c.Sheet.CredentialsJSON = "" },
			wantErr: "sheet.credentials_json",
		},
		{
			name: "missing spreadsheet identifier",
			mutate: func(c *Config) {
				c.Sheet.SpreadsheetName = ""
				c.Sheet.SpreadsheetID = ""
			},
			wantErr: "sheet.spreadsheet_name",
		},
		{
			name:    "missing relay password",
			mutate:  func(c *Config) { c.Relay.Password = "" },
			wantErr: "relay.user and relay.password",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Relay.Provider = "carrier-pigeon" },
			wantErr: "unknown relay.provider",
		},
		{
			name: "gmail provider needs credentials",
			mutate: func(c *Config) {
				c.Relay.Provider = "gmail"
				c.Relay.CredentialsJSON = ""
			},
			wantErr: "relay.credentials_json",
		},
		{
			name:    "inverted delay range",
			mutate:  func(c *Config) { c.Batch.MinDelay = 10 * time.Second },
			wantErr: "invalid batch delay range",
		},
		{
			name:    "zero reconnect interval",
			mutate:  func(c *Config) { c.Batch.ReconnectEvery = 0 },
			wantErr: "batch.reconnect_every",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSenderAddressPrefersExplicitAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Sender.Address = "news@example.com"
	assert.Equal(t, "news@example.com", cfg.SenderAddress())
}
