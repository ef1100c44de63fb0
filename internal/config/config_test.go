package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetUninitialized verifies that calling Get() before Set() causes a panic.
func TestGetUninitialized(t *testing.T) {
	instance = nil

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestSet ensures that the Set function correctly sets the global instance.
func TestSet(t *testing.T) {
	instance = nil

	expectedCfg := Defaults()
	expectedCfg.Identity.Cookie = "set-from-test"

	Set(expectedCfg)

	actualCfg := Get()
	assert.Same(t, expectedCfg, actualCfg, "Get should return the exact instance that was Set")
	assert.Equal(t, "set-from-test", actualCfg.Identity.Cookie)
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Identity.Cookie = "__client=tok"
		return cfg
	}

	testCases := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "missing cookie",
			mutate:      func(c *Config) { c.Identity.Cookie = "" },
			expectError: true,
			errorMsg:    "identity.cookie is required",
		},
		{
			name:        "unsupported engine",
			mutate:      func(c *Config) { c.Browser.Engine = "firefox" },
			expectError: true,
			errorMsg:    "unsupported browser engine",
		},
		{
			name:        "empty engine falls back to default",
			mutate:      func(c *Config) { c.Browser.Engine = "" },
			expectError: false,
		},
		{
			name:        "negative navigation timeout",
			mutate:      func(c *Config) { c.Timeouts.Navigation = -time.Second },
			expectError: true,
			errorMsg:    "timeouts.navigation",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestConfigStructureMapping verifies that the YAML tags correctly map to the struct fields.
func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  format: console
  log_file: /var/log/app.log
identity:
  cookie: "__client=abc; __client_uat=0"
  base_url: "https://clerk.example.test"
  client_version: "5.43.2"
  session_ttl: 10m
browser:
  headless: false
  engine: chrome
  exec_path: /usr/bin/google-chrome
captcha:
  key: "2captcha-key"
suno:
  base_url: "https://studio-api.example.test"
  site_url: "https://example.test"
server:
  addr: ":8080"
timeouts:
  navigation: 45s
  client_validation: 15s
  challenge_image_wait: 3s
`
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString(yamlInput))
	require.NoError(t, err, "Viper should read the YAML without error")

	var cfg Config
	err = v.Unmarshal(&cfg)
	require.NoError(t, err, "Unmarshaling into Config struct should not produce an error")

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger.LogFile)
	assert.Equal(t, "__client=abc; __client_uat=0", cfg.Identity.Cookie)
	assert.Equal(t, "https://clerk.example.test", cfg.Identity.BaseURL)
	assert.Equal(t, 10*time.Minute, cfg.Identity.SessionTTL)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, EngineChrome, cfg.Browser.Engine)
	assert.Equal(t, "/usr/bin/google-chrome", cfg.Browser.ExecPath)
	assert.Equal(t, "2captcha-key", cfg.Captcha.Key)
	assert.Equal(t, "https://studio-api.example.test", cfg.Suno.BaseURL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Navigation)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.ClientValidation)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.ChallengeImageWait)
}

// TestDefaultsOverlay verifies that loaded values overlay the defaults
// without clobbering unset fields.
func TestDefaultsOverlay(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString("server:\n  addr: \":9999\"\n"))
	require.NoError(t, err)

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(cfg))

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "https://clerk.suno.com", cfg.Identity.BaseURL, "unset fields keep defaults")
	assert.Equal(t, EngineChromium, cfg.Browser.Engine)
}
