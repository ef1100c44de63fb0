// Application configuration, loaded once through Viper and shared as a
// singleton across the subsystems.
package config

import (
	"fmt"
	"sync"
	"time"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Identity IdentityConfig `mapstructure:"identity"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Suno     SunoConfig     `mapstructure:"suno"`
	Server   ServerConfig   `mapstructure:"server"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" json:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error string `mapstructure:"error" json:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// IdentityConfig holds settings for the identity provider client.
type IdentityConfig struct {
	// Cookie is the raw Cookie header copied from an authenticated browser
	// session. Usually supplied via the SUNO_COOKIE environment variable.
	Cookie string `mapstructure:"cookie"`
	// BaseURL of the identity provider API. Overridable for tests.
	BaseURL string `mapstructure:"base_url"`
	// ClientVersion is sent as the _clerk_js_version query parameter.
	ClientVersion string `mapstructure:"client_version"`
	// SessionTTL bounds how long an idle entry survives in the session
	// registry before the sweeper evicts it.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// Engine selects which browser executable family drives the flow.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineChrome   Engine = "chrome"
)

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Headless   bool `mapstructure:"headless"`
	DisableGPU bool `mapstructure:"disable_gpu"`
	// DevTools opens developer tooling on launch. Only honored in visible
	// (non-headless) mode.
	DevTools  bool   `mapstructure:"devtools"`
	Engine    Engine `mapstructure:"engine"`
	ExecPath  string `mapstructure:"exec_path"`
	UserAgent string `mapstructure:"user_agent"`
	Locale    string `mapstructure:"locale"`
}

// CaptchaConfig holds settings for the external solving service.
type CaptchaConfig struct {
	Key     string `mapstructure:"key"`
	BaseURL string `mapstructure:"base_url"`
}

// SunoConfig holds settings for the application API client.
type SunoConfig struct {
	BaseURL string `mapstructure:"base_url"`
	SiteURL string `mapstructure:"site_url"`
}

// ServerConfig holds settings for the local HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TimeoutConfig names every wait point in the challenge flow so each can be
// tuned independently.
type TimeoutConfig struct {
	// Navigation bounds page loads. Zero means unbounded, an explicit
	// opt-in for very slow environments.
	Navigation time.Duration `mapstructure:"navigation"`
	// ClientValidation bounds the wait for the identity provider's client
	// script to finish its validation round-trip on the landing page.
	ClientValidation time.Duration `mapstructure:"client_validation"`
	// ChallengeImageWait is the fixed settle delay after an action that
	// changes the challenge imagery.
	ChallengeImageWait time.Duration `mapstructure:"challenge_image_wait"`
	// UnlockDelay sits between mouse press and drag start so the widget
	// registers the grab.
	UnlockDelay time.Duration `mapstructure:"unlock_delay"`
	// SubmitSettle is the pause after clicking the submit control.
	SubmitSettle time.Duration `mapstructure:"submit_settle"`
	// RenewWaitMax caps the random throttle sleep after a token renewal.
	RenewWaitMax time.Duration `mapstructure:"renew_wait_max"`
	// SolverAttempt timeboxes a single solving-service round trip.
	SolverAttempt time.Duration `mapstructure:"solver_attempt"`
}

// Defaults returns a fully populated configuration. Loaded values overlay it.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "suno-api",
		},
		Identity: IdentityConfig{
			BaseURL:       "https://clerk.suno.com",
			ClientVersion: "5.43.2",
			SessionTTL:    30 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless:  true,
			Engine:    EngineChromium,
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			Locale:    "en-US",
		},
		Captcha: CaptchaConfig{
			BaseURL: "https://api.2captcha.com",
		},
		Suno: SunoConfig{
			BaseURL: "https://studio-api.prod.suno.com",
			SiteURL: "https://suno.com",
		},
		Server: ServerConfig{
			Addr: ":3000",
		},
		Timeouts: TimeoutConfig{
			Navigation:         45 * time.Second,
			ClientValidation:   15 * time.Second,
			ChallengeImageWait: 3 * time.Second,
			UnlockDelay:        300 * time.Millisecond,
			SubmitSettle:       2 * time.Second,
			RenewWaitMax:       2 * time.Second,
			SolverAttempt:      2 * time.Minute,
		},
	}
}

// Validate checks the parts of the configuration that would otherwise fail
// deep inside the flow.
func (c *Config) Validate() error {
	if c.Identity.Cookie == "" {
		return fmt.Errorf("identity.cookie is required (set SUNO_COOKIE)")
	}
	switch c.Browser.Engine {
	case EngineChromium, EngineChrome, "":
	default:
		return fmt.Errorf("unsupported browser engine %q (chromium or chrome)", c.Browser.Engine)
	}
	if c.Timeouts.Navigation < 0 {
		return fmt.Errorf("timeouts.navigation must not be negative")
	}
	return nil
}

// Set stores the configuration instance for global access.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("configuration not initialized; call config.Set() in the root command")
	}
	return instance
}
