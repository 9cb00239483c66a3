package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration problem. It is always fatal and is
// reported before any network activity.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Screen   ScreenConfig   `yaml:"screen"`
	Universe UniverseConfig `yaml:"universe"`
	Holdings HoldingsConfig `yaml:"holdings"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Provider ProviderConfig `yaml:"provider"`
	Alert    AlertConfig    `yaml:"alert"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

// ScreenConfig holds momentum screening settings
type ScreenConfig struct {
	LookbackMonths int     `yaml:"lookback_months"`
	ThresholdPct   float64 `yaml:"threshold_pct"`
	MinAvgVolume   float64 `yaml:"min_avg_volume"` // 0 disables the liquidity floor
}

// UniverseConfig describes where the symbols to screen come from.
// Sources are tried in order: symbols, file, url, built-in list.
type UniverseConfig struct {
	Name    string   `yaml:"name"` // built-in list: nifty50 or core
	Symbols []string `yaml:"symbols"`
	File    string   `yaml:"file"`
	URL     string   `yaml:"url"`
	Suffix  string   `yaml:"suffix"` // appended to bare NSE codes
}

// HoldingsConfig points at the user's holdings CSV
type HoldingsConfig struct {
	File string `yaml:"file"`
}

// ScannerConfig holds worker pool settings
type ScannerConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"` // whole screening phase
}

// ProviderConfig holds market data client settings
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
}

// AlertConfig holds alert composition and delivery settings
type AlertConfig struct {
	Recipients    []string `yaml:"recipients"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	FallbackDir   string   `yaml:"fallback_dir"`
	DryRun        bool     `yaml:"dry_run"`
}

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	AppPassword string        `yaml:"app_password"`
	From        string        `yaml:"from"`
	FromName    string        `yaml:"from_name"`
	ImplicitTLS bool          `yaml:"implicit_tls"` // port 465 style; otherwise STARTTLS
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// DatabaseConfig holds run history settings
type DatabaseConfig struct {
	SQLitePath string `yaml:"sqlite_path"` // empty disables history
}

// MetricsConfig holds Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Screen: ScreenConfig{
			LookbackMonths: 3,
			ThresholdPct:   15.0,
		},
		Universe: UniverseConfig{
			Name:   "nifty50",
			Suffix: ".NS",
		},
		Holdings: HoldingsConfig{
			File: "invested_stocks.csv",
		},
		Scanner: ScannerConfig{
			Workers: 8,
			Timeout: 5 * time.Minute,
		},
		Provider: ProviderConfig{
			BaseURL:        "https://query1.finance.yahoo.com/v8/finance/chart",
			RateLimit:      60,
			RequestTimeout: 15 * time.Second,
			MaxAttempts:    3,
			BaseBackoff:    time.Second,
		},
		Alert: AlertConfig{
			SubjectPrefix: "Momentum alert",
			FallbackDir:   "data/undelivered",
		},
		SMTP: SMTPConfig{
			Host:        "smtp.gmail.com",
			Port:        587,
			FromName:    "momentumwatch",
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
		},
		Database: DatabaseConfig{
			SQLitePath: "data/momentumwatch.db",
		},
		Metrics: MetricsConfig{
			Job: "momentumwatch",
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading config file: %v", ErrInvalid, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %v", ErrInvalid, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.User = v
	}
	if v := os.Getenv("SMTP_APP_PASSWORD"); v != "" {
		c.SMTP.AppPassword = v
	}
	if v := os.Getenv("ALERT_RECIPIENTS"); v != "" {
		c.Alert.Recipients = SplitList(v)
	}
	if v := os.Getenv("HOLDINGS_FILE"); v != "" {
		c.Holdings.File = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("MOMENTUM_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: MOMENTUM_THRESHOLD %q: %v", ErrInvalid, v, err)
		}
		c.Screen.ThresholdPct = f
	}
	return nil
}

// Validate checks the configuration. SMTP settings are only required when
// the alert is actually going to be sent.
func (c *Config) Validate() error {
	if c.Screen.LookbackMonths < 1 {
		return fmt.Errorf("%w: screen.lookback_months must be at least 1", ErrInvalid)
	}
	if math.IsNaN(c.Screen.ThresholdPct) || math.IsInf(c.Screen.ThresholdPct, 0) {
		return fmt.Errorf("%w: screen.threshold_pct must be a finite number", ErrInvalid)
	}
	if c.Screen.MinAvgVolume < 0 {
		return fmt.Errorf("%w: screen.min_avg_volume must not be negative", ErrInvalid)
	}
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("%w: scanner.workers must be at least 1", ErrInvalid)
	}
	if c.Scanner.Timeout <= 0 {
		return fmt.Errorf("%w: scanner.timeout must be positive", ErrInvalid)
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("%w: provider.max_attempts must be at least 1", ErrInvalid)
	}
	if c.Provider.RateLimit < 1 {
		return fmt.Errorf("%w: provider.rate_limit must be at least 1", ErrInvalid)
	}
	if c.Holdings.File == "" {
		return fmt.Errorf("%w: holdings.file is required", ErrInvalid)
	}
	if c.Alert.DryRun {
		return nil
	}

	if len(c.Alert.Recipients) == 0 {
		return fmt.Errorf("%w: alert.recipients must list at least one address", ErrInvalid)
	}
	for _, r := range c.Alert.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("%w: recipient %q: %v", ErrInvalid, r, err)
		}
	}
	if c.SMTP.Host == "" || c.SMTP.Port <= 0 {
		return fmt.Errorf("%w: smtp.host and smtp.port are required", ErrInvalid)
	}
	if c.SMTP.User == "" || c.SMTP.AppPassword == "" {
		return fmt.Errorf("%w: smtp.user and smtp.app_password are required (or SMTP_USER / SMTP_APP_PASSWORD)", ErrInvalid)
	}
	if c.SMTP.MaxAttempts < 1 {
		return fmt.Errorf("%w: smtp.max_attempts must be at least 1", ErrInvalid)
	}
	return nil
}

// Sender returns the envelope sender, defaulting to the SMTP user
func (c *Config) Sender() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	return c.SMTP.User
}

// SplitList splits a comma separated list, dropping blanks
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
