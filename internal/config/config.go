// Package config handles the loading and parsing of the application's configuration.
// It uses the Viper library to read from a YAML file, environment variables and
// bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ngescape/internal/logger"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. NGESCAPE_SCANNER_TIMEOUT.
const EnvPrefix = "NGESCAPE"

// Settings defines the overall configuration structure for ngescape.
type Settings struct {
	Target    TargetConfig    `mapstructure:"target"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       logger.Config   `mapstructure:"log"`
}

// TargetConfig holds the configuration related to the scan target.
type TargetConfig struct {
	URL            string            `mapstructure:"url"`
	AngularVersion string            `mapstructure:"angular_version"`
	Headers        map[string]string `mapstructure:"headers"`
}

// CrawlerConfig controls which pages are visited.
type CrawlerConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	MaxDepth            int     `mapstructure:"max_depth"`
	MaxThreads          int     `mapstructure:"max_threads"`
	RateLimit           float64 `mapstructure:"rate_limit"`
	ProtocolMustMatch   bool    `mapstructure:"protocol_must_match"`
	ScanOtherSubdomains bool    `mapstructure:"scan_other_subdomains"`
	ScanOtherHostnames  bool    `mapstructure:"scan_other_hostnames"`
	ScanOtherTLDs       bool    `mapstructure:"scan_other_tlds"`
}

// ScannerConfig contains settings for the scanner's behavior, like timeouts and TLS.
type ScannerConfig struct {
	VerifyPayload             bool          `mapstructure:"verify_payload"`
	StopIfVulnerable          bool          `mapstructure:"stop_if_vulnerable"`
	Timeout                   time.Duration `mapstructure:"timeout"`
	Retries                   int           `mapstructure:"retries"`
	UserAgents                []string      `mapstructure:"user_agents"`
	Proxy                     string        `mapstructure:"proxy"`
	IgnoreInvalidCertificates bool          `mapstructure:"ignore_invalid_certificates"`
	TrustedCertificates       string        `mapstructure:"trusted_certificates"`
}

// BrowserConfig configures the headless browser used for confirmation.
type BrowserConfig struct {
	Headless  bool          `mapstructure:"headless"`
	ExecPath  string        `mapstructure:"exec_path"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PopupWait time.Duration `mapstructure:"popup_wait"`
}

// ReportingConfig defines how the scan results are reported.
type ReportingConfig struct {
	VulnerableRequestsLog string `mapstructure:"vulnerable_requests_log"`
	ReportFile            string `mapstructure:"report_file"`
}

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// RunID scopes the fingerprint sets to one scan. Processes that should split
	// a scan between them share it; empty means a fresh ID per process.
	RunID string        `mapstructure:"run_id"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.enabled", false)
	v.SetDefault("crawler.max_depth", -1)
	v.SetDefault("crawler.max_threads", 20)
	v.SetDefault("crawler.rate_limit", 0)

	v.SetDefault("scanner.timeout", 30*time.Second)
	v.SetDefault("scanner.retries", 2)
	v.SetDefault("scanner.user_agents", []string{"Mozilla/5.0 (compatible; ngescape; +AngularJS CSTI scanner)"})

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.popup_wait", 2*time.Second)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "ngescape")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
}

// New returns a Viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	Prepare(v)
	return v
}

// Prepare sets defaults and environment handling on an existing instance.
func Prepare(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional YAML file at path and unmarshals everything v knows
// into Settings. Without a path, ./ngescape.yaml is used if present.
func Load(v *viper.Viper, path string) (Settings, error) {
	var settings Settings

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("ngescape")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return settings, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("failed to parse config: %w", err)
	}
	return settings, settings.Validate()
}

// Validate checks the settings needed to start a scan.
func (s *Settings) Validate() error {
	if s.Target.URL == "" {
		return errors.New("target url is required")
	}
	if !strings.HasPrefix(s.Target.URL, "http://") && !strings.HasPrefix(s.Target.URL, "https://") {
		return fmt.Errorf("target url %q must start with http:// or https://", s.Target.URL)
	}
	if s.Crawler.MaxThreads <= 0 {
		return fmt.Errorf("max threads must be positive, got %d", s.Crawler.MaxThreads)
	}
	return nil
}

// EffectiveMaxDepth is 0 when crawling is disabled, so only the start page is scanned.
func (s *Settings) EffectiveMaxDepth() int {
	if !s.Crawler.Enabled {
		return 0
	}
	return s.Crawler.MaxDepth
}
