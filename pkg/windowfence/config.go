package windowfence

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the construction-time throttle configuration.
// Durations use Go syntax ("60s", "1m", "1h").
type Config struct {
	// Quota is the maximum number of admitted requests per identity per window
	Quota int `yaml:"quota"`

	// Window is the fixed window length
	Window string `yaml:"window"`

	// IdleTTL is how long an expired identity is kept before eviction ("0" disables)
	IdleTTL string `yaml:"idle_ttl,omitempty"`

	// CleanupInterval is how often background cleanup runs
	CleanupInterval string `yaml:"cleanup_interval,omitempty"`

	// KeyExtractor specifies how HTTP middleware identifies callers
	// Examples: "ip", "ip-proxy", "header:X-API-Key", "bearer"
	KeyExtractor string `yaml:"key_extractor,omitempty"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Quota:           100,
		Window:          "1m",
		IdleTTL:         "1h",
		CleanupInterval: "10m",
		KeyExtractor:    "ip",
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
// Fields missing from the file keep their NewConfig defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Quota <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNonPositiveQuota)
	}

	window, err := parseDuration("window", c.Window)
	if err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNonPositiveWindow)
	}

	if _, err := c.idleTTL(); err != nil {
		return err
	}
	if _, err := c.cleanupInterval(); err != nil {
		return err
	}

	return validateKeyExtractor(c.KeyExtractor)
}

// validateKeyExtractor checks the formats accepted by middleware.ParseKeyFunc.
// Empty means the default ("ip").
func validateKeyExtractor(value string) error {
	if value == "" {
		return nil
	}
	kind, arg, hasArg := strings.Cut(value, ":")
	switch kind {
	case "ip", "ip-proxy", "bearer":
		return nil
	case "header", "static":
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: key_extractor %q requires format '%s:value'", ErrInvalidConfig, value, kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown key_extractor type %q", ErrInvalidConfig, kind)
	}
}

// NewThrottle builds a Throttle from the configuration.
// Options are applied after the configured ones and take precedence.
func (c *Config) NewThrottle(opts ...Option) (*Throttle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	window, _ := parseDuration("window", c.Window)
	idleTTL, _ := c.idleTTL()
	interval, _ := c.cleanupInterval()

	all := append([]Option{
		WithIdleTTL(idleTTL),
		WithCleanupInterval(interval),
	}, opts...)

	return NewThrottle(c.Quota, window, all...)
}

// NewThrottleFromFile loads a YAML config file and builds a Throttle from it.
func NewThrottleFromFile(path string, opts ...Option) (*Throttle, error) {
	config, err := LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	return config.NewThrottle(opts...)
}

func (c *Config) idleTTL() (time.Duration, error) {
	if c.IdleTTL == "" {
		return 1 * time.Hour, nil
	}
	ttl, err := parseDuration("idle_ttl", c.IdleTTL)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, fmt.Errorf("%w: idle_ttl cannot be negative", ErrInvalidConfig)
	}
	return ttl, nil
}

func (c *Config) cleanupInterval() (time.Duration, error) {
	if c.CleanupInterval == "" {
		return 10 * time.Minute, nil
	}
	interval, err := parseDuration("cleanup_interval", c.CleanupInterval)
	if err != nil {
		return 0, err
	}
	if interval < 0 {
		return 0, fmt.Errorf("%w: cleanup_interval cannot be negative", ErrInvalidConfig)
	}
	return interval, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q: %v", ErrInvalidConfig, field, value, err)
	}
	return d, nil
}
