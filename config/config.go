// Package config loads and validates the application configuration from a
// YAML file, with environment variable overrides for deployment-specific
// values like ports, URLs and secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Nathan219/probemaster2-sub000/errors"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "PROBEMASTER_"

// Duration wraps time.Duration with YAML string parsing ("10s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Poll    PollConfig    `yaml:"poll"`
	Areas   AreasConfig   `yaml:"areas"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SerialConfig configures the serial byte-stream input.
type SerialConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           string   `yaml:"port"`
	BaudRate       int      `yaml:"baud_rate"`
	RingCapacity   int      `yaml:"ring_capacity"`
	OpenAttempts   int      `yaml:"open_attempts"`
	OpenRetryDelay Duration `yaml:"open_retry_delay"`
}

// PollConfig configures the HTTP polling input and the REST fact fetchers.
type PollConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BaseURL          string   `yaml:"base_url"`
	AuthHeader       string   `yaml:"auth_header"`
	AuthSecret       string   `yaml:"auth_secret"`
	Timeout          Duration `yaml:"timeout"`
	ForwardInterval  Duration `yaml:"forward_interval"`
	BackwardInterval Duration `yaml:"backward_interval"`
	FactInterval     Duration `yaml:"fact_interval"`
	BatchLength      int      `yaml:"batch_length"`
	SeenCapacity     int      `yaml:"seen_capacity"`
}

// AreasConfig configures area discovery.
type AreasConfig struct {
	// Expected is the number of areas the deployment is known to have;
	// discovery completes once the graph holds at least this many. Zero
	// disables discovery tracking.
	Expected int `yaml:"expected"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Backend is "memory" or "nats".
	Backend       string     `yaml:"backend"`
	FlushInterval Duration   `yaml:"flush_interval"`
	NATS          NATSConfig `yaml:"nats"`
}

// NATSConfig configures the JetStream KV backend.
type NATSConfig struct {
	URL          string `yaml:"url"`
	BucketPrefix string `yaml:"bucket_prefix"`
	Replicas     int    `yaml:"replicas"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration defaults applied before file and
// environment values.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate:       115200,
			RingCapacity:   1024,
			OpenAttempts:   5,
			OpenRetryDelay: Duration(2 * time.Second),
		},
		Poll: PollConfig{
			AuthHeader:       "X-Probe-Key",
			Timeout:          Duration(10 * time.Second),
			ForwardInterval:  Duration(10 * time.Second),
			BackwardInterval: Duration(60 * time.Second),
			FactInterval:     Duration(5 * time.Minute),
			BatchLength:      100,
			SeenCapacity:     4096,
		},
		Store: StoreConfig{
			Backend:       "memory",
			FlushInterval: Duration(500 * time.Millisecond),
			NATS: NATSConfig{
				BucketPrefix: "probemaster",
				Replicas:     1,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9102",
		},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "config", "Load", "file read")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "Load", "YAML decoding")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays deployment overrides from the environment. Only values
// that vary between deployments are overridable; structural settings stay in
// the file.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	setString("SERIAL_PORT", &c.Serial.Port)
	setString("POLL_URL", &c.Poll.BaseURL)
	setString("POLL_SECRET", &c.Poll.AuthSecret)
	setString("NATS_URL", &c.Store.NATS.URL)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("METRICS_LISTEN", &c.Metrics.Listen)

	// Supplying an input source via the environment implies enabling it.
	if _, ok := os.LookupEnv(EnvPrefix + "SERIAL_PORT"); ok {
		c.Serial.Enabled = true
	}
	if _, ok := os.LookupEnv(EnvPrefix + "POLL_URL"); ok {
		c.Poll.Enabled = true
	}
}

// Validate checks cross-field consistency. Every violation is reported as an
// invalid-configuration error naming the offending field.
func (c *Config) Validate() error {
	fail := func(field, reason string) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s: %s", errors.ErrInvalidConfig, field, reason),
			"config", "Validate", "consistency check")
	}

	if !c.Serial.Enabled && !c.Poll.Enabled {
		return fail("serial/poll", "at least one input source must be enabled")
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		return fail("serial.port", "required when serial input is enabled")
	}
	if c.Poll.Enabled && c.Poll.BaseURL == "" {
		return fail("poll.base_url", "required when polling is enabled")
	}
	if c.Poll.BatchLength < 0 {
		return fail("poll.batch_length", "must not be negative")
	}
	if c.Areas.Expected < 0 {
		return fail("areas.expected", "must not be negative")
	}

	switch c.Store.Backend {
	case "memory":
	case "nats":
		if c.Store.NATS.URL == "" {
			return fail("store.nats.url", "required for the nats backend")
		}
	default:
		return fail("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fail("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fail("metrics.listen", "required when metrics are enabled")
	}
	return nil
}
