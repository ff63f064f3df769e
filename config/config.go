// Package config loads the emulator configuration: the target queue and the
// list of simulated sensors.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRegion             = "us-east-1"
	DefaultFaultInjectionType = "humidity"
	DefaultDeviceID           = "unknown"
)

// ErrMissingQueueURL is returned when no queue endpoint is configured.
var ErrMissingQueueURL = errors.New("'queue_url' is missing in config file")

// Config is the emulator configuration.
type Config struct {
	QueueURL string `json:"queue_url" yaml:"queue_url" toml:"queue_url"`
	// Region is the AWS region used by the SQS transport.
	Region string `json:"region,omitempty" yaml:"region,omitempty" toml:"region,omitempty"`
	// EndpointURL overrides the SQS endpoint, e.g. a localstack address.
	EndpointURL string `json:"endpoint_url,omitempty" yaml:"endpoint_url,omitempty" toml:"endpoint_url,omitempty"`
	// FaultInjectionType is the sensor type whose workers send a broken payload.
	FaultInjectionType string `json:"fault_injection_type,omitempty" yaml:"fault_injection_type,omitempty" toml:"fault_injection_type,omitempty"`

	Sensors []SensorDefinition `json:"sensors" yaml:"sensors" toml:"sensors"`
	Influx  *InfluxConfig      `json:"influx,omitempty" yaml:"influx,omitempty" toml:"influx,omitempty"`
}

// SensorDefinition describes one simulated device.
type SensorDefinition struct {
	DeviceID   string   `json:"deviceId" yaml:"deviceId" toml:"deviceId"`
	Type       string   `json:"type" yaml:"type" toml:"type"`
	IntervalMS float64  `json:"interval_ms" yaml:"interval_ms" toml:"interval_ms"`
	MinValue   *float64 `json:"min_value" yaml:"min_value" toml:"min_value"`
	MaxValue   *float64 `json:"max_value" yaml:"max_value" toml:"max_value"`
	Unit       string   `json:"unit" yaml:"unit" toml:"unit"`
	Location   any      `json:"location" yaml:"location" toml:"location"`
}

// InfluxConfig enables mirroring emitted readings into InfluxDB.
type InfluxConfig struct {
	URL    string `json:"url" yaml:"url" toml:"url"`
	Token  string `json:"token" yaml:"token" toml:"token"`
	Org    string `json:"org" yaml:"org" toml:"org"`
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`
}

// Interval returns the sampling interval.
func (d SensorDefinition) Interval() time.Duration {
	return time.Duration(d.IntervalMS * float64(time.Millisecond))
}

// Range returns the value bounds as configured.
func (d SensorDefinition) Range() (float64, float64) {
	var lo, hi float64
	if d.MinValue != nil {
		lo = *d.MinValue
	}
	if d.MaxValue != nil {
		hi = *d.MaxValue
	}
	return lo, hi
}

// Load reads, decodes and validates the configuration file at path.
// The decoder is picked from the file extension; anything that is not
// YAML or TOML is treated as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg, err := Parse(data, Format(path))
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format returns the document format implied by the file name.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// Parse decodes data in the given format without validating it.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	case "toml":
		err = toml.Unmarshal(data, cfg)
	case "json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s config", format)
	}
	return cfg, nil
}

// ApplyEnvOverrides fills the configuration from environment variables.
// EMULATOR_QUEUE_URL wins over the file; the others only fill empty fields.
func (c *Config) ApplyEnvOverrides(getenv func(string) string) {
	if v := getenv("EMULATOR_QUEUE_URL"); v != "" {
		c.QueueURL = v
	}
	if c.Region == "" {
		c.Region = getenv("AWS_REGION")
	}
	if c.EndpointURL == "" {
		c.EndpointURL = getenv("AWS_ENDPOINT_URL")
	}

	influxURL := getenv("INFLUX_URL")
	if c.Influx == nil && influxURL == "" {
		return
	}
	if c.Influx == nil {
		c.Influx = &InfluxConfig{}
	}
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&c.Influx.URL, "INFLUX_URL")
	fill(&c.Influx.Token, "INFLUX_TOKEN")
	fill(&c.Influx.Org, "INFLUX_ORG")
	fill(&c.Influx.Bucket, "INFLUX_BUCKET")
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.FaultInjectionType == "" {
		c.FaultInjectionType = DefaultFaultInjectionType
	}
	for i := range c.Sensors {
		if c.Sensors[i].DeviceID == "" {
			c.Sensors[i].DeviceID = DefaultDeviceID
		}
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.QueueURL) == "" {
		return ErrMissingQueueURL
	}
	for i, s := range c.Sensors {
		switch {
		case s.Type == "":
			return errors.Errorf("sensors[%d]: 'type' is required", i)
		case s.IntervalMS <= 0:
			return errors.Errorf("sensors[%d] (%s): 'interval_ms' must be greater than 0", i, s.Type)
		case s.MinValue == nil:
			return errors.Errorf("sensors[%d] (%s): 'min_value' is required", i, s.Type)
		case s.MaxValue == nil:
			return errors.Errorf("sensors[%d] (%s): 'max_value' is required", i, s.Type)
		case s.Unit == "":
			return errors.Errorf("sensors[%d] (%s): 'unit' is required", i, s.Type)
		case s.Location == nil:
			return errors.Errorf("sensors[%d] (%s): 'location' is required", i, s.Type)
		}
	}
	if c.Influx != nil && c.Influx.URL == "" {
		return errors.New("influx: 'url' is required when the section is present")
	}
	return nil
}
