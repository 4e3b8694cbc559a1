// Package config loads, validates and saves the qubo configuration file and
// projects it onto the settings of each component.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/qubo/internal/api"
	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/filter"
	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/resolve"
	"github.com/anstrom/qubo/internal/scanning"
	"github.com/anstrom/qubo/internal/targets"
)

const (
	defaultPorts      = "25565"
	defaultListen     = "127.0.0.1:9100"
	defaultMaxMatches = 1000

	configDirPerm  = 0755
	configFilePerm = 0644
)

// Config represents the complete qubo configuration.
type Config struct {
	Scan     ScanConfig      `yaml:"scan" json:"scan"`
	Probe    probe.Options   `yaml:"probe" json:"probe"`
	Filter   filter.Criteria `yaml:"filter" json:"filter"`
	Resolver resolve.Config  `yaml:"resolver" json:"resolver"`
	Server   ServerConfig    `yaml:"server" json:"server"`
	Output   OutputConfig    `yaml:"output" json:"output"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
}

// ScanConfig holds the target set and the engine settings.
type ScanConfig struct {
	// Ranges are CIDRs, address ranges, octet patterns or hostnames.
	Ranges []string `yaml:"ranges" json:"ranges" validate:"required,dive,required"`
	// Ports is a port list such as "25565" or "25565-25570,19132".
	Ports       string        `yaml:"ports" json:"ports" validate:"required"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	// RateLimit caps probe starts per second. Zero disables the limit.
	RateLimit   float64       `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	Burst       int           `yaml:"burst" json:"burst" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period" validate:"gte=0"`
}

// ServerConfig controls the optional status and metrics endpoint.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`
}

// OutputConfig controls what is printed after a scan.
type OutputConfig struct {
	// Table prints the retained matches as a table.
	Table bool `yaml:"table" json:"table"`
	// MaxMatches bounds the retained matches. -1 keeps all of them.
	MaxMatches int `yaml:"max_matches" json:"max_matches" validate:"gte=-1"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" json:"format" validate:"oneof=text json pretty"`
	Output    string `yaml:"output" json:"output"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

// Default returns the default configuration. It has no ranges and is
// therefore not valid on its own.
func Default() *Config {
	scan := scanning.DefaultConfig()
	logCfg := logging.DefaultConfig()

	return &Config{
		Scan: ScanConfig{
			Ports:       defaultPorts,
			Concurrency: scan.Concurrency,
			Timeout:     scan.Timeout,
			RateLimit:   scan.RateLimit,
			Burst:       scan.Burst,
			GracePeriod: scan.GracePeriod,
		},
		Probe:    probe.DefaultOptions(),
		Resolver: resolve.DefaultConfig(),
		Server: ServerConfig{
			Enabled: false,
			Listen:  defaultListen,
		},
		Output: OutputConfig{
			Table:      false,
			MaxMatches: defaultMaxMatches,
		},
		Logging: LoggingConfig{
			Level:     string(logCfg.Level),
			Format:    string(logCfg.Format),
			Output:    logCfg.Output,
			AddSource: logCfg.AddSource,
		},
	}
}

// Read loads the file at path over the defaults without validating the
// result. An empty path or a missing file yields the defaults.
func Read(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, qerrors.WrapConfigurationError(qerrors.CodeConfiguration,
			"failed to read config file", err).WithField("config", path)
	}

	if err := decode(data, config); err != nil {
		return nil, qerrors.WrapConfigurationError(qerrors.CodeConfiguration,
			"failed to parse config file", err).WithField("config", path)
	}
	return config, nil
}

// decode parses YAML (and therefore JSON) into config, rejecting unknown keys.
func decode(data []byte, config *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints first, then the settings that need a
// parser to check: port lists, filter patterns and the status listen address.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fieldError(err)
	}

	if _, err := targets.ParsePorts(c.Scan.Ports); err != nil {
		return qerrors.WrapConfigurationError(qerrors.CodeValidation,
			"invalid port list", err).WithField("scan.ports", c.Scan.Ports)
	}
	if _, err := filter.New(c.Filter); err != nil {
		return err
	}
	if _, err := probe.New(c.Probe); err != nil {
		return err
	}
	if c.Server.Enabled {
		if _, err := c.APIConfig(); err != nil {
			return err
		}
	}
	return nil
}

// fieldError converts the first validator failure into a ConfigurationError
// naming the YAML path of the field.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return qerrors.WrapConfigurationError(qerrors.CodeValidation, "invalid configuration", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	var msg string
	switch fe.Tag() {
	case "required":
		return qerrors.ErrConfigMissing(field)
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "gte", "gt", "lte", "lt":
		msg = fmt.Sprintf("must be %s %s", comparison(fe.Tag()), fe.Param())
	case "hostname_port":
		msg = "must be a host:port address"
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return qerrors.NewConfigFieldError(qerrors.CodeValidation, msg, field, fe.Value())
}

func comparison(tag string) string {
	switch tag {
	case "gte":
		return ">="
	case "gt":
		return ">"
	case "lte":
		return "<="
	default:
		return "<"
	}
}

// ScanningConfig returns the engine settings.
func (c *Config) ScanningConfig() scanning.Config {
	return scanning.Config{
		Concurrency: c.Scan.Concurrency,
		Timeout:     c.Scan.Timeout,
		RateLimit:   c.Scan.RateLimit,
		Burst:       c.Scan.Burst,
		GracePeriod: c.Scan.GracePeriod,
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}

// APIConfig returns the status server settings for Server.Listen.
func (c *Config) APIConfig() (api.Config, error) {
	cfg := api.DefaultConfig()
	host, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return cfg, qerrors.WrapConfigurationError(qerrors.CodeValidation,
			"invalid listen address", err).WithField("server.listen", c.Server.Listen)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return cfg, qerrors.ErrConfigInvalid("server.listen", c.Server.Listen)
	}
	cfg.Host = host
	cfg.Port = port
	return cfg, nil
}

// Enumerator builds the candidate source for the configured ranges and
// ports. resolver may be nil when no range is a hostname.
func (c *Config) Enumerator(ctx context.Context, resolver targets.Resolver) (*targets.Enumerator, error) {
	return targets.Parse(ctx, c.Scan.Ranges, c.Scan.Ports, resolver)
}
