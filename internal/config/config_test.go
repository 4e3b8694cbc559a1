package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/probe"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Scan.Ranges = []string{"10.0.0.0/30"}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Empty(t, cfg.Scan.Ranges)
	assert.Equal(t, "25565", cfg.Scan.Ports)
	assert.Equal(t, 100, cfg.Scan.Concurrency)
	assert.Equal(t, time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Scan.GracePeriod)
	assert.Equal(t, probe.ProtocolMinecraft, cfg.Probe.Protocol)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Listen)
	assert.Equal(t, 1000, cfg.Output.MaxMatches)
	assert.Equal(t, "info", cfg.Logging.Level)

	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *qerrors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "scan.ranges", cfgErr.Field)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			file: "qubo.yaml",
			content: `
scan:
  ranges: ["192.168.0.0/24", "10.0.*.1"]
  ports: "25565-25566"
  concurrency: 500
  timeout: 750ms
  rate_limit: 2000
  burst: 50
probe:
  protocol: minecraft
  server_address: play.example.org
filter:
  description: "(?i)survival"
  min_players: 1
server:
  enabled: true
  listen: "0.0.0.0:9200"
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"192.168.0.0/24", "10.0.*.1"}, cfg.Scan.Ranges)
				assert.Equal(t, 500, cfg.Scan.Concurrency)
				assert.Equal(t, 750*time.Millisecond, cfg.Scan.Timeout)
				assert.Equal(t, 2000.0, cfg.Scan.RateLimit)
				assert.Equal(t, 50, cfg.Scan.Burst)
				// Unset keys keep their defaults.
				assert.Equal(t, 2*time.Second, cfg.Scan.GracePeriod)
				assert.Equal(t, int32(-1), cfg.Probe.ProtocolVersion)
				assert.Equal(t, "play.example.org", cfg.Probe.ServerAddress)
				assert.Equal(t, "(?i)survival", cfg.Filter.DescriptionPattern)
				assert.Equal(t, 1, cfg.Filter.MinPlayers)
				assert.True(t, cfg.Server.Enabled)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name:    "valid json config",
			file:    "qubo.json",
			content: `{"scan": {"ranges": ["127.0.0.1"], "ports": "25565"}, "output": {"table": true}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"127.0.0.1"}, cfg.Scan.Ranges)
				assert.True(t, cfg.Output.Table)
			},
		},
		{
			name:    "invalid yaml syntax",
			file:    "bad.yaml",
			content: "scan: [unterminated",
			wantErr: true,
		},
		{
			name:    "unknown key",
			file:    "unknown.yaml",
			content: "scan:\n  ranges: [\"10.0.0.1\"]\n  workers: 4\n",
			wantErr: true,
		},
		{
			name:    "missing ranges",
			file:    "empty-ranges.yaml",
			content: "scan:\n  ports: \"25565\"\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			cfg, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, qerrors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	cfg, err := Read(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Read("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestReadEmptyFile(t *testing.T) {
	cfg, err := Read(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty range entry", func(c *Config) { c.Scan.Ranges = []string{""} }, "scan.ranges[0]"},
		{"missing ports", func(c *Config) { c.Scan.Ports = "" }, "scan.ports"},
		{"bad ports", func(c *Config) { c.Scan.Ports = "70000" }, "scan.ports"},
		{"zero concurrency", func(c *Config) { c.Scan.Concurrency = 0 }, "scan.concurrency"},
		{"zero timeout", func(c *Config) { c.Scan.Timeout = 0 }, "scan.timeout"},
		{"negative rate", func(c *Config) { c.Scan.RateLimit = -1 }, "scan.rate_limit"},
		{"negative burst", func(c *Config) { c.Scan.Burst = -1 }, "scan.burst"},
		{"negative grace", func(c *Config) { c.Scan.GracePeriod = -time.Second }, "scan.grace_period"},
		{"unknown protocol", func(c *Config) { c.Probe.Protocol = "gopher" }, "probe.protocol"},
		{"negative max response", func(c *Config) { c.Probe.MaxResponseBytes = -1 }, "probe.max_response_bytes"},
		{"negative min players", func(c *Config) { c.Filter.MinPlayers = -1 }, "filter.min_players"},
		{"min above max", func(c *Config) { c.Filter.MinPlayers, c.Filter.MaxPlayers = 5, 2 }, "filter.min_players"},
		{"bad description pattern", func(c *Config) { c.Filter.DescriptionPattern = "(" }, "filter.description"},
		{"bad listen", func(c *Config) { c.Server.Listen = "not an address" }, "server.listen"},
		{"max matches below unlimited", func(c *Config) { c.Output.MaxMatches = -2 }, "output.max_matches"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.name == "valid" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, qerrors.IsConfigurationError(err), "got %T: %v", err, err)
			if tt.wantField != "" {
				var cfgErr *qerrors.ConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, tt.wantField, cfgErr.Field)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Scan.Timeout = 1500 * time.Millisecond
	cfg.Filter.VersionPattern = "^1\\.20"

	path := filepath.Join(t.TempDir(), "nested", "qubo.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Scan, loaded.Scan)
	assert.Equal(t, cfg.Probe, loaded.Probe)
	assert.Equal(t, cfg.Filter, loaded.Filter)
	assert.Equal(t, cfg.Server, loaded.Server)
	assert.Equal(t, cfg.Output, loaded.Output)
	assert.Equal(t, cfg.Logging, loaded.Logging)
	assert.Equal(t, cfg.Resolver.Timeout, loaded.Resolver.Timeout)
}

func TestProjections(t *testing.T) {
	cfg := validConfig()
	cfg.Scan.Concurrency = 7
	cfg.Scan.RateLimit = 10
	cfg.Server.Listen = "[::1]:9300"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "pretty"

	sc := cfg.ScanningConfig()
	assert.Equal(t, 7, sc.Concurrency)
	assert.Equal(t, 10.0, sc.RateLimit)
	assert.Equal(t, cfg.Scan.Timeout, sc.Timeout)
	assert.NoError(t, sc.Validate())

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatPretty, lc.Format)

	ac, err := cfg.APIConfig()
	require.NoError(t, err)
	assert.Equal(t, "::1", ac.Host)
	assert.Equal(t, 9300, ac.Port)

	e, err := cfg.Enumerator(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Total())
}
