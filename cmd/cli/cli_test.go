package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/anstrom/qubo/internal/config"
	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/results"
	"github.com/anstrom/qubo/internal/targets"
)

const statusJSON = `{"version":{"name":"Paper 1.20.4","protocol":765},` +
	`"players":{"max":20,"online":3},"description":{"text":"§aSurvival world"}}`

func appendVarInt(b []byte, v int) []byte {
	u := uint32(v)
	for u&^0x7F != 0 {
		b = append(b, byte(u&0x7F|0x80))
		u >>= 7
	}
	return append(b, byte(u))
}

// startFakeServer serves one canned status reply per connection and
// returns the port it listens on.
func startFakeServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	body := appendVarInt([]byte{0x00}, len(statusJSON))
	body = append(body, statusJSON...)
	reply := append(appendVarInt(nil, len(body)), body...)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_ = c.SetDeadline(time.Now().Add(5 * time.Second))
				_, _ = c.Write(reply)
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func scanConfig(port int) *config.Config {
	cfg := config.Default()
	cfg.Scan.Ranges = []string{"127.0.0.1"}
	cfg.Scan.Ports = strconv.Itoa(port)
	cfg.Scan.Concurrency = 2
	cfg.Scan.Timeout = 2 * time.Second
	cfg.Resolver.Servers = []string{"127.0.0.1:53"}
	return cfg
}

func TestApplyOverrides(t *testing.T) {
	v := viper.New()
	v.Set("scan.ranges", []string{"10.0.0.0/24", "10.0.1.*"})
	v.Set("scan.ports", "25565-25567")
	v.Set("scan.concurrency", 250)
	v.Set("scan.timeout", "750ms")
	v.Set("scan.rate_limit", 1500.5)
	v.Set("probe.protocol_version", 765)
	v.Set("filter.description", "Survival")
	v.Set("filter.min_players", 2)
	v.Set("filter.ignore_case", true)
	v.Set("output.table", true)

	cfg := config.Default()
	applyOverrides(cfg, v)

	if got := strings.Join(cfg.Scan.Ranges, ","); got != "10.0.0.0/24,10.0.1.*" {
		t.Errorf("ranges = %q", got)
	}
	if cfg.Scan.Ports != "25565-25567" {
		t.Errorf("ports = %q", cfg.Scan.Ports)
	}
	if cfg.Scan.Concurrency != 250 {
		t.Errorf("concurrency = %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.Timeout != 750*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Scan.Timeout)
	}
	if cfg.Scan.RateLimit != 1500.5 {
		t.Errorf("rate limit = %v", cfg.Scan.RateLimit)
	}
	if cfg.Probe.ProtocolVersion != 765 {
		t.Errorf("protocol version = %d", cfg.Probe.ProtocolVersion)
	}
	if cfg.Filter.DescriptionPattern != "Survival" || cfg.Filter.MinPlayers != 2 || !cfg.Filter.IgnoreCase {
		t.Errorf("filter = %+v", cfg.Filter)
	}
	if !cfg.Output.Table {
		t.Error("expected table output")
	}

	// Unset keys keep their defaults.
	if cfg.Scan.GracePeriod != 2*time.Second {
		t.Errorf("grace period = %v", cfg.Scan.GracePeriod)
	}
	if cfg.Server.Enabled {
		t.Error("server should stay disabled")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestApplyOverridesMetricsAddr(t *testing.T) {
	v := viper.New()
	v.Set(metricsAddrKey, "0.0.0.0:9200")

	cfg := config.Default()
	applyOverrides(cfg, v)

	if !cfg.Server.Enabled {
		t.Error("metrics address should enable the status server")
	}
	if cfg.Server.Listen != "0.0.0.0:9200" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
}

func TestApplyLoggingOverrides(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string]any
		wantLevel string
		wantFmt   string
	}{
		{"defaults", nil, "info", "text"},
		{"level and format", map[string]any{"logging.level": "warn", "logging.format": "json"}, "warn", "json"},
		{"empty values ignored", map[string]any{"logging.level": "", "logging.format": ""}, "info", "text"},
		{"verbose wins", map[string]any{"logging.level": "error", "verbose": true}, "debug", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.values {
				v.Set(k, val)
			}
			cfg := config.Default()
			applyLoggingOverrides(cfg, v)

			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
			if cfg.Logging.Format != tt.wantFmt {
				t.Errorf("format = %q, want %q", cfg.Logging.Format, tt.wantFmt)
			}
		})
	}
}

func TestLoadConfigValidates(t *testing.T) {
	v := viper.New()
	if _, err := loadConfig(v, ""); !qerrors.IsConfigurationError(err) {
		t.Fatalf("expected configuration error without ranges, got %v", err)
	}

	v.Set("scan.ranges", []string{"127.0.0.1"})
	cfg, err := loadConfig(v, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Scan.Ranges) != 1 {
		t.Errorf("ranges = %v", cfg.Scan.Ranges)
	}

	v.Set("scan.concurrency", 0)
	if _, err := loadConfig(v, ""); !qerrors.IsConfigurationError(err) {
		t.Errorf("expected configuration error for zero concurrency, got %v", err)
	}
}

func TestExecuteScan(t *testing.T) {
	port := startFakeServer(t)

	tests := []struct {
		name        string
		modify      func(cfg *config.Config)
		wantSummary string
		wantTable   bool
	}{
		{
			name:        "unfiltered",
			modify:      func(cfg *config.Config) {},
			wantSummary: "Scan terminated - 1 found (1 unfiltered) in 1 of 1 candidates",
		},
		{
			name: "filtered with table",
			modify: func(cfg *config.Config) {
				cfg.Filter.DescriptionPattern = "survival"
				cfg.Filter.IgnoreCase = true
				cfg.Output.Table = true
			},
			wantSummary: "Scan terminated - 1 found (1 unfiltered)",
			wantTable:   true,
		},
		{
			name: "filtered out",
			modify: func(cfg *config.Config) {
				cfg.Filter.MinPlayers = 10
				cfg.Output.Table = true
			},
			wantSummary: "Scan terminated - 0 found (1 unfiltered)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scanConfig(port)
			tt.modify(cfg)

			var out bytes.Buffer
			if err := executeScan(context.Background(), cfg, logging.NewDiscard(), &out); err != nil {
				t.Fatalf("executeScan: %v", err)
			}

			got := out.String()
			if !strings.HasPrefix(got, "qubo "+version+" - ") {
				t.Errorf("output %q should start with the banner", got)
			}
			if !strings.Contains(got, tt.wantSummary) {
				t.Errorf("output %q does not contain %q", got, tt.wantSummary)
			}
			if hasTable := strings.Contains(got, "Paper 1.20.4"); hasTable != tt.wantTable {
				t.Errorf("table rendered = %v, want %v\n%s", hasTable, tt.wantTable, got)
			}
		})
	}
}

func TestExecuteScanConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{"bad range", func(cfg *config.Config) { cfg.Scan.Ranges = []string{"300.1.1.1"} }},
		{"bad protocol", func(cfg *config.Config) { cfg.Probe.Protocol = "gopher" }},
		{"bad filter", func(cfg *config.Config) { cfg.Filter.VersionPattern = "(" }},
		{"bad engine settings", func(cfg *config.Config) { cfg.Scan.Concurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scanConfig(25565)
			tt.modify(cfg)

			var out bytes.Buffer
			err := executeScan(context.Background(), cfg, logging.NewDiscard(), &out)
			if !qerrors.IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output: %q", out.String())
			}
		})
	}
}

func TestExecuteScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := scanConfig(25565)
	cfg.Scan.Ranges = []string{"192.0.2.0/24"}
	cfg.Scan.GracePeriod = 0

	var out bytes.Buffer
	if err := executeScan(ctx, cfg, logging.NewDiscard(), &out); err != nil {
		t.Fatalf("interrupted scan should not fail: %v", err)
	}
	if !strings.Contains(out.String(), "(interrupted)") {
		t.Errorf("output %q should report an interrupted scan", out.String())
	}
}

func TestRenderMatches(t *testing.T) {
	c := targets.Candidate{Port: 25565}
	matches := []results.Match{
		{
			Candidate: c,
			Address:   "192.0.2.10:25565",
			Latency:   12 * time.Millisecond,
			Response: &probe.Response{
				Protocol:         probe.ProtocolMinecraft,
				VersionName:      "1.20.4",
				PlayersOnline:    5,
				PlayersMax:       50,
				CleanDescription: "Creative build server",
			},
		},
		{
			Address: "192.0.2.11:25565",
			Response: &probe.Response{
				Protocol: probe.ProtocolBanner,
				Banner:   "SSH-2.0-OpenSSH_9.6",
			},
		},
	}

	var out bytes.Buffer
	renderMatches(&out, matches)
	got := out.String()

	for _, want := range []string{"192.0.2.10:25565", "1.20.4", "5/50", "12ms", "Creative build server", "SSH-2.0-OpenSSH_9.6"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	renderMatches(&out, nil)
	if out.Len() != 0 {
		t.Errorf("empty match list should render nothing, got %q", out.String())
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	if !strings.HasPrefix(out.String(), "qubo "+version) {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestPrintBanner(t *testing.T) {
	var out bytes.Buffer
	printBanner(&out)
	got := out.String()
	if !strings.HasPrefix(got, "qubo "+version) {
		t.Errorf("unexpected banner %q", got)
	}
	if strings.Count(got, "\n") != 1 {
		t.Errorf("banner should be a single line, got %q", got)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qubo.yaml")
	var printed string
	printf := func(format string, a ...any) { printed = format }

	if err := writeDefaultConfig(path, false, printf); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	if printed == "" {
		t.Error("expected a confirmation message")
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("written config should load: %v", err)
	}

	if err := writeDefaultConfig(path, false, printf); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if err := writeDefaultConfig(path, true, printf); err != nil {
		t.Errorf("forced overwrite failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file missing: %v", err)
	}
}
