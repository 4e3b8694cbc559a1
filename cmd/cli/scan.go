package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/qubo/internal/api"
	"github.com/anstrom/qubo/internal/config"
	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/filter"
	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/metrics"
	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/resolve"
	"github.com/anstrom/qubo/internal/results"
	"github.com/anstrom/qubo/internal/scanning"
	"github.com/anstrom/qubo/internal/targets"
)

const systemMetricsInterval = 15 * time.Second

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan address ranges for Minecraft servers",
	Long: `Scan every address and port in the given ranges, send a server list ping
and report the servers that answer.

Ranges may be CIDRs (10.0.0.0/16), address ranges (10.0.0.1-10.0.0.50),
octet patterns (192.168.*.1-5) or hostnames. Every server that answers is
counted as unfiltered found; servers that also pass the filter flags are
counted and logged as found.`,
	Example: `  qubo scan --range 192.168.1.0/24
  qubo scan -r 10.0.*.* -p 25565-25570 --concurrency 1000 --rate 5000
  qubo scan -r mc.example.org --filter-description "(?i)survival" --min-players 1 --table
  qubo scan -r 10.0.0.0/16 --metrics-addr 127.0.0.1:9100`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringSliceP("range", "r", nil, "address ranges to scan (repeatable or comma-separated)")
	flags.StringP("ports", "p", "", "ports to scan, e.g. 25565 or 25565-25570,19132 (default 25565)")
	flags.IntP("concurrency", "c", 0, "number of concurrent probes (default 100)")
	flags.Duration("timeout", 0, "per-probe timeout (default 1s)")
	flags.Float64("rate", 0, "maximum probes started per second, 0 for unlimited")
	flags.Int("burst", 0, "rate limiter burst size")
	flags.Duration("grace", 0, "time in-flight probes may finish after interruption (default 2s)")

	flags.String("protocol", "", "probe protocol: minecraft or banner")
	flags.Int32("protocol-version", 0, "protocol version sent in the handshake (default -1)")
	flags.String("server-address", "", "host name sent in the handshake instead of the target address")
	flags.String("banner-payload", "", "payload written before reading a banner")

	flags.String("filter-description", "", "regular expression the description must match")
	flags.String("filter-version", "", "regular expression the version name must match")
	flags.Int("min-players", 0, "minimum number of players online")
	flags.Int("max-players", 0, "maximum number of players online, 0 for no limit")
	flags.Bool("favicon", false, "only match servers with a favicon")
	flags.Bool("ignore-case", false, "match patterns case-insensitively")

	flags.StringSlice("dns", nil, "nameservers (host:port) for resolving hostname ranges")
	flags.String("metrics-addr", "", "serve status and Prometheus metrics on this address")
	flags.Bool("table", false, "print found servers as a table when the scan ends")
	flags.Int("max-matches", 0, "maximum servers kept for the table, -1 for all (default 1000)")

	bindFlags(flags, map[string]string{
		"range":              "scan.ranges",
		"ports":              "scan.ports",
		"concurrency":        "scan.concurrency",
		"timeout":            "scan.timeout",
		"rate":               "scan.rate_limit",
		"burst":              "scan.burst",
		"grace":              "scan.grace_period",
		"protocol":           "probe.protocol",
		"protocol-version":   "probe.protocol_version",
		"server-address":     "probe.server_address",
		"banner-payload":     "probe.banner_payload",
		"filter-description": "filter.description",
		"filter-version":     "filter.version",
		"min-players":        "filter.min_players",
		"max-players":        "filter.max_players",
		"favicon":            "filter.require_favicon",
		"ignore-case":        "filter.ignore_case",
		"dns":                "resolver.servers",
		"metrics-addr":       metricsAddrKey,
		"table":              "output.table",
		"max-matches":        "output.max_matches",
	})
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper(), viper.ConfigFileUsed())
	if err != nil {
		return usageError(cmd, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = executeScan(ctx, cfg, logging.Default(), cmd.OutOrStdout())
	if qerrors.IsConfigurationError(err) {
		return usageError(cmd, err)
	}
	return err
}

// usageError prints the command help before a configuration error is reported.
func usageError(cmd *cobra.Command, err error) error {
	_ = cmd.Help()
	return err
}

// executeScan builds the scan pipeline from cfg, runs it to completion or
// until ctx is cancelled, and writes the summary to out.
func executeScan(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	source, err := cfg.Enumerator(ctx, newResolver(cfg.Resolver, logger))
	if err != nil {
		return err
	}
	prober, err := probe.New(cfg.Probe)
	if err != nil {
		return err
	}
	matcher, err := filter.New(cfg.Filter)
	if err != nil {
		return err
	}

	maxMatches := 0
	if cfg.Output.Table {
		maxMatches = cfg.Output.MaxMatches
	}

	opts := []scanning.Option{
		scanning.WithLogger(logger),
		scanning.WithAggregator(results.NewAggregator(maxMatches)),
	}
	var pm *metrics.PrometheusMetrics
	if cfg.Server.Enabled {
		pm = metrics.NewPrometheusMetrics()
		opts = append(opts, scanning.WithRecorder(pm))
	}

	engine, err := scanning.New(cfg.ScanningConfig(), source, prober, matcher, opts...)
	if err != nil {
		return err
	}

	printBanner(out)
	logger.Info("Scan configured",
		"scan_id", engine.ScanID(),
		"ranges", cfg.Scan.Ranges,
		"ports", cfg.Scan.Ports,
		"addresses", source.Addresses(),
		"candidates", source.Total(),
		"protocol", cfg.Probe.Protocol,
		"filter", matcher.Describe())

	if cfg.Server.Enabled {
		stopServer, err := startStatusServer(cfg, engine, pm, logger)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	summary, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("Scan terminated",
		"found", summary.Filtered,
		"unfiltered", summary.Unfiltered,
		"interrupted", summary.Interrupted)
	printSummary(out, summary)
	if cfg.Output.Table {
		renderMatches(out, summary.Matches)
	}
	return nil
}

// newResolver returns a resolver for hostname ranges, or nil when no
// nameserver is available.
func newResolver(cfg resolve.Config, logger *logging.Logger) targets.Resolver {
	r, err := resolve.New(cfg)
	if err != nil {
		logger.WithError(err).Debug("Hostname resolution unavailable")
		return nil
	}
	return r
}

// startStatusServer binds the status endpoint and serves it in the
// background. The returned function stops it.
func startStatusServer(cfg *config.Config, engine *scanning.Engine, pm *metrics.PrometheusMetrics,
	logger *logging.Logger) (func(), error) {
	apiCfg, err := cfg.APIConfig()
	if err != nil {
		return nil, err
	}

	srv := api.New(apiCfg, engine, pm, logger, version)
	if err := srv.Listen(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go pm.StartPeriodicUpdates(ctx, systemMetricsInterval)
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			logger.WithError(err).Error("Status server failed")
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func printSummary(out io.Writer, s scanning.Summary) {
	state := "completed"
	if s.Interrupted {
		state = "interrupted"
	}
	fmt.Fprintf(out, "Scan terminated - %d found (%d unfiltered) in %d of %d candidates, %s (%s)\n",
		s.Filtered, s.Unfiltered, s.Dispatched, s.Total, s.Duration.Round(time.Millisecond), state)
	fmt.Fprintf(out, "Failures: %d timeouts, %d connection errors, %d protocol errors\n",
		s.Timeouts, s.ConnectionErrors, s.ProtocolErrors)
}

// renderMatches displays the retained matches in a table format
func renderMatches(out io.Writer, matches []results.Match) {
	if len(matches) == 0 {
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Address", "Version", "Players", "Latency", "Description")

	for i := range matches {
		m := &matches[i]
		resp := m.Response

		versionName := resp.VersionName
		players := strconv.Itoa(resp.PlayersOnline) + "/" + strconv.Itoa(resp.PlayersMax)
		description := resp.CleanDescription
		if resp.Protocol == probe.ProtocolBanner {
			versionName, players, description = "-", "-", resp.Banner
		}

		_ = table.Append([]string{
			m.Address,
			versionName,
			players,
			m.Latency.Round(time.Millisecond).String(),
			description,
		})
	}

	_ = table.Render()
}
