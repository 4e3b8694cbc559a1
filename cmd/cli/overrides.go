package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/qubo/internal/config"
	qerrors "github.com/anstrom/qubo/internal/errors"
)

// metricsAddrKey enables the status server when set.
const metricsAddrKey = "metrics_addr"

// bindFlags binds each flag to its viper key so that flags take precedence
// over QUBO_* environment variables and the config file.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// loadConfig reads the config file, layers environment and flag values over
// it and validates the result.
func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, qerrors.WrapConfigurationError(qerrors.CodeConfiguration,
				"config file not readable", err).WithField("config", cfgFile)
		}
	}

	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every key set in v onto cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("scan.ranges") {
		cfg.Scan.Ranges = v.GetStringSlice("scan.ranges")
	}
	if v.IsSet("scan.ports") {
		cfg.Scan.Ports = v.GetString("scan.ports")
	}
	if v.IsSet("scan.concurrency") {
		cfg.Scan.Concurrency = v.GetInt("scan.concurrency")
	}
	if v.IsSet("scan.timeout") {
		cfg.Scan.Timeout = v.GetDuration("scan.timeout")
	}
	if v.IsSet("scan.rate_limit") {
		cfg.Scan.RateLimit = v.GetFloat64("scan.rate_limit")
	}
	if v.IsSet("scan.burst") {
		cfg.Scan.Burst = v.GetInt("scan.burst")
	}
	if v.IsSet("scan.grace_period") {
		cfg.Scan.GracePeriod = v.GetDuration("scan.grace_period")
	}

	if v.IsSet("probe.protocol") {
		cfg.Probe.Protocol = v.GetString("probe.protocol")
	}
	if v.IsSet("probe.protocol_version") {
		cfg.Probe.ProtocolVersion = v.GetInt32("probe.protocol_version")
	}
	if v.IsSet("probe.server_address") {
		cfg.Probe.ServerAddress = v.GetString("probe.server_address")
	}
	if v.IsSet("probe.banner_payload") {
		cfg.Probe.BannerPayload = v.GetString("probe.banner_payload")
	}

	if v.IsSet("filter.description") {
		cfg.Filter.DescriptionPattern = v.GetString("filter.description")
	}
	if v.IsSet("filter.version") {
		cfg.Filter.VersionPattern = v.GetString("filter.version")
	}
	if v.IsSet("filter.min_players") {
		cfg.Filter.MinPlayers = v.GetInt("filter.min_players")
	}
	if v.IsSet("filter.max_players") {
		cfg.Filter.MaxPlayers = v.GetInt("filter.max_players")
	}
	if v.IsSet("filter.require_favicon") {
		cfg.Filter.RequireFavicon = v.GetBool("filter.require_favicon")
	}
	if v.IsSet("filter.ignore_case") {
		cfg.Filter.IgnoreCase = v.GetBool("filter.ignore_case")
	}

	if v.IsSet("resolver.servers") {
		cfg.Resolver.Servers = v.GetStringSlice("resolver.servers")
	}

	if addr := v.GetString(metricsAddrKey); addr != "" {
		cfg.Server.Enabled = true
		cfg.Server.Listen = addr
	}

	if v.IsSet("output.table") {
		cfg.Output.Table = v.GetBool("output.table")
	}
	if v.IsSet("output.max_matches") {
		cfg.Output.MaxMatches = v.GetInt("output.max_matches")
	}

	applyLoggingOverrides(cfg, v)
}

func applyLoggingOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("logging.level") && v.GetString("logging.level") != "" {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.format") && v.GetString("logging.format") != "" {
		cfg.Logging.Format = v.GetString("logging.format")
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
}
