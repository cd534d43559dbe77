package main

import (
	"fmt"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chathub/pkg/config"
	"chathub/pkg/logger"
	"chathub/pkg/validation"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	protocol  string
	lossRate  float64
	adminAddr string
)

// configPaths are tried in order when --config is not given.
var configPaths = []string{
	"configs/chathub.yaml",
	"./chathub.yaml",
}

var rootCmd = &cobra.Command{
	Use:   "chathub",
	Short: "Chat over TCP (optionally TLS) or reliable UDP",
	Long: `chathub runs one side of a two-party chat.

Use 'chathub server' to accept peers over TCP or UDP.
Use 'chathub client' to join a server.
Use 'chathub certgen' to create a self-signed certificate for TLS.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "chathub version %s\n", Version)
		fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/chathub.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&protocol, "protocol", "", "transport protocol (tcp, udp)")
	rootCmd.PersistentFlags().Float64Var(&lossRate, "loss-rate", 0, "simulated datagram loss rate in [0, 1]")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "", "serve the admin API on this address")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(certgenCmd)
}

// loadConfig reads the config file, then applies the persistent flags the
// user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		for _, path := range configPaths {
			if cfg, err = config.Load(path); err == nil {
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("protocol") {
		cfg.Server.Protocol = protocol
		cfg.Client.Protocol = protocol
	}
	if flags.Changed("loss-rate") {
		if err := validation.ValidateLossRate(lossRate); err != nil {
			return nil, err
		}
		cfg.Reliability.LossRate = lossRate
	}
	if flags.Changed("admin") {
		if err := validation.ValidateAddress(adminAddr); err != nil {
			return nil, fmt.Errorf("invalid admin address: %w", err)
		}
		cfg.Admin.Enabled = true
		cfg.Admin.Address = adminAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
}
