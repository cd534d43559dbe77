package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chathub/internal/app"
	"chathub/pkg/validation"
)

var (
	serverAddress  string
	serverTLS      bool
	serverCert     string
	serverKey      string
	serverHeadless bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Accept chat peers over TCP or UDP",
	Long: `Start a chat server.

Examples:
  # Plain TCP on the default port
  chathub server

  # TCP with TLS, using a certificate from 'chathub certgen'
  chathub server --tls --cert ./certs/server.cert --key ./certs/server.key

  # Reliable UDP with 30% simulated loss and the admin API
  chathub server --protocol udp --loss-rate 0.3 --admin :8080`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverAddress, "address", "a", "", "listen address (default from config)")
	serverCmd.Flags().BoolVar(&serverTLS, "tls", false, "wrap TCP connections in TLS")
	serverCmd.Flags().StringVar(&serverCert, "cert", "", "TLS certificate file")
	serverCmd.Flags().StringVar(&serverKey, "key", "", "TLS private key file")
	serverCmd.Flags().BoolVar(&serverHeadless, "headless", false, "do not read commands from stdin")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("address") {
		if err := validation.ValidateAddress(serverAddress); err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		cfg.Server.Address = serverAddress
	}
	if flags.Changed("tls") {
		cfg.Server.TLS.Enabled = serverTLS
	}
	if flags.Changed("cert") {
		cfg.Server.TLS.CertFile = serverCert
	}
	if flags.Changed("key") {
		cfg.Server.TLS.KeyFile = serverKey
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	a, err := app.NewServer(cfg, log)
	if err != nil {
		return err
	}
	return runSide(cmd, a, log, serverHeadless)
}
