package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chathub/internal/app"
	"chathub/pkg/validation"
)

var (
	clientAddress  string
	clientNickname string
	clientTLS      bool
	clientInsecure bool
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Join a chat server",
	Long: `Connect to a chat server and chat from stdin.

Examples:
  chathub client --nickname alice --address localhost:12345
  chathub client --nickname bob --tls --insecure
  chathub client --nickname carol --protocol udp --loss-rate 0.5`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVarP(&clientAddress, "address", "a", "", "server address (default from config)")
	clientCmd.Flags().StringVarP(&clientNickname, "nickname", "n", "", "nickname to join with")
	clientCmd.Flags().BoolVar(&clientTLS, "tls", false, "use TLS for TCP")
	clientCmd.Flags().BoolVar(&clientInsecure, "insecure", false, "skip certificate verification (WARNING: testing only)")
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("address") {
		if err := validation.ValidateAddress(clientAddress); err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		cfg.Client.Address = clientAddress
	}
	if flags.Changed("nickname") {
		cfg.Client.Nickname = clientNickname
	}
	if flags.Changed("tls") {
		cfg.Client.TLS.Enabled = clientTLS
	}
	if flags.Changed("insecure") {
		cfg.Client.TLS.InsecureSkipVerify = clientInsecure
	}
	if err := validation.ValidateNickname(cfg.Client.Nickname); err != nil {
		return fmt.Errorf("invalid nickname: %w", err)
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	a, err := app.NewClient(cfg, log)
	if err != nil {
		return err
	}
	return runSide(cmd, a, log, false)
}
