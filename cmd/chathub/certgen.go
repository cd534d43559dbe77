package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chathub/internal/infrastructure/tlsconfig"
)

var (
	certgenOutput string
	certgenName   string
	certgenDays   int
	certgenHosts  []string
)

var certgenCmd = &cobra.Command{
	Use:   "certgen",
	Short: "Generate a self-signed TLS certificate and key",
	Long: `Generate a self-signed ECDSA P-256 certificate for the TCP server.
Suitable for testing; clients must run with --insecure or trust the file.

Examples:
  chathub certgen --output ./certs --name server
  chathub certgen --hosts localhost,127.0.0.1,chat.example.com --days 30`,
	RunE: runCertgen,
}

func init() {
	certgenCmd.Flags().StringVarP(&certgenOutput, "output", "o", "./certs", "output directory")
	certgenCmd.Flags().StringVar(&certgenName, "name", "server", "common name and file name stem")
	certgenCmd.Flags().IntVar(&certgenDays, "days", 365, "certificate validity period in days")
	certgenCmd.Flags().StringSliceVar(&certgenHosts, "hosts", []string{"localhost", "127.0.0.1"}, "DNS names and IP addresses")
}

func runCertgen(cmd *cobra.Command, args []string) error {
	if certgenDays < 1 {
		return fmt.Errorf("days must be at least 1")
	}
	certPath, keyPath, err := tlsconfig.WriteSelfSigned(certgenOutput, certgenName, certgenHosts,
		time.Duration(certgenDays)*24*time.Hour)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate: %s\n", certPath)
	fmt.Fprintf(out, "Private key: %s\n", keyPath)
	return nil
}
