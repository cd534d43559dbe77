package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chathub/internal/app"
)

const shutdownTimeout = 5 * time.Second

// runSide starts a, prints its events and drives the console until the
// user quits, stdin closes or a signal arrives. Headless sides skip the
// console and wait for a signal.
func runSide(cmd *cobra.Command, a *app.App, log *zap.Logger, headless bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := a.Feed().Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.OutOrStdout(), events)
	}()

	if err := a.Start(ctx); err != nil {
		a.Feed().Pump()
		unsubscribe()
		<-printed
		return err
	}

	if headless {
		<-ctx.Done()
	} else {
		con := &console{side: a.Side(), out: cmd.OutOrStdout()}
		if err := con.run(ctx, cmd.InOrStdin()); err != nil {
			log.Warn("console input failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Shutdown(shutdownCtx)
	unsubscribe()
	<-printed
	return err
}
