// Package cmd contains the CLI entry points.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engibot/engi/internal/app"
	"github.com/engibot/engi/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "engi",
	Short: "Engi, a documentation-aware Discord assistant",
	Long: `Engi connects to your Discord guild, chats in its category and
answers questions from documentation you ingest with /ingest.

Running engi with no arguments starts the bot and an operator console
on stdin.`,
	RunE:          runBot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The console's exit command and OS signals share one shutdown
	// path.
	var once sync.Once
	shutdown := func() { once.Do(stop) }

	a, err := app.Setup(ctx, cfg, shutdown)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("shutdown cleanup", "error", err)
		}
	}()

	if err := a.Bot.Start(ctx); err != nil {
		return err
	}

	go a.Console.Run()

	<-ctx.Done()
	return nil
}
