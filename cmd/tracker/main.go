// cmd/tracker/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"activity-sync/internal/app"
	"activity-sync/internal/config"
	"activity-sync/internal/logging"
)

// opener builds the application for one command invocation.
type opener func(ctx context.Context) (*app.App, func(), error)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(openFromEnv).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openFromEnv loads the configuration and seeds REPOS_TO_SYNC and
// SUBSCRIPTIONS_FILE. Without DB_URL every invocation starts from an empty
// in-memory store.
func openFromEnv(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, closer := logging.New(logging.Options{Level: cfg.LogLevel, Format: "text", File: cfg.LogFile}, os.Stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	if err := a.Seed(ctx); err != nil {
		a.Close()
		closer.Close()
		return nil, nil, fmt.Errorf("failed to seed subscriptions: %w", err)
	}
	return a, func() {
		a.Close()
		closer.Close()
	}, nil
}

// cli carries the application across the commands of one invocation.
type cli struct {
	open  opener
	app   *app.App
	close func()
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "tracker",
		Short: "Track activity of GitHub repositories and Hacker News feeds",
		Long: `tracker manages subscriptions to upstream sources and syncs their updates
into the configured store (PostgreSQL when DB_URL is set, in memory otherwise).

Example usage:
  tracker add sub golang/go --types releases --tags go
  tracker add feed show --min-score 100
  tracker fetch --all --window 168h
  tracker delete repo 1 --cascade`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.app, c.close = a, closeApp
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.close != nil {
				c.close()
			}
		},
	}

	root.AddCommand(
		c.addCmd(),
		c.listCmd(),
		c.showCmd(),
		c.fetchCmd(),
		c.deleteCmd(),
		c.clearCmd(),
		c.importCmd(),
	)
	return root
}
