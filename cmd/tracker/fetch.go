// cmd/tracker/fetch.go
package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"activity-sync/internal/syncer"
)

func (c *cli) fetchCmd() *cobra.Command {
	var (
		subID, repoID int64
		all, due      bool
		window        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Sync updates from upstream and report what is new",
		Long: `Sync updates from upstream and report the number of genuinely new updates
per kind. Updates already stored are not counted again.

Exactly one of --sub, --repo, --all or --due is required. A window of 0
fetches everything the source still exposes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case subID != 0:
				summary, err := c.app.Syncer.SyncSubscription(ctx, subID, window)
				if err != nil {
					return err
				}
				printSummary(out, summary)
				return nil
			case repoID != 0:
				summary, err := c.app.Syncer.SyncRepository(ctx, repoID, window)
				if err != nil {
					return err
				}
				printSummary(out, summary)
				return nil
			case all || due:
				var (
					results []syncer.Result
					err     error
				)
				if due {
					results, err = c.app.Syncer.SyncDue(ctx)
				} else {
					results, err = c.app.Syncer.SyncAll(ctx, window)
				}
				if err != nil {
					return err
				}
				return printResults(out, results)
			}
			return errors.New("one of --sub, --repo, --all or --due is required")
		},
	}
	cmd.Flags().Int64Var(&subID, "sub", 0, "Sync one subscription")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "Sync every update kind of one repository")
	cmd.Flags().BoolVar(&all, "all", false, "Sync every subscription and unsubscribed repository")
	cmd.Flags().BoolVar(&due, "due", false, "Sync the subscriptions due by their update frequency")
	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "How far back to fetch")
	cmd.MarkFlagsMutuallyExclusive("sub", "repo", "all", "due")
	return cmd
}

func printSummary(w io.Writer, s *syncer.Summary) {
	name := s.Source.FullName()
	if s.Subscription != nil {
		name = s.Subscription.Name
	}
	if s.Total() == 0 {
		fmt.Fprintf(w, "%s: no new updates (%d fetched, %d already stored)\n", name, s.Fetched, s.Duplicates)
		return
	}
	fmt.Fprintf(w, "%s: %d new updates (%d fetched, %d already stored)\n", name, s.Total(), s.Fetched, s.Duplicates)
	kinds := slices.Sorted(maps.Keys(s.Counts))
	for _, kind := range kinds {
		fmt.Fprintf(w, "  %-18s %d\n", kind, s.Counts[kind])
	}
}

// printResults prints every outcome and fails if any source failed.
func printResults(w io.Writer, results []syncer.Result) error {
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s: failed: %v\n", r.Target, r.Err)
			continue
		}
		printSummary(w, r.Summary)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(results))
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "Nothing to sync")
	}
	return nil
}
