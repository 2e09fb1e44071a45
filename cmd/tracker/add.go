// cmd/tracker/add.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"activity-sync/internal/config"
	"activity-sync/internal/model"
)

func (c *cli) addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a repository, subscription or feed",
	}
	cmd.AddCommand(c.addRepoCmd(), c.addSubCmd(), c.addFeedCmd())
	return cmd
}

func (c *cli) addRepoCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "repo owner/name",
		Short: "Register a GitHub repository without subscribing to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := model.ParseRepoIdentifier(args[0])
			if err != nil {
				return err
			}
			repo, err := c.app.AddRepository(cmd.Context(), id.Owner, id.Name, refresh)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added repository %s with id %d\n", repo.FullName(), repo.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Pull description, stars and forks from GitHub")
	return cmd
}

// subscriptionFlags registers the flags shared by "add sub" and "add feed".
func subscriptionFlags(cmd *cobra.Command, seed *config.SubscriptionSeed) {
	cmd.Flags().StringVar(&seed.Name, "name", "", "Subscription name (defaults to the source name)")
	cmd.Flags().StringSliceVar(&seed.Tags, "tags", nil, "Comma-separated tags")
	cmd.Flags().StringVar(&seed.UpdateFrequency, "frequency", "daily", "Update frequency: daily, weekly or manual")
}

func (c *cli) addSubCmd() *cobra.Command {
	var seed config.SubscriptionSeed
	cmd := &cobra.Command{
		Use:   "sub owner/name",
		Short: "Subscribe to a GitHub repository, registering it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed.SourceType = model.SourceGitHub
			seed.Repo = args[0]
			return c.subscribe(cmd, seed)
		},
	}
	subscriptionFlags(cmd, &seed)
	cmd.Flags().StringVar(&seed.Branch, "branch", "", "Only track commits on this branch")
	cmd.Flags().StringSliceVar(&seed.UpdateTypes, "types", nil, "Update types: commits, issues, pull_requests, releases or all")
	return cmd
}

func (c *cli) addFeedCmd() *cobra.Command {
	var seed config.SubscriptionSeed
	cmd := &cobra.Command{
		Use:   "feed type",
		Short: "Subscribe to a Hacker News feed (frontpage, newest, best, ask, show, jobs, polls)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed.SourceType = model.SourceFeed
			seed.Feed = args[0]
			return c.subscribe(cmd, seed)
		},
	}
	subscriptionFlags(cmd, &seed)
	cmd.Flags().IntVar(&seed.MinScore, "min-score", 0, "Drop items with fewer points")
	cmd.Flags().IntVar(&seed.Count, "count", 0, "Number of items to request (default 20)")
	return cmd
}

func (c *cli) subscribe(cmd *cobra.Command, seed config.SubscriptionSeed) error {
	sub, err := c.app.Subscribe(cmd.Context(), seed)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added subscription %q with id %d (source %d)\n", sub.Name, sub.ID, sub.SourceID)
	return nil
}
