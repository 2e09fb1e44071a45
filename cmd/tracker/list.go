// cmd/tracker/list.go
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"activity-sync/internal/model"
)

func (c *cli) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories, subscriptions or updates",
	}

	repos := &cobra.Command{
		Use:   "repos",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.app.Store.ListRepositories(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "TYPE", "NAME", "URL", "LAST FETCHED")
			for _, r := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.SourceType, r.FullName(), r.URL, formatTime(r.LastFetched))
			}
			return tw.Flush()
		},
	}

	var tag string
	subs := &cobra.Command{
		Use:   "subs",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []model.Subscription
				err  error
			)
			if tag != "" {
				list, err = c.app.Store.ListSubscriptionsByTag(cmd.Context(), tag)
			} else {
				list, err = c.app.Store.ListSubscriptions(cmd.Context())
			}
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "NAME", "SOURCE", "FREQUENCY", "TYPES", "TAGS", "LAST FETCHED")
			for _, s := range list {
				types := make([]string, len(s.UpdateTypes))
				for i, t := range s.UpdateTypes {
					types[i] = string(t)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.SourceID, s.UpdateFrequency,
					strings.Join(types, ","), strings.Join(s.Tags, ","), formatTime(s.LastFetched))
			}
			return tw.Flush()
		},
	}
	subs.Flags().StringVar(&tag, "tag", "", "Only subscriptions carrying this tag")

	var repoID, subID int64
	var limit int
	updates := &cobra.Command{
		Use:   "updates",
		Short: "List updates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []model.Update
				err  error
			)
			switch {
			case subID != 0:
				list, err = c.app.Store.GetUpdatesForSubscription(cmd.Context(), subID)
			case repoID != 0:
				list, err = c.app.Store.GetUpdatesForRepository(cmd.Context(), repoID)
			default:
				list, err = c.app.Store.ListUpdates(cmd.Context())
			}
			if err != nil {
				return err
			}
			printUpdates(cmd.OutOrStdout(), list, limit)
			return nil
		},
	}
	updates.Flags().Int64Var(&repoID, "repo", 0, "Only updates of this repository id")
	updates.Flags().Int64Var(&subID, "sub", 0, "Only updates of this subscription id")
	updates.Flags().IntVar(&limit, "limit", 50, "Maximum number of updates to print")

	cmd.AddCommand(repos, subs, updates)
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show (repo|sub|update) id",
		Short: "Print one entity as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entity any
				err    error
			)
			switch args[0] {
			case "repo":
				var id int64
				if id, err = parseID(args[1]); err == nil {
					entity, err = c.app.Store.GetRepository(cmd.Context(), id)
				}
			case "sub":
				var id int64
				if id, err = parseID(args[1]); err == nil {
					entity, err = c.app.Store.GetSubscription(cmd.Context(), id)
				}
			case "update":
				var id uuid.UUID
				if id, err = uuid.Parse(args[1]); err == nil {
					entity, err = c.app.Store.GetUpdate(cmd.Context(), id)
				}
			default:
				return fmt.Errorf("unknown entity %q, expected repo, sub or update", args[0])
			}
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(entity, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}

func printUpdates(w io.Writer, updates []model.Update, limit int) {
	tw := newTable(w, "DATE", "TYPE", "SOURCE", "TITLE", "URL")
	for i, u := range updates {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", u.EventDate.Format(time.DateTime), u.EventType, u.SourceID, truncate(u.Title, 72), u.URL)
	}
	tw.Flush()
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
