// cmd/tracker/delete.go
package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"activity-sync/internal/config"
	custom_errors "activity-sync/internal/errors"
)

func (c *cli) deleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete (repo|sub|update) id",
		Short: "Delete an entity",
		Long: `Delete a repository, subscription or update.

A repository or subscription that still has dependents is only deleted with
--cascade, which removes the dependents too and reports how many.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			store := c.app.Store

			switch args[0] {
			case "repo":
				id, err := parseID(args[1])
				if err != nil {
					return err
				}
				if !cascade {
					if err := store.DeleteRepository(ctx, id); err != nil {
						return refusal(err)
					}
					fmt.Fprintf(out, "Deleted repository %d\n", id)
					return nil
				}
				res, err := store.CascadeDeleteRepository(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted repository %d with %d subscriptions and %d updates\n", id, res.Subscriptions, res.Updates)
			case "sub":
				id, err := parseID(args[1])
				if err != nil {
					return err
				}
				if !cascade {
					if err := store.DeleteSubscription(ctx, id); err != nil {
						return refusal(err)
					}
					fmt.Fprintf(out, "Deleted subscription %d\n", id)
					return nil
				}
				n, err := store.CascadeDeleteSubscription(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted subscription %d with %d updates\n", id, n)
			case "update":
				id, err := uuid.Parse(args[1])
				if err != nil {
					return fmt.Errorf("invalid update id %q", args[1])
				}
				if err := store.DeleteUpdate(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted update %s\n", id)
			default:
				return fmt.Errorf("unknown entity %q, expected repo, sub or update", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also delete dependent subscriptions and updates")
	return cmd
}

// refusal adds the cascade hint to a refused delete.
func refusal(err error) error {
	var dependents *custom_errors.DependentsError
	if errors.As(err, &dependents) {
		return fmt.Errorf("%w (re-run with --cascade)", err)
	}
	return err
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every repository, subscription and update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the store without --yes")
			}
			if err := c.app.Store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Store cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm wiping the store")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import file.yaml",
		Short: "Import subscriptions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := config.LoadSubscriptions(args[0])
			if err != nil {
				return err
			}
			created, err := c.app.Import(cmd.Context(), seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d subscriptions (%d already present)\n", created, len(seeds)-created)
			return nil
		},
	}
}
