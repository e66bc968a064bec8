package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatwrap/plugins/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List templates, optionally fuzzy-filtered",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.templates.Catalog().Load(ctx); err != nil {
				return err
			}
			r := newREPL(a, cmd.OutOrStdout())
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			_, err := r.cmdTemplates(ctx, query)
			return err
		})
	},
}

var templatesAddCmd = &cobra.Command{
	Use:   "add <file.json>",
	Short: "Add or replace a custom template from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		var t templates.Template
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("failed to parse template: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			catalog := a.templates.Catalog()
			if err := catalog.Load(ctx); err != nil {
				return err
			}
			if err := catalog.AddCustom(ctx, t); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), "Added template %s", t.ID)
			return nil
		})
	},
}

var templatesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a custom template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			catalog := a.templates.Catalog()
			if err := catalog.Load(ctx); err != nil {
				return err
			}
			if err := catalog.RemoveCustom(ctx, args[0]); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), "Removed template %s", args[0])
			return nil
		})
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd, templatesAddCmd, templatesRemoveCmd)
	rootCmd.AddCommand(templatesCmd)
}
