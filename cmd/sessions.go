package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatwrap/storage"
)

var (
	exportFormat string
	exportOutput string
	importFormat string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.store.ListSessions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				printInfo(out, "No sessions found")
				return nil
			}

			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d sessions", len(list))))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTHREADS\tMESSAGES\tMODEL\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.ID, s.ThreadCount, s.MessageCount, s.Model, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := storage.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			data, err := a.store.ExportSession(ctx, args[0], format)
			if err != nil {
				return err
			}
			if exportOutput == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(exportOutput, data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", exportOutput, err)
			}
			printInfo(cmd.ErrOrStderr(), "Exported %s to %s", args[0], exportOutput)
			return nil
		})
	},
}

var sessionsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an exported session under a new id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := importFormat
		if name == "" {
			name = strings.TrimPrefix(filepath.Ext(args[0]), ".")
		}
		format, err := storage.ParseFormat(name)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			session, err := a.store.ImportSession(ctx, data, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.ID)
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.store.DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), "Deleted %s", args[0])
			return nil
		})
	},
}

func init() {
	sessionsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format (json, yaml)")
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	sessionsImportCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format (default: from file extension)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsExportCmd, sessionsImportCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}
