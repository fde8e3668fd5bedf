package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"contact-service/internal/factory"
)

var rootCmd = &cobra.Command{
	Use:   "contactd",
	Short: "Contact form backend",
	Long: `contactd receives contact form submissions, keeps a JSON backup of each
one and notifies the site owner by email.

Configuration is read from CONFIG_FILE, .env and the environment.
Without a subcommand the HTTP server is started.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

// serveCmd starts the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

// sweepCmd runs one backup retention pass
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete backups older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

// showCmd prints one stored submission
var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored submission as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepCmd, showCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	f, err := factory.NewFactory()
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	removed, err := f.ServiceFactory().AdminService().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired backup(s) from %s\n", removed, f.BackupStore().Root())
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	f, err := factory.NewFactory()
	if err != nil {
		return err
	}
	defer f.Close()

	record, err := f.ServiceFactory().AdminService().GetSubmission(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(record)
}
