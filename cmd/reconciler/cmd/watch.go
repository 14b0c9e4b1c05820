package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/internal/reconciler"
	"marketplace-ledger-reconciler/pkg/errors"
)

// Flags for the watch and history commands
var (
	watchFormat  string
	historyLimit int64
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream ingestion events as they happen",
	Long: `Watch subscribes to the ingestion history and prints every ingestion as it
completes, until interrupted. --tenant and --platform narrow the stream.
Requires redis.address to be configured.

Examples:
  reconciler watch
  reconciler watch -t acme --format json`,
	PreRunE: validateWatchFlags,
	RunE:    runWatch,
}

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent ingestions",
	Long: `History lists the most recent ingestions, newest first. --tenant and
--platform narrow the list. Requires redis.address to be configured.

Examples:
  reconciler history --limit 5
  reconciler history -t acme -p meesho --format json`,
	PreRunE: validateWatchFlags,
	RunE:    runHistory,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)

	for _, c := range []*cobra.Command{watchCmd, historyCmd} {
		c.Flags().StringVar(&watchFormat, "format", "console", "output format: console, json")
	}
	historyCmd.Flags().Int64Var(&historyLimit, "limit", 0, "number of entries to list (default: history.limit)")
}

func validateWatchFlags(cmd *cobra.Command, args []string) error {
	if watchFormat != "console" && watchFormat != "json" {
		return errors.ValidationError(errors.CodeInvalidValue, "format", watchFormat,
			fmt.Errorf("invalid output format: %s (must be console or json)", watchFormat))
	}
	if historyLimit < 0 {
		return errors.ValidationError(errors.CodeInvalidValue, "limit", historyLimit,
			fmt.Errorf("limit cannot be negative"))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.Service.Watch(ctx, viper.GetString("tenant"), viper.GetString("platform"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for record := range records {
		if err := printIngestion(record, watchFormat, out); err != nil {
			return err
		}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.Service.History(ctx, viper.GetString("tenant"), viper.GetString("platform"), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if watchFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No ingestions recorded")
		return nil
	}
	for _, record := range records {
		if err := printIngestion(record, watchFormat, out); err != nil {
			return err
		}
	}
	return nil
}

// printIngestion writes one ingestion as a console line or a JSON object
func printIngestion(record reconciler.IngestionRecord, format string, w io.Writer) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(record)
	}

	status := "written"
	if !record.Persisted {
		status = "no changes"
	}
	_, err := fmt.Fprintf(w, "%s  %s/%s  %-7s  %s  rows %d  accepted %d  rejected %d  duplicates %d  ledger %d  (%s)\n",
		record.IngestedAt.Format("2006-01-02 15:04:05"),
		record.Tenant, record.Platform, record.Kind, record.FileName,
		record.Rows, record.Accepted, record.Rejected, record.DuplicatesInFile,
		record.LedgerRecords, status)
	return err
}
