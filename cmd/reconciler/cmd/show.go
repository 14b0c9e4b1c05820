package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/internal/reporter"
	"marketplace-ledger-reconciler/pkg/errors"
)

// Flags for the show command
var (
	showFormat     string
	showOutputFile string
	showSample     int
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarise the ledgers of a tenant",
	Long: `Show loads the ledger of one platform, or every ledger of a tenant when
--platform is omitted, and reports record counts, status and state breakdowns,
return rate and amount totals.

Examples:
  reconciler show -t acme -p meesho
  reconciler show -t acme --format json --output-file acme.json
  reconciler show -t acme -p meesho --format csv --sample 0`,
	PreRunE: validateShowFlags,
	RunE:    runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringVar(&showFormat, "format", "console", "output format: console, json, csv")
	showCmd.Flags().StringVarP(&showOutputFile, "output-file", "o", "", "output file path (default: stdout)")
	showCmd.Flags().IntVar(&showSample, "sample", 5, "number of sample records listed per ledger")

	viper.BindPFlag("show.format", showCmd.Flags().Lookup("format"))
	viper.BindPFlag("show.output_file", showCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("show.sample", showCmd.Flags().Lookup("sample"))
}

func validateShowFlags(cmd *cobra.Command, args []string) error {
	showFormat = viper.GetString("show.format")
	showOutputFile = viper.GetString("show.output_file")
	showSample = viper.GetInt("show.sample")

	if strings.TrimSpace(viper.GetString("tenant")) == "" {
		return errors.ValidationError(errors.CodeMissingField, "tenant", "", nil).
			WithSuggestion("pass --tenant")
	}
	if showSample < 0 {
		return errors.ValidationError(errors.CodeInvalidValue, "sample", showSample,
			fmt.Errorf("sample size cannot be negative"))
	}
	if err := validateOutputFormat(showFormat); err != nil {
		return err
	}
	return validateOutputFile(showOutputFile)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant := strings.TrimSpace(viper.GetString("tenant"))
	platform := strings.TrimSpace(viper.GetString("platform"))

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	snapshots, err := rt.Service.Ledgers(ctx, tenant, platform)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "No ledgers found for tenant %s\n", tenant)
	}

	view := reporter.BuildLedgerView(snapshots, showSample)
	return writeReport(view, showFormat, showOutputFile, cmd.OutOrStdout())
}
