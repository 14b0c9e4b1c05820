package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
	"marketplace-ledger-reconciler/internal/reconciler"
	"marketplace-ledger-reconciler/pkg/errors"
)

// Flags for the ingest command
var (
	ingestKind       string
	ingestFile       string
	ingestProfile    string
	ingestFormat     string
	ingestOutputFile string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Merge a marketplace export into a platform ledger",
	Long: `Ingest reads one sales, payment, tax or refund export (xlsx or csv),
maps its columns to ledger fields and merges every row into the ledger of the
given tenant and platform. Rows without an order id are reported and skipped.

Column headers come from the platform's section of the config file, layered
over a built-in header profile:

  platforms:
    meesho:
      profile: supplier-panel
      payment:
        netAmount: "Final Settlement Amount"

Examples:
  reconciler ingest -t acme -p meesho --kind sales --file orders.xlsx
  reconciler ingest -t acme -p meesho --kind payment --file payments.csv --format json
  reconciler ingest -t acme -p shop --kind tax --file gst.xlsx --profile generic`,
	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestKind, "kind", "k", "", "export kind: sales, payment, tax, refund (required)")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "path to the export file (required)")
	ingestCmd.Flags().StringVar(&ingestProfile, "profile", "", "built-in header profile overriding the configured one")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "console", "summary format: console, json, csv")
	ingestCmd.Flags().StringVarP(&ingestOutputFile, "output-file", "o", "", "summary output file (default: stdout)")

	ingestCmd.MarkFlagRequired("kind")
	ingestCmd.MarkFlagRequired("file")

	viper.BindPFlag("ingest.kind", ingestCmd.Flags().Lookup("kind"))
	viper.BindPFlag("ingest.file", ingestCmd.Flags().Lookup("file"))
	viper.BindPFlag("ingest.profile", ingestCmd.Flags().Lookup("profile"))
	viper.BindPFlag("ingest.format", ingestCmd.Flags().Lookup("format"))
	viper.BindPFlag("ingest.output_file", ingestCmd.Flags().Lookup("output-file"))
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	ingestKind = viper.GetString("ingest.kind")
	ingestFile = viper.GetString("ingest.file")
	ingestProfile = viper.GetString("ingest.profile")
	ingestFormat = viper.GetString("ingest.format")
	ingestOutputFile = viper.GetString("ingest.output_file")

	if _, err := addressFromFlags(); err != nil {
		return err
	}
	if _, err := models.ParseRecordKind(ingestKind); err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "kind", ingestKind, err).
			WithSuggestion("use one of: sales, payment, tax, refund")
	}
	if ingestProfile != "" && parsers.GetHeaderProfile(ingestProfile) == nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "profile", ingestProfile, fmt.Errorf("unknown header profile"))
	}
	if err := validateOutputFormat(ingestFormat); err != nil {
		return err
	}
	if err := validateOutputFile(ingestOutputFile); err != nil {
		return err
	}
	return validateFileExists(ingestFile, "export file")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	addr, err := addressFromFlags()
	if err != nil {
		return err
	}
	kind, err := models.ParseRecordKind(ingestKind)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "kind", ingestKind, err)
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	headers, err := rt.Config.HeadersFor(addr.Platform, kind, ingestProfile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(ingestFile)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return errors.FileError(code, ingestFile, err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Ingesting %s export %s into %s\n", kind, ingestFile, addr)
	}

	summary, err := rt.Service.Ingest(ctx, &reconciler.IngestRequest{
		Address:  addr,
		Kind:     kind,
		Headers:  headers,
		FileName: filepath.Base(ingestFile),
		Data:     data,
	})
	if err != nil {
		return err
	}
	if viper.GetBool("verbose") && summary.Rejected > 0 {
		fmt.Fprintln(os.Stderr, errors.FormatRejectionsForUser(summary.Rejections, summary.Rejected))
	}

	return writeReport(summary, ingestFormat, ingestOutputFile, cmd.OutOrStdout())
}

func validateOutputFormat(format string) error {
	switch format {
	case "console", "json", "csv":
		return nil
	default:
		return errors.ValidationError(errors.CodeInvalidValue, "format", format,
			fmt.Errorf("invalid output format: %s (must be console, json, or csv)", format))
	}
}

func validateOutputFile(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, dir, fmt.Errorf("output directory does not exist: %s", dir))
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeFileNotFound, filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}
