package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/cmd/reconciler/config"
	"marketplace-ledger-reconciler/internal/ledger"
	"marketplace-ledger-reconciler/internal/reporter"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

var (
	cfgFile  string
	envFile  string
	verbose  bool
	tenant   string
	platform string
	version  = "dev"
	commit   = "unknown"
	date     = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Marketplace ledger reconciliation tool",
	Long: `Reconciler merges the sales, payment, tax and refund exports of online
marketplaces into one ledger per tenant and platform. Each order line is keyed
by its order and sub-order id, so the same order reported by several exports
becomes a single record.

Examples:
  reconciler ingest --tenant acme --platform meesho --kind sales --file orders.xlsx
  reconciler update --tenant acme --platform meesho --order-id A1 --return-status rto
  reconciler show --tenant acme --format json
  reconciler watch --tenant acme`,
	Version:       getVersionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// ExecuteContext adds all child commands to the root command and runs it with
// ctx available to every subcommand. This is called by main.main().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	rootCmd.PersistentFlags().StringVarP(&platform, "platform", "p", "", "platform id")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
	viper.BindPFlag("platform", rootCmd.PersistentFlags().Lookup("platform"))
}

// initConfig reads in the dotenv file, config file and ENV variables.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error reading env file %s: %s\n", envFile, err)
			os.Exit(4)
		}
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match, e.g. RECONCILER_STORAGE_ROOT
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadRuntime reads the configuration, installs the configured logger and
// connects the backends. Callers must Close the runtime.
func loadRuntime(ctx context.Context) (*config.Runtime, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	log.WithComponent("cli").WithFields(logger.Fields{
		"storage": cfg.Storage.Backend,
		"ledger":  cfg.LedgerFormat,
		"redis":   cfg.Redis.Address != "",
	}).Debug("Configuration loaded")

	return cfg.NewRuntime(ctx)
}

// addressFromFlags builds the ledger address from --tenant and --platform
func addressFromFlags() (ledger.Address, error) {
	addr, err := ledger.NewAddress(viper.GetString("tenant"), viper.GetString("platform"))
	if err != nil {
		return addr, errors.ValidationError(errors.CodeMissingField, "address", addr.Key(), err).
			WithSuggestion("pass --tenant and --platform")
	}
	return addr, nil
}

// writeReport renders report in format to outputFile, or to out when
// outputFile is empty.
func writeReport(report interface{}, format, outputFile string, out io.Writer) error {
	reportConfig, err := config.CreateReportConfig(format)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, nil, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	if outputFile == "" {
		return generator.Generate(report, out)
	}

	written, err := generator.GenerateToFile(report, outputFile)
	if err != nil {
		return err
	}
	if written != outputFile {
		fmt.Fprintf(os.Stderr, "Could not write %s, report saved to %s\n", outputFile, written)
	} else if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", written)
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
