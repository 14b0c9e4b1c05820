package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/pkg/errors"
)

// Flags for the update command
var (
	updateOrderID      string
	updateSubOrderID   string
	updateSet          []string
	updateReturnStatus string
	updateGSTRefund    string
	updateFormat       string
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Overwrite fields of one ledger record",
	Long: `Update applies a point change to one record of a ledger, bypassing the
ownership rules ingestion follows. Known field names are coerced to the field's
type; any other name is stored as an extra column.

--return-status stamps a return outcome (status and optional GST refund) and
cannot be combined with --set.

Examples:
  reconciler update -t acme -p meesho --order-id A1 --set status=delivered
  reconciler update -t acme -p meesho --order-id A1 --sub-order-id A1_2 \
    --set "Return AWB=AWB123" --set refundReason=damaged
  reconciler update -t acme -p meesho --order-id A1 --return-status rto --gst-refund 12.50`,
	PreRunE: validateUpdateFlags,
	RunE:    runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().StringVar(&updateOrderID, "order-id", "", "order id of the record (required)")
	updateCmd.Flags().StringVar(&updateSubOrderID, "sub-order-id", "", "sub-order id (defaults to the order id)")
	updateCmd.Flags().StringArrayVar(&updateSet, "set", nil, "field=value to overwrite; repeatable")
	updateCmd.Flags().StringVar(&updateReturnStatus, "return-status", "", "mark the record as returned with this status")
	updateCmd.Flags().StringVar(&updateGSTRefund, "gst-refund", "", "GST refund amount recorded with --return-status")
	updateCmd.Flags().StringVar(&updateFormat, "format", "console", "output format: console, json")

	updateCmd.MarkFlagRequired("order-id")

	viper.BindPFlag("update.order_id", updateCmd.Flags().Lookup("order-id"))
	viper.BindPFlag("update.sub_order_id", updateCmd.Flags().Lookup("sub-order-id"))
	viper.BindPFlag("update.set", updateCmd.Flags().Lookup("set"))
	viper.BindPFlag("update.return_status", updateCmd.Flags().Lookup("return-status"))
	viper.BindPFlag("update.gst_refund", updateCmd.Flags().Lookup("gst-refund"))
	viper.BindPFlag("update.format", updateCmd.Flags().Lookup("format"))
}

func validateUpdateFlags(cmd *cobra.Command, args []string) error {
	updateOrderID = viper.GetString("update.order_id")
	updateSubOrderID = viper.GetString("update.sub_order_id")
	updateSet = cast.ToStringSlice(viper.Get("update.set"))
	updateReturnStatus = viper.GetString("update.return_status")
	updateGSTRefund = viper.GetString("update.gst_refund")
	updateFormat = viper.GetString("update.format")

	if _, err := addressFromFlags(); err != nil {
		return err
	}
	if strings.TrimSpace(updateOrderID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "order-id", "", nil).
			WithSuggestion("pass --order-id")
	}
	if updateFormat != "console" && updateFormat != "json" {
		return errors.ValidationError(errors.CodeInvalidValue, "format", updateFormat,
			fmt.Errorf("invalid output format: %s (must be console or json)", updateFormat))
	}

	if updateReturnStatus != "" {
		if len(updateSet) > 0 {
			return errors.ValidationError(errors.CodeInvalidValue, "set", updateSet,
				fmt.Errorf("--set cannot be combined with --return-status"))
		}
		return nil
	}
	if updateGSTRefund != "" {
		return errors.ValidationError(errors.CodeMissingField, "return-status", "",
			fmt.Errorf("--gst-refund requires --return-status"))
	}
	if len(updateSet) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "set", nil, nil).
			WithSuggestion("pass at least one --set field=value or --return-status")
	}
	_, err := parseSetFlags(updateSet)
	return err
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	addr, err := addressFromFlags()
	if err != nil {
		return err
	}
	key := models.NewIdentityKey(updateOrderID, updateSubOrderID)

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var record *models.CanonicalRecord
	if updateReturnStatus != "" {
		record, err = rt.Service.MarkReturn(ctx, addr, key, updateReturnStatus, updateGSTRefund)
	} else {
		values, perr := parseSetFlags(updateSet)
		if perr != nil {
			return perr
		}
		record, err = rt.Service.UpdateRecord(ctx, addr, key, values)
	}
	if err != nil {
		return err
	}

	return printRecord(record, updateFormat, cmd.OutOrStdout())
}

// parseSetFlags splits field=value pairs on the first '='. Field names are
// trimmed; values are kept as given. A repeated field keeps the last value.
func parseSetFlags(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.ValidationError(errors.CodeInvalidValue, "set", pair,
				fmt.Errorf("expected field=value, got %q", pair))
		}
		values[name] = value
	}
	return values, nil
}

// printRecord writes the present fields of record, then its extra columns
func printRecord(record *models.CanonicalRecord, format string, w io.Writer) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(recordFields(record))
	}

	fmt.Fprintf(w, "Updated %s\n", record.Key())
	for _, column := range models.LedgerColumns() {
		v, _ := record.Get(models.Field(column))
		if !v.Present {
			continue
		}
		fmt.Fprintf(w, "  %-16s %s\n", column, v.String())
	}
	for _, column := range record.ExtraColumns() {
		fmt.Fprintf(w, "  %-16s %s\n", column, record.Extra[column])
	}
	return nil
}

func recordFields(record *models.CanonicalRecord) map[string]string {
	fields := make(map[string]string)
	for _, column := range models.LedgerColumns() {
		if v, _ := record.Get(models.Field(column)); v.Present {
			fields[column] = v.String()
		}
	}
	for k, v := range record.Extra {
		fields[k] = v
	}
	return fields
}
