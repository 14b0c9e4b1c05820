package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

const salesExport = "Order ID,Sub Order ID,Product Name,Quantity,Status,Customer State\n" +
	"A1,A1,Widget,2,Delivered,Kerala\n" +
	"B1,,Gadget,1,RTO Complete,Goa\n" +
	",,Orphan,1,Delivered,Goa\n"

func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetOut(&out)
	return c, &out
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	viper.Set("storage.root", filepath.Join(dir, "ledgers"))
	viper.Set("ledger.format", "csv")
	viper.Set("log.level", "error")
	viper.Set("tenant", "acme")
	viper.Set("platform", "shop")
	return dir
}

func TestParseSetFlags(t *testing.T) {
	tests := []struct {
		name        string
		pairs       []string
		expected    map[string]string
		expectError bool
	}{
		{
			name:     "single pair",
			pairs:    []string{"status=returned"},
			expected: map[string]string{"status": "returned"},
		},
		{
			name:     "value keeps later equals signs",
			pairs:    []string{"Return AWB=AWB=123"},
			expected: map[string]string{"Return AWB": "AWB=123"},
		},
		{
			name:     "field name trimmed and last value wins",
			pairs:    []string{" status =a", "status=b"},
			expected: map[string]string{"status": "b"},
		},
		{
			name:     "empty value allowed",
			pairs:    []string{"refundReason="},
			expected: map[string]string{"refundReason": ""},
		},
		{
			name:        "missing equals",
			pairs:       []string{"status"},
			expectError: true,
		},
		{
			name:        "empty field name",
			pairs:       []string{" =x"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSetFlags(tt.pairs)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !errors.HasCode(err, errors.CodeInvalidValue) {
					t.Errorf("expected invalid_value, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestValidateIngestFlags(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "orders.csv")
	if err := os.WriteFile(export, []byte(salesExport), 0644); err != nil {
		t.Fatalf("failed to create export: %v", err)
	}

	tests := []struct {
		name          string
		setupFlags    func()
		errorContains string
	}{
		{
			name:       "valid flags",
			setupFlags: func() {},
		},
		{
			name:          "missing tenant",
			setupFlags:    func() { viper.Set("tenant", "") },
			errorContains: "address",
		},
		{
			name:          "platform with slash",
			setupFlags:    func() { viper.Set("platform", "a/b") },
			errorContains: "address",
		},
		{
			name:          "unknown kind",
			setupFlags:    func() { viper.Set("ingest.kind", "returns") },
			errorContains: "kind",
		},
		{
			name:          "unknown profile",
			setupFlags:    func() { viper.Set("ingest.profile", "nope") },
			errorContains: "profile",
		},
		{
			name:          "invalid output format",
			setupFlags:    func() { viper.Set("ingest.format", "xml") },
			errorContains: "format",
		},
		{
			name:          "missing file",
			setupFlags:    func() { viper.Set("ingest.file", filepath.Join(dir, "missing.csv")) },
			errorContains: "missing.csv",
		},
		{
			name:          "directory instead of file",
			setupFlags:    func() { viper.Set("ingest.file", dir) },
			errorContains: dir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			viper.Set("tenant", "acme")
			viper.Set("platform", "shop")
			viper.Set("ingest.kind", "sales")
			viper.Set("ingest.file", export)
			viper.Set("ingest.format", "console")
			tt.setupFlags()
			defer viper.Reset()

			err := validateIngestFlags(&cobra.Command{}, nil)
			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("expected error to contain %q, got: %v", tt.errorContains, err)
			}
		})
	}
}

func TestValidateUpdateFlags(t *testing.T) {
	tests := []struct {
		name        string
		setupFlags  func()
		expectError bool
	}{
		{"set pairs", func() { viper.Set("update.set", []string{"status=returned"}) }, false},
		{"return status", func() { viper.Set("update.return_status", "rto") }, false},
		{"return status with refund", func() {
			viper.Set("update.return_status", "returned")
			viper.Set("update.gst_refund", "12.50")
		}, false},
		{"nothing to change", func() {}, true},
		{"missing order id", func() {
			viper.Set("update.order_id", " ")
			viper.Set("update.set", []string{"status=x"})
		}, true},
		{"set with return status", func() {
			viper.Set("update.set", []string{"status=x"})
			viper.Set("update.return_status", "rto")
		}, true},
		{"refund without status", func() { viper.Set("update.gst_refund", "5") }, true},
		{"malformed pair", func() { viper.Set("update.set", []string{"status"}) }, true},
		{"bad format", func() {
			viper.Set("update.set", []string{"status=x"})
			viper.Set("update.format", "csv")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			viper.Set("tenant", "acme")
			viper.Set("platform", "shop")
			viper.Set("update.order_id", "A1")
			viper.Set("update.format", "console")
			tt.setupFlags()
			defer viper.Reset()

			err := validateUpdateFlags(&cobra.Command{}, nil)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestIngestUpdateShow(t *testing.T) {
	dir := setupWorkspace(t)
	defer logger.SetGlobalLogger(logger.GetGlobalLogger())

	export := filepath.Join(dir, "orders.csv")
	if err := os.WriteFile(export, []byte(salesExport), 0644); err != nil {
		t.Fatalf("failed to create export: %v", err)
	}

	// ingest
	viper.Set("ingest.kind", "sales")
	viper.Set("ingest.file", export)
	viper.Set("ingest.format", "json")

	c, out := newTestCommand(t)
	if err := validateIngestFlags(c, nil); err != nil {
		t.Fatalf("validateIngestFlags() error = %v", err)
	}
	if err := runIngest(c, nil); err != nil {
		t.Fatalf("runIngest() error = %v", err)
	}
	for _, want := range []string{`"accepted": 2`, `"rejected": 1`, `"ledger_records": 2`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("ingest output missing %s:\n%s", want, out.String())
		}
	}

	ledgerFile := filepath.Join(dir, "ledgers", "tenant", "acme", "platform", "shop", "ledger.csv")
	if _, err := os.Stat(ledgerFile); err != nil {
		t.Fatalf("expected ledger at %s: %v", ledgerFile, err)
	}

	// update
	viper.Set("update.order_id", "A1")
	viper.Set("update.return_status", "Returned")
	viper.Set("update.gst_refund", "12.50")
	viper.Set("update.format", "console")

	c, out = newTestCommand(t)
	if err := validateUpdateFlags(c, nil); err != nil {
		t.Fatalf("validateUpdateFlags() error = %v", err)
	}
	if err := runUpdate(c, nil); err != nil {
		t.Fatalf("runUpdate() error = %v", err)
	}
	if !strings.Contains(out.String(), "returned") || !strings.Contains(out.String(), "12.5") {
		t.Errorf("update output missing stamped values:\n%s", out.String())
	}

	// show
	viper.Set("show.format", "json")
	viper.Set("show.sample", 0)

	c, out = newTestCommand(t)
	if err := validateShowFlags(c, nil); err != nil {
		t.Fatalf("validateShowFlags() error = %v", err)
	}
	if err := runShow(c, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	for _, want := range []string{`"records": 2`, `"returns": 2`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %s:\n%s", want, out.String())
		}
	}
}

func TestUpdateUnknownRecord(t *testing.T) {
	setupWorkspace(t)
	defer logger.SetGlobalLogger(logger.GetGlobalLogger())

	viper.Set("update.order_id", "missing")
	viper.Set("update.set", []string{"status=returned"})
	viper.Set("update.format", "console")

	c, _ := newTestCommand(t)
	if err := validateUpdateFlags(c, nil); err != nil {
		t.Fatalf("validateUpdateFlags() error = %v", err)
	}
	err := runUpdate(c, nil)
	if !errors.IsRecordNotFound(err) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestHistoryWithoutRedis(t *testing.T) {
	setupWorkspace(t)
	defer logger.SetGlobalLogger(logger.GetGlobalLogger())

	watchFormat = "console"
	historyLimit = 0

	c, _ := newTestCommand(t)
	err := runHistory(c, nil)
	if !errors.HasCode(err, errors.CodeMissingConfig) {
		t.Fatalf("expected missing_config, got %v", err)
	}
}

func TestCLIErrorHandlerExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"file", errors.FileError(errors.CodeFileNotFound, "orders.xlsx", os.ErrNotExist), 2, "File error help"},
		{"validation", errors.ValidationError(errors.CodeInvalidValue, "kind", "x", nil), 3, "Validation error help"},
		{"parse", errors.MalformedTableError("xlsx", fmt.Errorf("zip: not a valid zip file")), 3, "Parse error help"},
		{"configuration", errors.ConfigurationError(errors.CodeMissingConfig, "storage.bucket", "", nil), 4, "RECONCILER_"},
		{"ingestion", errors.IngestionError("upsert", fmt.Errorf("boom")), 5, "Ingestion error help"},
		{"storage", errors.StorageError(errors.CodeStoreUnavailable, "put", "tenant/a", fmt.Errorf("timeout")), 6, "Storage error help"},
		{"record not found", errors.RecordNotFoundError("tenant/a", "a1_a1"), 7, "Storage error help"},
		{"plain not exist", fmt.Errorf("open x: %w", os.ErrNotExist), 2, "File not found"},
		{"plain permission", fmt.Errorf("open x: %w", os.ErrPermission), 2, "Permission denied"},
		{"generic", fmt.Errorf("something odd"), 1, "something odd"},
		{"cancelled", fmt.Errorf("ingest: %w", context.Canceled), exitInterrupted, "Interrupted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &CLIErrorHandler{logger: logger.GetGlobalLogger(), out: &buf}

			if got := h.HandleError(tt.err); got != tt.expected {
				t.Errorf("HandleError() = %d, want %d", got, tt.expected)
			}
			if !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.contains, buf.String())
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"ingest", "update", "show", "watch", "history"} {
		found, _, err := rootCmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Errorf("command %s not registered: %v", name, err)
		}
	}
}
