package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"marketplace-ledger-reconciler/internal/reconciler"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with input validation, a console
// fallback for failing formats and a backup path for failing output files.
type SafeReportGenerator struct {
	*ReportGenerator
	fs     afero.Fs
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator writing files to fs.
// A nil fs uses the operating system filesystem.
func NewSafeReportGenerator(config *ReportConfig, fs afero.Fs, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		fs:              fs,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// Generate renders an *reconciler.IngestSummary or a *LedgerView to writer
func (srg *SafeReportGenerator) Generate(report interface{}, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"report": fmt.Sprintf("%T", report),
	}).Debug("Starting report generation")

	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}
	if err := validateReport(report); err != nil {
		return err
	}

	// render into a buffer so a failed format leaves nothing half-written
	var buf bytes.Buffer
	err := srg.render(srg.ReportGenerator, report, &buf)
	if err != nil {
		if srg.config.Format == FormatConsole {
			return srg.wrapGenerationError(err)
		}
		srg.logger.WithError(err).Warn("Report generation failed, falling back to console format")

		fallbackConfig := *srg.config
		fallbackConfig.Format = FormatConsole
		fallback, ferr := NewReportGenerator(&fallbackConfig)
		if ferr != nil {
			return srg.wrapGenerationError(err)
		}

		buf.Reset()
		fmt.Fprintf(&buf, "NOTE: Report generated in console format due to error with %s format\n", srg.config.Format)
		fmt.Fprintf(&buf, "Original error: %v\n\n", err)
		if ferr := srg.render(fallback, report, &buf); ferr != nil {
			return errors.InternalError(
				errors.CodeUnexpectedError,
				"report_fallback",
				fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr),
			)
		}
	}

	if _, err := writer.Write(buf.Bytes()); err != nil {
		return srg.wrapGenerationError(err)
	}
	return nil
}

// GenerateToFile renders report into path. When path cannot be written the
// report goes to a backup file next to it, whose path is returned.
func (srg *SafeReportGenerator) GenerateToFile(report interface{}, path string) (string, error) {
	var buf bytes.Buffer
	if err := srg.Generate(report, &buf); err != nil {
		return "", err
	}

	err := srg.writeFile(path, buf.Bytes())
	if err == nil {
		srg.logger.WithField("file", path).Info("Report written")
		return path, nil
	}
	if !isFileError(err) {
		return "", errors.FileError(errors.CodeFilePermission, path, err)
	}

	backup := generateBackupPath(path)
	srg.logger.WithError(err).WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backup,
	}).Warn("Could not write report, attempting backup location")

	if berr := srg.writeFile(backup, buf.Bytes()); berr != nil {
		return "", errors.FileError(errors.CodeFilePermission, path, err).
			WithContext("backup_error", berr.Error())
	}
	return backup, nil
}

func (srg *SafeReportGenerator) writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := srg.fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return afero.WriteFile(srg.fs, path, data, 0644)
}

func (srg *SafeReportGenerator) render(generator *ReportGenerator, report interface{}, writer io.Writer) error {
	switch r := report.(type) {
	case *reconciler.IngestSummary:
		return generator.GenerateIngestReport(r, writer)
	case *LedgerView:
		return generator.GenerateLedgerReport(r, writer)
	default:
		return errors.ValidationError(errors.CodeInvalidValue, "report_type", fmt.Sprintf("%T", report), nil)
	}
}

func validateReport(report interface{}) error {
	switch r := report.(type) {
	case *reconciler.IngestSummary:
		if r != nil {
			return nil
		}
	case *LedgerView:
		if r != nil {
			return nil
		}
	case nil:
	default:
		return errors.ValidationError(errors.CodeInvalidValue, "report_type", fmt.Sprintf("%T", report), nil).
			WithSuggestion("Provide an ingest summary or a ledger view")
	}
	return errors.ValidationError(errors.CodeMissingField, "report", nil, nil).
		WithSuggestion("Provide an ingest summary or a ledger view")
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) || errors.Is(err, os.ErrPermission)
}

// generateBackupPath creates a backup file path
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}
