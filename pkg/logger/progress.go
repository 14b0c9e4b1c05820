package logger

import (
	"fmt"
	"time"
)

// OperationLogger provides structured logging for a multi-step operation
// such as one ingestion pass. Every line carries the operation name and the
// fields attached with WithField.
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger.WithField("operation", operation),
		operation: operation,
		startTime: time.Now(),
	}
	ol.logger.Debug("Starting operation")
	return ol
}

// WithField adds a field to every subsequent line of the operation
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.logger = ol.logger.WithField(key, value)
	return ol
}

// WithFields adds multiple fields to every subsequent line of the operation
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	ol.logger = ol.logger.WithFields(fields)
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithField("step", step).Debug("Operation step")
}

// Progress logs a processed/total counter
func (ol *OperationLogger) Progress(message string, processed, total int64) {
	fields := Fields{
		"processed": processed,
		"total":     total,
	}
	if total > 0 {
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(processed)/float64(total)*100)
	}
	ol.logger.WithFields(fields).Info(message)
}

// Elapsed returns the time since the operation started
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.startTime)
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string, fields Fields) {
	ol.logger.WithFields(fields).WithFields(Fields{
		"duration": ol.Elapsed().String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": ol.Elapsed().String(),
		"status":   "error",
	}).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.logger.Warn(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	err := fn()

	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed successfully", nil)
	}

	return err
}
