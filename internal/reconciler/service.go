// Package reconciler runs ingestion batches against platform ledgers.
//
// A batch is one uploaded export of a single record kind. Ingest parses it,
// normalizes every row with the platform's header map, folds rows that share
// an identity key, and upserts the survivors into the ledger in one rebuild.
// Row-level problems are counted in the summary and never fail the batch;
// storage and codec failures are returned to the caller.
//
// Example usage:
//
//	service, err := reconciler.NewService(store, docs, reconciler.DefaultConfig())
//	summary, err := service.Ingest(ctx, &reconciler.IngestRequest{
//		Address:  ledger.Address{Tenant: "acme", Platform: "shopnow"},
//		Kind:     models.KindPayment,
//		Headers:  headers,
//		FileName: "payments-march.xlsx",
//		Data:     data,
//	})
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger-reconciler/internal/ledger"
	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
	"marketplace-ledger-reconciler/internal/storage"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// Config holds configuration options for the service
type Config struct {
	// MaxRejectionsKept bounds the rejected rows detailed in a summary;
	// the rejected count always covers every row.
	MaxRejectionsKept int `mapstructure:"max_rejections_kept"`

	// HistoryCollection is the document collection ingestion records go to
	HistoryCollection string `mapstructure:"history_collection"`

	// HistoryLimit is the default number of entries History returns
	HistoryLimit int64 `mapstructure:"history_limit"`
}

// DefaultConfig returns a default configuration for the service
func DefaultConfig() *Config {
	return &Config{
		MaxRejectionsKept: 50,
		HistoryCollection: "ingestions",
		HistoryLimit:      20,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxRejectionsKept < 0 {
		return fmt.Errorf("max rejections kept cannot be negative, got %d", c.MaxRejectionsKept)
	}
	if strings.TrimSpace(c.HistoryCollection) == "" {
		return fmt.Errorf("history collection cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	return nil
}

// IngestRequest describes one uploaded export
type IngestRequest struct {
	Address  ledger.Address
	Kind     models.RecordKind
	Headers  parsers.HeaderMap
	FileName string
	Data     []byte
}

// Validate validates the request before any parsing happens
func (r *IngestRequest) Validate() error {
	if err := r.Address.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "address", r.Address.Key(), err)
	}
	if !r.Kind.IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "kind", r.Kind, nil).
			WithSuggestion("use one of: sales, payment, tax, refund")
	}
	if err := r.Headers.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("headers.%s", r.Kind), "", err).
			WithSuggestion("map orderId to the order id column of the export")
	}
	return nil
}

// IngestSummary reports the outcome of one batch
type IngestSummary struct {
	ID       string            `json:"id,omitempty"`
	Address  ledger.Address    `json:"address"`
	Kind     models.RecordKind `json:"kind"`
	FileName string            `json:"file_name"`

	// Rows is the number of non-empty data rows in the file
	Rows int `json:"rows"`
	// Accepted rows passed normalization, duplicates included
	Accepted int `json:"accepted"`
	// Rejected rows had no usable order id and were dropped
	Rejected int `json:"rejected"`
	// DuplicatesInFile counts rows whose identity key appeared earlier in the file
	DuplicatesInFile int `json:"duplicates_in_file"`

	Merged     int `json:"merged"`
	CreatedNew int `json:"created_new"`
	// LedgerRecords is the record count after the rebuild; zero when the
	// ledger was not written
	LedgerRecords int  `json:"ledger_records"`
	Persisted     bool `json:"persisted"`

	Rejections []*errors.RowRejectedError `json:"-"`
	Duration   time.Duration              `json:"duration"`
	IngestedAt time.Time                  `json:"ingested_at"`
}

// Service ingests exports into ledgers and applies point updates
type Service struct {
	store   *ledger.Store
	history storage.DocumentStore
	config  *Config
	logger  logger.Logger
	now     func() time.Time
}

// NewService creates a new Service. history may be nil, in which case
// ingestions are not recorded.
func NewService(store *ledger.Store, history storage.DocumentStore, config *Config) (*Service, error) {
	if store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "ledger_store", nil, nil).
			WithSuggestion("provide a ledger store")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", "", err)
	}

	log := logger.GetGlobalLogger().WithComponent("reconciler")
	log.WithField("history", history != nil).Debug("Created reconciler service")

	return &Service{
		store:   store,
		history: history,
		config:  config,
		logger:  log,
		now:     time.Now,
	}, nil
}

// Store returns the ledger store the service writes to
func (s *Service) Store() *ledger.Store {
	return s.store
}

// Ingest runs one batch. Rows are processed in file order; an empty file
// or a file where every row is rejected leaves the ledger untouched.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestSummary, error) {
	if req == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	op := logger.NewOperationLogger("ingest", s.logger).WithFields(logger.Fields{
		"address": req.Address.Key(),
		"kind":    req.Kind,
		"file":    req.FileName,
	})

	summary := &IngestSummary{
		Address:    req.Address,
		Kind:       req.Kind,
		FileName:   req.FileName,
		IngestedAt: s.now().UTC(),
	}

	op.Step("parse")
	table, err := parsers.ParseTable(req.Data)
	if err != nil {
		op.Error(err, "Failed to parse upload")
		return nil, err
	}
	summary.Rows = table.Len()

	if table.Len() == 0 {
		op.Warning("Upload has no data rows")
		s.finish(ctx, op, summary)
		return summary, nil
	}

	op.Step("normalize")
	normalizer, err := parsers.NewNormalizer(req.Kind, req.Headers, req.FileName)
	if err != nil {
		op.Error(err, "Failed to create normalizer")
		return nil, err
	}
	rejections := errors.NewRejectionCollector(s.config.MaxRejectionsKept)
	rows := normalizer.NormalizeTable(table, rejections)

	summary.Accepted = len(rows)
	summary.Rejected = rejections.Count()
	summary.Rejections = rejections.Rejections()
	summary.DuplicatesInFile = countDuplicates(rows)
	op.Progress("Rows normalized", int64(len(rows)), int64(table.Len()))
	if rejections.Count() > 0 {
		op.Warning(rejections.Summary().Error())
	}

	if len(rows) == 0 {
		op.Warning("Every row was rejected; ledger left untouched")
		s.finish(ctx, op, summary)
		return summary, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "ingest", err)
	}

	op.Step("upsert")
	result, err := s.store.UpsertBatch(ctx, req.Address, rows)
	if err != nil {
		op.Error(err, "Failed to upsert batch")
		return nil, errors.WrapIfNeeded(err, errors.CategoryIngestion, errors.CodeIngestionFailed, "cannot update ledger")
	}
	summary.Merged = result.Merged
	summary.CreatedNew = result.CreatedNew
	summary.LedgerRecords = result.Total
	summary.Persisted = true

	s.finish(ctx, op, summary)
	return summary, nil
}

func countDuplicates(rows []*models.NormalizedRow) int {
	seen := make(map[models.IdentityKey]bool, len(rows))
	duplicates := 0
	for _, row := range rows {
		if seen[row.Key] {
			duplicates++
			continue
		}
		seen[row.Key] = true
	}
	return duplicates
}

func (s *Service) finish(ctx context.Context, op *logger.OperationLogger, summary *IngestSummary) {
	summary.Duration = op.Elapsed()
	s.recordHistory(ctx, summary)
	op.Success("Ingestion completed", logger.Fields{
		"rows":               summary.Rows,
		"accepted":           summary.Accepted,
		"rejected":           summary.Rejected,
		"duplicates_in_file": summary.DuplicatesInFile,
		"ledger_records":     summary.LedgerRecords,
	})
}

// MarkReturn stamps the outcome of a return on one record. gstRefund may be
// empty to leave the current value.
func (s *Service) MarkReturn(ctx context.Context, addr ledger.Address, key models.IdentityKey, status, gstRefund string) (*models.CanonicalRecord, error) {
	if strings.TrimSpace(status) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "status", status, nil).
			WithSuggestion("provide the return status, for example \"returned\" or \"rto\"")
	}

	patch := models.NewPatch()
	patch.Fields[models.FieldStatus] = models.ParseStatus(status)
	if strings.TrimSpace(gstRefund) != "" {
		patch.Fields[models.FieldGSTRefund] = models.ParseNumber(gstRefund)
	}

	s.logger.WithFields(logger.Fields{
		"address": addr.Key(),
		"key":     key,
		"status":  patch.Fields[models.FieldStatus].String(),
	}).Info("Marking return")
	return s.store.UpdateFields(ctx, addr, key, patch)
}

// UpdateRecord overwrites the named fields of one record. Known field names
// are coerced by type; other names are stored as overflow columns.
func (s *Service) UpdateRecord(ctx context.Context, addr ledger.Address, key models.IdentityKey, values map[string]string) (*models.CanonicalRecord, error) {
	patch, err := models.ParsePatch(values)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "patch", values, err)
	}
	if patch.IsEmpty() {
		return nil, errors.ValidationError(errors.CodeMissingField, "patch", nil, nil).
			WithSuggestion("pass at least one --set field=value")
	}
	return s.store.UpdateFields(ctx, addr, key, patch)
}

// Ledgers loads the ledgers of tenant, or of one platform when platform is
// set. An empty tenant loads every ledger in the store.
func (s *Service) Ledgers(ctx context.Context, tenant, platform string) ([]ledger.Snapshot, error) {
	if platform != "" {
		addr, err := ledger.NewAddress(tenant, platform)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidValue, "address", tenant+"/"+platform, err)
		}
		records, err := s.store.Load(ctx, addr)
		if err != nil {
			return nil, err
		}
		return []ledger.Snapshot{{Address: addr, Records: records}}, nil
	}

	var snapshots []ledger.Snapshot
	err := logger.TimedOperation("load_ledgers", s.logger.WithField("tenant", tenant), func() error {
		addrs, err := s.store.Addresses(ctx, tenant)
		if err != nil {
			return err
		}
		snapshots, err = s.store.LoadAll(ctx, addrs)
		return err
	})
	return snapshots, err
}
