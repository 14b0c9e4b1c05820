package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/storage"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

const historyPageSize int64 = 50

// IngestionRecord is the history entry written after each ingestion
type IngestionRecord struct {
	ID               string            `json:"id"`
	Tenant           string            `json:"tenant"`
	Platform         string            `json:"platform"`
	Kind             models.RecordKind `json:"kind"`
	FileName         string            `json:"file_name"`
	Rows             int               `json:"rows"`
	Accepted         int               `json:"accepted"`
	Rejected         int               `json:"rejected"`
	DuplicatesInFile int               `json:"duplicates_in_file"`
	LedgerRecords    int               `json:"ledger_records"`
	Persisted        bool              `json:"persisted"`
	IngestedAt       time.Time         `json:"ingested_at"`
}

func newIngestionRecord(summary *IngestSummary) IngestionRecord {
	return IngestionRecord{
		ID:               summary.ID,
		Tenant:           summary.Address.Tenant,
		Platform:         summary.Address.Platform,
		Kind:             summary.Kind,
		FileName:         summary.FileName,
		Rows:             summary.Rows,
		Accepted:         summary.Accepted,
		Rejected:         summary.Rejected,
		DuplicatesInFile: summary.DuplicatesInFile,
		LedgerRecords:    summary.LedgerRecords,
		Persisted:        summary.Persisted,
		IngestedAt:       summary.IngestedAt,
	}
}

// recordHistory stores the summary in the history collection. Failures are
// logged and otherwise ignored.
func (s *Service) recordHistory(ctx context.Context, summary *IngestSummary) {
	if s.history == nil {
		return
	}
	summary.ID = uuid.NewString()

	record := newIngestionRecord(summary)
	if err := s.history.Set(ctx, s.config.HistoryCollection, record.ID, record); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"id":      record.ID,
			"address": summary.Address.Key(),
		}).Warn("Failed to record ingestion history")
		summary.ID = ""
	}
}

// History returns the most recent ingestions, newest first. A non-empty
// tenant or platform filters the entries; limit <= 0 uses the configured
// default. The index is paged until limit matching entries are found.
func (s *Service) History(ctx context.Context, tenant, platform string, limit int64) ([]IngestionRecord, error) {
	if s.history == nil {
		return nil, errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "ingestion history is not configured").
			WithSuggestion("set redis.address to enable ingestion history")
	}
	if limit <= 0 {
		limit = s.config.HistoryLimit
	}

	page := limit
	if page < historyPageSize {
		page = historyPageSize
	}

	records := make([]IngestionRecord, 0, limit)
	for offset := int64(0); int64(len(records)) < limit; offset += page {
		docs, err := s.history.List(ctx, s.config.HistoryCollection, offset, page)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			var record IngestionRecord
			if err := json.Unmarshal(doc, &record); err != nil {
				s.logger.WithError(err).Warn("Skipping malformed history entry")
				continue
			}
			if !matchesAddress(record, tenant, platform) {
				continue
			}
			records = append(records, record)
			if int64(len(records)) == limit {
				break
			}
		}
	}
	return records, nil
}

// Watch streams ingestion records as they are written until ctx is done
func (s *Service) Watch(ctx context.Context, tenant, platform string) (<-chan IngestionRecord, error) {
	if s.history == nil {
		return nil, errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "ingestion history is not configured").
			WithSuggestion("set redis.address to enable ingestion history")
	}

	events, err := s.history.Subscribe(ctx, s.config.HistoryCollection)
	if err != nil {
		return nil, err
	}

	out := make(chan IngestionRecord)
	go func() {
		defer close(out)
		for event := range events {
			if event.Op != storage.OpSet {
				continue
			}
			var record IngestionRecord
			if err := json.Unmarshal(event.Data, &record); err != nil {
				s.logger.WithError(err).WithField("id", event.ID).Warn("Skipping malformed history event")
				continue
			}
			if !matchesAddress(record, tenant, platform) {
				continue
			}
			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func matchesAddress(record IngestionRecord, tenant, platform string) bool {
	if tenant != "" && record.Tenant != tenant {
		return false
	}
	if platform != "" && record.Platform != platform {
		return false
	}
	return true
}
