// Package ledger implements the ledger store: the full set of canonical
// records of one tenant platform, persisted as a single serialized table in
// a blob store.
//
// Every write goes through Rebuild, which de-duplicates by identity key, sorts
// by key and replaces the blob in one Put. UpsertBatch and UpdateFields run
// their load, merge and rebuild sequence under a per-address lease so two
// writers for the same address cannot clobber each other.
package ledger

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"marketplace-ledger-reconciler/internal/locks"
	"marketplace-ledger-reconciler/internal/matcher"
	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
	"marketplace-ledger-reconciler/internal/storage"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// UpsertResult reports what UpsertBatch did
type UpsertResult struct {
	// Accepted is the number of normalized rows applied
	Accepted int `json:"accepted"`
	// Merged counts rows merged into records that already existed in the ledger
	Merged int `json:"merged"`
	// CreatedNew counts records that did not exist before this batch
	CreatedNew int `json:"created_new"`
	// DuplicatesInBatch counts rows folded into a record created earlier in the same batch
	DuplicatesInBatch int `json:"duplicates_in_batch"`
	// Total is the record count of the rebuilt ledger
	Total int `json:"total"`
}

// Snapshot is the loaded content of one ledger
type Snapshot struct {
	Address Address                   `json:"address"`
	Records []*models.CanonicalRecord `json:"records"`
}

// Option configures a Store
type Option func(*Store)

// WithLocker replaces the default in-process locker
func WithLocker(locker locks.Locker) Option {
	return func(s *Store) {
		s.locker = locker
	}
}

// WithMaxConcurrentLoads bounds the goroutines LoadAll uses
func WithMaxConcurrentLoads(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLoads = n
		}
	}
}

// Store reads and writes ledgers through a blob store and table codec
type Store struct {
	blobs    storage.BlobStore
	codec    parsers.Codec
	locker   locks.Locker
	maxLoads int
	logger   logger.Logger
}

// NewStore creates a new Store
func NewStore(blobs storage.BlobStore, codec parsers.Codec, opts ...Option) *Store {
	s := &Store{
		blobs:    blobs,
		codec:    codec,
		locker:   locks.NewLocalLocker(),
		maxLoads: 8,
		logger:   logger.GetGlobalLogger().WithComponent("ledger_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the blob path of the ledger at addr
func (s *Store) Path(addr Address) string {
	return addr.Path(s.codec.Extension())
}

// Load reads every record of the ledger. A ledger that was never written is
// empty, not an error.
func (s *Store) Load(ctx context.Context, addr Address) ([]*models.CanonicalRecord, error) {
	path := s.Path(addr)
	data, err := s.blobs.Get(ctx, path)
	if err != nil {
		if storage.IsNotFound(err) {
			s.logger.WithField("path", path).Debug("Ledger not found, starting empty")
			return []*models.CanonicalRecord{}, nil
		}
		return nil, err
	}

	table, err := s.codec.Decode(data)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeMalformedTable, "cannot decode ledger").
			WithContext("path", path)
	}

	records, skipped := tableToRecords(table)
	if len(skipped) > 0 {
		s.logger.WithFields(logger.Fields{
			"path":  path,
			"lines": skipped,
		}).Warn("Skipped ledger rows without an order id")
	}
	return records, nil
}

// Rebuild de-duplicates records by identity key (last wins), sorts them by
// key and replaces the ledger blob in a single write. It returns the number
// of records written.
func (s *Store) Rebuild(ctx context.Context, addr Address, records []*models.CanonicalRecord) (int, error) {
	sorted := matcher.NewRecordIndex(records).Sorted()
	path := s.Path(addr)

	data, err := s.codec.Encode(recordsToTable(sorted))
	if err != nil {
		return 0, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "cannot encode ledger").
			WithContext("path", path)
	}
	if err := s.blobs.Put(ctx, path, data, s.codec.ContentType()); err != nil {
		return 0, err
	}

	s.logger.WithFields(logger.Fields{
		"path":    path,
		"records": len(sorted),
		"bytes":   len(data),
	}).Info("Ledger rebuilt")
	return len(sorted), nil
}

// UpsertBatch merges rows into the ledger in input order and rebuilds it.
// Rows for keys already in the ledger merge into those records; rows for new
// keys fold into a per-batch accumulator so repeated new keys yield a single
// record. An empty batch does not touch the ledger.
func (s *Store) UpsertBatch(ctx context.Context, addr Address, rows []*models.NormalizedRow) (UpsertResult, error) {
	var result UpsertResult
	if len(rows) == 0 {
		return result, nil
	}

	err := s.withLease(ctx, addr, func() error {
		existing, err := s.Load(ctx, addr)
		if err != nil {
			return err
		}

		index := matcher.NewRecordIndex(existing)
		batch := matcher.NewRecordIndex(nil)

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return errors.InternalError(errors.CodeCancelled, "upsert batch", err)
			}
			result.Accepted++

			if found, ok := index.Get(row.Key); ok {
				index.Put(matcher.Merge(found, row))
				result.Merged++
				continue
			}
			if pending, ok := batch.Get(row.Key); ok {
				batch.Put(matcher.Merge(pending, row))
				result.DuplicatesInBatch++
				continue
			}
			batch.Put(matcher.Merge(nil, row))
			result.CreatedNew++
		}

		index.Union(batch)
		total, err := s.Rebuild(ctx, addr, index.Records())
		if err != nil {
			return err
		}
		result.Total = total
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	s.logger.WithFields(logger.Fields{
		"address":             addr.Key(),
		"accepted":            result.Accepted,
		"merged":              result.Merged,
		"created_new":         result.CreatedNew,
		"duplicates_in_batch": result.DuplicatesInBatch,
		"total":               result.Total,
	}).Info("Batch upserted")
	return result, nil
}

// UpdateFields overwrites fields of the record with key, bypassing kind
// ownership, and rebuilds the ledger. A missing key is a record_not_found error.
func (s *Store) UpdateFields(ctx context.Context, addr Address, key models.IdentityKey, patch *models.Patch) (*models.CanonicalRecord, error) {
	var updated *models.CanonicalRecord
	var changed []string

	err := s.withLease(ctx, addr, func() error {
		existing, err := s.Load(ctx, addr)
		if err != nil {
			return err
		}

		index := matcher.NewRecordIndex(existing)
		found, ok := index.Get(key)
		if !ok {
			return errors.RecordNotFoundError(s.Path(addr), key.String())
		}

		updated = found.Clone()
		patch.Apply(updated)
		changed = matcher.ChangedFields(found, updated)
		index.Put(updated)

		_, err = s.Rebuild(ctx, addr, index.Records())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"address": addr.Key(),
		"key":     key,
		"changed": changed,
	}).Info("Record updated")
	return updated, nil
}

// Get returns the record with key
func (s *Store) Get(ctx context.Context, addr Address, key models.IdentityKey) (*models.CanonicalRecord, error) {
	records, err := s.Load(ctx, addr)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Key() == key {
			return r, nil
		}
	}
	return nil, errors.RecordNotFoundError(s.Path(addr), key.String())
}

// Addresses lists the ledgers stored for tenant; an empty tenant lists all
func (s *Store) Addresses(ctx context.Context, tenant string) ([]Address, error) {
	paths, err := s.blobs.List(ctx, TenantPrefix(tenant))
	if err != nil {
		return nil, err
	}

	var addrs []Address
	for _, p := range paths {
		if addr, ok := ParseAddress(p, s.codec.Extension()); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// LoadAll loads several ledgers concurrently. Snapshots come back ordered by
// address; when some loads fail, the successful snapshots are returned
// together with the combined error.
func (s *Store) LoadAll(ctx context.Context, addrs []Address) ([]Snapshot, error) {
	p := pool.NewWithResults[Snapshot]().
		WithContext(ctx).
		WithMaxGoroutines(s.maxLoads)

	for _, addr := range addrs {
		addr := addr
		p.Go(func(ctx context.Context) (Snapshot, error) {
			records, err := s.Load(ctx, addr)
			if err != nil {
				return Snapshot{}, err
			}
			return Snapshot{Address: addr, Records: records}, nil
		})
	}

	snapshots, err := p.Wait()
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Address.Key() < snapshots[j].Address.Key()
	})
	return snapshots, err
}

func (s *Store) withLease(ctx context.Context, addr Address, fn func() error) error {
	lease, err := s.locker.Acquire(ctx, addr.Key())
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.WithError(releaseErr).WithField("address", addr.Key()).Warn("Failed to release ledger lease")
		}
	}()
	return fn()
}
