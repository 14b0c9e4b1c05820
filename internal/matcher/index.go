package matcher

import (
	"sort"

	"marketplace-ledger-reconciler/internal/models"
)

// RecordIndex holds canonical records by identity key and remembers the
// order keys were first inserted in.
type RecordIndex struct {
	records map[models.IdentityKey]*models.CanonicalRecord
	order   []models.IdentityKey
}

// NewRecordIndex creates an index from records. A later record replaces an
// earlier one with the same key but keeps the earlier position.
func NewRecordIndex(records []*models.CanonicalRecord) *RecordIndex {
	index := &RecordIndex{
		records: make(map[models.IdentityKey]*models.CanonicalRecord, len(records)),
		order:   make([]models.IdentityKey, 0, len(records)),
	}
	for _, r := range records {
		index.Put(r)
	}
	return index
}

// Get returns the record for key
func (idx *RecordIndex) Get(key models.IdentityKey) (*models.CanonicalRecord, bool) {
	r, ok := idx.records[key]
	return r, ok
}

// Has reports whether key is indexed
func (idx *RecordIndex) Has(key models.IdentityKey) bool {
	_, ok := idx.records[key]
	return ok
}

// Put inserts or replaces the record under its identity key
func (idx *RecordIndex) Put(r *models.CanonicalRecord) {
	if r == nil {
		return
	}
	key := r.Key()
	if _, ok := idx.records[key]; !ok {
		idx.order = append(idx.order, key)
	}
	idx.records[key] = r
}

// Len returns the number of indexed records
func (idx *RecordIndex) Len() int {
	return len(idx.order)
}

// Records returns the records in first-insertion order
func (idx *RecordIndex) Records() []*models.CanonicalRecord {
	out := make([]*models.CanonicalRecord, 0, len(idx.order))
	for _, key := range idx.order {
		out = append(out, idx.records[key])
	}
	return out
}

// Sorted returns the records ordered by identity key ascending
func (idx *RecordIndex) Sorted() []*models.CanonicalRecord {
	keys := make([]models.IdentityKey, len(idx.order))
	copy(keys, idx.order)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]*models.CanonicalRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, idx.records[key])
	}
	return out
}

// Union adds every record of other whose key is not yet indexed
func (idx *RecordIndex) Union(other *RecordIndex) {
	if other == nil {
		return
	}
	for _, key := range other.order {
		if !idx.Has(key) {
			idx.Put(other.records[key])
		}
	}
}
