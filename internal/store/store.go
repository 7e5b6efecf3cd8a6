package store

import (
	"context"
	"time"

	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
)

// CanonicalFilter specifies criteria for listing canonical records.
type CanonicalFilter struct {
	State  string `json:"state,omitempty"`
	Office string `json:"office,omitempty"`
	Active *bool  `json:"active,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines persistence for the reconciliation engine. Both backends
// guarantee that ApplyMerge commits one canonical record's fields, provenance,
// and crosswalk entry atomically: readers see the record fully-old or
// fully-new, never mid-merge.
type Store interface {
	// Ingestion cursors
	GetCursor(ctx context.Context, system model.SourceSystem) (model.Cursor, error)
	PutCursor(ctx context.Context, system model.SourceSystem, cursor model.Cursor, successAt time.Time) error
	SourceStatuses(ctx context.Context) ([]model.SourceStatus, error)

	// Source records are retained verbatim for audit and replay.
	AppendSourceRecords(ctx context.Context, records []model.SourceRecord) error
	// LatestSourceRecords returns the newest fetch of each (system, source_id)
	// crosswalked to the canonical record, for corroboration counting.
	LatestSourceRecords(ctx context.Context, canonicalID string) ([]model.SourceRecord, error)

	// Crosswalk
	LookupCanonical(ctx context.Context, system model.SourceSystem, sourceID string) (string, bool, error)
	CrosswalkEntries(ctx context.Context, canonicalID string) ([]model.CrosswalkEntry, error)

	// Canonical records
	GetCanonical(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error)
	ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error)
	CandidatesByBlockingKey(ctx context.Context, key string) ([]model.CanonicalRecord, error)
	// StaleActive returns active records no source has reported since cutoff.
	StaleActive(ctx context.Context, cutoff time.Time) ([]model.CanonicalRecord, error)

	// ApplyMerge commits a merge mutation transactionally. It returns
	// *resilience.ConflictError when the record changed underneath the
	// mutation's optimistic concurrency token.
	ApplyMerge(ctx context.Context, mut *merge.Mutation) error

	// Provenance (append-only; written via ApplyMerge, read here)
	GetProvenance(ctx context.Context, id int64) (*model.FieldProvenance, error)
	ListProvenance(ctx context.Context, canonicalID string) ([]model.FieldProvenance, error)

	// Manual review queue
	EnqueueReview(ctx context.Context, item model.ReviewItem) error
	GetReview(ctx context.Context, id string) (*model.ReviewItem, error)
	ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error)
	ResolveReview(ctx context.Context, id, canonicalID string) error
	PendingReviewCount(ctx context.Context) (int, error)

	// Runs
	SaveRun(ctx context.Context, run *model.IngestRun) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
