package source

import (
	"context"
	"time"

	"github.com/civicgraph/repsync/internal/model"
)

// Page is one fetched batch from a source.
type Page struct {
	Records    []model.SourceRecord
	Skipped    []model.SkippedRecord
	NextCursor model.Cursor
	HasMore    bool
}

// Adapter fetches and parses one external source into the shared intermediate
// schema. Adapters are stateless and independently retryable: transient
// failures (429/5xx/network) surface as *resilience.TransientError, while a
// malformed single record becomes a SkippedRecord and never aborts the page.
// Cursor persistence is the orchestrator's job, and happens only after the
// page's records are durably written downstream.
type Adapter interface {
	System() model.SourceSystem
	Fetch(ctx context.Context, cursor model.Cursor) (*Page, error)
}

// rawField builds a RawField, carrying the reported-as-of date when present.
func rawField(value string, asOf *time.Time) model.RawField {
	return model.RawField{Value: value, ReportedAsOf: asOf}
}

// setField stores a non-empty value under key.
func setField(fields map[string]model.RawField, key, value string, asOf *time.Time) {
	if value == "" {
		return
	}
	fields[key] = rawField(value, asOf)
}
