package merge

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicgraph/repsync/internal/model"
)

// Revert re-applies a historical provenance value to a field. A revert is a
// merge, not a deletion: it appends a new provenance entry with the
// manual-override method and leaves the audit trail intact. Reverting to the
// value already in place is a no-op.
func (r *Resolver) Revert(existing *model.CanonicalRecord, target model.FieldProvenance, now time.Time) (*Mutation, error) {
	if existing == nil {
		return nil, eris.New("merge: revert on missing canonical record")
	}
	if target.CanonicalID != existing.CanonicalID {
		return nil, eris.Errorf("merge: provenance %d belongs to %s, not %s",
			target.ID, target.CanonicalID, existing.CanonicalID)
	}

	rec := *existing
	rec.Fields = make(map[string]model.FieldValue, len(existing.Fields))
	for k, v := range existing.Fields {
		rec.Fields[k] = v
	}

	mut := &Mutation{Record: &rec, PrevUpdatedAt: existing.UpdatedAt}

	current := rec.Fields[target.FieldName]
	if current.Value == target.NewValue {
		return mut, nil
	}

	restored := model.FieldValue{
		Value:        target.NewValue,
		SourceSystem: target.SourceSystem,
		Confidence:   target.Confidence,
		LastVerified: now,
	}
	rec.Fields[target.FieldName] = restored

	mut.Provenance = append(mut.Provenance, model.FieldProvenance{
		CanonicalID:  rec.CanonicalID,
		FieldName:    target.FieldName,
		OldValue:     current.Value,
		NewValue:     restored.Value,
		SourceSystem: restored.SourceSystem,
		Confidence:   restored.Confidence,
		MatchMethod:  model.MatchManualOverride,
		ChangedAt:    now,
	})

	rec.SyncDenormalized()
	rec.DataQualityScore = r.scorer.QualityScore(rec.Fields)
	rec.UpdatedAt = now

	return mut, nil
}

// Deactivate soft-deactivates a representative no source still reports within
// the grace period. The flip is provenance-logged; nothing is deleted.
func (r *Resolver) Deactivate(existing *model.CanonicalRecord, runID string, now time.Time) *Mutation {
	rec := *existing
	rec.Fields = existing.Fields
	rec.IsActive = false
	rec.UpdatedAt = now

	return &Mutation{
		Record:        &rec,
		PrevUpdatedAt: existing.UpdatedAt,
		Provenance: []model.FieldProvenance{{
			CanonicalID: rec.CanonicalID,
			FieldName:   "is_active",
			OldValue:    "true",
			NewValue:    "false",
			RunID:       runID,
			ChangedAt:   now,
		}},
	}
}
