package merge

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/score"
)

// Resolver deterministically selects the canonical value for each field when
// sources disagree, using hard per-field precedence first and confidence
// comparison second. Every value overwrite appends a provenance entry; a
// re-run with unchanged inputs produces none.
type Resolver struct {
	scorer *score.Scorer
	cfg    config.MergeConfig
}

// New creates a Resolver.
func New(scorer *score.Scorer, cfg config.MergeConfig) *Resolver {
	return &Resolver{scorer: scorer, cfg: cfg}
}

// Input is one source record's contribution to one canonical record.
type Input struct {
	// Existing is the latest committed canonical record, or nil when the
	// orchestrator is minting a new representative.
	Existing *model.CanonicalRecord
	// CanonicalID is the pre-assigned ID when Existing is nil.
	CanonicalID     string
	Record          *model.SourceRecord
	MatchConfidence float64
	MatchMethod     model.MatchMethod
	// Corroboration counts, per field, how many distinct sources currently
	// report the incoming value (including this record's source).
	Corroboration map[string]int
	RunID         string
	Now           time.Time
}

// Mutation is the transactional outcome of resolving one input: the full
// updated record, appended provenance, and the crosswalk entry. The store
// commits all of it together or not at all.
type Mutation struct {
	Record     *model.CanonicalRecord
	Provenance []model.FieldProvenance
	Crosswalk  *model.CrosswalkEntry
	Created    bool
	// PrevUpdatedAt is the optimistic concurrency token: the store rejects
	// the mutation with a ConflictError when the committed row no longer
	// carries this timestamp.
	PrevUpdatedAt time.Time
}

// Changed reports whether the mutation alters any field value.
func (m *Mutation) Changed() bool {
	return m.Created || len(m.Provenance) > 0
}

// Resolve merges one source record into a canonical record.
func (r *Resolver) Resolve(in Input) (*Mutation, error) {
	if in.Record == nil {
		return nil, eris.New("merge: nil source record")
	}

	var rec model.CanonicalRecord
	created := false
	if in.Existing != nil {
		rec = *in.Existing
		rec.Fields = make(map[string]model.FieldValue, len(in.Existing.Fields))
		for k, v := range in.Existing.Fields {
			rec.Fields[k] = v
		}
		rec.LastSeenBySource = make(map[model.SourceSystem]time.Time, len(in.Existing.LastSeenBySource)+1)
		for k, v := range in.Existing.LastSeenBySource {
			rec.LastSeenBySource[k] = v
		}
	} else {
		if in.CanonicalID == "" {
			return nil, eris.New("merge: new record without canonical ID")
		}
		created = true
		rec = model.CanonicalRecord{
			CanonicalID:      in.CanonicalID,
			IsActive:         true,
			Fields:           make(map[string]model.FieldValue),
			LastSeenBySource: make(map[model.SourceSystem]time.Time),
			CreatedAt:        in.Now,
		}
	}

	mut := &Mutation{Record: &rec, Created: created}
	if in.Existing != nil {
		mut.PrevUpdatedAt = in.Existing.UpdatedAt
	}

	for fieldName, raw := range in.Record.RawFields {
		if raw.Value == "" {
			continue
		}

		incoming := model.FieldValue{
			Value:        raw.Value,
			SourceSystem: in.Record.SourceSystem,
			Confidence:   r.scorer.FieldConfidence(in.Record.SourceSystem, in.MatchConfidence, in.Corroboration[fieldName]),
			LastVerified: in.Now,
		}

		existing, has := rec.Fields[fieldName]
		if !has || existing.Value == "" {
			rec.Fields[fieldName] = incoming
			mut.Provenance = append(mut.Provenance, r.provenance(rec.CanonicalID, fieldName, "", incoming, in))
			continue
		}

		if existing.Value == incoming.Value {
			// Same value: refresh verification time and let corroboration
			// lift the confidence. Not an overwrite, so no provenance entry.
			if incoming.Confidence > existing.Confidence {
				existing.Confidence = incoming.Confidence
			}
			existing.LastVerified = in.Now
			rec.Fields[fieldName] = existing
			continue
		}

		if r.wins(fieldName, incoming, existing) {
			rec.Fields[fieldName] = incoming
			mut.Provenance = append(mut.Provenance, r.provenance(rec.CanonicalID, fieldName, existing.Value, incoming, in))
		}
	}

	rec.LastSeenBySource[in.Record.SourceSystem] = in.Now
	rec.IsActive = true
	rec.SyncDenormalized()
	rec.DataQualityScore = r.scorer.QualityScore(rec.Fields)
	rec.UpdatedAt = in.Now

	mut.Crosswalk = &model.CrosswalkEntry{
		SourceSystem: in.Record.SourceSystem,
		SourceID:     in.Record.SourceID,
		CanonicalID:  rec.CanonicalID,
		Confidence:   in.MatchConfidence,
		MatchMethod:  in.MatchMethod,
		LastVerified: in.Now,
	}

	return mut, nil
}

// wins decides whether the incoming value replaces the existing one: hard
// precedence first, then confidence, with ties keeping the existing value.
func (r *Resolver) wins(fieldName string, incoming, existing model.FieldValue) bool {
	inRank := r.precedenceRank(fieldName, incoming.SourceSystem)
	exRank := r.precedenceRank(fieldName, existing.SourceSystem)
	if inRank != exRank {
		return inRank < exRank
	}
	return incoming.Confidence > existing.Confidence
}

// precedenceRank returns the position of the source in the field's hard
// precedence list; sources not listed rank below all listed ones.
func (r *Resolver) precedenceRank(fieldName string, system model.SourceSystem) int {
	list := r.cfg.Precedence[fieldName]
	for i, s := range list {
		if s == string(system) {
			return i
		}
	}
	return len(list)
}

func (r *Resolver) provenance(canonicalID, fieldName, oldValue string, v model.FieldValue, in Input) model.FieldProvenance {
	return model.FieldProvenance{
		CanonicalID:  canonicalID,
		FieldName:    fieldName,
		OldValue:     oldValue,
		NewValue:     v.Value,
		SourceSystem: v.SourceSystem,
		Confidence:   v.Confidence,
		MatchMethod:  in.MatchMethod,
		RunID:        in.RunID,
		ChangedAt:    in.Now,
	}
}
