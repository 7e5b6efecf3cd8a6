package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
)

// CandidateSource is the store view the matcher consults. Reads may be stale
// by at most one in-flight batch; a duplicate candidate created from
// staleness is caught by the ambiguity margin, never silently merged.
type CandidateSource interface {
	// LookupCanonical resolves a crosswalk entry, returning found=false when
	// the pair has never been matched.
	LookupCanonical(ctx context.Context, system model.SourceSystem, sourceID string) (canonicalID string, found bool, err error)
	// CandidatesByBlockingKey returns canonical records sharing a blocking key.
	CandidatesByBlockingKey(ctx context.Context, key string) ([]model.CanonicalRecord, error)
}

// Proposal is an accepted match candidate for one source record.
type Proposal struct {
	CanonicalID string
	Method      model.MatchMethod
	RawScore    float64
}

// Matcher proposes zero or one canonical record per source record, via the
// exact crosswalk path, the cross-reference path, or the fuzzy path.
type Matcher struct {
	store CandidateSource
	cfg   config.MatcherConfig
}

// New creates a Matcher.
func New(store CandidateSource, cfg config.MatcherConfig) *Matcher {
	return &Matcher{store: store, cfg: cfg}
}

// Match returns the accepted proposal for rec, or nil when the record is a
// new representative. Ambiguous fuzzy ties return *resilience.AmbiguousMatchError.
func (m *Matcher) Match(ctx context.Context, rec *model.SourceRecord) (*Proposal, error) {
	// Exact path: the common case for re-ingestion.
	id, found, err := m.store.LookupCanonical(ctx, rec.SourceSystem, rec.SourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "match: crosswalk lookup %s/%s", rec.SourceSystem, rec.SourceID)
	}
	if found {
		return &Proposal{CanonicalID: id, Method: model.MatchExactExternalID, RawScore: 1.0}, nil
	}

	// Cross-reference path: a foreign identifier already known under another
	// source system's crosswalk entry resolves directly.
	for sys, foreignID := range rec.ForeignIDs() {
		id, found, err := m.store.LookupCanonical(ctx, sys, foreignID)
		if err != nil {
			return nil, eris.Wrapf(err, "match: xref lookup %s/%s", sys, foreignID)
		}
		if found {
			return &Proposal{CanonicalID: id, Method: model.MatchExactExternalID, RawScore: 1.0}, nil
		}
	}

	return m.fuzzyMatch(ctx, rec)
}

// RecordBlockingKey returns the fuzzy-path blocking key for a source record,
// or "" when the record carries no usable name. The orchestrator serializes
// canonical-ID minting on this key.
func RecordBlockingKey(rec *model.SourceRecord) string {
	name := NormalizeName(rec.Field(model.FieldName))
	if name == "" {
		return ""
	}
	return BlockingKey(name, rec.Field(model.FieldState), rec.Field(model.FieldLevel))
}

// scored pairs a candidate with its fuzzy score.
type scored struct {
	record model.CanonicalRecord
	score  float64
}

func (m *Matcher) fuzzyMatch(ctx context.Context, rec *model.SourceRecord) (*Proposal, error) {
	name := NormalizeName(rec.Field(model.FieldName))
	if name == "" {
		return nil, nil
	}
	state := rec.Field(model.FieldState)
	level := rec.Field(model.FieldLevel)

	key := BlockingKey(name, state, level)
	candidates, err := m.store.CandidatesByBlockingKey(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "match: candidates for key %s", key)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	jurisdiction := model.Jurisdiction{State: state, District: rec.Field(model.FieldDistrict)}
	office := rec.Field(model.FieldOffice)

	ranked := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		s := TokenSetSimilarity(name, NormalizeName(cand.Name))
		if cand.Jurisdiction == jurisdiction {
			s += m.cfg.JurisdictionBonus
		}
		if office != "" && office == cand.Office {
			s += m.cfg.OfficeBonus
		}
		if s > 1.0 {
			s = 1.0
		}
		ranked = append(ranked, scored{record: cand, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := ranked[0]
	if top.score < m.cfg.AcceptThreshold {
		return nil, nil
	}

	// A runner-up within the ambiguity margin is never guessed at.
	if len(ranked) > 1 && top.score-ranked[1].score < m.cfg.AmbiguityMargin {
		var ids []string
		var scores []float64
		for _, s := range ranked {
			if top.score-s.score >= m.cfg.AmbiguityMargin {
				break
			}
			ids = append(ids, s.record.CanonicalID)
			scores = append(scores, s.score)
		}
		zap.L().Warn("ambiguous match queued for review",
			zap.String("source", string(rec.SourceSystem)),
			zap.String("source_id", rec.SourceID),
			zap.Strings("candidates", ids),
		)
		return nil, &resilience.AmbiguousMatchError{
			SourceSystem: string(rec.SourceSystem),
			SourceID:     rec.SourceID,
			CandidateIDs: ids,
			Scores:       scores,
		}
	}

	return &Proposal{
		CanonicalID: top.record.CanonicalID,
		Method:      model.MatchNameFuzzy,
		RawScore:    top.score,
	}, nil
}

// IdentityComponents groups a batch's records into identity components by
// shared external identifiers, using union-find over the ID graph. Records in
// one component describe the same representative even before any of them has
// a crosswalk entry, so the orchestrator mints at most one canonical ID per
// component. Cyclic cross-references between sources resolve here, once per
// batch, rather than by chasing pointer chains later.
func IdentityComponents(records []model.SourceRecord) [][]int {
	uf := newUnionFind()

	nodeKey := func(sys model.SourceSystem, id string) string {
		return fmt.Sprintf("%s|%s", sys, id)
	}

	for _, rec := range records {
		self := nodeKey(rec.SourceSystem, rec.SourceID)
		uf.find(self)
		for sys, fid := range rec.ForeignIDs() {
			uf.union(self, nodeKey(sys, fid))
		}
	}

	grouped := make(map[string][]int)
	for i, rec := range records {
		root := uf.find(nodeKey(rec.SourceSystem, rec.SourceID))
		grouped[root] = append(grouped[root], i)
	}

	roots := make([]string, 0, len(grouped))
	for root := range grouped {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	out := make([][]int, 0, len(grouped))
	for _, root := range roots {
		idxs := grouped[root]
		sort.Ints(idxs)
		out = append(out, idxs)
	}
	return out
}
