package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
	"github.com/civicgraph/repsync/internal/score"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func storeTestResolver() *merge.Resolver {
	scorer := score.New(config.ScoringConfig{
		Reliability: map[string]float64{
			"federal-bio-registry":     1.0,
			"state-legislature-roster": 0.9,
			"civic-address-api":        0.75,
		},
		CorroborationBonus: 0.10,
		CorroborationCap:   1.30,
		QualityWeights: map[string]float64{
			"name": 30, "office": 25, "jurisdiction": 25, "contact_method": 20,
		},
		MissingFieldPenalty: 5,
	})
	return merge.New(scorer, config.MergeConfig{})
}

func testSourceRecord(system model.SourceSystem, sourceID string, fields map[string]string) *model.SourceRecord {
	raw := make(map[string]model.RawField, len(fields))
	for k, v := range fields {
		raw[k] = model.RawField{Value: v}
	}
	return &model.SourceRecord{
		SourceSystem: system,
		SourceID:     sourceID,
		RawFields:    raw,
		FetchedAt:    time.Now().UTC(),
	}
}

func mergeRecord(t *testing.T, st *SQLiteStore, r *merge.Resolver, canonicalID string, rec *model.SourceRecord, now time.Time) *model.CanonicalRecord {
	t.Helper()
	ctx := context.Background()

	existing, err := st.GetCanonical(ctx, canonicalID)
	require.NoError(t, err)

	corr := make(map[string]int, len(rec.RawFields))
	for k := range rec.RawFields {
		corr[k] = 1
	}
	mut, err := r.Resolve(merge.Input{
		Existing:        existing,
		CanonicalID:     canonicalID,
		Record:          rec,
		MatchConfidence: 1.0,
		MatchMethod:     model.MatchExactExternalID,
		Corroboration:   corr,
		RunID:           "run-test",
		Now:             now,
	})
	require.NoError(t, err)
	require.NoError(t, st.ApplyMerge(ctx, mut))
	return mut.Record
}

func TestCursorRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Unknown source starts from the zero cursor.
	cur, err := st.GetCursor(ctx, model.SourceFederalBio)
	require.NoError(t, err)
	assert.True(t, cur.IsZero())

	want := model.Cursor{Offset: 250}
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutCursor(ctx, model.SourceFederalBio, want, at))

	got, err := st.GetCursor(ctx, model.SourceFederalBio)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	statuses, err := st.SourceStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, model.SourceFederalBio, statuses[0].SourceSystem)
	require.NotNil(t, statuses[0].LastSuccessAt)
	assert.True(t, statuses[0].LastSuccessAt.Equal(at))
}

func TestApplyMerge_CreateAndRead(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName:   "Jane Doe",
		model.FieldOffice: "State Senate",
		model.FieldLevel:  "state",
		model.FieldState:  "PA",
	})
	mergeRecord(t, st, r, "canon-1", rec, now)

	got, err := st.GetCanonical(ctx, "canon-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Jane Doe", got.Name)
	assert.Equal(t, "State Senate", got.Office)
	assert.Equal(t, "PA", got.Jurisdiction.State)
	assert.True(t, got.IsActive)
	assert.True(t, got.UpdatedAt.Equal(now))

	// Crosswalk resolves the source identity.
	id, ok, err := st.LookupCanonical(ctx, model.SourceStateRoster, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "canon-1", id)

	// Provenance recorded one entry per written field.
	prov, err := st.ListProvenance(ctx, "canon-1")
	require.NoError(t, err)
	assert.Len(t, prov, 4)

	// Missing record reads as nil, not an error.
	missing, err := st.GetCanonical(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplyMerge_OptimisticConcurrency(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane Doe"})
	created := mergeRecord(t, st, r, "canon-1", rec, now)

	// Build a mutation against the committed snapshot, then advance the row
	// underneath it.
	update := testSourceRecord(model.SourceFederalBio, "B1", map[string]string{model.FieldName: "Jane A. Doe"})
	stale, err := r.Resolve(merge.Input{
		Existing:        created,
		Record:          update,
		MatchConfidence: 1.0,
		MatchMethod:     model.MatchExactExternalID,
		Corroboration:   map[string]int{model.FieldName: 1},
		RunID:           "run-2",
		Now:             now.Add(time.Hour),
	})
	require.NoError(t, err)

	mergeRecord(t, st, r, "canon-1",
		testSourceRecord(model.SourceCivicAddr, "ocd-1", map[string]string{model.FieldParty: "Democratic"}),
		now.Add(30*time.Minute))

	err = st.ApplyMerge(ctx, stale)
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
}

func TestApplyMerge_DuplicateCreateConflicts(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane Doe"})
	mergeRecord(t, st, r, "canon-1", rec, now)

	// A second create for the same ID, as two racing workers would produce.
	dup, err := r.Resolve(merge.Input{
		CanonicalID:     "canon-1",
		Record:          rec,
		MatchConfidence: 1.0,
		MatchMethod:     model.MatchExactExternalID,
		Corroboration:   map[string]int{model.FieldName: 1},
		RunID:           "run-2",
		Now:             now,
	})
	require.NoError(t, err)

	err = st.ApplyMerge(context.Background(), dup)
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
}

func TestCrosswalkConfidenceOnlyIncreases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := storeTestResolver()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane Doe"})
	created := mergeRecord(t, st, r, "canon-1", rec, now)

	entries, err := st.CrosswalkEntries(ctx, "canon-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1.0, entries[0].Confidence)

	// A later fuzzy re-match carries lower confidence; the stored mapping
	// keeps the stronger one.
	weaker, err := r.Resolve(merge.Input{
		Existing:        created,
		Record:          rec,
		MatchConfidence: 0.87,
		MatchMethod:     model.MatchNameFuzzy,
		Corroboration:   map[string]int{model.FieldName: 1},
		RunID:           "run-2",
		Now:             now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, st.ApplyMerge(ctx, weaker))

	entries, err = st.CrosswalkEntries(ctx, "canon-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1.0, entries[0].Confidence)
}

func TestListCanonicalFilters(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mergeRecord(t, st, r, "canon-pa", testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "PA", model.FieldOffice: "State Senate",
	}), now)
	mergeRecord(t, st, r, "canon-oh", testSourceRecord(model.SourceStateRoster, "m-2", map[string]string{
		model.FieldName: "John Smith", model.FieldState: "OH", model.FieldOffice: "State House",
	}), now)

	ctx := context.Background()

	all, err := st.ListCanonical(ctx, CanonicalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pa, err := st.ListCanonical(ctx, CanonicalFilter{State: "PA"})
	require.NoError(t, err)
	require.Len(t, pa, 1)
	assert.Equal(t, "canon-pa", pa[0].CanonicalID)

	senate, err := st.ListCanonical(ctx, CanonicalFilter{Office: "State Senate"})
	require.NoError(t, err)
	require.Len(t, senate, 1)

	limited, err := st.ListCanonical(ctx, CanonicalFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCandidatesByBlockingKey(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mergeRecord(t, st, r, "canon-1", testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "PA", model.FieldLevel: "state",
	}), now)
	mergeRecord(t, st, r, "canon-2", testSourceRecord(model.SourceStateRoster, "m-2", map[string]string{
		model.FieldName: "Janet Doe", model.FieldState: "PA", model.FieldLevel: "state",
	}), now)
	mergeRecord(t, st, r, "canon-3", testSourceRecord(model.SourceStateRoster, "m-3", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "OH", model.FieldLevel: "state",
	}), now)

	got, err := st.CandidatesByBlockingKey(context.Background(), "DOE|PA|state")
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []string{got[0].CanonicalID, got[1].CanonicalID}
	assert.ElementsMatch(t, []string{"canon-1", "canon-2"}, ids)
}

func TestStaleActive(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()

	old := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)

	mergeRecord(t, st, r, "canon-stale", testSourceRecord(model.SourceStateRoster, "m-1",
		map[string]string{model.FieldName: "Gone Missing"}), old)
	mergeRecord(t, st, r, "canon-fresh", testSourceRecord(model.SourceStateRoster, "m-2",
		map[string]string{model.FieldName: "Still Here"}), fresh)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale, err := st.StaleActive(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "canon-stale", stale[0].CanonicalID)
}

func TestReviewQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := model.ReviewItem{
		ID:     "rev-1",
		Record: *testSourceRecord(model.SourceFinance, "C9", map[string]string{model.FieldName: "J. Doe"}),
		Candidates: []model.ReviewCandidate{
			{CanonicalID: "canon-1", Name: "Jane Doe", Score: 0.91},
			{CanonicalID: "canon-2", Name: "Janet Doe", Score: 0.89},
		},
		Reason:    "2 candidates within ambiguity margin",
		Status:    model.ReviewPending,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.EnqueueReview(ctx, item))

	n, err := st.PendingReviewCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetReview(ctx, "rev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ReviewPending, got.Status)
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, "Janet Doe", got.Candidates[1].Name)

	pending, err := st.ListReviews(ctx, model.ReviewPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, st.ResolveReview(ctx, "rev-1", "canon-1"))

	got, err = st.GetReview(ctx, "rev-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, got.Status)
	assert.Equal(t, "canon-1", got.ResolvedCanonicalID)
	require.NotNil(t, got.ResolvedAt)

	n, err = st.PendingReviewCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	finished := started.Add(10 * time.Minute)
	run := &model.IngestRun{
		RunID:  "run-1",
		Status: model.RunStatusRunning,
		SourceStates: map[model.SourceSystem]model.SourceRunResult{
			model.SourceFederalBio: {SourceSystem: model.SourceFederalBio, State: model.SourceStateFetching},
		},
		StartedAt: started,
	}
	require.NoError(t, st.SaveRun(ctx, run))

	run.Status = model.RunStatusCompleted
	run.FinishedAt = &finished
	run.SourceStates[model.SourceFederalBio] = model.SourceRunResult{
		SourceSystem: model.SourceFederalBio,
		State:        model.SourceStateCompleted,
		Fetched:      435,
		Created:      12,
		Updated:      423,
	}
	require.NoError(t, st.SaveRun(ctx, run))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 435, got.SourceStates[model.SourceFederalBio].Fetched)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))
}

func TestSourceRecordsAndLatest(t *testing.T) {
	st := newTestStore(t)
	r := storeTestResolver()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane Doe"})
	first.FetchedAt = now
	second := testSourceRecord(model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane A. Doe"})
	second.FetchedAt = now.Add(time.Hour)
	other := testSourceRecord(model.SourceFederalBio, "B1", map[string]string{model.FieldName: "Jane A. Doe"})
	other.FetchedAt = now

	require.NoError(t, st.AppendSourceRecords(ctx, []model.SourceRecord{*first, *second, *other}))

	mergeRecord(t, st, r, "canon-1", second, now.Add(time.Hour))
	mergeRecord(t, st, r, "canon-1", other, now.Add(2*time.Hour))

	latest, err := st.LatestSourceRecords(ctx, "canon-1")
	require.NoError(t, err)
	require.Len(t, latest, 2, "one newest record per crosswalked source")

	bysys := make(map[model.SourceSystem]model.SourceRecord)
	for _, rec := range latest {
		bysys[rec.SourceSystem] = rec
	}
	assert.Equal(t, "Jane A. Doe", bysys[model.SourceStateRoster].RawFields[model.FieldName].Value,
		"superseded fetch must not surface")
}
