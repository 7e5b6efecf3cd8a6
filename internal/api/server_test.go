package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/score"
	"github.com/civicgraph/repsync/internal/store"
)

const testAdminToken = "test-admin-token"

type testEnv struct {
	store    *store.SQLiteStore
	resolver *merge.Resolver
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, adminToken string) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	scorer := score.New(config.ScoringConfig{
		Reliability: map[string]float64{
			"federal-bio-registry":     1.0,
			"state-legislature-roster": 0.9,
		},
		CorroborationBonus: 0.10,
		CorroborationCap:   1.30,
		QualityWeights: map[string]float64{
			"name": 30, "office": 25, "jurisdiction": 25, "contact_method": 20,
		},
		MissingFieldPenalty: 5,
	})
	resolver := merge.New(scorer, config.MergeConfig{})

	s := NewServer(st, resolver, config.ServerConfig{AdminToken: adminToken})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{store: st, resolver: resolver, srv: srv}
}

// seed merges one source record into the store and returns the committed state.
func (e *testEnv) seed(t *testing.T, canonicalID string, system model.SourceSystem, sourceID string, fields map[string]string) *model.CanonicalRecord {
	t.Helper()
	ctx := context.Background()

	raw := make(map[string]model.RawField, len(fields))
	corr := make(map[string]int, len(fields))
	for k, v := range fields {
		raw[k] = model.RawField{Value: v}
		corr[k] = 1
	}
	rec := &model.SourceRecord{
		SourceSystem: system,
		SourceID:     sourceID,
		RawFields:    raw,
		FetchedAt:    time.Now().UTC(),
	}

	existing, err := e.store.GetCanonical(ctx, canonicalID)
	require.NoError(t, err)

	mut, err := e.resolver.Resolve(merge.Input{
		Existing:        existing,
		CanonicalID:     canonicalID,
		Record:          rec,
		MatchConfidence: 1.0,
		MatchMethod:     model.MatchExactExternalID,
		Corroboration:   corr,
		RunID:           "seed",
		Now:             time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, e.store.ApplyMerge(ctx, mut))
	return mut.Record
}

func (e *testEnv) get(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) post(t *testing.T, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	resp, body := env.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestListRepresentatives(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	env.seed(t, "canon-pa", model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "PA", model.FieldOffice: "State Senate",
	})
	env.seed(t, "canon-oh", model.SourceStateRoster, "m-2", map[string]string{
		model.FieldName: "John Smith", model.FieldState: "OH", model.FieldOffice: "State House",
	})

	resp, body := env.get(t, "/representatives", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Representatives []model.PublicRecord `json:"representatives"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Representatives, 2)

	resp, body = env.get(t, "/representatives?state=PA", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Representatives, 1)
	assert.Equal(t, "Jane Doe", out.Representatives[0].Name)

	resp, _ = env.get(t, "/representatives?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.get(t, "/representatives?active=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRepresentative(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	env.seed(t, "canon-1", model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName:          "Jane Doe",
		model.FieldOfficialEmail: "jdoe@legis.state.pa.us",
	})

	resp, body := env.get(t, "/representatives/canon-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec model.PublicRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "Jane Doe", rec.Name)
	assert.Equal(t, "jdoe@legis.state.pa.us", rec.Fields[model.FieldOfficialEmail])
	// The public view carries plain values, no per-field provenance.
	assert.NotContains(t, string(body), "source_system")

	resp, _ = env.get(t, "/representatives/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	env.seed(t, "canon-1", model.SourceStateRoster, "m-1", map[string]string{model.FieldName: "Jane Doe"})

	resp, _ := env.get(t, "/representatives/canon-1/provenance", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.get(t, "/representatives/canon-1/provenance", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.get(t, "/representatives/canon-1/provenance", testAdminToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.get(t, "/admin/sources", "anything")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProvenanceEndpoint(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	env.seed(t, "canon-1", model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName: "Jane Doe",
	})
	env.seed(t, "canon-1", model.SourceFederalBio, "B1", map[string]string{
		model.FieldName: "Jane A. Doe",
	})

	resp, body := env.get(t, "/representatives/canon-1/provenance", testAdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		CanonicalID string                  `json:"canonical_id"`
		Provenance  []model.FieldProvenance `json:"provenance"`
		Crosswalk   []model.CrosswalkEntry  `json:"crosswalk"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "canon-1", out.CanonicalID)
	require.Len(t, out.Provenance, 2, "create plus the federal overwrite")
	assert.Equal(t, "Jane Doe", out.Provenance[1].OldValue)
	assert.Equal(t, "Jane A. Doe", out.Provenance[1].NewValue)
	assert.Len(t, out.Crosswalk, 2)
}

func TestResolveReviewEndpoint(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	ctx := context.Background()

	env.seed(t, "canon-1", model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "PA",
	})
	env.seed(t, "canon-2", model.SourceStateRoster, "m-2", map[string]string{
		model.FieldName: "Jane Doe", model.FieldState: "PA",
	})

	item := model.ReviewItem{
		ID: "rev-1",
		Record: model.SourceRecord{
			SourceSystem: model.SourceFinance,
			SourceID:     "C9",
			RawFields:    map[string]model.RawField{model.FieldName: {Value: "Jane Doe"}},
			FetchedAt:    time.Now().UTC(),
		},
		Candidates: []model.ReviewCandidate{
			{CanonicalID: "canon-1", Name: "Jane Doe", Score: 1.0},
			{CanonicalID: "canon-2", Name: "Jane Doe", Score: 1.0},
		},
		Reason:    "2 candidates within ambiguity margin",
		Status:    model.ReviewPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.EnqueueReview(ctx, item))

	resp, body := env.post(t, "/admin/reviews/rev-1/resolve", testAdminToken,
		map[string]string{"canonical_id": "canon-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "canon-1", out["canonical_id"])

	// The operator's decision lands in the crosswalk with the override method.
	id, ok, err := env.store.LookupCanonical(ctx, model.SourceFinance, "C9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "canon-1", id)

	got, err := env.store.GetReview(ctx, "rev-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, got.Status)

	// Resolving twice is rejected.
	resp, _ = env.post(t, "/admin/reviews/rev-1/resolve", testAdminToken,
		map[string]string{"canonical_id": "canon-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown review item.
	resp, _ = env.post(t, "/admin/reviews/rev-404/resolve", testAdminToken,
		map[string]string{"canonical_id": "canon-1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveReviewMintsWhenUnassigned(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	ctx := context.Background()

	item := model.ReviewItem{
		ID: "rev-1",
		Record: model.SourceRecord{
			SourceSystem: model.SourceFinance,
			SourceID:     "C9",
			RawFields:    map[string]model.RawField{model.FieldName: {Value: "Jane Doe"}},
			FetchedAt:    time.Now().UTC(),
		},
		Status:    model.ReviewPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.EnqueueReview(ctx, item))

	resp, body := env.post(t, "/admin/reviews/rev-1/resolve", testAdminToken, map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out["canonical_id"])

	rec, err := env.store.GetCanonical(ctx, out["canonical_id"])
	require.NoError(t, err)
	require.NotNil(t, rec, "an unassigned resolution mints a fresh representative")
	assert.Equal(t, "Jane Doe", rec.Name)
}

func TestRevertEndpoint(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	ctx := context.Background()

	env.seed(t, "canon-1", model.SourceStateRoster, "m-1", map[string]string{
		model.FieldName:          "Jane Doe",
		model.FieldOfficialEmail: "old@legis.state.pa.us",
	})
	env.seed(t, "canon-1", model.SourceFederalBio, "B1", map[string]string{
		model.FieldName:          "Jane Doe",
		model.FieldOfficialEmail: "new@house.gov",
	})

	prov, err := env.store.ListProvenance(ctx, "canon-1")
	require.NoError(t, err)
	var target model.FieldProvenance
	for _, p := range prov {
		if p.FieldName == model.FieldOfficialEmail && p.NewValue == "old@legis.state.pa.us" {
			target = p
		}
	}
	require.NotZero(t, target.ID)

	resp, body := env.post(t, "/admin/revert", testAdminToken, map[string]any{
		"canonical_id":  "canon-1",
		"provenance_id": target.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "reverted", out["status"])

	rec, err := env.store.GetCanonical(ctx, "canon-1")
	require.NoError(t, err)
	assert.Equal(t, "old@legis.state.pa.us", rec.Fields[model.FieldOfficialEmail].Value)

	// Reverting to the value already in place is a no-op.
	resp, body = env.post(t, "/admin/revert", testAdminToken, map[string]any{
		"canonical_id":  "canon-1",
		"provenance_id": target.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "no-op", out["status"])

	// The audit trail grew; nothing was erased.
	after, err := env.store.ListProvenance(ctx, "canon-1")
	require.NoError(t, err)
	assert.Equal(t, len(prov)+1, len(after))
	last := after[len(after)-1]
	assert.Equal(t, model.MatchManualOverride, last.MatchMethod)

	resp, _ = env.post(t, "/admin/revert", testAdminToken, map[string]any{
		"canonical_id": "canon-1", "provenance_id": 99999,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.post(t, "/admin/revert", testAdminToken, map[string]any{
		"canonical_id": "canon-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminSources(t *testing.T) {
	env := newTestEnv(t, testAdminToken)
	require.NoError(t, env.store.PutCursor(context.Background(), model.SourceFederalBio,
		model.Cursor{Offset: 500}, time.Now().UTC()))

	resp, body := env.get(t, "/admin/sources", testAdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Sources        []model.SourceStatus `json:"sources"`
		PendingReviews int                  `json:"pending_reviews"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Sources, 1)
	assert.Equal(t, 500, out.Sources[0].Cursor.Offset)
	assert.Equal(t, 0, out.PendingReviews)
}
