package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "repsync.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, 90, cfg.Ingest.DeactivateAfterDays)
	assert.Equal(t, 30*time.Second, cfg.Ingest.HTTPTimeout())
	assert.Equal(t, 0.85, cfg.Matcher.AcceptThreshold)
	assert.Equal(t, 0.05, cfg.Matcher.AmbiguityMargin)
	assert.Equal(t, 1.0, cfg.Scoring.Reliability["federal-bio-registry"])
	assert.Equal(t, 0.75, cfg.Scoring.Reliability["civic-address-api"])
	assert.Len(t, cfg.Sources.Enabled, 4)
	assert.Equal(t, []string{"federal-bio-registry", "state-legislature-roster"},
		cfg.Merge.Precedence["official_email"])
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REPSYNC_SERVER_PORT", "9090")
	t.Setenv("REPSYNC_STORE_DRIVER", "postgres")
	t.Setenv("REPSYNC_INGEST_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Ingest.Concurrency)
}

func TestLoadRejectsInvalidTuning(t *testing.T) {
	chdirTemp(t)

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"threshold above one", "REPSYNC_MATCHER_ACCEPT_THRESHOLD", "1.5"},
		{"threshold zero", "REPSYNC_MATCHER_ACCEPT_THRESHOLD", "0"},
		{"margin exceeds threshold", "REPSYNC_MATCHER_AMBIGUITY_MARGIN", "0.9"},
		{"negative margin", "REPSYNC_MATCHER_AMBIGUITY_MARGIN", "-0.1"},
		{"cap below one", "REPSYNC_SCORING_CORROBORATION_CAP", "0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestReliabilityForUnknownSource(t *testing.T) {
	cfg := ScoringConfig{Reliability: map[string]float64{"federal-bio-registry": 1.0}}
	assert.Equal(t, 1.0, cfg.ReliabilityFor("federal-bio-registry"))
	assert.Equal(t, 0.5, cfg.ReliabilityFor("unknown-feed"))
}

// chdirTemp switches the working directory to a fresh temp dir for the
// duration of the test (stand-in for t.Chdir, which needs Go 1.24+).
func chdirTemp(t *testing.T) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
