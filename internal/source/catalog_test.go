package source

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/model"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
sources:
  - system: federal-bio-registry
    endpoint: https://bio.example.gov/api/v2
    rate_per_sec: 10
    page_size: 250
    enabled: true
  - system: civic-address-api
    endpoint: https://civic.example.org/v1
    enabled: true
    states: [PA, OH]
`)

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Sources, 2)

	fed := cat.Get(model.SourceFederalBio)
	require.NotNil(t, fed)
	assert.Equal(t, 250, fed.PageSize)
	assert.Equal(t, 10.0, fed.RatePerSec)

	civic := cat.Get(model.SourceCivicAddr)
	require.NotNil(t, civic)
	assert.Equal(t, []string{"PA", "OH"}, civic.States)
	assert.Equal(t, 100, civic.PageSize, "defaulted")
	assert.Equal(t, 5.0, civic.RatePerSec, "defaulted")

	assert.Nil(t, cat.Get(model.SourceFinance))
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cat.Sources)
}

func TestLoadCatalog_UnknownSystem(t *testing.T) {
	path := writeCatalog(t, `
sources:
  - system: mystery-feed
    endpoint: https://example.com
`)
	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

// TestShippedCatalog validates the default sources.yaml at the repository
// root: every entry parses, and each endpoint's scheme matches the transport
// its adapter speaks (the finance extract is FTP, everything else HTTPS).
func TestShippedCatalog(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("..", "..", "sources.yaml"))
	require.NoError(t, err)
	require.Len(t, cat.Sources, 4)

	for _, e := range cat.Sources {
		u, err := url.Parse(e.Endpoint)
		require.NoError(t, err, e.System)
		if e.System == model.SourceFinance {
			assert.Equal(t, "ftp", u.Scheme, "the finance adapter downloads over FTP")
		} else {
			assert.Equal(t, "https", u.Scheme, e.System)
		}
		assert.True(t, e.Enabled, e.System)
	}
}

func TestBuildAdapters(t *testing.T) {
	cat := &Catalog{Sources: []CatalogEntry{
		{System: model.SourceFederalBio, Endpoint: "https://bio.example.gov", PageSize: 100, Enabled: true},
		{System: model.SourceStateRoster, Endpoint: "https://roster.example.gov", PageSize: 50, Enabled: true},
		{System: model.SourceFinance, Endpoint: "ftp://finance.example.gov/extract.txt", Enabled: true},
		{System: model.SourceCivicAddr, Endpoint: "https://civic.example.org", Enabled: false},
	}}
	cfg := config.SourcesConfig{
		Enabled: []string{
			"federal-bio-registry",
			"state-legislature-roster",
			"campaign-finance-registry",
			"civic-address-api",
		},
	}

	adapters, err := BuildAdapters(cat, cfg, testHTTPClient(), nil)
	require.NoError(t, err)

	// civic-address-api is disabled in the catalog.
	require.Len(t, adapters, 3)
	systems := make([]model.SourceSystem, 0, len(adapters))
	for _, a := range adapters {
		systems = append(systems, a.System())
	}
	assert.ElementsMatch(t, []model.SourceSystem{
		model.SourceFederalBio, model.SourceStateRoster, model.SourceFinance,
	}, systems)
}

func TestBuildAdapters_EndpointOverride(t *testing.T) {
	cat := &Catalog{Sources: []CatalogEntry{
		{System: model.SourceFederalBio, Endpoint: "https://bio.example.gov", Enabled: true},
	}}
	cfg := config.SourcesConfig{
		Enabled:   []string{"federal-bio-registry"},
		Endpoints: map[string]string{"federal-bio-registry": "https://staging.bio.example.gov"},
	}

	adapters, err := BuildAdapters(cat, cfg, testHTTPClient(), nil)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	fed := adapters[0].(*FedBioAdapter)
	assert.Equal(t, "https://staging.bio.example.gov", fed.endpoint)
}

func TestBuildAdapters_Errors(t *testing.T) {
	t.Run("unknown enabled source", func(t *testing.T) {
		_, err := BuildAdapters(&Catalog{}, config.SourcesConfig{Enabled: []string{"bogus"}}, testHTTPClient(), nil)
		assert.Error(t, err)
	})
	t.Run("missing endpoint", func(t *testing.T) {
		_, err := BuildAdapters(&Catalog{}, config.SourcesConfig{Enabled: []string{"federal-bio-registry"}}, testHTTPClient(), nil)
		assert.Error(t, err)
	})
}
