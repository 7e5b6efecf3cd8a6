package source

import (
	"github.com/rotisserie/eris"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/model"
)

// BuildAdapters constructs an adapter per enabled source, drawing endpoints
// from the catalog with config overrides winning.
func BuildAdapters(cat *Catalog, cfg config.SourcesConfig, httpClient *fetch.HTTPClient, ftpClient *fetch.FTPClient) ([]Adapter, error) {
	enabled := make(map[model.SourceSystem]bool, len(cfg.Enabled))
	for _, s := range cfg.Enabled {
		sys := model.SourceSystem(s)
		if !sys.Valid() {
			return nil, eris.Errorf("source: unknown enabled source %q", s)
		}
		enabled[sys] = true
	}

	endpoint := func(sys model.SourceSystem) string {
		if ep, ok := cfg.Endpoints[string(sys)]; ok && ep != "" {
			return ep
		}
		if e := cat.Get(sys); e != nil {
			return e.Endpoint
		}
		return ""
	}
	pageSize := func(sys model.SourceSystem) int {
		if e := cat.Get(sys); e != nil {
			return e.PageSize
		}
		return 0
	}

	var adapters []Adapter
	for _, sys := range model.AllSourceSystems {
		if !enabled[sys] {
			continue
		}
		if e := cat.Get(sys); e != nil && !e.Enabled {
			continue
		}
		ep := endpoint(sys)
		if ep == "" {
			return nil, eris.Errorf("source: no endpoint configured for %s", sys)
		}

		switch sys {
		case model.SourceFederalBio:
			adapters = append(adapters, NewFedBioAdapter(httpClient, ep, pageSize(sys)))
		case model.SourceStateRoster:
			adapters = append(adapters, NewStateRosterAdapter(httpClient, ep, pageSize(sys)))
		case model.SourceFinance:
			adapters = append(adapters, NewFinanceAdapter(ftpClient, ep))
		case model.SourceCivicAddr:
			var states []string
			if e := cat.Get(sys); e != nil {
				states = e.States
			}
			adapters = append(adapters, NewCivicAddrAdapter(httpClient, ep, states))
		}
	}

	return adapters, nil
}
