package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/model"
)

// defaultStates is the full jurisdiction sweep when the catalog doesn't
// narrow it.
var defaultStates = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
	"HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD",
	"MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "NJ",
	"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC",
	"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY",
}

// civicOfficial is the civic-address API's wire format for one official.
type civicOfficial struct {
	OCDID    string `json:"ocd_id"`
	Name     string `json:"name"`
	Office   string `json:"office"`
	Level    string `json:"level"`
	State    string `json:"state"`
	District string `json:"district"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Website  string `json:"website"`
	AsOf     string `json:"as_of"`
}

type civicPage struct {
	Officials []civicOfficial `json:"officials"`
}

// CivicAddrAdapter ingests the civic-address API, which is keyed by
// jurisdiction: one state per page, the cursor offset walking the state list.
// Lowest-reliability source; it mostly corroborates contact fields.
type CivicAddrAdapter struct {
	client   *fetch.HTTPClient
	endpoint string
	states   []string
}

// NewCivicAddrAdapter creates a CivicAddrAdapter. states may be nil for the
// full sweep.
func NewCivicAddrAdapter(client *fetch.HTTPClient, endpoint string, states []string) *CivicAddrAdapter {
	if len(states) == 0 {
		states = defaultStates
	}
	return &CivicAddrAdapter{client: client, endpoint: endpoint, states: states}
}

func (a *CivicAddrAdapter) System() model.SourceSystem {
	return model.SourceCivicAddr
}

func (a *CivicAddrAdapter) Fetch(ctx context.Context, cursor model.Cursor) (*Page, error) {
	if cursor.Offset >= len(a.states) {
		return &Page{NextCursor: model.Cursor{}}, nil
	}
	state := a.states[cursor.Offset]

	var wire civicPage
	url := fmt.Sprintf("%s/officials?state=%s", a.endpoint, state)
	if err := a.client.GetJSON(ctx, url, &wire); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	page := &Page{
		NextCursor: model.Cursor{Offset: cursor.Offset + 1},
		HasMore:    cursor.Offset+1 < len(a.states),
	}

	for _, o := range wire.Officials {
		if o.OCDID == "" || o.Name == "" {
			page.Skipped = append(page.Skipped, model.SkippedRecord{
				SourceSystem: model.SourceCivicAddr,
				SourceID:     o.OCDID,
				Reason:       "missing ocd_id or name",
			})
			continue
		}

		asOf := parseAsOf(o.AsOf)
		fields := map[string]model.RawField{
			model.FieldName: rawField(o.Name, asOf),
		}
		setField(fields, model.FieldOffice, o.Office, asOf)
		setField(fields, model.FieldLevel, o.Level, asOf)
		setField(fields, model.FieldState, o.State, asOf)
		setField(fields, model.FieldDistrict, o.District, asOf)
		setField(fields, model.FieldAddress, o.Address, asOf)
		setField(fields, model.FieldPhone, o.Phone, asOf)
		setField(fields, model.FieldOfficialEmail, o.Email, asOf)
		setField(fields, model.FieldWebsite, o.Website, asOf)

		page.Records = append(page.Records, model.SourceRecord{
			SourceSystem: model.SourceCivicAddr,
			SourceID:     o.OCDID,
			RawFields:    fields,
			FetchedAt:    now,
		})
	}

	if len(page.Skipped) > 0 {
		zap.L().Warn("civicaddr: skipped malformed records",
			zap.String("state", state),
			zap.Int("skipped", len(page.Skipped)),
		)
	}

	return page, nil
}
