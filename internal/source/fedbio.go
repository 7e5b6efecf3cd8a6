package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/model"
)

// fedBioOfficial is the federal bio registry's wire format for one official.
type fedBioOfficial struct {
	BioID         string `json:"bio_id"`
	FullName      string `json:"full_name"`
	Office        string `json:"office"`
	State         string `json:"state"`
	District      string `json:"district"`
	Party         string `json:"party"`
	OfficialEmail string `json:"official_email"`
	Website       string `json:"website"`
	TermStart     string `json:"term_start"`
	TermEnd       string `json:"term_end"`
	CommitteeID   string `json:"committee_id"`
	UpdatedAt     string `json:"updated_at"`
}

type fedBioPage struct {
	Officials []fedBioOfficial `json:"officials"`
	Total     int              `json:"total"`
}

// FedBioAdapter ingests the federal bio registry: offset-paginated JSON, the
// highest-reliability source, and the one that embeds campaign-finance
// committee IDs for the cross-reference path.
type FedBioAdapter struct {
	client   *fetch.HTTPClient
	endpoint string
	pageSize int
}

// NewFedBioAdapter creates a FedBioAdapter.
func NewFedBioAdapter(client *fetch.HTTPClient, endpoint string, pageSize int) *FedBioAdapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &FedBioAdapter{client: client, endpoint: endpoint, pageSize: pageSize}
}

func (a *FedBioAdapter) System() model.SourceSystem {
	return model.SourceFederalBio
}

func (a *FedBioAdapter) Fetch(ctx context.Context, cursor model.Cursor) (*Page, error) {
	url := fmt.Sprintf("%s/officials?offset=%d&limit=%d", a.endpoint, cursor.Offset, a.pageSize)

	var wire fedBioPage
	if err := a.client.GetJSON(ctx, url, &wire); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	page := &Page{}

	for _, o := range wire.Officials {
		if o.BioID == "" || o.FullName == "" {
			page.Skipped = append(page.Skipped, model.SkippedRecord{
				SourceSystem: model.SourceFederalBio,
				SourceID:     o.BioID,
				Reason:       "missing bio_id or full_name",
			})
			continue
		}

		asOf := parseAsOf(o.UpdatedAt)
		fields := map[string]model.RawField{
			model.FieldName:  rawField(o.FullName, asOf),
			model.FieldLevel: rawField(string(model.LevelFederal), asOf),
		}
		setField(fields, model.FieldOffice, o.Office, asOf)
		setField(fields, model.FieldState, o.State, asOf)
		setField(fields, model.FieldDistrict, o.District, asOf)
		setField(fields, model.FieldParty, o.Party, asOf)
		setField(fields, model.FieldOfficialEmail, o.OfficialEmail, asOf)
		setField(fields, model.FieldWebsite, o.Website, asOf)
		setField(fields, model.FieldTermStart, o.TermStart, asOf)
		setField(fields, model.FieldTermEnd, o.TermEnd, asOf)
		setField(fields, model.FieldCommitteeID, o.CommitteeID, asOf)

		page.Records = append(page.Records, model.SourceRecord{
			SourceSystem: model.SourceFederalBio,
			SourceID:     o.BioID,
			RawFields:    fields,
			FetchedAt:    now,
		})
	}

	nextOffset := cursor.Offset + len(wire.Officials)
	page.NextCursor = model.Cursor{Offset: nextOffset}
	page.HasMore = len(wire.Officials) > 0 && nextOffset < wire.Total

	if len(page.Skipped) > 0 {
		zap.L().Warn("fedbio: skipped malformed records",
			zap.Int("skipped", len(page.Skipped)),
			zap.Int("offset", cursor.Offset),
		)
	}

	return page, nil
}

// parseAsOf parses an RFC3339 or date-only timestamp; nil when absent/invalid.
func parseAsOf(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
