package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/model"
)

// stateRosterMember is the legislature roster's wire format for one member.
type stateRosterMember struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"` // frequently "Doe, Jane" style
	Chamber  string `json:"chamber"`
	State    string `json:"state"`
	District string `json:"district"`
	Party    string `json:"party"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FedBioID string `json:"fed_bio_id"`
	AsOf     string `json:"as_of"`
}

type stateRosterPage struct {
	Members []stateRosterMember `json:"members"`
	Page    int                 `json:"page"`
	HasNext bool                `json:"has_next"`
}

// StateRosterAdapter ingests state legislature rosters. Two paths: paginated
// JSON for states with an API, and a bulk XLSX download for states that only
// publish spreadsheets (endpoint ending in .xlsx).
type StateRosterAdapter struct {
	client   *fetch.HTTPClient
	endpoint string
	pageSize int
}

// NewStateRosterAdapter creates a StateRosterAdapter.
func NewStateRosterAdapter(client *fetch.HTTPClient, endpoint string, pageSize int) *StateRosterAdapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &StateRosterAdapter{client: client, endpoint: endpoint, pageSize: pageSize}
}

func (a *StateRosterAdapter) System() model.SourceSystem {
	return model.SourceStateRoster
}

func (a *StateRosterAdapter) Fetch(ctx context.Context, cursor model.Cursor) (*Page, error) {
	if strings.HasSuffix(a.endpoint, ".xlsx") {
		return a.fetchBulk(ctx, cursor)
	}
	return a.fetchJSON(ctx, cursor)
}

func (a *StateRosterAdapter) fetchJSON(ctx context.Context, cursor model.Cursor) (*Page, error) {
	pageNum := cursor.Page
	if pageNum == 0 {
		pageNum = 1
	}
	url := fmt.Sprintf("%s/members?page=%d&per_page=%d", a.endpoint, pageNum, a.pageSize)

	var wire stateRosterPage
	if err := a.client.GetJSON(ctx, url, &wire); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	page := &Page{
		NextCursor: model.Cursor{Page: pageNum + 1},
		HasMore:    wire.HasNext,
	}

	for _, m := range wire.Members {
		rec, skip := a.memberToRecord(m, now)
		if skip != nil {
			page.Skipped = append(page.Skipped, *skip)
			continue
		}
		page.Records = append(page.Records, *rec)
	}

	if len(page.Skipped) > 0 {
		zap.L().Warn("stateroster: skipped malformed records",
			zap.Int("skipped", len(page.Skipped)),
			zap.Int("page", pageNum),
		)
	}

	return page, nil
}

// fetchBulk downloads and parses a spreadsheet roster in one page.
// Expected columns: member_id, name, chamber, state, district, party, email.
func (a *StateRosterAdapter) fetchBulk(ctx context.Context, _ model.Cursor) (*Page, error) {
	body, err := a.client.Get(ctx, a.endpoint)
	if err != nil {
		return nil, err
	}

	rows, err := fetch.ReadXLSXFrom(strings.NewReader(string(body)), fetch.XLSXOptions{SkipRows: 1})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	page := &Page{NextCursor: model.Cursor{Since: &now}}

	for i, row := range rows {
		m := stateRosterMember{}
		if len(row) > 0 {
			m.MemberID = strings.TrimSpace(row[0])
		}
		if len(row) > 1 {
			m.Name = strings.TrimSpace(row[1])
		}
		if len(row) > 2 {
			m.Chamber = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			m.State = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			m.District = strings.TrimSpace(row[4])
		}
		if len(row) > 5 {
			m.Party = strings.TrimSpace(row[5])
		}
		if len(row) > 6 {
			m.Email = strings.TrimSpace(row[6])
		}

		rec, skip := a.memberToRecord(m, now)
		if skip != nil {
			skip.Reason = fmt.Sprintf("row %d: %s", i+2, skip.Reason)
			page.Skipped = append(page.Skipped, *skip)
			continue
		}
		page.Records = append(page.Records, *rec)
	}

	return page, nil
}

func (a *StateRosterAdapter) memberToRecord(m stateRosterMember, now time.Time) (*model.SourceRecord, *model.SkippedRecord) {
	if m.MemberID == "" || m.Name == "" {
		return nil, &model.SkippedRecord{
			SourceSystem: model.SourceStateRoster,
			SourceID:     m.MemberID,
			Reason:       "missing member_id or name",
		}
	}

	asOf := parseAsOf(m.AsOf)
	fields := map[string]model.RawField{
		model.FieldName:  rawField(m.Name, asOf),
		model.FieldLevel: rawField(string(model.LevelState), asOf),
	}
	setField(fields, model.FieldOffice, chamberToOffice(m.Chamber), asOf)
	setField(fields, model.FieldState, m.State, asOf)
	setField(fields, model.FieldDistrict, m.District, asOf)
	setField(fields, model.FieldParty, m.Party, asOf)
	setField(fields, model.FieldOfficialEmail, m.Email, asOf)
	setField(fields, model.FieldPhone, m.Phone, asOf)
	setField(fields, model.FieldFedBioID, m.FedBioID, asOf)

	return &model.SourceRecord{
		SourceSystem: model.SourceStateRoster,
		SourceID:     m.MemberID,
		RawFields:    fields,
		FetchedAt:    now,
	}, nil
}

// chamberToOffice maps roster chamber labels to the shared office vocabulary.
func chamberToOffice(chamber string) string {
	switch strings.ToLower(strings.TrimSpace(chamber)) {
	case "senate", "upper":
		return "State Senate"
	case "house", "assembly", "lower":
		return "State House"
	case "":
		return ""
	default:
		return chamber
	}
}
