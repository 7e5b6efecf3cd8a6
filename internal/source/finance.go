package source

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/model"
)

// financeColumns is the committee extract's fixed column order.
// committee_id|candidate_name|office|level|state|district|party|filed_at
const financeColumnCount = 8

// FinanceAdapter ingests the campaign-finance registry's bulk committee
// extract, published as a pipe-delimited file on an FTP host. The whole
// extract arrives in one page; the cursor records the download time so
// unchanged extracts can be skipped by operators tuning schedules.
type FinanceAdapter struct {
	ftp     *fetch.FTPClient
	fileURL string
}

// NewFinanceAdapter creates a FinanceAdapter.
func NewFinanceAdapter(ftp *fetch.FTPClient, fileURL string) *FinanceAdapter {
	return &FinanceAdapter{ftp: ftp, fileURL: fileURL}
}

func (a *FinanceAdapter) System() model.SourceSystem {
	return model.SourceFinance
}

func (a *FinanceAdapter) Fetch(ctx context.Context, _ model.Cursor) (*Page, error) {
	rc, err := a.ftp.Download(ctx, a.fileURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return a.parse(rc)
}

func (a *FinanceAdapter) parse(r io.Reader) (*Page, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1 // row-level validation below keeps the batch alive

	now := time.Now().UTC()
	page := &Page{NextCursor: model.Cursor{Since: &now}}

	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "finance: read extract")
		}
		line++

		if len(row) != financeColumnCount {
			page.Skipped = append(page.Skipped, model.SkippedRecord{
				SourceSystem: model.SourceFinance,
				Reason:       "wrong column count",
			})
			continue
		}

		committeeID := strings.TrimSpace(row[0])
		name := strings.TrimSpace(row[1])
		if committeeID == "" || name == "" {
			page.Skipped = append(page.Skipped, model.SkippedRecord{
				SourceSystem: model.SourceFinance,
				SourceID:     committeeID,
				Reason:       "missing committee_id or candidate_name",
			})
			continue
		}

		asOf := parseAsOf(strings.TrimSpace(row[7]))
		fields := map[string]model.RawField{
			model.FieldName: rawField(name, asOf),
		}
		setField(fields, model.FieldOffice, strings.TrimSpace(row[2]), asOf)
		setField(fields, model.FieldLevel, strings.ToLower(strings.TrimSpace(row[3])), asOf)
		setField(fields, model.FieldState, strings.TrimSpace(row[4]), asOf)
		setField(fields, model.FieldDistrict, strings.TrimSpace(row[5]), asOf)
		setField(fields, model.FieldParty, strings.TrimSpace(row[6]), asOf)

		page.Records = append(page.Records, model.SourceRecord{
			SourceSystem: model.SourceFinance,
			SourceID:     committeeID,
			RawFields:    fields,
			FetchedAt:    now,
		})
	}

	if len(page.Skipped) > 0 {
		zap.L().Warn("finance: skipped malformed extract rows",
			zap.Int("skipped", len(page.Skipped)),
			zap.Int("total_rows", line),
		)
	}

	return page, nil
}
