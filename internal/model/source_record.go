package model

import "time"

// SourceSystem identifies an external data source.
type SourceSystem string

const (
	SourceStateRoster SourceSystem = "state-legislature-roster"
	SourceFederalBio  SourceSystem = "federal-bio-registry"
	SourceFinance     SourceSystem = "campaign-finance-registry"
	SourceCivicAddr   SourceSystem = "civic-address-api"
)

// AllSourceSystems lists every known source in default scheduling order.
var AllSourceSystems = []SourceSystem{
	SourceFederalBio,
	SourceStateRoster,
	SourceFinance,
	SourceCivicAddr,
}

// Valid reports whether s is a known source system.
func (s SourceSystem) Valid() bool {
	switch s {
	case SourceStateRoster, SourceFederalBio, SourceFinance, SourceCivicAddr:
		return true
	}
	return false
}

// Shared field vocabulary. Adapters normalize source-native field names into
// these keys before anything downstream sees the record.
const (
	FieldName          = "name"
	FieldOffice        = "office"
	FieldLevel         = "level"
	FieldState         = "state"
	FieldDistrict      = "district"
	FieldParty         = "party"
	FieldOfficialEmail = "official_email"
	FieldPhone         = "phone"
	FieldWebsite       = "website"
	FieldAddress       = "address"
	FieldTermStart     = "term_start"
	FieldTermEnd       = "term_end"
)

// Foreign-identifier field keys. A source embedding another system's ID under
// one of these keys enables the cross-reference match path.
const (
	FieldFedBioID      = "fed_bio_id"
	FieldStateRosterID = "state_roster_id"
	FieldCommitteeID   = "finance_committee_id"
	FieldCivicOCDID    = "civic_ocd_id"
)

// ForeignIDField maps a foreign-identifier field key to the source system
// whose native IDs it carries. Returns "" for non-identifier fields.
func ForeignIDField(key string) SourceSystem {
	switch key {
	case FieldFedBioID:
		return SourceFederalBio
	case FieldStateRosterID:
		return SourceStateRoster
	case FieldCommitteeID:
		return SourceFinance
	case FieldCivicOCDID:
		return SourceCivicAddr
	}
	return ""
}

// RawField is a single field value as reported by one source.
type RawField struct {
	Value        string     `json:"value"`
	ReportedAsOf *time.Time `json:"reported_as_of,omitempty"`
}

// SourceRecord is one representative's data as reported by exactly one source
// in one ingestion run. Immutable once written; later fetches supersede it.
type SourceRecord struct {
	SourceSystem SourceSystem        `json:"source_system"`
	SourceID     string              `json:"source_id"`
	RawFields    map[string]RawField `json:"raw_fields"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// Field returns the raw value for key, or "" if absent.
func (r *SourceRecord) Field(key string) string {
	return r.RawFields[key].Value
}

// ForeignIDs returns the foreign identifiers the record carries, keyed by the
// source system that owns them. The record's own source system is excluded.
func (r *SourceRecord) ForeignIDs() map[SourceSystem]string {
	ids := make(map[SourceSystem]string)
	for key, rf := range r.RawFields {
		sys := ForeignIDField(key)
		if sys == "" || sys == r.SourceSystem || rf.Value == "" {
			continue
		}
		ids[sys] = rf.Value
	}
	return ids
}

// SkippedRecord describes a single malformed record an adapter dropped
// without aborting its page.
type SkippedRecord struct {
	SourceSystem SourceSystem `json:"source_system"`
	SourceID     string       `json:"source_id,omitempty"`
	Reason       string       `json:"reason"`
}

// Cursor tracks per-source ingestion progress so interrupted runs resume
// without re-fetching everything. Which fields a source uses is adapter-specific.
type Cursor struct {
	Page   int        `json:"page,omitempty"`
	Offset int        `json:"offset,omitempty"`
	Token  string     `json:"token,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
}

// IsZero reports whether the cursor is the start-of-history cursor.
func (c Cursor) IsZero() bool {
	return c.Page == 0 && c.Offset == 0 && c.Token == "" && c.Since == nil
}
