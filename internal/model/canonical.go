package model

import "time"

// Level is the office level of a representative.
type Level string

const (
	LevelFederal Level = "federal"
	LevelState   Level = "state"
	LevelLocal   Level = "local"
)

// Jurisdiction locates an office: a state plus an optional district.
type Jurisdiction struct {
	State    string `json:"state"`
	District string `json:"district,omitempty"`
}

// String renders "PA-12" style, or just the state when there is no district.
func (j Jurisdiction) String() string {
	if j.District == "" {
		return j.State
	}
	return j.State + "-" + j.District
}

// FieldValue is a reconciled field value with its provenance.
type FieldValue struct {
	Value        string       `json:"value"`
	SourceSystem SourceSystem `json:"source_system"`
	Confidence   float64      `json:"confidence"`
	LastVerified time.Time    `json:"last_verified"`
}

// CanonicalRecord is the single reconciled representation of one real-world
// representative. The canonical ID is assigned once and never reused or
// changed. Records are soft-deactivated, never deleted.
type CanonicalRecord struct {
	CanonicalID  string       `json:"canonical_id"`
	Name         string       `json:"name"`
	Office       string       `json:"office"`
	Level        Level        `json:"level"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	IsActive     bool         `json:"is_active"`

	// Fields holds every reconciled field with provenance, keyed by the
	// shared vocabulary. Name/Office/Level/Jurisdiction above are denormalized
	// copies of the corresponding entries for query convenience.
	Fields map[string]FieldValue `json:"fields"`

	// DataQualityScore is 0-100, recomputed on every merge, never hand-edited.
	DataQualityScore float64 `json:"data_quality_score"`

	// LastSeenBySource records when each source most recently reported this
	// representative. Drives the deactivation grace period.
	LastSeenBySource map[SourceSystem]time.Time `json:"last_seen_by_source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldConfidence returns the stored confidence for a field, or 0 if the
// field has no value yet.
func (c *CanonicalRecord) FieldConfidence(key string) float64 {
	return c.Fields[key].Confidence
}

// SyncDenormalized refreshes the denormalized header columns from Fields.
func (c *CanonicalRecord) SyncDenormalized() {
	if fv, ok := c.Fields[FieldName]; ok {
		c.Name = fv.Value
	}
	if fv, ok := c.Fields[FieldOffice]; ok {
		c.Office = fv.Value
	}
	if fv, ok := c.Fields[FieldLevel]; ok {
		c.Level = Level(fv.Value)
	}
	if fv, ok := c.Fields[FieldState]; ok {
		c.Jurisdiction.State = fv.Value
	}
	if fv, ok := c.Fields[FieldDistrict]; ok {
		c.Jurisdiction.District = fv.Value
	}
}

// PublicRecord is the provenance-stripped view served by the read API.
type PublicRecord struct {
	CanonicalID      string            `json:"canonical_id"`
	Name             string            `json:"name"`
	Office           string            `json:"office"`
	Level            Level             `json:"level"`
	Jurisdiction     Jurisdiction      `json:"jurisdiction"`
	IsActive         bool              `json:"is_active"`
	Fields           map[string]string `json:"fields"`
	DataQualityScore float64           `json:"data_quality_score"`
}

// Public strips provenance for external consumers.
func (c *CanonicalRecord) Public() PublicRecord {
	fields := make(map[string]string, len(c.Fields))
	for k, fv := range c.Fields {
		fields[k] = fv.Value
	}
	return PublicRecord{
		CanonicalID:      c.CanonicalID,
		Name:             c.Name,
		Office:           c.Office,
		Level:            c.Level,
		Jurisdiction:     c.Jurisdiction,
		IsActive:         c.IsActive,
		Fields:           fields,
		DataQualityScore: c.DataQualityScore,
	}
}
