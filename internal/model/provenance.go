package model

import "time"

// FieldProvenance is one append-only audit trail entry for a canonical field.
// Entries are never deleted; reverts append new entries rather than rewinding.
type FieldProvenance struct {
	ID           int64        `json:"id,omitempty"`
	CanonicalID  string       `json:"canonical_id"`
	FieldName    string       `json:"field_name"`
	OldValue     string       `json:"old_value,omitempty"`
	NewValue     string       `json:"new_value"`
	SourceSystem SourceSystem `json:"source_system"`
	Confidence   float64      `json:"confidence"`
	MatchMethod  MatchMethod  `json:"match_method"`
	RunID        string       `json:"run_id,omitempty"`
	ChangedAt    time.Time    `json:"changed_at"`
}
