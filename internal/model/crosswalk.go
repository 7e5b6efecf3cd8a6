package model

import "time"

// MatchMethod describes how a crosswalk entry was established.
type MatchMethod string

const (
	MatchExactExternalID MatchMethod = "exact-external-id"
	MatchNameFuzzy       MatchMethod = "name+jurisdiction-fuzzy"
	MatchManualOverride  MatchMethod = "manual-override"
)

// CrosswalkEntry relates a (source_system, source_id) pair to a canonical ID.
// The pair is the primary key: it maps to exactly one canonical ID at any time.
// A canonical ID may have any number of crosswalk entries, one per source that
// has ever reported it.
type CrosswalkEntry struct {
	SourceSystem SourceSystem `json:"source_system"`
	SourceID     string       `json:"source_id"`
	CanonicalID  string       `json:"canonical_id"`
	Confidence   float64      `json:"confidence"`
	MatchMethod  MatchMethod  `json:"match_method"`
	LastVerified time.Time    `json:"last_verified"`
}
