package model

import "time"

// ReviewStatus is the workflow state of a manual-review queue item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
)

// ReviewCandidate is one of the canonical records a queued source record
// ambiguously matched against.
type ReviewCandidate struct {
	CanonicalID string  `json:"canonical_id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
}

// ReviewItem is a source record whose match was ambiguous: two or more
// candidates scored within the ambiguity margin of each other. Queued for a
// human decision, never auto-merged.
type ReviewItem struct {
	ID         string            `json:"id"`
	Record     SourceRecord      `json:"record"`
	Candidates []ReviewCandidate `json:"candidates"`
	Reason     string            `json:"reason"`
	Status     ReviewStatus      `json:"status"`
	// ResolvedCanonicalID is set when an operator assigns the record; empty
	// means the operator minted a new canonical record instead.
	ResolvedCanonicalID string     `json:"resolved_canonical_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}
