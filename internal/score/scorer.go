package score

import (
	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/model"
)

// quality-score weight key for the "any official contact method" requirement.
const weightContactMethod = "contact_method"

// contactFields satisfy the official-contact-method requirement; the best
// scoring one counts.
var contactFields = []string{
	model.FieldOfficialEmail,
	model.FieldPhone,
	model.FieldWebsite,
	model.FieldAddress,
}

// Scorer assigns per-field confidence and the aggregate data quality score.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// FieldConfidence computes the confidence of a field value:
//
//	reliability(source) × matchConfidence × corroboration
//
// corroboration grows with each independent source reporting the same value
// and is capped to prevent runaway inflation. agreeingSources counts all
// sources reporting the value, including the reporting one; values seen by a
// single source get no bonus.
func (s *Scorer) FieldConfidence(system model.SourceSystem, matchConfidence float64, agreeingSources int) float64 {
	if matchConfidence <= 0 {
		return 0
	}
	if matchConfidence > 1 {
		matchConfidence = 1
	}

	conf := s.cfg.ReliabilityFor(string(system)) * matchConfidence

	if agreeingSources > 1 {
		bonus := 1 + s.cfg.CorroborationBonus*float64(agreeingSources-1)
		if bonus > s.cfg.CorroborationCap {
			bonus = s.cfg.CorroborationCap
		}
		conf *= bonus
	}

	if conf > 1 {
		conf = 1
	}
	return conf
}

// QualityScore computes the 0-100 aggregate from required-field completeness
// and stored field confidence. Adding a corroborating source for an existing
// value never decreases the score; losing a high-confidence source never
// increases it.
func (s *Scorer) QualityScore(fields map[string]model.FieldValue) float64 {
	var total, maxTotal float64

	for key, weight := range s.cfg.QualityWeights {
		maxTotal += weight

		var conf float64
		switch key {
		case weightContactMethod:
			for _, f := range contactFields {
				if fv, ok := fields[f]; ok && fv.Value != "" && fv.Confidence > conf {
					conf = fv.Confidence
				}
			}
		case "jurisdiction":
			if fv, ok := fields[model.FieldState]; ok && fv.Value != "" {
				conf = fv.Confidence
			}
		default:
			if fv, ok := fields[key]; ok && fv.Value != "" {
				conf = fv.Confidence
			}
		}

		if conf > 0 {
			total += weight * conf
		} else {
			total -= s.cfg.MissingFieldPenalty
		}
	}

	if maxTotal <= 0 {
		return 0
	}

	score := total / maxTotal * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
