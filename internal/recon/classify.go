package recon

import "github.com/subwatch/subwatch/internal/models"

// Classify combines the cross-source matcher and pattern detector outputs
// into a confidence label. Evaluated in priority order: a corroborating email
// is the strongest signal, a recurring pattern alone still confirms, and a
// lone transaction stays potential and is surfaced to the user instead of
// being auto-applied.
func Classify(emailMatched, patternDetected bool) (models.Confidence, models.MatchReason) {
	switch {
	case emailMatched:
		return models.ConfidenceConfirmed, models.ReasonTransactionEmailMatch
	case patternDetected:
		return models.ConfidenceConfirmed, models.ReasonTransactionPattern
	default:
		return models.ConfidencePotential, models.ReasonTransactionOnly
	}
}
