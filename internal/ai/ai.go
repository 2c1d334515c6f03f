// Package ai provides the classifier/extractor used to turn raw email and
// statement text into candidate subscription evidence. The engine only
// depends on the Classifier interface; extraction quality is an upstream
// concern.
package ai

import (
	"context"

	"github.com/subwatch/subwatch/internal/models"
)

// Classifier decides whether a text looks subscription-related and extracts
// a structured candidate from it. Extract returns (nil, nil) when the model
// rejects the text as not describing a subscription event.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
	Extract(ctx context.Context, text string) (*models.CandidateEvidence, error)
}
