// Package sentiment provides message sentiment scoring.
package sentiment

import (
	"context"
)

// Label classifies the overall sentiment of a text.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// Result is the outcome of analyzing one text.
type Result struct {
	Label      Label
	Score      float64 // -1 (negative) to 1 (positive)
	Confidence float64 // 0 to 1
}

// Analyzer scores the sentiment of a text. Implementations may call external
// services; the engine treats failures as a missing signal.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}
