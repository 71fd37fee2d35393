package sentiment

import (
	"context"
	"strings"
)

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "amazing": {}, "wonderful": {},
	"fantastic": {}, "happy": {}, "pleased": {}, "satisfied": {}, "thanks": {},
	"thank": {}, "love": {}, "perfect": {}, "awesome": {}, "helpful": {},
	"best": {}, "nice": {}, "appreciate": {}, "gracias": {}, "bien": {},
	"excelente": {}, "genial": {}, "bueno": {}, "feliz": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "horrible": {}, "angry": {},
	"frustrated": {}, "disappointed": {}, "upset": {}, "hate": {}, "worst": {},
	"useless": {}, "stupid": {}, "annoying": {}, "ridiculous": {},
	"unacceptable": {}, "furious": {}, "disgusting": {}, "mal": {},
	"enojado": {}, "frustrado": {}, "decepcionado": {},
}

var intensifiers = map[string]struct{}{
	"very": {}, "really": {}, "extremely": {}, "absolutely": {}, "totally": {},
	"muy": {},
}

// KeywordAnalyzer scores sentiment from weighted keyword matches. It is the
// default backend when no external scoring service is configured.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer creates a keyword-based analyzer.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

// Analyze scores the given text. Empty input is neutral with full confidence.
func (a *KeywordAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Label: LabelNeutral, Score: 0, Confidence: 1}, nil
	}

	words := strings.Fields(strings.ToLower(text))
	var positive, negative, boost float64
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if _, ok := positiveWords[w]; ok {
			positive++
		}
		if _, ok := negativeWords[w]; ok {
			negative++
		}
		if _, ok := intensifiers[w]; ok {
			boost++
		}
	}

	if boost > 0 {
		positive *= 1.5
		negative *= 1.5
	}

	// Normalize into a score on [-1, 1]; mostly-neutral text stays near 0.
	total := positive + negative + 0.1
	positiveScore := positive / total
	negativeScore := negative / total
	neutralScore := 1 - positiveScore - negativeScore
	if neutralScore < 0 {
		neutralScore = 0
	}
	sum := positiveScore + negativeScore + neutralScore
	positiveScore /= sum
	negativeScore /= sum
	neutralScore /= sum

	label := LabelNeutral
	switch {
	case positiveScore > negativeScore && positiveScore > neutralScore:
		label = LabelPositive
	case negativeScore > positiveScore && negativeScore > neutralScore:
		label = LabelNegative
	}

	confidence := positiveScore
	if negativeScore > confidence {
		confidence = negativeScore
	}
	if neutralScore > confidence {
		confidence = neutralScore
	}

	return Result{
		Label:      label,
		Score:      positiveScore - negativeScore,
		Confidence: confidence,
	}, nil
}
