package correlate

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// EngineConfig tunes the matching cascade. The defaults were chosen
// empirically; validate against a labeled sample before tightening them.
type EngineConfig struct {
	// SimilarityThreshold is the minimum name-similarity score recorded as
	// a candidate.
	SimilarityThreshold float64
	// AmbiguityMargin is the score distance under which two top candidates
	// count as a tie requiring manual resolution.
	AmbiguityMargin float64
}

func (cfg EngineConfig) ambiguityMargin() float64 {
	if cfg.AmbiguityMargin <= 0 {
		return 0.05
	}
	return cfg.AmbiguityMargin
}

// Candidate is one scored link proposed by the engine.
type Candidate struct {
	RentalClass string
	Method      Method
	Confidence  float64
}

// Outcome is the engine's verdict for one POS item number.
type Outcome struct {
	ItemNumber string
	Candidates []Candidate
	Ambiguous  bool
}

// Match applies the cascade (exact, then normalized, then name similarity)
// to every equipment item; the first tier producing candidates wins. The
// function is pure: persistence rules live in the service.
func Match(equipment []EquipmentRef, classes []ClassRef, cfg EngineConfig) []Outcome {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	margin := cfg.ambiguityMargin()

	exact := make(map[string][]ClassRef, len(classes))
	normalized := make(map[string][]ClassRef, len(classes))
	for _, class := range classes {
		exactKey := canonicalIdentifier(class.RentalClass)
		exact[exactKey] = append(exact[exactKey], class)
		normKey := numericIdentifier(class.RentalClass)
		if normKey != "" {
			normalized[normKey] = append(normalized[normKey], class)
		}
	}

	outcomes := make([]Outcome, 0, len(equipment))
	for _, item := range equipment {
		outcome := Outcome{ItemNumber: item.ItemNumber}

		if matches, ok := exact[canonicalIdentifier(item.ItemNumber)]; ok {
			for _, class := range matches {
				outcome.Candidates = append(outcome.Candidates, Candidate{
					RentalClass: class.RentalClass,
					Method:      MethodExact,
					Confidence:  1.0,
				})
			}
		} else if key := numericIdentifier(item.ItemNumber); key != "" && len(normalized[key]) > 0 {
			for _, class := range normalized[key] {
				outcome.Candidates = append(outcome.Candidates, Candidate{
					RentalClass: class.RentalClass,
					Method:      MethodNormalized,
					Confidence:  0.9,
				})
			}
		} else if item.Name != "" {
			for _, class := range classes {
				score := NameSimilarity(item.Name, class.CommonName)
				if score >= cfg.SimilarityThreshold {
					outcome.Candidates = append(outcome.Candidates, Candidate{
						RentalClass: class.RentalClass,
						Method:      MethodNameSimilarity,
						Confidence:  score,
					})
				}
			}
		}

		sort.SliceStable(outcome.Candidates, func(i, j int) bool {
			return outcome.Candidates[i].Confidence > outcome.Candidates[j].Confidence
		})
		if len(outcome.Candidates) > 1 {
			top, second := outcome.Candidates[0], outcome.Candidates[1]
			outcome.Ambiguous = top.Confidence-second.Confidence < margin
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// canonicalIdentifier trims, lowercases and strips leading zeros so "0042"
// and "42" compare equal in the exact tier.
func canonicalIdentifier(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

// numericIdentifier reduces an identifier to its digits, dropping spreadsheet
// artifacts such as a trailing ".0". Returns "" for non-numeric identifiers.
func numericIdentifier(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	s = strings.TrimSuffix(s, ".00")
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	out := strings.TrimLeft(digits.String(), "0")
	if out == "" && digits.Len() > 0 {
		return "0"
	}
	return out
}

// NameSimilarity scores two display names in [0,1] using the better of
// token overlap and edit-distance ratio.
func NameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	token := tokenOverlap(a, b)
	edit := editRatio(a, b)
	if token > edit {
		return token
	}
	return edit
}

func tokenOverlap(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	var intersection int
	for token := range tokensA {
		if tokensB[token] {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, token := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(token) > 1 {
			out[token] = true
		}
	}
	return out
}

func editRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}
