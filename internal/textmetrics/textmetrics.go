// Package textmetrics computes objective quality metrics between a reference
// transcript and a hypothesis transcript: Levenshtein edit distance and
// similarity, Word Error Rate, Character Error Rate, and the inverse word
// match percentage, each with a discrete quality rating.
//
// All functions are pure and stateless. Results are value objects produced
// fresh on every computation — nothing here is cached or persisted.
//
// String distances are computed with github.com/antzucaro/matchr.
package textmetrics

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scribeval/pkg/types"
)

// Rating is a discrete quality bucket.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

// Rating bucket thresholds, applied to an accuracy percentage in [0, 100].
const (
	excellentThreshold = 90
	goodThreshold      = 75
	fairThreshold      = 50
)

// RatingForPercentage buckets an accuracy percentage: >=90 excellent,
// >=75 good, >=50 fair, else poor.
func RatingForPercentage(pct float64) Rating {
	switch {
	case pct >= excellentThreshold:
		return RatingExcellent
	case pct >= goodThreshold:
		return RatingGood
	case pct >= fairThreshold:
		return RatingFair
	default:
		return RatingPoor
	}
}

// MetricResult is an immutable computed metric value.
type MetricResult struct {
	// ID identifies the metric kind (e.g., "wer", "cer", "edit_distance").
	ID string

	// Value is the raw metric value (a distance, a rate in [0,1], or a
	// percentage depending on the metric).
	Value float64

	// DisplayValue is the human-readable rendering of Value.
	DisplayValue string

	// MaxValue is the upper bound of Value for this metric.
	MaxValue float64

	// Percentage is the accuracy percentage in [0, 100] backing Rating.
	Percentage float64

	// Rating is the discrete quality bucket for Percentage.
	Rating Rating
}

// tokenSeparator joins word tokens before the WER distance computation. The
// unit separator cannot occur in collapsed transcript text, so token
// boundaries survive the string-level Levenshtein.
const tokenSeparator = "\x1f"

// normalize lowercases s and collapses all whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// EditDistance returns the case-insensitive, whitespace-trimmed Levenshtein
// distance between a and b. Symmetric: EditDistance(a, b) == EditDistance(b, a).
func EditDistance(a, b string) int {
	return matchr.Levenshtein(
		strings.ToLower(strings.TrimSpace(a)),
		strings.ToLower(strings.TrimSpace(b)),
	)
}

// Similarity returns 1 - distance/max(len(a), len(b)) over the trimmed,
// lowercased strings. Two empty strings are fully similar (1).
func Similarity(a, b string) float64 {
	ta := strings.ToLower(strings.TrimSpace(a))
	tb := strings.ToLower(strings.TrimSpace(b))
	longest := max(len([]rune(ta)), len([]rune(tb)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(ta, tb))/float64(longest)
}

// JaroWinkler returns the Jaro-Winkler similarity of the two normalized
// strings in [0, 1]. An auxiliary metric: more forgiving of transpositions
// and shared prefixes than plain edit distance.
func JaroWinkler(a, b string) float64 {
	return matchr.JaroWinkler(normalize(a), normalize(b), false)
}

// WER returns the Word Error Rate of hypothesis against reference, clamped
// to [0, 1]. Both texts are lowercased and whitespace-collapsed, tokenized on
// spaces, and compared via Levenshtein distance over sentinel-joined token
// strings normalized by the reference's joined length.
//
// Edge cases: both empty => 0; empty reference with non-empty hypothesis => 1.
func WER(reference, hypothesis string) float64 {
	refTokens := strings.Fields(strings.ToLower(reference))
	hypTokens := strings.Fields(strings.ToLower(hypothesis))

	if len(refTokens) == 0 {
		if len(hypTokens) == 0 {
			return 0
		}
		return 1
	}

	refJoined := strings.Join(refTokens, tokenSeparator)
	hypJoined := strings.Join(hypTokens, tokenSeparator)

	dist := matchr.Levenshtein(refJoined, hypJoined)
	rate := float64(dist) / float64(len([]rune(refJoined)))
	return clamp01(rate)
}

// CER returns the Character Error Rate of hypothesis against reference,
// clamped to [0, 1]: Levenshtein distance over the lowercased,
// whitespace-collapsed character sequences normalized by the reference
// length. Same edge cases as [WER].
func CER(reference, hypothesis string) float64 {
	ref := normalize(reference)
	hyp := normalize(hypothesis)

	if ref == "" {
		if hyp == "" {
			return 0
		}
		return 1
	}

	dist := matchr.Levenshtein(ref, hyp)
	rate := float64(dist) / float64(len([]rune(ref)))
	return clamp01(rate)
}

// MatchPercent is the inverse convenience metric: 100 - WER percentage,
// clamped at 0.
func MatchPercent(reference, hypothesis string) float64 {
	pct := 100 - WER(reference, hypothesis)*100
	if pct < 0 {
		return 0
	}
	return pct
}

// EditDistanceMetric computes the edit distance metric between the two texts.
// Value is the raw distance; Percentage is the similarity as a percentage.
func EditDistanceMetric(reference, hypothesis string) MetricResult {
	dist := EditDistance(reference, hypothesis)
	sim := Similarity(reference, hypothesis)
	longest := max(
		len([]rune(strings.ToLower(strings.TrimSpace(reference)))),
		len([]rune(strings.ToLower(strings.TrimSpace(hypothesis)))),
	)
	pct := sim * 100
	return MetricResult{
		ID:           "edit_distance",
		Value:        float64(dist),
		DisplayValue: fmt.Sprintf("%d", dist),
		MaxValue:     float64(longest),
		Percentage:   pct,
		Rating:       RatingForPercentage(pct),
	}
}

// WERMetric computes the Word Error Rate metric. Value is the rate in [0, 1];
// the rating reflects the inverted rate (accuracy).
func WERMetric(reference, hypothesis string) MetricResult {
	rate := WER(reference, hypothesis)
	return errorRateMetric("wer", rate)
}

// CERMetric computes the Character Error Rate metric.
func CERMetric(reference, hypothesis string) MetricResult {
	rate := CER(reference, hypothesis)
	return errorRateMetric("cer", rate)
}

// MatchMetric computes the inverse word match percentage metric.
func MatchMetric(reference, hypothesis string) MetricResult {
	pct := MatchPercent(reference, hypothesis)
	return MetricResult{
		ID:           "word_match",
		Value:        pct,
		DisplayValue: fmt.Sprintf("%.1f%%", pct),
		MaxValue:     100,
		Percentage:   pct,
		Rating:       RatingForPercentage(pct),
	}
}

// errorRateMetric builds a MetricResult for a rate in [0, 1] whose rating
// inverts the rate into an accuracy percentage.
func errorRateMetric(id string, rate float64) MetricResult {
	accuracy := (1 - rate) * 100
	return MetricResult{
		ID:           id,
		Value:        rate,
		DisplayValue: fmt.Sprintf("%.1f%%", rate*100),
		MaxValue:     1,
		Percentage:   accuracy,
		Rating:       RatingForPercentage(accuracy),
	}
}

// Compare flattens the two transcripts and computes the full metric set:
// edit distance, WER, CER, and word match.
func Compare(original, generated types.Transcript) []MetricResult {
	ref := original.PlainText()
	hyp := generated.PlainText()
	return []MetricResult{
		EditDistanceMetric(ref, hyp),
		WERMetric(ref, hyp),
		CERMetric(ref, hyp),
		MatchMetric(ref, hyp),
	}
}

// clamp01 clamps v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
