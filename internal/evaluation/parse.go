package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/scribeval/pkg/provider/llm"
	"github.com/MrWong99/scribeval/pkg/types"
)

// ErrNoJSON is returned when a model response contains no parseable JSON
// object at all.
var ErrNoJSON = errors.New("evaluation: model response contains no JSON object")

// decodeResponse unmarshals a model response into out. It prefers the
// provider's pre-parsed JSON, then a strict parse of the full response text,
// and finally a permissive extraction of the first top-level {...} block from
// free text. fallback reports whether the permissive path was taken.
//
// All three paths land in the same out value, so callers never see which one
// succeeded.
func decodeResponse(resp *llm.Response, out any) (fallback bool, err error) {
	if len(resp.Parsed) > 0 {
		if err := json.Unmarshal(resp.Parsed, out); err != nil {
			return false, fmt.Errorf("evaluation: parse structured model response: %w", err)
		}
		return false, nil
	}

	text := strings.TrimSpace(resp.Text)
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return false, nil
	}

	block, ok := extractJSONBlock(text)
	if !ok {
		return false, ErrNoJSON
	}
	if err := json.Unmarshal(block, out); err != nil {
		return true, fmt.Errorf("evaluation: parse extracted JSON block: %w", err)
	}
	return true, nil
}

// extractJSONBlock finds the first balanced top-level {...} object in s.
// Models often wrap their JSON in prose or markdown fences; this recovers the
// object without caring about the wrapping.
func extractJSONBlock(s string) (json.RawMessage, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return json.RawMessage(s[start : i+1]), true
			}
		}
	}
	return nil, false
}

// segmentPayload is the wire form of one transcript segment as produced by
// the model: start/end in seconds.
type segmentPayload struct {
	ID      int     `json:"id"`
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// transcriptPayload is the wire form of a transcription or normalization
// step's output.
type transcriptPayload struct {
	Language string           `json:"language"`
	Segments []segmentPayload `json:"segments"`
}

func (p transcriptPayload) toTranscript() types.Transcript {
	t := types.Transcript{Language: p.Language}
	t.Segments = make([]types.Segment, 0, len(p.Segments))
	for i, s := range p.Segments {
		id := s.ID
		if id == 0 && i > 0 {
			// Models sometimes omit ids entirely; fall back to position.
			id = i
		}
		t.Segments = append(t.Segments, types.Segment{
			ID:      id,
			Speaker: s.Speaker,
			Start:   time.Duration(s.Start * float64(time.Second)),
			End:     time.Duration(s.End * float64(time.Second)),
			Text:    s.Text,
		})
	}
	return t
}

// critiquePayload is the wire form of the critique step's output. Statistics
// is optional: when the model omits it, [DeriveStatistics] fills the gap.
type critiquePayload struct {
	Segments   []types.SegmentCritique     `json:"segments"`
	Statistics *types.EvaluationStatistics `json:"statistics"`
}

// normalizeCritiques collapses unrecognised enum values to safe defaults in
// place: an unknown severity becomes "none" and an unknown likely-correct
// verdict becomes "unclear". Models drift on enums; a bad value must not fail
// an otherwise usable run.
func normalizeCritiques(segs []types.SegmentCritique) {
	for i := range segs {
		if !segs[i].Severity.IsValid() {
			segs[i].Severity = types.SeverityNone
		}
		if !segs[i].LikelyCorrect.IsValid() {
			segs[i].LikelyCorrect = types.LikelyUnclear
		}
	}
}

// DeriveStatistics reduces critique segments into aggregate counts. Used when
// the model response carries no statistics object of its own. Segments must
// already be normalized.
func DeriveStatistics(segs []types.SegmentCritique) types.EvaluationStatistics {
	stats := types.EvaluationStatistics{TotalSegments: len(segs)}
	for _, s := range segs {
		switch s.Severity {
		case types.SeverityCritical:
			stats.CriticalCount++
		case types.SeverityModerate:
			stats.ModerateCount++
		case types.SeverityMinor:
			stats.MinorCount++
		case types.SeverityNone:
			stats.MatchCount++
		}
		switch s.LikelyCorrect {
		case types.LikelyOriginal:
			stats.OriginalCorrectCount++
		case types.LikelyGenerated:
			stats.GeneratedCorrectCount++
		case types.LikelyBoth:
			stats.OriginalCorrectCount++
			stats.GeneratedCorrectCount++
		}
	}
	return stats
}
