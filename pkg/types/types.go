// Package types defines the shared domain types used across all scribeval packages.
//
// These types form the lingua franca between the evaluation orchestrator, the
// backend clients, and the metrics engine. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Segment is one ordered unit of a transcript: a single utterance with its
// position in the audio and the speaker label when known.
type Segment struct {
	// ID is the zero-based position of the segment within its transcript.
	ID int `json:"id"`

	// Speaker is the speaker label reported by the transcription model.
	// Empty when the model performs no diarization.
	Speaker string `json:"speaker,omitempty"`

	// Start and End bound the segment within the source audio.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`

	// Text is the transcribed content of this segment.
	Text string `json:"text"`
}

// Transcript is an ordered list of segments produced by a transcription or
// normalization step.
type Transcript struct {
	// Language is the BCP-47 language code of the transcript (e.g., "en").
	Language string `json:"language,omitempty"`

	// Segments holds the transcript content in playback order.
	Segments []Segment `json:"segments"`
}

// PlainText flattens the transcript into a single string by joining segment
// text with single spaces. This is the canonical input form for the text
// metrics (WER, CER, edit distance).
func (t Transcript) PlainText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Severity grades how badly a generated segment diverges from the original.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a recognised severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityNone, SeverityMinor, SeverityModerate, SeverityCritical:
		return true
	}
	return false
}

// LikelyCorrect records which side of a disputed segment the judge model
// believes is right.
type LikelyCorrect string

const (
	LikelyOriginal  LikelyCorrect = "original"
	LikelyGenerated LikelyCorrect = "generated"
	LikelyBoth      LikelyCorrect = "both"
	LikelyNeither   LikelyCorrect = "neither"
	LikelyUnclear   LikelyCorrect = "unclear"
)

// IsValid reports whether l is a recognised likely-correct value.
func (l LikelyCorrect) IsValid() bool {
	switch l {
	case LikelyOriginal, LikelyGenerated, LikelyBoth, LikelyNeither, LikelyUnclear:
		return true
	}
	return false
}

// SegmentCritique is the judge model's per-segment comparison of the original
// transcript against the generated one.
type SegmentCritique struct {
	// SegmentID references the Segment.ID this critique applies to.
	SegmentID int `json:"segmentId"`

	// OriginalText and GeneratedText are the two texts compared.
	OriginalText  string `json:"originalText"`
	GeneratedText string `json:"generatedText"`

	// Severity grades the divergence. "none" means the segments match.
	Severity Severity `json:"severity"`

	// LikelyCorrect is the judge's verdict on which side is right.
	LikelyCorrect LikelyCorrect `json:"likelyCorrect"`

	// Comment is the judge's free-text reasoning. May be empty.
	Comment string `json:"comment,omitempty"`
}

// EvaluationStatistics aggregates critique segments into counts. Either
// reported directly by the judge model or derived by reducing the segment
// list. Invariant: CriticalCount + ModerateCount + MinorCount + MatchCount
// <= TotalSegments.
type EvaluationStatistics struct {
	TotalSegments int `json:"totalSegments"`

	CriticalCount int `json:"criticalCount"`
	ModerateCount int `json:"moderateCount"`
	MinorCount    int `json:"minorCount"`

	// MatchCount counts segments with severity "none".
	MatchCount int `json:"matchCount"`

	// OriginalCorrectCount and GeneratedCorrectCount tally the per-side
	// verdicts ("both" increments both counters).
	OriginalCorrectCount  int `json:"originalCorrectCount"`
	GeneratedCorrectCount int `json:"generatedCorrectCount"`
}

// StepResult is the output of one pipeline step. Exactly one of Transcript or
// Critiques is populated depending on the step kind.
type StepResult struct {
	// Model is the model identifier that produced this result.
	Model string `json:"model"`

	// GeneratedAt is when the step finished.
	GeneratedAt time.Time `json:"generatedAt"`

	// Transcript is set for transcription and normalization steps.
	Transcript *Transcript `json:"transcript,omitempty"`

	// Critiques is set for the evaluation step.
	Critiques []SegmentCritique `json:"critiques,omitempty"`

	// Statistics is set for the evaluation step, either model-reported or
	// derived from Critiques.
	Statistics *EvaluationStatistics `json:"statistics,omitempty"`
}

// EvalResult folds the per-step outputs of one evaluator execution.
type EvalResult struct {
	Transcription *StepResult `json:"transcription,omitempty"`
	Normalization *StepResult `json:"normalization,omitempty"`
	Evaluation    *StepResult `json:"evaluation,omitempty"`
}
