package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/scribeval/internal/config"
	"github.com/MrWong99/scribeval/internal/run"
	"github.com/MrWong99/scribeval/internal/textmetrics"
	"github.com/MrWong99/scribeval/pkg/jobs"
	"github.com/MrWong99/scribeval/pkg/provider/llm"
	"github.com/MrWong99/scribeval/pkg/types"
)

// ── Input readers ─────────────────────────────────────────────────────────────

// audioMIMETypes maps file extensions to MIME types for the audio input.
var audioMIMETypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// readAudio loads the audio file into an llm.Media with a MIME type derived
// from the file extension.
func readAudio(path string) (*llm.Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mime, ok := audioMIMETypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported audio extension %q (supported: wav, mp3, ogg, m4a, flac, webm)", filepath.Ext(path))
	}
	return &llm.Media{Data: data, MIMEType: mime}, nil
}

// readReference loads the reference transcript. A .json file is decoded as a
// full transcript; anything else is treated as plain text with one segment
// per non-empty line.
func readReference(path string) (types.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Transcript{}, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var t types.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return types.Transcript{}, fmt.Errorf("decode transcript json: %w", err)
		}
		if len(t.Segments) == 0 {
			return types.Transcript{}, fmt.Errorf("transcript %q has no segments", path)
		}
		return t, nil
	}

	var t types.Transcript
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t.Segments = append(t.Segments, types.Segment{ID: len(t.Segments), Text: line})
	}
	if len(t.Segments) == 0 {
		return types.Transcript{}, fmt.Errorf("reference %q is empty", path)
	}
	return t, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       scribeval — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printStep("Transcription", &cfg.Steps.Transcription)
	printStep("Normalization", cfg.Steps.Normalization)
	printStep("Critique", &cfg.Steps.Critique)
	printBackend("Job service", cfg.Backend.JobServiceURL)
	printBackend("Run store", cfg.Backend.RunStoreURL)
	fmt.Printf("║  Evaluators      : %-19d║\n", len(cfg.Evaluators))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Debug server    : %-19s║\n", trim(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printStep(name string, step *config.StepConfig) {
	value := "(disabled)"
	if step != nil {
		value = step.Provider.Name + " / " + step.Provider.Model
	}
	fmt.Printf("║  %-14s  : %-19s║\n", name, trim(value))
}

func printBackend(name, url string) {
	value := url
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-14s  : %-19s║\n", name, trim(value))
}

func trim(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Result printing ───────────────────────────────────────────────────────────

// printEvalResult renders a local evaluation's critiques, statistics, and
// text metrics to stdout.
func printEvalResult(result *types.EvalResult, original types.Transcript) {
	generated := result.Transcription
	if result.Normalization != nil {
		generated = result.Normalization
	}

	if result.Evaluation != nil {
		printCritiques(result.Evaluation.Critiques)
		printStatistics(result.Evaluation.Statistics)
	}
	if generated != nil && generated.Transcript != nil {
		printMetrics(textmetrics.Compare(original, *generated.Transcript))
	}
}

func printCritiques(critiques []types.SegmentCritique) {
	if len(critiques) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Segment critiques:")
	for _, c := range critiques {
		fmt.Printf("  [%d] severity=%-8s verdict=%-8s\n", c.SegmentID, c.Severity, c.LikelyCorrect)
		if c.Severity != types.SeverityNone {
			fmt.Printf("      original:  %s\n", c.OriginalText)
			fmt.Printf("      generated: %s\n", c.GeneratedText)
		}
		if c.Comment != "" {
			fmt.Printf("      note: %s\n", c.Comment)
		}
	}
}

func printStatistics(stats *types.EvaluationStatistics) {
	if stats == nil {
		return
	}
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       scribeval — evaluation          ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Segments        : %-19d║\n", stats.TotalSegments)
	fmt.Printf("║  Matches         : %-19d║\n", stats.MatchCount)
	fmt.Printf("║  Minor issues    : %-19d║\n", stats.MinorCount)
	fmt.Printf("║  Moderate issues : %-19d║\n", stats.ModerateCount)
	fmt.Printf("║  Critical issues : %-19d║\n", stats.CriticalCount)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printMetrics(results []textmetrics.MetricResult) {
	fmt.Println()
	fmt.Println("Text metrics (reference vs. generated):")
	for _, m := range results {
		fmt.Printf("  %-14s %-10s %5.1f%%  %s\n", m.ID, m.DisplayValue, m.Percentage, m.Rating)
	}
}

// printJobOutcome renders a direct-mode job's final state.
func printJobOutcome(evaluatorID string, job *jobs.Job) {
	fmt.Printf("\nevaluator %s: job %s finished with status %q\n", evaluatorID, job.ID, job.Status)
	if job.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", job.ErrorMessage)
	}
}

// printRunOutcome renders a reconciled run's final state, including the
// folded step results when the backend attached them.
func printRunOutcome(evaluatorID string, r *run.EvalRun) {
	fmt.Printf("\nevaluator %s: run %s finished with status %q\n", evaluatorID, r.ID, r.Status)
	if r.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", r.ErrorMessage)
	}
	if r.Result != nil && r.Result.Evaluation != nil {
		printStatistics(r.Result.Evaluation.Statistics)
	}
}
