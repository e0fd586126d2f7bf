package evaluation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribeval/internal/evaluation"
	"github.com/MrWong99/scribeval/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribeval/pkg/provider/llm/mock"
	"github.com/MrWong99/scribeval/pkg/types"
)

const transcriptJSON = `{"language":"en","segments":[` +
	`{"id":0,"speaker":"A","start":0,"end":2,"text":"hello there"},` +
	`{"id":1,"speaker":"B","start":2,"end":4,"text":"general kenobi"}]}`

const critiqueJSON = `{"segments":[` +
	`{"segmentId":0,"originalText":"hello there","generatedText":"hello there","severity":"none","likelyCorrect":"both"},` +
	`{"segmentId":1,"originalText":"general kenobi","generatedText":"general konobi","severity":"moderate","likelyCorrect":"original"}]}`

// progressCollector records progress reports; the critique step's time-based
// reporter runs on its own goroutine.
type progressCollector struct {
	mu      sync.Mutex
	reports []evaluation.Progress
}

func (c *progressCollector) record(p evaluation.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, p)
}

func (c *progressCollector) all() []evaluation.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]evaluation.Progress(nil), c.reports...)
}

func testInput() evaluation.Input {
	return evaluation.Input{
		Audio: &llm.Media{Data: []byte("riff"), MIMEType: "audio/wav"},
		Original: types.Transcript{Segments: []types.Segment{
			{ID: 0, Text: "hello there"},
			{ID: 1, Text: "general kenobi"},
		}},
		Language: "en",
	}
}

func TestEvaluate_FullPipeline(t *testing.T) {
	t.Parallel()

	transcriber := &llmmock.Provider{
		InvokeResponse: &llm.Response{Text: transcriptJSON},
		ModelName:      "whisper-test",
	}
	judge := &llmmock.Provider{
		InvokeResponse: &llm.Response{Text: critiqueJSON},
		ModelName:      "judge-test",
	}
	var progress progressCollector

	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{
			Provider:       transcriber,
			PromptTemplate: "Transcribe this {{language}} recording as JSON matching {{schema}}.",
		},
		Critique: evaluation.StepConfig{
			Provider:       judge,
			PromptTemplate: "Compare {{original_transcript}} against {{generated_transcript}}. Output JSON per {{schema}}.",
		},
		OnProgress: progress.record,
	})

	result, err := o.Evaluate(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if result.Transcription == nil || result.Transcription.Transcript == nil {
		t.Fatal("missing transcription result")
	}
	if got := len(result.Transcription.Transcript.Segments); got != 2 {
		t.Errorf("transcript segments = %d, want 2", got)
	}
	if result.Transcription.Model != "whisper-test" {
		t.Errorf("transcription model = %q", result.Transcription.Model)
	}
	if result.Normalization != nil {
		t.Error("normalization result set without a normalization step")
	}
	if result.Evaluation == nil {
		t.Fatal("missing evaluation result")
	}
	if got := len(result.Evaluation.Critiques); got != 2 {
		t.Errorf("critiques = %d, want 2", got)
	}

	// The model omitted statistics; they must be derived from the segments.
	stats := result.Evaluation.Statistics
	if stats == nil {
		t.Fatal("missing derived statistics")
	}
	if stats.TotalSegments != 2 || stats.MatchCount != 1 || stats.ModerateCount != 1 {
		t.Errorf("statistics = %+v", stats)
	}

	// Audio flows into the transcription request only.
	if len(transcriber.InvokeCalls) != 1 || transcriber.InvokeCalls[0].Req.Audio == nil {
		t.Error("transcription request missing audio")
	}
	if len(judge.InvokeCalls) != 1 || judge.InvokeCalls[0].Req.Audio != nil {
		t.Error("critique request should not carry audio")
	}
	if !strings.Contains(judge.InvokeCalls[0].Req.Prompt, "hello there") {
		t.Error("critique prompt missing original transcript text")
	}

	reports := progress.all()
	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	last := reports[len(reports)-1]
	if last.Stage != evaluation.StageComplete || last.Percent != 100 {
		t.Errorf("final progress = %+v, want complete at 100", last)
	}
	// Percent never decreases within a stage.
	byStage := make(map[evaluation.Stage]float64)
	for _, p := range reports {
		if prev, ok := byStage[p.Stage]; ok && p.Percent < prev {
			t.Errorf("progress for stage %s decreased: %v -> %v", p.Stage, prev, p.Percent)
		}
		byStage[p.Stage] = p.Percent
	}
}

func TestEvaluate_WithNormalization(t *testing.T) {
	t.Parallel()

	transcriber := &llmmock.Provider{InvokeResponse: &llm.Response{Text: transcriptJSON}}
	normalizer := &llmmock.Provider{
		InvokeResponse: &llm.Response{Text: `{"language":"en","segments":[{"id":0,"text":"hello there general kenobi"}]}`},
		ModelName:      "normalizer-test",
	}
	judge := &llmmock.Provider{InvokeResponse: &llm.Response{Text: critiqueJSON}}

	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{Provider: transcriber, PromptTemplate: "transcribe {{language}}"},
		Normalization: &evaluation.StepConfig{Provider: normalizer, PromptTemplate: "normalize {{transcript}}"},
		Critique:      evaluation.StepConfig{Provider: judge, PromptTemplate: "judge {{original_transcript}} vs {{generated_transcript}}"},
	})

	result, err := o.Evaluate(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Normalization == nil || result.Normalization.Model != "normalizer-test" {
		t.Fatal("missing normalization result")
	}
	// The critique must compare against the normalized transcript.
	if !strings.Contains(judge.InvokeCalls[0].Req.Prompt, "hello there general kenobi") {
		t.Error("critique prompt not built from normalized transcript")
	}
}

func TestEvaluate_ValidationFailsFast(t *testing.T) {
	t.Parallel()

	transcriber := &llmmock.Provider{InvokeResponse: &llm.Response{Text: transcriptJSON}}
	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{Provider: transcriber, PromptTemplate: "transcribe"},
		Critique:      evaluation.StepConfig{Provider: &llmmock.Provider{}, PromptTemplate: "judge"},
	})

	in := testInput()
	in.Audio = nil
	result, err := o.Evaluate(context.Background(), in)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if result != nil {
		t.Error("result should be nil on validation failure")
	}
	if !strings.Contains(err.Error(), "no audio input") {
		t.Errorf("err = %v, want mention of missing audio", err)
	}
	if len(transcriber.InvokeCalls) != 0 {
		t.Error("provider invoked despite failed validation")
	}
}

func TestEvaluate_UnknownTemplateVariable(t *testing.T) {
	t.Parallel()

	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{
			Provider:       &llmmock.Provider{},
			PromptTemplate: "transcribe {{nonsense}}",
		},
		Critique: evaluation.StepConfig{Provider: &llmmock.Provider{}, PromptTemplate: "judge"},
	})

	_, err := o.Evaluate(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "nonsense") {
		t.Errorf("err = %v, want unknown-variable validation error", err)
	}
}

func TestEvaluate_CancellationUnmasked(t *testing.T) {
	t.Parallel()

	blocking := &llmmock.Provider{
		InvokeFunc: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{Provider: blocking, PromptTemplate: "transcribe"},
		Critique:      evaluation.StepConfig{Provider: &llmmock.Provider{}, PromptTemplate: "judge"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := o.Evaluate(ctx, testInput())
	if result != nil {
		t.Error("result should be nil after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled to survive unwrapping", err)
	}
}

func TestEvaluate_UnparseableResponse(t *testing.T) {
	t.Parallel()

	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{
			Provider:       &llmmock.Provider{InvokeResponse: &llm.Response{Text: "sorry, no can do"}},
			PromptTemplate: "transcribe",
		},
		Critique: evaluation.StepConfig{Provider: &llmmock.Provider{}, PromptTemplate: "judge"},
	})

	result, err := o.Evaluate(context.Background(), testInput())
	if result != nil {
		t.Error("result should be nil on parse failure")
	}
	if !errors.Is(err, evaluation.ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
}

func TestEvaluate_DefaultsUnknownEnums(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{InvokeResponse: &llm.Response{
		Text: `{"segments":[{"segmentId":0,"severity":"apocalyptic","likelyCorrect":"who knows"}]}`,
	}}
	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{
			Provider:       &llmmock.Provider{InvokeResponse: &llm.Response{Text: transcriptJSON}},
			PromptTemplate: "transcribe",
		},
		Critique: evaluation.StepConfig{Provider: judge, PromptTemplate: "judge"},
	})

	result, err := o.Evaluate(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	c := result.Evaluation.Critiques[0]
	if c.Severity != types.SeverityNone {
		t.Errorf("severity = %q, want none", c.Severity)
	}
	if c.LikelyCorrect != types.LikelyUnclear {
		t.Errorf("likelyCorrect = %q, want unclear", c.LikelyCorrect)
	}
}

func TestEvaluate_ModelStatisticsPreferred(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{InvokeResponse: &llm.Response{
		Text: `{"segments":[{"segmentId":0,"severity":"none","likelyCorrect":"both"}],` +
			`"statistics":{"totalSegments":7,"matchCount":7}}`,
	}}
	o := evaluation.New(evaluation.Config{
		Transcription: evaluation.StepConfig{
			Provider:       &llmmock.Provider{InvokeResponse: &llm.Response{Text: transcriptJSON}},
			PromptTemplate: "transcribe",
		},
		Critique: evaluation.StepConfig{Provider: judge, PromptTemplate: "judge"},
	})

	result, err := o.Evaluate(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Evaluation.Statistics.TotalSegments != 7 {
		t.Errorf("model-provided statistics not preferred: %+v", result.Evaluation.Statistics)
	}
}
