package ai

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/protocol"
)

func TestParseSuggestionToleratesFencesAndProse(t *testing.T) {
	raw := "Sure, here is the coaching advice:\n```json\n" +
		`{"suggested_answer":"Lead with the migration project.","improvements":"Quantify the impact."}` +
		"\n```\nGood luck!"

	result, err := parseSuggestion(raw)
	if err != nil {
		t.Fatalf("parseSuggestion: %v", err)
	}
	if result.SuggestedAnswer != "Lead with the migration project." {
		t.Errorf("unexpected suggested answer: %q", result.SuggestedAnswer)
	}
	if result.Improvements != "Quantify the impact." {
		t.Errorf("unexpected improvements: %q", result.Improvements)
	}
}

func TestParseSuggestionRejectsMissingAnswer(t *testing.T) {
	if _, err := parseSuggestion(`{"improvements":"be concise"}`); err == nil {
		t.Fatal("expected error for output without suggested_answer")
	}
	if _, err := parseSuggestion("the model refused to answer"); err == nil {
		t.Fatal("expected error for output without a JSON object")
	}
}

func TestParseSummaryRejectsMissingSummary(t *testing.T) {
	if _, err := parseSummary(`{"areas_for_improvement":"pacing"}`); err == nil {
		t.Fatal("expected error for output without summary")
	}
}

func TestBuildSuggestionPromptIncludesCandidateAnswer(t *testing.T) {
	withAnswer := buildSuggestionPrompt(protocol.SuggestionRequest{
		InterviewerQuestion: "Tell me about a conflict.",
		UserResponse:        "I talked it out with my teammate.",
	})
	if !strings.Contains(withAnswer, "I talked it out with my teammate.") {
		t.Errorf("prompt should quote the candidate answer: %q", withAnswer)
	}
	if !strings.Contains(withAnswer, "improve") {
		t.Errorf("prompt with an answer should ask for improvements: %q", withAnswer)
	}

	withoutAnswer := buildSuggestionPrompt(protocol.SuggestionRequest{
		InterviewerQuestion: "Tell me about a conflict.",
	})
	if strings.Contains(withoutAnswer, "The candidate answered") {
		t.Errorf("prompt without an answer should not mention one: %q", withoutAnswer)
	}
}

func TestSuggestWithMockGenerator(t *testing.T) {
	svc := NewService(context.Background(), config.CoachConfig{Mode: "mock"}, nil,
		NewMockGenerator(), slog.Default())
	defer svc.Close()

	result, err := svc.Suggest(context.Background(), protocol.SuggestionRequest{
		SessionID:           "s1",
		InterviewerQuestion: "Why this role?",
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if result.SuggestedAnswer == "" || result.Improvements == "" {
		t.Errorf("mock suggestion should fill both fields: %+v", result)
	}
}

func TestSummarizeWithMockGenerator(t *testing.T) {
	svc := NewService(context.Background(), config.CoachConfig{Mode: "mock"}, nil,
		NewMockGenerator(), slog.Default())
	defer svc.Close()

	result, err := svc.Summarize(context.Background(), protocol.SummaryRequest{
		SessionID:  "s1",
		Transcript: "interviewer: Why this role?\nuser: I like the team.",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if result.Summary == "" || result.AreasForImprovement == "" {
		t.Errorf("mock summary should fill both fields: %+v", result)
	}
}

func TestNewGeneratorRejectsUnknownMode(t *testing.T) {
	if _, err := NewGenerator(config.CoachConfig{Mode: "telepathy"}); err == nil {
		t.Fatal("expected error for unknown coach mode")
	}
	if _, err := NewGenerator(config.CoachConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock generator: %v", err)
	}
}
