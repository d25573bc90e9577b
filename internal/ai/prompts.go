package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echoprep/echoprep-core/internal/protocol"
)

const suggestionSystem = `You are an experienced interview coach. The user is in a live job
interview and needs concise, concrete help. Always answer with a single
JSON object: {"suggested_answer": "...", "improvements": "..."}.`

const summarySystem = `You are an experienced interview coach reviewing a finished practice
session. Always answer with a single JSON object:
{"summary": "...", "areas_for_improvement": "..."}.`

func buildSuggestionPrompt(req protocol.SuggestionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The interviewer asked: %q\n", req.InterviewerQuestion)
	if req.UserResponse != "" {
		fmt.Fprintf(&b, "The candidate answered: %q\n", req.UserResponse)
		b.WriteString("Suggest a stronger answer and point out what to improve in the candidate's response.")
	} else {
		b.WriteString("Suggest a strong answer and note what makes it effective.")
	}
	return b.String()
}

func buildSummaryPrompt(req protocol.SummaryRequest) string {
	return "Interview transcript:\n\n" + req.Transcript +
		"\n\nSummarize how the session went and list the candidate's main areas for improvement."
}

// extractJSON pulls the first JSON object out of a model reply, tolerating
// markdown code fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return raw[start : end+1], nil
}

func parseSuggestion(raw string) (protocol.SuggestionResult, error) {
	var result protocol.SuggestionResult
	body, err := extractJSON(raw)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return result, fmt.Errorf("decode suggestion: %w", err)
	}
	if strings.TrimSpace(result.SuggestedAnswer) == "" {
		return result, fmt.Errorf("model output missing suggested_answer")
	}
	return result, nil
}

func parseSummary(raw string) (protocol.SummaryResult, error) {
	var result protocol.SummaryResult
	body, err := extractJSON(raw)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return result, fmt.Errorf("decode summary: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return result, fmt.Errorf("model output missing summary")
	}
	return result, nil
}
