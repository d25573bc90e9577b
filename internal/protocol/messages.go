package protocol

import "time"

// TranscriptEvent is speech-to-text output broadcast on the bus. Role
// identifies the capture role the audio came from, not the recognizer.
type TranscriptEvent struct {
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SuggestionRequest asks the coach service for a suggested answer to an
// interviewer question. Generation is echoed back on the response so the
// orchestrator can drop results for questions the user has moved past.
type SuggestionRequest struct {
	SessionID           string    `json:"session_id"`
	Generation          uint64    `json:"generation"`
	InterviewerQuestion string    `json:"interviewer_question"`
	UserResponse        string    `json:"user_response,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// SuggestionResult is the parsed model output for one question.
type SuggestionResult struct {
	SuggestedAnswer string `json:"suggested_answer"`
	Improvements    string `json:"improvements"`
}

// SuggestionResponse carries a result or a user-presentable error.
type SuggestionResponse struct {
	SessionID  string           `json:"session_id"`
	Generation uint64           `json:"generation"`
	Result     SuggestionResult `json:"result"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// SummaryRequest asks for whole-session feedback over a flattened transcript.
type SummaryRequest struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Timestamp  time.Time `json:"timestamp"`
}

// SummaryResult is the parsed model output for a finished session.
type SummaryResult struct {
	Summary             string `json:"summary"`
	AreasForImprovement string `json:"areas_for_improvement"`
}

// SummaryResponse carries a result or a user-presentable error.
type SummaryResponse struct {
	SessionID string        `json:"session_id"`
	Result    SummaryResult `json:"result"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "capture.transcript.partial"
	SubjectTranscriptFinal   = "capture.transcript.final"

	SubjectSuggestRequest  = "coach.suggest.request"
	SubjectSuggestResponse = "coach.suggest.response"
	SubjectSummaryRequest  = "coach.summary.request"
	SubjectSummaryResponse = "coach.summary.response"
)
