package session

import "github.com/echoprep/echoprep-core/internal/media"

// Speaker attributes a transcript item.
type Speaker string

const (
	SpeakerUser        Speaker = "user"
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerAI          Speaker = "ai"
)

// TranscriptItem is one line of the main transcript. Immutable once
// appended; ordering is insertion order. Timestamps are non-decreasing
// in practice but not enforced.
type TranscriptItem struct {
	Speaker     Speaker `json:"speaker"`
	Text        string  `json:"text"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// AnswerEntry is one rolling candidate-mic capture. Kept in a separate
// log from the main transcript: the two physical inputs have no reliable
// relative ordering, so interleaving them would lie about timing.
type AnswerEntry struct {
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// Mode is the interview capture mode.
type Mode string

const (
	// ModeManual types questions in by hand.
	ModeManual Mode = "manual"
	// ModeMicrophone records discrete candidate answers from the mic.
	ModeMicrophone Mode = "microphone"
	// ModeDual transcribes interviewer audio from a shared display while a
	// rolling mic recorder captures the candidate's own speech.
	ModeDual Mode = "dual"
	// ModeInterviewerMic transcribes the interviewer from the microphone.
	ModeInterviewerMic Mode = "interviewer_mic"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeMicrophone, ModeDual, ModeInterviewerMic:
		return true
	}
	return false
}

// CaptureStatus is the lifecycle of one capture role.
type CaptureStatus string

const (
	StatusIdle       CaptureStatus = "idle"
	StatusRecording  CaptureStatus = "recording"
	StatusProcessing CaptureStatus = "processing"
	StatusStopped    CaptureStatus = "stopped"
)

// TranscriptionState is the live-transcription snapshot consumed by the
// UI. InterimText is unconfirmed speech since the last final result.
// FinalSegment holds the most recent confirmed utterance and is only
// cleared by ResetFinalSegment, never automatically.
type TranscriptionState struct {
	Listening    bool
	InterimText  string
	FinalSegment string
	SourceType   media.Source
	Error        string
}

// AnswerState is the candidate answer-recorder snapshot.
type AnswerState struct {
	Status CaptureStatus
	Error  string
}

// Suggestion is the current coach output, or the error that replaced it.
type Suggestion struct {
	SuggestedAnswer string
	Improvements    string
	Error           string
}

// Summary is whole-session coach feedback.
type Summary struct {
	Text                string
	AreasForImprovement string
	Error               string
}
