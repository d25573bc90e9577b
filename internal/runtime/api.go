package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/echoprep/echoprep-core/internal/session"
	"github.com/echoprep/echoprep-core/internal/store"
)

// registerAPI exposes the session intents the UI layer drives: mode
// selection, question submission, capture start/stop/reset, save,
// summary, and state snapshots.
func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session/state", r.handleState)
	mux.HandleFunc("POST /api/session/mode", r.handleSetMode)
	mux.HandleFunc("POST /api/session/role", r.handleSetRole)
	mux.HandleFunc("POST /api/session/question", r.handleQuestion)
	mux.HandleFunc("POST /api/session/listen/start", r.handleListenStart)
	mux.HandleFunc("POST /api/session/listen/stop", r.handleListenStop)
	mux.HandleFunc("POST /api/session/answer/start", r.handleAnswerStart)
	mux.HandleFunc("POST /api/session/answer/stop", r.handleAnswerStop)
	mux.HandleFunc("POST /api/session/answer/reset", r.handleAnswerReset)
	mux.HandleFunc("POST /api/session/reset", r.handleSessionReset)
	mux.HandleFunc("POST /api/session/save", r.handleSave)
	mux.HandleFunc("POST /api/session/summary", r.handleSummary)
	mux.HandleFunc("GET /api/sessions", r.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", r.handleDeleteSession)
}

type stateResponse struct {
	SessionID     string                     `json:"session_id"`
	Mode          session.Mode               `json:"mode"`
	Transcription session.TranscriptionState `json:"transcription"`
	Answer        session.AnswerState        `json:"answer"`
	Transcript    []session.TranscriptItem   `json:"transcript"`
	AnswerLog     []session.AnswerEntry      `json:"answer_log"`
	Suggestion    session.Suggestion         `json:"suggestion"`
	Summary       session.Summary            `json:"summary"`
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		SessionID:     r.orch.ID(),
		Mode:          r.orch.Mode(),
		Transcription: r.orch.TranscriptionState(),
		Answer:        r.orch.AnswerState(),
		Transcript:    r.orch.Transcript(),
		AnswerLog:     r.orch.AnswerLog(),
		Suggestion:    r.orch.CurrentSuggestion(),
		Summary:       r.orch.SessionSummary(),
	})
}

func (r *Runtime) handleSetMode(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Mode session.Mode `json:"mode"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.orch.SetMode(body.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(body.Mode)})
}

func (r *Runtime) handleSetRole(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	r.orch.SetRoleDescription(body.Description)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleQuestion(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, req, &body) {
		return
	}
	r.orch.SubmitQuestion(body.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleListenStart(w http.ResponseWriter, req *http.Request) {
	if err := r.orch.StartListening(req.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	r.orch.StopListening()
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleAnswerStart(w http.ResponseWriter, req *http.Request) {
	if err := r.orch.StartAnswer(req.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleAnswerStop(w http.ResponseWriter, req *http.Request) {
	text, err := r.orch.StopAnswer(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (r *Runtime) handleAnswerReset(w http.ResponseWriter, _ *http.Request) {
	r.orch.ResetAnswer()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleSessionReset(w http.ResponseWriter, _ *http.Request) {
	r.orch.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"session_id": r.orch.ID()})
}

func (r *Runtime) handleSave(w http.ResponseWriter, req *http.Request) {
	saved, err := r.orch.Save(req.Context())
	if err != nil {
		if errors.Is(err, store.ErrEmptySession) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": saved.ID})
}

func (r *Runtime) handleSummary(w http.ResponseWriter, _ *http.Request) {
	if err := r.orch.RequestSummary(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleListSessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := r.sessions.List(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (r *Runtime) handleDeleteSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.sessions.Delete(req.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
