package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/engine"
	"github.com/echoprep/echoprep-core/internal/media"
	"github.com/echoprep/echoprep-core/internal/protocol"
	"github.com/echoprep/echoprep-core/internal/recorder"
	"github.com/echoprep/echoprep-core/internal/segment"
	"github.com/echoprep/echoprep-core/internal/store"
)

// Publisher sends coach requests and transcript events to the bus.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Archive persists finished sessions.
type Archive interface {
	Save(ctx context.Context, sess store.StoredSession) (store.StoredSession, error)
}

// Options wires an Orchestrator's collaborators.
type Options struct {
	Config     config.Config
	Microphone media.Acquirer
	Display    media.Acquirer
	Recognizer engine.Recognizer
	Publisher  Publisher
	Archive    Archive
	Logger     *slog.Logger
}

// Orchestrator binds one interview session's capture mode to the
// transcript and the coach trigger. It owns the hardware streams: at
// most one stream is open per capture role (interviewer audio vs the
// candidate's own mic), and starting a role that already owns a stream
// fully releases the old one first.
type Orchestrator struct {
	cfg        config.Config
	log        *slog.Logger
	pub        Publisher
	archive    Archive
	mic        media.Acquirer
	display    media.Acquirer
	recognizer engine.Recognizer
	segmenter  *segment.Segmenter
	clock      func() time.Time

	mu              sync.Mutex
	id              string
	mode            Mode
	roleDescription string
	transcript      []TranscriptItem
	answerLog       []AnswerEntry
	lastQuestion    string
	generation      uint64
	suggestion      Suggestion
	summary         Summary

	// interviewer capture role
	eng           *engine.Engine
	engStream     *media.Stream
	listenDesired bool
	interim       string
	finalSegment  string
	listenErr     string
	sourceType    media.Source

	// candidate answer role
	answerRec    *recorder.Recorder
	answerStatus CaptureStatus
	answerErr    string

	rollingCancel context.CancelFunc
	wg            sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:        opts.Config,
		log:        opts.Logger.With(slog.String("component", "orchestrator")),
		pub:        opts.Publisher,
		archive:    opts.Archive,
		mic:        opts.Microphone,
		display:    opts.Display,
		recognizer: opts.Recognizer,
		clock:      time.Now,

		id:           uuid.NewString(),
		mode:         ModeManual,
		answerStatus: StatusIdle,
	}
	settle := time.Duration(opts.Config.Segmenter.SettleMS) * time.Millisecond
	o.segmenter = segment.New(settle, func(text string) {
		o.requestSuggestion(text, "")
	}, opts.Logger)
	return o
}

// ID returns the current session id; changes on Reset.
func (o *Orchestrator) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

func (o *Orchestrator) SetRoleDescription(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.roleDescription = strings.TrimSpace(text)
}

// SetMode switches the capture mode. Every live capture the orchestrator
// owns is stopped first, so the single-open-stream invariant holds
// across the switch.
func (o *Orchestrator) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown mode %q", m)
	}
	o.teardown()
	o.mu.Lock()
	o.mode = m
	o.mu.Unlock()
	return nil
}

// Reset tears down all captures and starts a fresh session: new id,
// empty transcript and answer log, cleared coach state. In-flight coach
// calls are not cancelled; bumping the generation orphans their results.
func (o *Orchestrator) Reset() {
	o.teardown()
	o.mu.Lock()
	o.id = uuid.NewString()
	o.transcript = nil
	o.answerLog = nil
	o.lastQuestion = ""
	o.generation++
	o.suggestion = Suggestion{}
	o.summary = Summary{}
	o.interim = ""
	o.finalSegment = ""
	o.listenErr = ""
	o.mu.Unlock()
}

// Close releases every capture. Called on runtime shutdown.
func (o *Orchestrator) Close() {
	o.teardown()
}

func (o *Orchestrator) teardown() {
	o.stopInterviewer()
	o.ResetAnswer()
}

// SubmitQuestion appends a typed interviewer question and triggers a
// coach call immediately. Submission is an explicit user action; no
// debounce applies.
func (o *Orchestrator) SubmitQuestion(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.mu.Lock()
	o.transcript = append(o.transcript, TranscriptItem{
		Speaker:     SpeakerInterviewer,
		Text:        text,
		TimestampMS: o.clock().UnixMilli(),
	})
	o.lastQuestion = text
	o.mu.Unlock()

	o.requestSuggestion(text, "")
}

// StartListening acquires the interviewer audio source for the current
// mode and starts live transcription. In dual mode it also starts the
// rolling candidate-mic recorder.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()

	var acq media.Acquirer
	var source media.Source
	switch mode {
	case ModeInterviewerMic:
		acq, source = o.mic, media.SourceMicrophone
	case ModeDual:
		acq, source = o.display, media.SourceDisplay
	default:
		return fmt.Errorf("mode %q has no interviewer capture", mode)
	}
	if acq == nil {
		return fmt.Errorf("no acquirer configured for source %q", source)
	}

	// release any stream this role already owns before acquiring again
	o.stopInterviewer()

	stream, err := acq.Acquire(ctx, source)
	if err != nil {
		o.mu.Lock()
		o.listenErr = err.Error()
		o.mu.Unlock()
		return err
	}

	scfg := engine.StreamConfigFor(o.cfg.Capture, o.cfg.Engine)
	var eng *engine.Engine
	eng = engine.New(o.recognizer, scfg, o.log, engine.Callbacks{
		OnResult: func(text string, final bool) { o.onEngineResult(eng, text, final) },
		OnEnd:    func() { o.onEngineEnd(eng) },
		OnError:  func(err *engine.Error) { o.onEngineError(eng, err) },
	})

	o.mu.Lock()
	o.eng = eng
	o.engStream = stream
	o.listenDesired = true
	o.sourceType = source
	o.interim = ""
	o.finalSegment = ""
	o.listenErr = ""
	o.mu.Unlock()

	eng.Start(stream)

	if mode == ModeDual {
		o.startRollingRecorder()
	}
	return nil
}

// StopListening ends interviewer transcription and releases the stream.
// Engine-style captures release their hardware on stop; only recorder
// clips wait for an explicit reset. Idempotent.
func (o *Orchestrator) StopListening() {
	o.stopInterviewer()
}

func (o *Orchestrator) stopInterviewer() {
	o.mu.Lock()
	eng := o.eng
	stream := o.engStream
	cancel := o.rollingCancel
	o.eng = nil
	o.engStream = nil
	o.rollingCancel = nil
	o.listenDesired = false
	o.interim = ""
	o.mu.Unlock()

	if eng != nil {
		eng.Stop()
	}
	if stream != nil {
		stream.Stop()
	}
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	o.segmenter.Cancel()
}

func (o *Orchestrator) onEngineResult(eng *engine.Engine, text string, final bool) {
	o.mu.Lock()
	if o.eng != eng {
		// a stopped session may flush a few trailing results; drop them
		o.mu.Unlock()
		return
	}
	id := o.id
	if final {
		o.transcript = append(o.transcript, TranscriptItem{
			Speaker:     SpeakerInterviewer,
			Text:        text,
			TimestampMS: o.clock().UnixMilli(),
		})
		o.lastQuestion = text
		o.finalSegment = text
		o.interim = ""
	} else {
		o.interim = text
	}
	o.mu.Unlock()

	o.publishTranscript(id, text, final)
	if final {
		// the transcript append above and the coach trigger are independent
		// consumers of the same final segment; the trigger waits on the
		// segmenter's settle window, the append never does
		o.segmenter.Observe(text)
	}
}

func (o *Orchestrator) onEngineEnd(eng *engine.Engine) {
	o.mu.Lock()
	if o.eng != eng || !o.listenDesired {
		o.mu.Unlock()
		return
	}
	stream := o.engStream
	o.mu.Unlock()

	// the recognizer stopped on its own (silence timeout); while the user
	// still wants to listen, restart rather than surface a stop
	if stream != nil && stream.Live() {
		o.log.Debug("recognizer ended on its own, restarting")
		eng.Start(stream)
		return
	}

	o.mu.Lock()
	o.listenDesired = false
	o.mu.Unlock()
}

func (o *Orchestrator) onEngineError(eng *engine.Engine, err *engine.Error) {
	if !err.Fatal() {
		// no-speech: the session keeps listening, interim state untouched
		return
	}
	o.mu.Lock()
	if o.eng != eng {
		o.mu.Unlock()
		return
	}
	o.listenErr = err.Error()
	o.mu.Unlock()

	// fatal errors end the session; release the role fully
	o.stopInterviewer()
}

func (o *Orchestrator) startRollingRecorder() {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.rollingCancel = cancel
	o.mu.Unlock()
	o.wg.Add(1)
	go o.rollingLoop(ctx)
}

// rollingLoop keeps a recorder cycle on the candidate's mic alive while
// interviewer listening is active: record a window, transcribe the clip,
// append it to the answer log, restart. The answer log stays separate
// from the main transcript; relative ordering between the two physical
// inputs cannot be trusted.
func (o *Orchestrator) rollingLoop(ctx context.Context) {
	defer o.wg.Done()

	window := time.Duration(o.cfg.Capture.AnswerWindowMS) * time.Millisecond
	scfg := engine.StreamConfigFor(o.cfg.Capture, o.cfg.Engine)

	for ctx.Err() == nil {
		stream, err := o.mic.Acquire(ctx, media.SourceMicrophone)
		if err != nil {
			o.log.Warn("rolling answer capture unavailable", slogError(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(window):
			}
			continue
		}

		rec := recorder.New(o.cfg.Capture, o.log)
		rec.Start(stream)
		select {
		case <-ctx.Done():
			rec.Reset()
			return
		case <-time.After(window):
		}
		rec.Stop()

		if clip := rec.Clip(); clip != nil && len(clip.PCM) > 0 {
			text, err := engine.TranscribeClip(ctx, o.recognizer, scfg, clip.PCM)
			if err != nil {
				o.log.Warn("rolling answer transcription failed", slogError(err))
			} else if text = strings.TrimSpace(text); text != "" {
				o.mu.Lock()
				o.answerLog = append(o.answerLog, AnswerEntry{
					Text:        text,
					TimestampMS: o.clock().UnixMilli(),
				})
				o.mu.Unlock()
			}
		}
		rec.Reset()
	}
}

// StartAnswer begins a discrete candidate answer recording on the mic.
func (o *Orchestrator) StartAnswer(ctx context.Context) error {
	o.mu.Lock()
	if o.mode != ModeMicrophone {
		mode := o.mode
		o.mu.Unlock()
		return fmt.Errorf("mode %q has no discrete answer capture", mode)
	}
	rec := o.answerRec
	o.mu.Unlock()

	// the candidate role owns at most one stream at a time
	if rec != nil {
		rec.Reset()
	}

	stream, err := o.mic.Acquire(ctx, media.SourceMicrophone)
	if err != nil {
		o.mu.Lock()
		o.answerErr = err.Error()
		o.answerStatus = StatusIdle
		o.mu.Unlock()
		return err
	}

	rec = recorder.New(o.cfg.Capture, o.log)
	rec.Start(stream)

	o.mu.Lock()
	o.answerRec = rec
	o.answerStatus = StatusRecording
	o.answerErr = ""
	o.mu.Unlock()
	return nil
}

// StopAnswer finalizes the recording, transcribes the clip, appends the
// text as a user transcript item, and triggers a coach call against the
// last interviewer question. The stream's tracks stay open until
// ResetAnswer.
func (o *Orchestrator) StopAnswer(ctx context.Context) (string, error) {
	o.mu.Lock()
	rec := o.answerRec
	if rec == nil || rec.State() != recorder.StateRecording {
		o.mu.Unlock()
		return "", nil
	}
	o.answerStatus = StatusProcessing
	question := o.lastQuestion
	o.mu.Unlock()

	rec.Stop()

	var text string
	clip := rec.Clip()
	if clip != nil && len(clip.PCM) > 0 {
		scfg := engine.StreamConfigFor(o.cfg.Capture, o.cfg.Engine)
		raw, err := engine.TranscribeClip(ctx, o.recognizer, scfg, clip.PCM)
		if err != nil {
			o.mu.Lock()
			o.answerErr = err.Error()
			o.answerStatus = StatusStopped
			o.mu.Unlock()
			return "", err
		}
		text = strings.TrimSpace(raw)
	}

	o.mu.Lock()
	if text != "" {
		o.transcript = append(o.transcript, TranscriptItem{
			Speaker:     SpeakerUser,
			Text:        text,
			TimestampMS: o.clock().UnixMilli(),
		})
	}
	o.answerStatus = StatusStopped
	o.mu.Unlock()

	if question != "" && text != "" {
		o.requestSuggestion(question, text)
	}
	return text, nil
}

// ResetAnswer is the answer recorder's sole teardown: releases the clip
// artifact and the stream's tracks, clears the error, returns to idle.
// Safe from any state.
func (o *Orchestrator) ResetAnswer() {
	o.mu.Lock()
	rec := o.answerRec
	o.answerRec = nil
	o.answerStatus = StatusIdle
	o.answerErr = ""
	o.mu.Unlock()

	if rec != nil {
		rec.Reset()
	}
}

// requestSuggestion publishes a coach request tagged with a fresh
// generation. Responses carrying an older generation are dropped on
// arrival: the user has already moved past that question.
func (o *Orchestrator) requestSuggestion(question, userResponse string) {
	o.mu.Lock()
	o.generation++
	req := protocol.SuggestionRequest{
		SessionID:           o.id,
		Generation:          o.generation,
		InterviewerQuestion: question,
		UserResponse:        userResponse,
		Timestamp:           o.clock().UTC(),
	}
	o.mu.Unlock()

	if err := o.publish(protocol.SubjectSuggestRequest, req); err != nil {
		o.log.Warn("failed to publish suggestion request", slogError(err))
		o.mu.Lock()
		o.suggestion.Error = "coach unavailable: " + err.Error()
		o.mu.Unlock()
	}
}

// HandleSuggestionResponse applies a coach response. Stale generations
// are dropped; failures leave the previous suggestion untouched and only
// set the transient error.
func (o *Orchestrator) HandleSuggestionResponse(resp protocol.SuggestionResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if resp.SessionID != o.id || resp.Generation != o.generation {
		return
	}
	if resp.Error != "" {
		o.suggestion.Error = resp.Error
		return
	}
	o.suggestion = Suggestion{
		SuggestedAnswer: resp.Result.SuggestedAnswer,
		Improvements:    resp.Result.Improvements,
	}
}

// RequestSummary publishes a whole-session feedback request over the
// flattened transcript.
func (o *Orchestrator) RequestSummary() error {
	o.mu.Lock()
	req := protocol.SummaryRequest{
		SessionID:  o.id,
		Transcript: flattenTranscript(o.transcript),
		Timestamp:  o.clock().UTC(),
	}
	o.mu.Unlock()

	if req.Transcript == "" {
		return fmt.Errorf("nothing to summarize")
	}
	if err := o.publish(protocol.SubjectSummaryRequest, req); err != nil {
		return fmt.Errorf("publish summary request: %w", err)
	}
	return nil
}

func (o *Orchestrator) HandleSummaryResponse(resp protocol.SummaryResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if resp.SessionID != o.id {
		return
	}
	if resp.Error != "" {
		o.summary.Error = resp.Error
		return
	}
	o.summary = Summary{
		Text:                resp.Result.Summary,
		AreasForImprovement: resp.Result.AreasForImprovement,
	}
}

// Save persists the session. A session with no transcript and no answer
// log is rejected by the archive; nothing is written.
func (o *Orchestrator) Save(ctx context.Context) (store.StoredSession, error) {
	o.mu.Lock()
	sess := store.StoredSession{
		ID:              o.id,
		Mode:            string(o.mode),
		RoleDescription: o.roleDescription,
		Summary:         o.summary.Text,
		Feedback:        o.summary.AreasForImprovement,
	}
	transcript := append([]TranscriptItem(nil), o.transcript...)
	answers := append([]AnswerEntry(nil), o.answerLog...)
	o.mu.Unlock()

	if len(transcript) > 0 {
		data, err := json.Marshal(transcript)
		if err != nil {
			return store.StoredSession{}, fmt.Errorf("encode transcript: %w", err)
		}
		sess.Transcript = data
	}
	if len(answers) > 0 {
		data, err := json.Marshal(answers)
		if err != nil {
			return store.StoredSession{}, fmt.Errorf("encode answer log: %w", err)
		}
		sess.AnswerLog = data
	}
	return o.archive.Save(ctx, sess)
}

// Transcript returns a copy of the main transcript.
func (o *Orchestrator) Transcript() []TranscriptItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]TranscriptItem(nil), o.transcript...)
}

// AnswerLog returns a copy of the rolling candidate answer log.
func (o *Orchestrator) AnswerLog() []AnswerEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]AnswerEntry(nil), o.answerLog...)
}

func (o *Orchestrator) LastQuestion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastQuestion
}

func (o *Orchestrator) CurrentSuggestion() Suggestion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suggestion
}

func (o *Orchestrator) SessionSummary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// TranscriptionState snapshots the live-transcription surface for the UI.
func (o *Orchestrator) TranscriptionState() TranscriptionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	listening := o.eng != nil && o.listenDesired
	return TranscriptionState{
		Listening:    listening,
		InterimText:  o.interim,
		FinalSegment: o.finalSegment,
		SourceType:   o.sourceType,
		Error:        o.listenErr,
	}
}

// ResetFinalSegment clears the held final segment. The segment never
// auto-clears; a debounce consumer reads it once its own timer fires.
func (o *Orchestrator) ResetFinalSegment() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finalSegment = ""
}

// AnswerState snapshots the candidate answer recorder for the UI.
func (o *Orchestrator) AnswerState() AnswerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return AnswerState{Status: o.answerStatus, Error: o.answerErr}
}

func (o *Orchestrator) publishTranscript(sessionID, text string, final bool) {
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	evt := protocol.TranscriptEvent{
		SessionID: sessionID,
		Role:      string(SpeakerInterviewer),
		Text:      text,
		Final:     final,
		Timestamp: o.clock().UTC(),
	}
	if err := o.publish(subject, evt); err != nil {
		o.log.Debug("failed to publish transcript event", slogError(err))
	}
}

func (o *Orchestrator) publish(subject string, payload any) error {
	if o.pub == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return o.pub.Publish(subject, data)
}

func flattenTranscript(items []TranscriptItem) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString(string(item.Speaker))
		b.WriteString(": ")
		b.WriteString(item.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
