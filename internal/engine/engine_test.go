package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/media"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptSession lets tests feed recognition events by hand.
type scriptSession struct {
	results chan Result

	mu       sync.Mutex
	sent     int
	closed   bool
	finalErr error
}

func newScriptSession() *scriptSession {
	return &scriptSession{results: make(chan Result, 32)}
}

func (s *scriptSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent += len(chunk)
	return nil
}

func (s *scriptSession) Results() <-chan Result { return s.results }

func (s *scriptSession) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

func (s *scriptSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

type scriptRecognizer struct {
	session  *scriptSession
	openErr  error
	opened   atomic.Int32
}

func (r *scriptRecognizer) Open(context.Context, StreamConfig) (RecognizerSession, error) {
	r.opened.Add(1)
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.session, nil
}

type recordedEvent struct {
	text  string
	final bool
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
	errs   []*Error
	ends   int
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnResult: func(text string, final bool) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, recordedEvent{text, final})
		},
		OnError: func(err *Error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.errs = append(l.errs, err)
		},
		OnEnd: func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.ends++
		},
	}
}

func (l *eventLog) snapshot() ([]recordedEvent, []*Error, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedEvent(nil), l.events...), append([]*Error(nil), l.errs...), l.ends
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine session never finished")
	}
}

func newTestStream() (*media.Stream, *media.FakeTrack) {
	track := media.NewFakeTrack(media.TrackAudio)
	return media.FakeStream(media.SourceMicrophone, track), track
}

func TestInterimThenFinalEmission(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{SampleRate: 16000, Channels: 1}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)

	sess.results <- Result{Text: "what is"}
	sess.results <- Result{Text: "what is your"}
	sess.results <- Result{Text: "what is your name", Final: true}
	sess.results <- Result{Text: "next"}
	_ = sess.CloseSend()
	waitDone(t, e)

	events, _, _ := log.snapshot()
	want := []recordedEvent{
		{"what is", false},
		{"what is your", false},
		{"what is your name", true},
		{"next", false},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range want {
		if events[i] != ev {
			t.Errorf("event %d = %+v, want %+v", i, events[i], ev)
		}
	}
}

func TestBoundaryFinalFlushesAccumulator(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)

	sess.results <- Result{Text: "tell me about yourself"}
	sess.results <- Result{Final: true} // boundary marker without text
	_ = sess.CloseSend()
	waitDone(t, e)

	events, _, _ := log.snapshot()
	last := events[len(events)-1]
	if !last.final || last.text != "tell me about yourself" {
		t.Fatalf("expected flushed final, got %+v", last)
	}
}

func TestNoSpeechIsNonFatal(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)

	sess.results <- Result{Err: errors.New("no-speech detected")}
	sess.results <- Result{Text: "still here", Final: true}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, _, _ := log.snapshot()
		if len(events) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !e.Listening() {
		t.Fatal("no-speech must not terminate the listening session")
	}
	events, errs, _ := log.snapshot()
	if len(errs) != 1 || errs[0].Code != CodeNoSpeech {
		t.Fatalf("expected one no-speech error, got %+v", errs)
	}
	if len(events) != 1 || events[0].text != "still here" {
		t.Fatalf("expected result after no-speech, got %+v", events)
	}

	e.Stop()
	waitDone(t, e)
}

func TestFatalErrorTerminatesWithoutOnEnd(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)

	sess.results <- Result{Err: errors.New("audio-capture device lost")}
	_ = sess.CloseSend()
	waitDone(t, e)

	_, errs, ends := log.snapshot()
	if len(errs) != 1 || errs[0].Code != CodeAudioCapture {
		t.Fatalf("expected fatal audio-capture error, got %+v", errs)
	}
	if !errs[0].Fatal() {
		t.Fatal("audio-capture must be fatal")
	}
	if ends != 0 {
		t.Fatal("fatal termination must not be reported as a self-end")
	}
	if e.Listening() {
		t.Fatal("session must be terminated")
	}
}

func TestSelfEndFiresOnEnd(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)

	// recognizer ends the stream on its own (silence timeout)
	_ = sess.CloseSend()
	waitDone(t, e)

	_, _, ends := log.snapshot()
	if ends != 1 {
		t.Fatalf("expected one OnEnd, got %d", ends)
	}
}

func TestExplicitStopDoesNotFireOnEnd(t *testing.T) {
	sess := newScriptSession()
	log := &eventLog{}
	e := New(&scriptRecognizer{session: sess}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)
	e.Stop()
	waitDone(t, e)

	_, _, ends := log.snapshot()
	if ends != 0 {
		t.Fatalf("explicit stop must not fire OnEnd, got %d", ends)
	}
}

func TestReentrancyIsNoop(t *testing.T) {
	sess := newScriptSession()
	rec := &scriptRecognizer{session: sess}
	e := New(rec, StreamConfig{}, newLogger(), Callbacks{})

	// stop while inactive: no-op, no panic
	e.Stop()

	stream, _ := newTestStream()
	e.Start(stream)
	e.Start(stream)

	deadline := time.Now().Add(time.Second)
	for rec.opened.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := rec.opened.Load(); got != 1 {
		t.Fatalf("double start opened %d sessions, want 1", got)
	}

	e.Stop()
	e.Stop()
	waitDone(t, e)
}

func TestOpenFailureReportsError(t *testing.T) {
	log := &eventLog{}
	e := New(&scriptRecognizer{openErr: errors.New("not allowed")}, StreamConfig{}, newLogger(), log.callbacks())

	stream, _ := newTestStream()
	e.Start(stream)
	waitDone(t, e)

	_, errs, _ := log.snapshot()
	if len(errs) != 1 || errs[0].Code != CodeNotAllowed {
		t.Fatalf("expected not-allowed error, got %+v", errs)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Code
	}{
		{"no-speech timeout", CodeNoSpeech},
		{"audio-capture failed", CodeAudioCapture},
		{"not-allowed by user agent", CodeNotAllowed},
		{"wire protocol desync", CodeOther},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.in)).Code; got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFactoryUnsupported(t *testing.T) {
	_, err := NewRecognizer(config.EngineConfig{Mode: "telepathy"}, newLogger())
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestFactoryMock(t *testing.T) {
	rec, err := NewRecognizer(config.EngineConfig{Mode: "mock"}, newLogger())
	if err != nil || rec == nil {
		t.Fatalf("expected mock recognizer, got %v", err)
	}
}

func TestFactoryWebsocketNeedsEndpoint(t *testing.T) {
	_, err := NewRecognizer(config.EngineConfig{Mode: "websocket"}, newLogger())
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestTranscribeClipJoinsFinals(t *testing.T) {
	sess := newScriptSession()
	go func() {
		// simulate backend finals once audio lands
		time.Sleep(10 * time.Millisecond)
		sess.results <- Result{Text: "first part", Final: true}
		sess.results <- Result{Text: "second part", Final: true}
	}()

	rec := &clipRecognizer{session: sess}
	text, err := TranscribeClip(context.Background(), rec, StreamConfig{SampleRate: 16000, Channels: 1}, make([]byte, 6400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "first part second part" {
		t.Fatalf("text = %q", text)
	}
}

// clipRecognizer hands out a session whose CloseSend is deferred until the
// scripted finals are queued.
type clipRecognizer struct{ session *scriptSession }

func (r *clipRecognizer) Open(context.Context, StreamConfig) (RecognizerSession, error) {
	return &delayedCloseSession{r.session}, nil
}

type delayedCloseSession struct{ *scriptSession }

func (s *delayedCloseSession) CloseSend() error {
	time.Sleep(30 * time.Millisecond)
	return s.scriptSession.CloseSend()
}
