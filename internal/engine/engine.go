package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/echoprep/echoprep-core/internal/media"
)

// Callbacks surface engine events. OnEnd fires when the recognizer stopped
// on its own (silence timeout, backend restart); it does not fire for an
// explicit Stop. Whether to auto-restart or surface the end is the
// caller's policy, not the engine's.
type Callbacks struct {
	OnResult func(text string, final bool)
	OnEnd    func()
	OnError  func(err *Error)
}

type state int

const (
	stateIdle state = iota
	stateListening
	stateEnding
)

// Engine drives one continuous recognition session over an acquired
// stream. All session state (the interim accumulator in particular) is
// owned by a single run goroutine per Start, so a final for utterance N
// is always emitted before any interim for utterance N+1.
type Engine struct {
	rec  Recognizer
	scfg StreamConfig
	log  *slog.Logger
	cb   Callbacks

	mu       sync.Mutex
	state    state
	explicit bool
	failed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(rec Recognizer, scfg StreamConfig, log *slog.Logger, cb Callbacks) *Engine {
	return &Engine{
		rec:  rec,
		scfg: scfg,
		log:  log.With(slog.String("component", "transcription-engine")),
		cb:   cb,
	}
}

// Start begins listening on stream. No-op while already active. The
// stream is only consumed for audio frames; its ownership stays with the
// caller.
func (e *Engine) Start(stream *media.Stream) {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.state = stateListening
	e.explicit = false
	e.failed = false
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx, stream)
}

// Stop ends the session. No-op while inactive. Asynchronous: the session
// winds down without blocking the caller, and no OnEnd fires for it.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateListening {
		e.mu.Unlock()
		return
	}
	e.state = stateEnding
	e.explicit = true
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
}

// Listening reports whether a session is active.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateListening
}

// Done returns a channel closed when the current session has fully wound
// down; nil if none was started.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) run(ctx context.Context, stream *media.Stream) {
	defer e.finish()

	sess, err := e.rec.Open(ctx, e.scfg)
	if err != nil {
		e.reportError(Classify(err))
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case <-ctx.Done():
				_ = sess.CloseSend()
				return
			case frame, ok := <-stream.Frames():
				if !ok {
					_ = sess.CloseSend()
					return
				}
				if err := sess.SendAudio(frame); err != nil {
					_ = sess.CloseSend()
					return
				}
			}
		}
	}()

	// interim accumulates unconfirmed text since the last final result
	interim := ""
	for res := range sess.Results() {
		if res.Err != nil {
			ee := Classify(res.Err)
			e.reportError(ee)
			if !ee.Fatal() {
				continue
			}
			e.cancelSession()
			// drain so the backend reader never blocks on a full channel
			go func() {
				for range sess.Results() {
				}
			}()
			break
		}

		text := strings.TrimSpace(res.Text)
		if res.Final {
			full := text
			if full == "" {
				// boundary final without text: flush the accumulator
				full = interim
			}
			interim = ""
			if full != "" {
				e.emit(full, true)
			}
			continue
		}
		if text == "" {
			continue
		}
		interim = text
		e.emit(interim, false)
	}
	<-pumpDone

	if err := sess.Err(); err != nil {
		e.reportError(Classify(err))
	}
}

func (e *Engine) cancelSession() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) finish() {
	e.mu.Lock()
	explicit := e.explicit
	failed := e.failed
	done := e.done
	e.state = stateIdle
	e.cancel = nil
	e.mu.Unlock()

	if done != nil {
		close(done)
	}
	// OnEnd marks a self-stop (silence timeout, backend restart); explicit
	// stops and fatal-error terminations are reported through other paths
	if !explicit && !failed && e.cb.OnEnd != nil {
		e.cb.OnEnd()
	}
}

func (e *Engine) emit(text string, final bool) {
	if e.cb.OnResult != nil {
		e.cb.OnResult(text, final)
	}
}

func (e *Engine) reportError(err *Error) {
	if err.Fatal() {
		e.mu.Lock()
		e.failed = true
		e.mu.Unlock()
		e.log.Warn("engine error", slog.String("code", string(err.Code)), slog.String("error", err.Error()))
	} else {
		e.log.Debug("engine error (recoverable)", slog.String("code", string(err.Code)))
	}
	if e.cb.OnError != nil {
		e.cb.OnError(err)
	}
}
