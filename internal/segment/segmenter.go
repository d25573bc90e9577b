// Package segment decides when a speaker has truly finished a spoken turn.
// Recognizers split one sentence across several "final" results; paying
// for a model call per raw final would be wasteful and produce fragment
// answers. The segmenter debounces: only the last final segment that goes
// unchanged for a settle window is dispatched downstream.
package segment

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Segmenter debounces raw final segments into completed utterances.
// Each new non-empty segment restarts the settle timer and supersedes any
// pending one; only the last stable value is dispatched, exactly once.
type Segmenter struct {
	settle   time.Duration
	dispatch func(text string)
	log      *slog.Logger

	mu      sync.Mutex
	pending string
	timer   *time.Timer
}

func New(settle time.Duration, dispatch func(text string), log *slog.Logger) *Segmenter {
	return &Segmenter{
		settle:   settle,
		dispatch: dispatch,
		log:      log.With(slog.String("component", "segmenter")),
	}
}

// Observe feeds a new final segment. Empty or whitespace-only segments
// are dropped and never start a timer.
func (s *Segmenter) Observe(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = text
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.settle, s.fire)
}

func (s *Segmenter) fire() {
	s.mu.Lock()
	text := s.pending
	s.pending = ""
	s.timer = nil
	s.mu.Unlock()

	if text == "" {
		return
	}
	s.log.Debug("utterance settled", slog.Int("len", len(text)))
	s.dispatch(text)
}

// Cancel drops any pending segment and stops the settle timer. Called on
// session reset, mode switch and teardown.
func (s *Segmenter) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a segment is waiting on the settle timer.
func (s *Segmenter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
