package media

import (
	"context"
	"sync"
	"sync/atomic"
)

// FakeTrack is an in-memory track used by tests and the mock pipeline.
type FakeTrack struct {
	kind      TrackKind
	StopCount atomic.Int32

	mu      sync.Mutex
	stopped bool
	frames  chan []byte
}

func NewFakeTrack(kind TrackKind) *FakeTrack {
	return &FakeTrack{kind: kind, frames: make(chan []byte, 16)}
}

func (t *FakeTrack) Kind() TrackKind { return t.kind }

func (t *FakeTrack) Stop() {
	t.StopCount.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.frames)
	}
}

func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Push feeds a PCM frame to stream consumers. Dropped once stopped or
// when the consumer has fallen behind.
func (t *FakeTrack) Push(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.frames <- frame:
	default:
	}
}

// FakeStream assembles a stream over fake tracks, sharing the frame feed
// of the first audio track.
func FakeStream(source Source, tracks ...*FakeTrack) *Stream {
	var cast []Track
	var frames chan []byte
	for _, t := range tracks {
		cast = append(cast, t)
		if frames == nil && t.kind == TrackAudio {
			frames = t.frames
		}
	}
	return NewStream(source, cast, frames)
}

// FakeAcquirer hands out scripted streams and counts acquisitions, so
// tests can verify the single-open-stream invariant.
type FakeAcquirer struct {
	mu       sync.Mutex
	next     []*Stream
	err      error
	Acquired int
	Handed   []*Stream
}

func NewFakeAcquirer() *FakeAcquirer { return &FakeAcquirer{} }

// Queue appends a stream that the next Acquire call will return.
func (a *FakeAcquirer) Queue(s *Stream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = append(a.next, s)
}

// Fail makes every subsequent Acquire return err.
func (a *FakeAcquirer) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *FakeAcquirer) Acquire(_ context.Context, source Source) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acquired++
	if a.err != nil {
		return nil, a.err
	}
	var s *Stream
	if len(a.next) > 0 {
		s = a.next[0]
		a.next = a.next[1:]
	} else {
		s = FakeStream(source, NewFakeTrack(TrackAudio))
	}
	a.Handed = append(a.Handed, s)
	return s, nil
}

// AcquiredCount reports how many acquisitions happened so far.
func (a *FakeAcquirer) AcquiredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Acquired
}

// Latest returns the most recently handed-out stream, or nil.
func (a *FakeAcquirer) Latest() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Handed) == 0 {
		return nil
	}
	return a.Handed[len(a.Handed)-1]
}

// OpenStreams reports how many handed-out streams still have a live track.
func (a *FakeAcquirer) OpenStreams() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	open := 0
	for _, s := range a.Handed {
		if s.Live() {
			open++
		}
	}
	return open
}
