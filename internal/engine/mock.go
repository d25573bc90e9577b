package engine

import (
	"context"
	"fmt"
	"sync"
)

// mockRecognizer yields placeholder transcripts, for development without
// a speech backend.
type mockRecognizer struct{}

func NewMockRecognizer() Recognizer { return &mockRecognizer{} }

const mockPartialEvery = 32 * 1024

func (m *mockRecognizer) Open(_ context.Context, _ StreamConfig) (RecognizerSession, error) {
	return &mockSession{results: make(chan Result, 16)}, nil
}

type mockSession struct {
	mu       sync.Mutex
	received int
	lastMark int
	closed   bool

	closeOnce sync.Once
	results   chan Result
}

func (s *mockSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.received += len(chunk)
	if s.received-s.lastMark >= mockPartialEvery {
		s.lastMark = s.received
		select {
		case s.results <- Result{Text: fmt.Sprintf("[partial transcript length=%d]", s.received)}:
		default:
		}
	}
	return nil
}

func (s *mockSession) Results() <-chan Result { return s.results }

func (s *mockSession) Err() error { return nil }

func (s *mockSession) CloseSend() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		received := s.received
		s.mu.Unlock()
		if received > 0 {
			s.results <- Result{Text: fmt.Sprintf("[final transcript length=%d]", received), Final: true}
		}
		close(s.results)
	})
	return nil
}
