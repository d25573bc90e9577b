package engine

import "context"

// StreamConfig describes the audio the recognizer will receive.
type StreamConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Interim    bool
}

// Result is one recognition event. A non-nil Err marks an in-stream engine
// error; the engine decides whether it is fatal.
type Result struct {
	Text       string
	Final      bool
	Confidence float64
	Err        error
}

// RecognizerSession is one live recognition stream. Results closes when
// the session ends, after which Err reports the terminal error if any.
type RecognizerSession interface {
	SendAudio(chunk []byte) error
	Results() <-chan Result
	CloseSend() error
	Err() error
}

// Recognizer abstracts continuous, interim-capable speech-to-text
// backends.
type Recognizer interface {
	Open(ctx context.Context, cfg StreamConfig) (RecognizerSession, error)
}
