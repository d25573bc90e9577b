package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/media"
)

// State is the recorder lifecycle: idle -> recording -> stopped -> idle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

// Clip is the finished audio artifact produced by Stop: the raw samples
// plus a referenceable WAV file on disk.
type Clip struct {
	PCM        []byte
	Path       string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Recorder buffers encoded audio chunks from one acquired stream into a
// single clip. Stop finalizes the clip but deliberately leaves the
// stream's tracks running: a consumer may hand the live stream to a
// transcription call between stopped and reset. Reset is the one
// authoritative teardown path.
type Recorder struct {
	cfg config.CaptureConfig
	log *slog.Logger

	mu     sync.Mutex
	state  State
	stream *media.Stream
	pcm    []byte
	clip   *Clip
	err    error

	quit chan struct{}
	done chan struct{}
}

func New(cfg config.CaptureConfig, log *slog.Logger) *Recorder {
	return &Recorder{
		cfg:   cfg,
		log:   log.With(slog.String("component", "recorder")),
		state: StateIdle,
	}
}

// Start begins buffering chunks from stream. No-op if already recording.
func (r *Recorder) Start(stream *media.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		return
	}
	r.state = StateRecording
	r.stream = stream
	r.pcm = r.pcm[:0]
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.pump(stream.Frames(), r.quit, r.done)
}

func (r *Recorder) pump(frames <-chan []byte, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			r.mu.Lock()
			r.pcm = append(r.pcm, frame...)
			r.mu.Unlock()
		}
	}
}

// Stop finalizes the buffered chunks into a clip and transitions to
// stopped. The stream's hardware tracks are NOT released here.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	quit, done := r.quit, r.done
	r.mu.Unlock()

	close(quit)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()

	pcm := make([]byte, len(r.pcm))
	copy(pcm, r.pcm)

	clip := &Clip{
		PCM:        pcm,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		Duration:   pcmDuration(len(pcm), r.cfg.SampleRate, r.cfg.Channels),
	}
	path, err := r.writeClip(pcm)
	if err != nil {
		r.err = err
		r.log.Warn("failed to write clip artifact", slog.String("error", err.Error()))
	} else {
		clip.Path = path
	}

	r.clip = clip
	r.state = StateStopped
}

// Reset is the single teardown path: stops first if still recording,
// releases the clip artifact, stops every owned stream track, clears the
// error, and returns to idle. Safe from any state.
func (r *Recorder) Reset() {
	r.Stop()

	r.mu.Lock()
	clip := r.clip
	stream := r.stream
	r.clip = nil
	r.stream = nil
	r.pcm = nil
	r.err = nil
	r.state = StateIdle
	r.mu.Unlock()

	if clip != nil && clip.Path != "" {
		if err := os.Remove(clip.Path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("failed to remove clip artifact", slog.String("error", err.Error()))
		}
	}
	if stream != nil {
		stream.Stop()
	}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Clip returns the finished artifact, or nil before Stop or after Reset.
func (r *Recorder) Clip() *Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clip
}

// Stream returns the owned stream; live until Reset.
func (r *Recorder) Stream() *media.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

// Err returns the last artifact error, cleared by Reset.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) writeClip(pcm []byte) (string, error) {
	if err := os.MkdirAll(r.cfg.ClipDir, 0o755); err != nil {
		return "", fmt.Errorf("create clip dir: %w", err)
	}
	path := filepath.Join(r.cfg.ClipDir, "clip_"+uuid.NewString()+".wav")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	defer file.Close()

	if err := writePCMToWav(file, pcm, r.cfg.SampleRate, r.cfg.Channels); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func pcmDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
