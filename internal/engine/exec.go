package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/echoprep/echoprep-core/internal/config"
)

// ExecRecognizer approximates a streaming session on top of a one-shot
// command-line transcriber (whisper-cli style): audio is buffered, a
// partial pass runs over the whole buffer on a fixed cadence, and the
// final pass runs when the sender closes.
type ExecRecognizer struct {
	cmd []string
	cfg config.EngineConfig
}

func NewExecRecognizer(cfg config.EngineConfig) (*ExecRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &ExecRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *ExecRecognizer) Open(ctx context.Context, cfg StreamConfig) (RecognizerSession, error) {
	ctx, cancel := context.WithCancel(ctx)
	sess := &execSession{
		rec:     r,
		scfg:    cfg,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan Result, 16),
		closed:  make(chan struct{}),
	}
	if cfg.Interim && r.cfg.PartialEveryMS > 0 {
		go sess.partialLoop(time.Duration(r.cfg.PartialEveryMS) * time.Millisecond)
	}
	return sess, nil
}

type execSession struct {
	rec  *ExecRecognizer
	scfg StreamConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	buf      []byte
	inflight bool
	err      error

	closeOnce sync.Once
	closed    chan struct{}
	results   chan Result
}

func (s *execSession) SendAudio(chunk []byte) error {
	select {
	case <-s.closed:
		return fmt.Errorf("session closed")
	default:
	}
	s.mu.Lock()
	s.buf = append(s.buf, chunk...)
	s.mu.Unlock()
	return nil
}

func (s *execSession) Results() <-chan Result { return s.results }

func (s *execSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseSend runs the final pass over everything buffered, then ends the
// result stream.
func (s *execSession) CloseSend() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		go func() {
			defer close(s.results)
			defer s.cancel()

			s.mu.Lock()
			pcm := append([]byte(nil), s.buf...)
			s.mu.Unlock()
			if len(pcm) == 0 {
				return
			}

			text, confidence, err := s.transcribe(pcm, true)
			if err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}
			s.results <- Result{Text: text, Final: true, Confidence: confidence}
		}()
	})
	return nil
}

func (s *execSession) partialLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.inflight || len(s.buf) == 0 {
			s.mu.Unlock()
			continue
		}
		s.inflight = true
		pcm := append([]byte(nil), s.buf...)
		s.mu.Unlock()

		text, confidence, err := s.transcribe(pcm, false)

		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()

		if err != nil || text == "" {
			continue
		}
		select {
		case <-s.closed:
			return
		case s.results <- Result{Text: text, Confidence: confidence}:
		}
	}
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (s *execSession) transcribe(pcm []byte, final bool) (string, float64, error) {
	file, err := os.CreateTemp("", "echoprep_stt_*.wav")
	if err != nil {
		return "", 0, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, s.scfg.SampleRate, s.scfg.Channels); err != nil {
		return "", 0, err
	}

	args := append([]string{}, s.rec.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if s.rec.cfg.ModelPath != "" {
		args = append(args, "--model", s.rec.cfg.ModelPath)
	}
	if s.rec.cfg.Language != "" {
		args = append(args, "--language", s.rec.cfg.Language)
	}
	if !final {
		args = append(args, "--partial")
	}

	ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
	defer cancel()

	command := exec.CommandContext(ctx, s.rec.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", 0, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", 0, fmt.Errorf("decode engine response: %w", err)
	}
	return resp.Text, resp.Confidence, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
