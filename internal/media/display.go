package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/echoprep/echoprep-core/internal/config"
)

// DisplayCapturer opens the platform screen-share flow and returns the raw
// capture with whatever tracks the platform granted. The raw capture
// usually carries a video track: most platforms only surface the
// audio-sharing option in the picker when video is requested too.
type DisplayCapturer interface {
	Capture(ctx context.Context) (*Stream, error)
}

// DisplayAcquirer turns a raw display capture into an audio-only stream.
// Video tracks are stopped immediately; the raw capture handle stays
// reachable through the derived stream so a full teardown releases the
// picker-level handle as well.
type DisplayAcquirer struct {
	capturer DisplayCapturer
	log      *slog.Logger
}

func NewDisplayAcquirer(capturer DisplayCapturer, log *slog.Logger) *DisplayAcquirer {
	return &DisplayAcquirer{
		capturer: capturer,
		log:      log.With(slog.String("component", "display-acquirer")),
	}
}

func (a *DisplayAcquirer) Acquire(ctx context.Context, source Source) (*Stream, error) {
	if source != SourceDisplay {
		return nil, newAcquireError(CodeSourceUnavailable,
			"display acquirer cannot open "+string(source), "", nil)
	}

	raw, err := a.capturer.Capture(ctx)
	if err != nil {
		var ae *AcquireError
		if errors.As(err, &ae) {
			return nil, ae
		}
		if errors.Is(err, context.Canceled) {
			return nil, newAcquireError(CodeAborted, "display capture dismissed", "", err)
		}
		return nil, newAcquireError(CodeUnknown, "display capture failed", "", err)
	}

	for _, v := range raw.VideoTracks() {
		v.Stop()
	}

	audio := raw.AudioTracks()
	if len(audio) == 0 {
		raw.Stop()
		return nil, newAcquireError(CodeNoAudioTrack,
			"display capture has no audio track",
			"re-share the screen with audio sharing enabled", nil)
	}

	a.log.Info("display audio stream acquired", slog.Int("audio_tracks", len(audio)))
	return raw.Derive(audio), nil
}

// ExecDisplayCapturer shells out to a configured loopback/desktop capture
// command (ffmpeg, pw-record, ...) that writes raw 16-bit PCM to stdout.
type ExecDisplayCapturer struct {
	cmd       []string
	frameSize int
	log       *slog.Logger
}

func NewExecDisplayCapturer(cfg config.CaptureConfig, log *slog.Logger) (*ExecDisplayCapturer, error) {
	if cfg.DisplayCommand == "" {
		return nil, newAcquireError(CodeSourceUnavailable,
			"no display capture command configured",
			"set capture.display_command to a loopback capture command", nil)
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.DisplayCommand)
	if err != nil || len(args) == 0 {
		return nil, newAcquireError(CodeSourceUnavailable,
			"display capture command is not parseable", "", err)
	}
	frameSize := cfg.SampleRate * cfg.Channels * 2 * cfg.FrameDurationMS / 1000
	return &ExecDisplayCapturer{cmd: args, frameSize: frameSize, log: log}, nil
}

func (c *ExecDisplayCapturer) Capture(ctx context.Context) (*Stream, error) {
	cmd := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newAcquireError(CodeUnknown, "open capture pipe", "", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, newAcquireError(CodeSourceUnavailable,
				"capture command not found",
				"install the configured capture tool or adjust capture.display_command", err)
		}
		return nil, newAcquireError(CodeUnknown, "start capture command", "", err)
	}

	frames := make(chan []byte, 64)
	track := &execTrack{cmd: cmd, frames: frames}
	go track.pump(stdout, c.frameSize)

	return NewStream(SourceDisplay, []Track{track}, frames), nil
}

// execTrack wraps the capture subprocess as a stoppable audio track.
type execTrack struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	stopped bool
	frames  chan []byte
}

func (t *execTrack) Kind() TrackKind { return TrackAudio }

func (t *execTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
}

func (t *execTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *execTrack) pump(r io.Reader, frameSize int) {
	defer close(t.frames)
	buf := make([]byte, frameSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if stopped {
				return
			}
			select {
			case t.frames <- frame:
			default:
				// consumer is behind; drop rather than stall the capture pipe
			}
		}
		if err != nil {
			return
		}
	}
}
