package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/echoprep/echoprep-core/internal/config"
)

// MicrophoneAcquirer opens audio-only capture streams on the default
// input device via miniaudio.
type MicrophoneAcquirer struct {
	cfg config.CaptureConfig
	log *slog.Logger
}

func NewMicrophoneAcquirer(cfg config.CaptureConfig, log *slog.Logger) *MicrophoneAcquirer {
	return &MicrophoneAcquirer{
		cfg: cfg,
		log: log.With(slog.String("component", "mic-acquirer")),
	}
}

func (a *MicrophoneAcquirer) Acquire(ctx context.Context, source Source) (*Stream, error) {
	if source != SourceMicrophone {
		return nil, newAcquireError(CodeSourceUnavailable,
			"microphone acquirer cannot open "+string(source), "", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, newAcquireError(CodeAborted, "acquisition cancelled", "", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("initialize audio context", err)
	}

	frames := make(chan []byte, 64)
	track := &micTrack{mctx: mctx, frames: frames}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(a.cfg.Channels)
	deviceCfg.SampleRate = uint32(a.cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{Data: track.onData}

	device, err := malgo.InitDevice(mctx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("initialize capture device", err)
	}
	track.device = device

	if err := device.Start(); err != nil {
		track.Stop()
		return nil, classifyDeviceError("start capture device", err)
	}

	a.log.Info("microphone stream acquired",
		slog.Int("sample_rate", a.cfg.SampleRate),
		slog.Int("channels", a.cfg.Channels))

	return NewStream(SourceMicrophone, []Track{track}, frames), nil
}

// micTrack wraps one miniaudio capture device as a stoppable track.
type micTrack struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	stopped bool
	frames  chan []byte
}

func (t *micTrack) Kind() TrackKind { return TrackAudio }

func (t *micTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	if t.device != nil {
		t.device.Uninit()
		t.device = nil
	}
	if t.mctx != nil {
		_ = t.mctx.Uninit()
		t.mctx.Free()
		t.mctx = nil
	}
	close(t.frames)
}

func (t *micTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *micTrack) onData(_, sample []byte, _ uint32) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	frame := make([]byte, len(sample))
	copy(frame, sample)
	select {
	case t.frames <- frame:
	default:
		// consumer is behind; dropping a frame beats blocking the device callback
	}
}

func classifyDeviceError(op string, err error) *AcquireError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission"):
		return newAcquireError(CodePermissionDenied, op+" failed",
			"grant microphone access and try again", err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "no backend"):
		return newAcquireError(CodeSourceUnavailable, op+" failed",
			"no audio input device was found", err)
	}
	return newAcquireError(CodeUnknown, op+" failed", "", err)
}
