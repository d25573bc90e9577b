package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedCapturer struct {
	stream *Stream
	err    error
}

func (c *scriptedCapturer) Capture(context.Context) (*Stream, error) {
	return c.stream, c.err
}

func TestDisplayAcquireStopsVideoAndDerivesAudio(t *testing.T) {
	video := NewFakeTrack(TrackVideo)
	audio := NewFakeTrack(TrackAudio)
	raw := FakeStream(SourceDisplay, video, audio)

	acq := NewDisplayAcquirer(&scriptedCapturer{stream: raw}, newLogger())
	stream, err := acq.Acquire(context.Background(), SourceDisplay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !video.Stopped() {
		t.Error("video track should be stopped immediately")
	}
	if audio.Stopped() {
		t.Error("audio track should stay live")
	}
	if got := len(stream.Tracks()); got != 1 {
		t.Fatalf("derived stream should own only the audio track, got %d", got)
	}

	// full teardown of the derived stream releases the raw capture handle
	stream.Stop()
	if !audio.Stopped() {
		t.Error("audio track should be stopped after derived stream teardown")
	}
	if video.StopCount.Load() < 1 {
		t.Error("raw capture should have been released")
	}
}

func TestDisplayAcquireNoAudioTrack(t *testing.T) {
	video := NewFakeTrack(TrackVideo)
	raw := FakeStream(SourceDisplay, video)

	acq := NewDisplayAcquirer(&scriptedCapturer{stream: raw}, newLogger())
	_, err := acq.Acquire(context.Background(), SourceDisplay)
	if err == nil {
		t.Fatal("expected acquisition failure")
	}
	if CodeOf(err) != CodeNoAudioTrack {
		t.Fatalf("expected NoAudioTrack, got %s", CodeOf(err))
	}

	var ae *AcquireError
	if !errors.As(err, &ae) || ae.Hint == "" {
		t.Fatal("expected a user-actionable hint on the error")
	}
	if !video.Stopped() {
		t.Error("no hardware track may remain open after a NoAudioTrack failure")
	}
	if raw.Live() {
		t.Error("raw capture must be fully torn down")
	}
}

func TestDisplayAcquireCapturerErrorPassthrough(t *testing.T) {
	wrapped := newAcquireError(CodePolicyDisallowed, "screen capture disabled by policy",
		"enable screen recording for this app in system privacy settings", nil)
	acq := NewDisplayAcquirer(&scriptedCapturer{err: wrapped}, newLogger())

	_, err := acq.Acquire(context.Background(), SourceDisplay)
	if CodeOf(err) != CodePolicyDisallowed {
		t.Fatalf("expected PolicyDisallowed, got %s", CodeOf(err))
	}
}

func TestDisplayAcquireCancelledIsAborted(t *testing.T) {
	acq := NewDisplayAcquirer(&scriptedCapturer{err: context.Canceled}, newLogger())
	_, err := acq.Acquire(context.Background(), SourceDisplay)
	if CodeOf(err) != CodeAborted {
		t.Fatalf("expected Aborted, got %s", CodeOf(err))
	}
}

func TestDisplayAcquirerRejectsWrongSource(t *testing.T) {
	acq := NewDisplayAcquirer(&scriptedCapturer{}, newLogger())
	if _, err := acq.Acquire(context.Background(), SourceMicrophone); err == nil {
		t.Fatal("expected error for microphone source")
	}
}

func TestStreamStopIdempotent(t *testing.T) {
	track := NewFakeTrack(TrackAudio)
	stream := FakeStream(SourceMicrophone, track)

	stream.Stop()
	stream.Stop()
	if track.StopCount.Load() != 1 {
		t.Fatalf("expected a single underlying stop, got %d", track.StopCount.Load())
	}
	if stream.Live() {
		t.Error("stream should not be live after stop")
	}
}

func TestClassifyDeviceError(t *testing.T) {
	cases := []struct {
		err  error
		want AcquireCode
	}{
		{errors.New("access denied by user"), CodePermissionDenied},
		{errors.New("no device found"), CodeSourceUnavailable},
		{errors.New("strange backend failure"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := classifyDeviceError("op", tc.err).Code; got != tc.want {
			t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
