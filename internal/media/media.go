package media

import "sync"

// Source identifies which platform capture path a stream came from.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceDisplay    Source = "display"
)

// TrackKind distinguishes audio from video tracks on a raw capture.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one live hardware capture handle. Stop is idempotent and
// releases the underlying device resource.
type Track interface {
	Kind() TrackKind
	Stop()
	Stopped() bool
}

// Stream is an exclusively owned set of live tracks plus the PCM frame
// feed consumed by the recorder or the transcription engine. A stream
// derived from a display capture keeps the original capture reachable via
// origin so a full teardown releases the picker-level handle too.
type Stream struct {
	source Source
	tracks []Track
	frames <-chan []byte
	origin *Stream

	stopOnce sync.Once
}

// NewStream builds a stream over the given tracks. The frames channel is
// owned by the track producer and is closed when capture stops.
func NewStream(source Source, tracks []Track, frames <-chan []byte) *Stream {
	return &Stream{source: source, tracks: tracks, frames: frames}
}

// Derive builds an audio-only stream over a subset of s's tracks while
// keeping s reachable for later full teardown.
func (s *Stream) Derive(tracks []Track) *Stream {
	return &Stream{source: s.source, tracks: tracks, frames: s.frames, origin: s}
}

func (s *Stream) Source() Source { return s.source }

// Tracks returns the owned track set.
func (s *Stream) Tracks() []Track { return s.tracks }

// AudioTracks filters the owned tracks down to audio.
func (s *Stream) AudioTracks() []Track { return s.byKind(TrackAudio) }

// VideoTracks filters the owned tracks down to video.
func (s *Stream) VideoTracks() []Track { return s.byKind(TrackVideo) }

func (s *Stream) byKind(kind TrackKind) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Frames yields raw PCM (16-bit little-endian) capture frames. The channel
// closes when the producing track stops.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Stop releases every owned track, and the originating capture for
// derived streams. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		if s.origin != nil {
			s.origin.Stop()
		}
	})
}

// Live reports whether any owned track is still running.
func (s *Stream) Live() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}
