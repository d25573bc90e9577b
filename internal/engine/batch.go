package engine

import (
	"context"
	"strings"
)

// TranscribeClip runs one whole recorded clip through a recognizer and
// returns the joined final text. Used for the rolling candidate-answer
// recordings, which are transcribed after the fact rather than live.
func TranscribeClip(ctx context.Context, rec Recognizer, cfg StreamConfig, pcm []byte) (string, error) {
	cfg.Interim = false
	sess, err := rec.Open(ctx, cfg)
	if err != nil {
		return "", err
	}

	chunkSize := cfg.SampleRate * cfg.Channels * 2 / 10 // ~100ms
	if chunkSize <= 0 {
		chunkSize = 3200
	}
	for off := 0; off < len(pcm); off += chunkSize {
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := sess.SendAudio(pcm[off:end]); err != nil {
			break
		}
	}
	if err := sess.CloseSend(); err != nil {
		return "", err
	}

	var finals []string
	for res := range sess.Results() {
		if res.Err != nil {
			ee := Classify(res.Err)
			if ee.Fatal() {
				return "", ee
			}
			continue
		}
		if res.Final && strings.TrimSpace(res.Text) != "" {
			finals = append(finals, strings.TrimSpace(res.Text))
		}
	}
	if err := sess.Err(); err != nil {
		return "", Classify(err)
	}
	return strings.Join(finals, " "), nil
}
