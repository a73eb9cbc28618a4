// Package tts turns reply text into outbound opus frames. The local piper
// voice handles synthesis; the media streamer pulls full songs or preview
// URLs through ffmpeg. Both emit ready-to-send 60 ms opus frames on a
// channel so the pipeline can pace them at wall-clock rate.
package tts

import "context"

// Synthesizer converts one sentence (or caption) of text into opus frames.
// The returned channel is closed when synthesis completes or ctx is
// cancelled. Empty input yields a closed channel and no error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
