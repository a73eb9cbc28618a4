package tts

import "github.com/vietvoz/vozgate/pkg/audio"

// frameAssembler accumulates synthesis PCM, runs it through the resampler
// and voice-style shaper, and cuts it into whole output frames. Residual
// samples that do not fill a frame stay buffered until the next push, so no
// audio is lost at chunk boundaries.
type frameAssembler struct {
	resampler *audio.Resampler
	shaper    *audio.StyleShaper
	buf       []byte
}

// newFrameAssembler creates an assembler for PCM arriving at srcRate. style
// names an [audio.StyleProfiles] entry.
func newFrameAssembler(srcRate int, style string) *frameAssembler {
	return &frameAssembler{
		resampler: audio.NewResampler(srcRate, audio.OutputSampleRate),
		shaper:    audio.NewStyleShaper(style, audio.OutputSampleRate),
	}
}

// Push processes one PCM chunk and returns every complete output frame now
// available, each exactly [audio.OutputFrameBytes] long.
func (a *frameAssembler) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	chunk = a.resampler.Process(chunk)
	chunk = a.shaper.Process(chunk)
	a.buf = append(a.buf, chunk...)

	var frames [][]byte
	for len(a.buf) >= audio.OutputFrameBytes {
		frame := make([]byte, audio.OutputFrameBytes)
		copy(frame, a.buf[:audio.OutputFrameBytes])
		frames = append(frames, frame)
		a.buf = a.buf[audio.OutputFrameBytes:]
	}
	return frames
}

// Flush pads any residual samples with silence to a full frame and returns
// it, or nil when the buffer is empty. The assembler is reset for reuse.
func (a *frameAssembler) Flush() []byte {
	if len(a.buf) == 0 {
		a.shaper.Reset()
		return nil
	}
	frame := audio.PadToFrame(a.buf)
	a.buf = nil
	a.shaper.Reset()
	return frame
}
