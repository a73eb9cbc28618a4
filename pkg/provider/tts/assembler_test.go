package tts

import (
	"testing"

	"github.com/vietvoz/vozgate/pkg/audio"
)

func TestAssemblerCutsWholeFrames(t *testing.T) {
	// Already at the output rate, normal style: pure framing.
	asm := newFrameAssembler(audio.OutputSampleRate, "normal")

	frames := asm.Push(make([]byte, audio.OutputFrameBytes*2+100))
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f) != audio.OutputFrameBytes {
			t.Fatalf("frame %d length = %d", i, len(f))
		}
	}

	// The 100 residual bytes surface after the next push tops them up.
	frames = asm.Push(make([]byte, audio.OutputFrameBytes-100))
	if len(frames) != 1 {
		t.Fatalf("frames after top-up = %d, want 1", len(frames))
	}
}

func TestAssemblerFlushPadsResidual(t *testing.T) {
	asm := newFrameAssembler(audio.OutputSampleRate, "normal")
	asm.Push(make([]byte, 500))

	tail := asm.Flush()
	if len(tail) != audio.OutputFrameBytes {
		t.Fatalf("flushed frame length = %d, want %d", len(tail), audio.OutputFrameBytes)
	}
	if asm.Flush() != nil {
		t.Fatal("second flush should return nil")
	}
}

func TestAssemblerResamples(t *testing.T) {
	asm := newFrameAssembler(piperSampleRate, "normal")

	// One second at 22050 becomes one second at 24000: 16 full frames and
	// change.
	var total int
	for _, f := range asm.Push(make([]byte, piperSampleRate*2)) {
		total += len(f)
	}
	if tail := asm.Flush(); tail != nil {
		total += len(tail)
	}
	wantSamples := 24000
	gotSamples := total / 2
	// Padding rounds up to a frame boundary.
	if gotSamples < wantSamples || gotSamples > wantSamples+audio.OutputFrameSamples {
		t.Fatalf("output samples = %d, want ~%d", gotSamples, wantSamples)
	}
}

func TestAssemblerNoDataNoFrames(t *testing.T) {
	asm := newFrameAssembler(piperSampleRate, "robot")
	if frames := asm.Push(nil); frames != nil {
		t.Fatalf("Push(nil) = %v, want nil", frames)
	}
	if tail := asm.Flush(); tail != nil {
		t.Fatalf("Flush on empty = %v, want nil", tail)
	}
}
