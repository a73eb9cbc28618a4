package audio

import (
	"math"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := Int16sToBytes([]int16{0, 100, -100, 32767, -32768})
	wav := EncodeWAV(pcm, 24000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}

	got, info, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 {
		t.Fatalf("info = %+v, want 24000/1", info)
	}
	if len(got) != len(pcm) {
		t.Fatalf("pcm length = %d, want %d", len(got), len(pcm))
	}
	for i := range got {
		if got[i] != pcm[i] {
			t.Fatalf("pcm[%d] = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	pcm := Int16sToBytes([]int16{1, 2, 3, 4})
	wav := EncodeWAV(pcm, 16000, 1)

	// Splice a LIST chunk between fmt and data.
	extra := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	spliced := append(append(append([]byte{}, wav[:36]...), extra...), wav[36:]...)

	got, info, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", info.SampleRate)
	}
	if len(got) != len(pcm) {
		t.Fatalf("pcm length = %d, want %d", len(got), len(pcm))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(Int16sToBytes(make([]int16, 960))); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}

	// Constant amplitude has RMS equal to that amplitude.
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = 3000
	}
	if got := RMS(Int16sToBytes(pcm)); math.Abs(got-3000) > 0.001 {
		t.Fatalf("RMS(const 3000) = %v, want 3000", got)
	}
}
