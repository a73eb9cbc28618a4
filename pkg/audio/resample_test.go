package audio

import (
	"math"
	"testing"
)

func TestResamplerRatio(t *testing.T) {
	r := NewResampler(22050, 24000)
	if r.up != 160 || r.down != 147 {
		t.Fatalf("reduced ratio = %d/%d, want 160/147", r.up, r.down)
	}
}

func TestResamplerOutputLength(t *testing.T) {
	r := NewResampler(22050, 24000)
	in := make([]int16, 2205) // 100 ms at source rate
	out := BytesToInt16s(r.Process(Int16sToBytes(in)))

	want := (2205*160 + 146) / 147
	if len(out) != want {
		t.Fatalf("output samples = %d, want %d", len(out), want)
	}
}

func TestResamplerPassthroughAtEqualRates(t *testing.T) {
	r := NewResampler(24000, 24000)
	in := Int16sToBytes([]int16{1, 2, 3})
	out := r.Process(in)
	if &out[0] != &in[0] {
		t.Fatal("equal rates should return the input unchanged")
	}
}

func TestResamplerPreservesTone(t *testing.T) {
	// A 440 Hz tone resampled 22050->24000 must keep roughly the same
	// amplitude in the interior (edges see filter rolloff).
	r := NewResampler(22050, 24000)
	in := make([]int16, 4410)
	for i := range in {
		in[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/22050))
	}
	out := BytesToInt16s(r.Process(Int16sToBytes(in)))

	var peak float64
	for _, s := range out[200 : len(out)-200] {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	if peak < 9000 || peak > 11000 {
		t.Fatalf("interior peak = %v, want near 10000", peak)
	}
}
