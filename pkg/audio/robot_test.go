package audio

import "testing"

func TestStyleShaperNormalIsPassthrough(t *testing.T) {
	s := NewStyleShaper("normal", OutputSampleRate)
	in := Int16sToBytes([]int16{100, -100, 5000})
	out := s.Process(in)
	if &out[0] != &in[0] {
		t.Fatal("normal style must return input unchanged")
	}
	if s.Enabled() {
		t.Fatal("normal style must report disabled")
	}
}

func TestStyleShaperUnknownFallsBackToNormal(t *testing.T) {
	s := NewStyleShaper("alien", OutputSampleRate)
	if s.Enabled() {
		t.Fatal("unknown style must fall back to passthrough")
	}
}

func TestStyleShaperModifiesAudio(t *testing.T) {
	s := NewStyleShaper("robot", OutputSampleRate)
	in := make([]int16, 2400)
	for i := range in {
		in[i] = 8000
	}
	out := BytesToInt16s(s.Process(Int16sToBytes(in)))
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	changed := false
	for i := range out {
		if out[i] != in[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("robot style left audio unchanged")
	}
}

func TestStyleShaperStateCarriesAcrossChunks(t *testing.T) {
	// Processing one buffer in two halves must equal processing it whole,
	// because phase and filter state persist across Process calls.
	in := make([]int16, 2880)
	for i := range in {
		in[i] = int16((i%200)*100 - 10000)
	}
	b := Int16sToBytes(in)

	whole := NewStyleShaper("robot_deep", OutputSampleRate)
	wantBytes := whole.Process(b)

	split := NewStyleShaper("robot_deep", OutputSampleRate)
	got := append([]byte{}, split.Process(b[:len(b)/2])...)
	got = append(got, split.Process(b[len(b)/2:])...)

	if len(got) != len(wantBytes) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(wantBytes))
	}
	for i := range got {
		if got[i] != wantBytes[i] {
			t.Fatalf("split processing diverges at byte %d", i)
		}
	}
}

func TestStyleShaperReset(t *testing.T) {
	s := NewStyleShaper("robot", OutputSampleRate)
	in := Int16sToBytes(make([]int16, 960))
	first := append([]byte{}, s.Process(in)...)
	s.Reset()
	second := s.Process(in)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("reset did not restore initial state (byte %d)", i)
		}
	}
}
