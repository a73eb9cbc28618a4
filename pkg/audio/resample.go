package audio

import "math"

// Resampler converts 16-bit mono PCM between two fixed sample rates using a
// polyphase windowed-sinc filter. The rational ratio is reduced once at
// construction (24000/22050 reduces to 160/147), so the hot path is integer
// phase bookkeeping plus a short FIR per output sample.
//
// Each chunk is resampled independently, matching how the synthesis path
// feeds it chunk by chunk.
type Resampler struct {
	up, down int
	filter   []float64
	center   int
}

// filterWidth is the number of input-rate taps contributing to each output
// sample. 16 keeps the stopband well below the opus noise floor at these
// near-unity ratios.
const filterWidth = 16

// NewResampler builds a resampler from srcRate to dstRate. Equal rates are
// allowed and make Process a copy-through.
func NewResampler(srcRate, dstRate int) *Resampler {
	g := gcd(srcRate, dstRate)
	up := dstRate / g
	down := srcRate / g

	r := &Resampler{up: up, down: down}
	if up == down {
		return r
	}

	// Lowpass at the tighter of the two Nyquist limits, designed in the
	// upsampled domain. Gain up compensates for the zero stuffing.
	n := filterWidth * up
	if n%2 == 0 {
		n++
	}
	cutoff := 1.0 / float64(max(up, down))
	center := n / 2

	h := make([]float64, n)
	for i := range h {
		x := float64(i - center)
		// Hamming-windowed sinc.
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		h[i] = float64(up) * cutoff * sinc(cutoff*x) * w
	}
	r.filter = h
	r.center = center
	return r
}

// Process resamples one chunk of little-endian int16 PCM. Output length is
// ceil(samples*up/down) samples, matching the rational ratio.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.up == r.down || len(pcm) < 2 {
		return pcm
	}
	in := BytesToInt16s(pcm)
	n := len(in)
	outN := (n*r.up + r.down - 1) / r.down

	out := make([]int16, outN)
	for m := range out {
		// Position of this output sample in the upsampled domain.
		t := m*r.down + r.center
		phase := t % r.up

		var acc float64
		for j := phase; j < len(r.filter); j += r.up {
			src := (t - j) / r.up
			if src < 0 {
				break
			}
			if src >= n {
				continue
			}
			acc += r.filter[j] * float64(in[src])
		}
		out[m] = clampInt16(acc)
	}
	return Int16sToBytes(out)
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
