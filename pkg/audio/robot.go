package audio

import "math"

// StyleProfile parameterizes the robot voice effect: ring modulation against
// a square carrier, a one-pole lowpass to tame the edges, then a dry/wet mix.
type StyleProfile struct {
	Enabled   bool
	CarrierHz float64
	Mix       float64
	LowpassHz float64
}

// StyleProfiles are the selectable voice styles. Unknown names fall back to
// "normal" (no processing).
var StyleProfiles = map[string]StyleProfile{
	"normal":     {},
	"robot":      {Enabled: true, CarrierHz: 95, Mix: 0.72, LowpassHz: 3000},
	"robot_soft": {Enabled: true, CarrierHz: 75, Mix: 0.55, LowpassHz: 3600},
	"robot_deep": {Enabled: true, CarrierHz: 58, Mix: 0.8, LowpassHz: 2500},
}

// StyleShaper applies a StyleProfile to a PCM stream. Carrier phase and the
// lowpass state carry across chunks so consecutive chunks of one utterance
// join without pops. Reset between utterances.
type StyleShaper struct {
	profile    StyleProfile
	sampleRate float64

	phase  float64
	lpPrev float64
}

// NewStyleShaper creates a shaper for the named style at the given sample
// rate. An unknown style name yields a passthrough shaper.
func NewStyleShaper(style string, sampleRate int) *StyleShaper {
	profile, ok := StyleProfiles[style]
	if !ok {
		profile = StyleProfiles["normal"]
	}
	return &StyleShaper{profile: profile, sampleRate: float64(sampleRate)}
}

// Enabled reports whether the shaper modifies audio at all.
func (s *StyleShaper) Enabled() bool { return s.profile.Enabled }

// Reset clears the cross-chunk DSP state. Call it at each utterance boundary.
func (s *StyleShaper) Reset() {
	s.phase = 0
	s.lpPrev = 0
}

// Process applies the effect to one chunk of little-endian int16 PCM and
// returns the shaped chunk. Disabled shapers return the input unchanged.
func (s *StyleShaper) Process(pcm []byte) []byte {
	if !s.profile.Enabled || len(pcm) < 2 {
		return pcm
	}

	in := BytesToInt16s(pcm)
	out := make([]int16, len(in))

	phaseInc := 2 * math.Pi * s.profile.CarrierHz / s.sampleRate
	dt := 1.0 / s.sampleRate
	rc := 1.0 / (2 * math.Pi * math.Max(s.profile.LowpassHz, 10))
	alpha := dt / (rc + dt)

	phase := s.phase
	prev := s.lpPrev
	for i, sample := range in {
		dry := float64(sample) / 32768.0

		carrier := 1.0
		if math.Sin(phase) < 0 {
			carrier = -1.0
		}
		wet := dry * carrier

		prev += alpha * (wet - prev)
		mixed := (1-s.profile.Mix)*dry + s.profile.Mix*prev
		out[i] = clampInt16(mixed * 32768.0)

		phase += phaseInc
	}
	s.phase = math.Mod(phase, 2*math.Pi)
	s.lpPrev = prev

	return Int16sToBytes(out)
}
