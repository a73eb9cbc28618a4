package alarm

import (
	"fmt"
	"math"
	"os"

	"github.com/vietvoz/vozgate/pkg/audio"
)

// Ringtone generation parameters. The default ringtone is synthesized so the
// repo ships no audio assets; any local file or URL passed in an alarm's
// ringtone field is used as-is.
const (
	ringtoneSeconds   = 3.0
	ringtoneFreq1     = 880.0
	ringtoneFreq2     = 1320.0
	ringtoneAmplitude = 16000
)

// EnsureDefaultRingtone writes a two-tone WAV beep at path if no file exists
// there yet.
func EnsureDefaultRingtone(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	rate := audio.OutputSampleRate
	n := int(float64(rate) * ringtoneSeconds)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(rate)
		v := ringtoneAmplitude * 0.5 * (math.Sin(2*math.Pi*ringtoneFreq1*t) + 0.6*math.Sin(2*math.Pi*ringtoneFreq2*t))
		samples[i] = int16(math.Max(-32767, math.Min(32767, v)))
	}

	wav := audio.EncodeWAV(audio.Int16sToBytes(samples), rate, audio.Channels)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("alarm: write default ringtone: %w", err)
	}
	return nil
}
