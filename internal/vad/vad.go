// Package vad implements the energy-based voice activity detector that
// decides when a device has finished speaking. It works on decoded 60 ms PCM
// frames and uses two RMS thresholds with hysteresis: a higher one to confirm
// speech and a lower one below which frames count as silence.
package vad

import "github.com/vietvoz/vozgate/pkg/audio"

// State classifies one analyzed frame.
type State int

const (
	// Silence means no confirmed speech yet, or quiet inside a pause too
	// short to end the utterance.
	Silence State = iota
	// Speech means the frame is loud, or quiet-but-ambiguous after speech
	// was already confirmed.
	Speech
	// SilenceAfterSpeech fires when enough consecutive silent frames follow
	// confirmed speech. It is the trigger to transcribe the buffer.
	SilenceAfterSpeech
)

func (s State) String() string {
	switch s {
	case Speech:
		return "speech"
	case SilenceAfterSpeech:
		return "silence_after_speech"
	default:
		return "silence"
	}
}

// Config holds the detector thresholds. Zero fields take the defaults tuned
// for ESP32 microphones at 16 kHz.
type Config struct {
	SpeechThreshold     float64 // RMS above this counts toward speech
	SilenceThreshold    float64 // RMS below this counts as silence
	SpeechFramesNeeded  int     // consecutive loud frames to confirm speech
	SilenceFramesNeeded int     // consecutive silent frames to end the turn
}

func (c Config) withDefaults() Config {
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 2500
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 2000
	}
	if c.SpeechFramesNeeded == 0 {
		c.SpeechFramesNeeded = 8
	}
	if c.SilenceFramesNeeded == 0 {
		c.SilenceFramesNeeded = 10
	}
	return c
}

// Detector is the per-utterance state machine. Not safe for concurrent use;
// each connection owns one.
type Detector struct {
	cfg Config

	speechFrames int
	silentFrames int
	hasSpeech    bool
}

// New creates a detector with the given thresholds.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Analyze classifies one PCM frame and advances the state machine.
//
// Frames between the two thresholds reset the silence counter without
// counting as speech: they stretch a pause rather than end it.
func (d *Detector) Analyze(pcm []byte) State {
	rms := audio.RMS(pcm)

	switch {
	case rms > d.cfg.SpeechThreshold:
		d.silentFrames = 0
		d.speechFrames++
		if d.speechFrames >= d.cfg.SpeechFramesNeeded {
			d.hasSpeech = true
		}
		return Speech

	case rms > d.cfg.SilenceThreshold:
		d.silentFrames = 0
		if d.hasSpeech {
			return Speech
		}
		return Silence

	default:
		d.silentFrames++
		if d.hasSpeech && d.silentFrames >= d.cfg.SilenceFramesNeeded {
			return SilenceAfterSpeech
		}
		return Silence
	}
}

// HasSpeech reports whether speech has been confirmed since the last Reset.
func (d *Detector) HasSpeech() bool { return d.hasSpeech }

// Reset clears all counters for the next utterance.
func (d *Detector) Reset() {
	d.speechFrames = 0
	d.silentFrames = 0
	d.hasSpeech = false
}
