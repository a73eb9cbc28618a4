package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vietvoz/vozgate/pkg/audio"
)

// piperSampleRate is the output rate of the Vietnamese piper voices in use.
const piperSampleRate = 22050

// Compile-time assertion that Piper satisfies Synthesizer.
var _ Synthesizer = (*Piper)(nil)

// Piper synthesizes speech by running the piper binary per utterance with
// --output-raw and converting its 22 050 Hz PCM stream into 24 kHz opus
// frames. Frames are emitted as soon as enough PCM accumulates, so playback
// starts before the sentence finishes rendering.
type Piper struct {
	bin       string
	modelPath string
	speakerID *int
	speed     float64
	style     string
}

// PiperConfig configures a [Piper] voice.
type PiperConfig struct {
	Bin       string // piper binary, default "piper"
	ModelPath string
	SpeakerID *int // multi-speaker models only
	Speed     float64
	Style     string // an audio.StyleProfiles name
}

// NewPiper creates a Piper voice.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("tts: piper model path must not be empty")
	}
	bin := cfg.Bin
	if bin == "" {
		bin = "piper"
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1.0
	}
	if _, ok := audio.StyleProfiles[cfg.Style]; !ok && cfg.Style != "" {
		slog.Warn("unknown tts voice style, falling back to normal", "style", cfg.Style)
	}
	return &Piper{
		bin:       bin,
		modelPath: cfg.ModelPath,
		speakerID: cfg.SpeakerID,
		speed:     speed,
		style:     cfg.Style,
	}, nil
}

// args builds the piper command line. Speed maps to length_scale inversely:
// speaking twice as fast halves the phoneme length.
func (p *Piper) args() []string {
	a := []string{
		"--model", p.modelPath,
		"--output-raw",
		"--length-scale", strconv.FormatFloat(1.0/p.speed, 'f', 3, 64),
	}
	if p.speakerID != nil {
		a = append(a, "--speaker", strconv.Itoa(*p.speakerID))
	}
	return a
}

// Synthesize implements Synthesizer.
func (p *Piper) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	text = strings.TrimSpace(text)
	if text == "" {
		close(out)
		return out, nil
	}

	enc, err := audio.NewEncoder()
	if err != nil {
		close(out)
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.bin, p.args()...)
	cmd.Stdin = strings.NewReader(text + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(out)
		return nil, fmt.Errorf("tts: piper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		close(out)
		return nil, fmt.Errorf("tts: start piper: %w", err)
	}

	go func() {
		defer close(out)
		defer cmd.Wait()

		started := time.Now()
		var firstFrame time.Duration
		frames := 0

		asm := newFrameAssembler(piperSampleRate, p.style)
		emit := func(pcm []byte) bool {
			packet, err := enc.Encode(pcm)
			if err != nil {
				slog.Error("tts: opus encode failed", "error", err)
				return false
			}
			frames++
			if frames == 1 {
				firstFrame = time.Since(started)
			}
			select {
			case out <- packet:
				return true
			case <-ctx.Done():
				return false
			}
		}

		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				for _, frame := range asm.Push(buf[:n]) {
					if !emit(frame) {
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					slog.Error("tts: read piper output", "error", err)
				}
				break
			}
		}
		if tail := asm.Flush(); tail != nil {
			if !emit(tail) {
				return
			}
		}

		slog.Info("tts timing",
			"chars", len(text),
			"frames", frames,
			"first_frame", firstFrame,
			"total", time.Since(started),
			"style", p.style,
		)
	}()

	return out, nil
}
