// This file contains the whisper.cpp-backed transcriber (CGO). The
// whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies Transcriber.
var _ Transcriber = (*Native)(nil)

// Native runs whisper.cpp inference in-process, eliminating HTTP overhead
// entirely. The model is loaded once at startup and shared across all
// connections; each Transcribe call gets its own inference context, so
// concurrent calls are safe.
type Native struct {
	model    whisperlib.Model
	language string
}

// NewNative loads the whisper.cpp model from the given file path. The
// caller must call Close when the transcriber is no longer needed.
func NewNative(modelPath, language string) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("stt: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load whisper model %q: %w", modelPath, err)
	}
	return &Native{model: model, language: language}, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe implements Transcriber.
func (n *Native) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < MinPCMBytes {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	samples := pcmToFloat32(pcm)

	// Contexts are not thread-safe, but the model is; one per call.
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("stt: create whisper context: %w", err)
	}
	if n.language != "" {
		if err := wctx.SetLanguage(n.language); err != nil {
			slog.Warn("stt: failed to set language, using default", "language", n.language, "error", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("stt: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stt: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32 converts little-endian int16 PCM to the normalised float32
// samples whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
