package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/vietvoz/vozgate/pkg/audio"
)

// Compile-time assertion that Remote satisfies Transcriber.
var _ Transcriber = (*Remote)(nil)

// Remote transcribes through a Whisper-compatible transcription API. The
// PCM is wrapped in a WAV container and uploaded whole; these APIs have no
// streaming mode worth using at utterance length.
type Remote struct {
	client   oai.Client
	model    string
	language string
}

// NewRemote creates a Remote transcriber. baseURL selects the vendor
// (Groq's OpenAI-compatible root, api.openai.com, or a local server).
func NewRemote(apiKey, baseURL, model, language string) (*Remote, error) {
	if model == "" {
		return nil, fmt.Errorf("stt: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &Remote{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: language,
	}, nil
}

// Transcribe implements Transcriber.
func (r *Remote) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < MinPCMBytes {
		return "", nil
	}

	wav := audio.EncodeWAV(pcm, sampleRate, 1)
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(r.model),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if r.language != "" {
		params.Language = param.NewOpt(r.language)
	}

	result, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("stt: transcription request: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
