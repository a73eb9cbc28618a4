// Package stt converts captured utterances to text. Two backends are
// provided: [Remote] for Whisper-compatible HTTP APIs (Groq, OpenAI) and
// [Native] for in-process whisper.cpp inference.
package stt

import "context"

// MinPCMBytes is the shortest buffer worth transcribing: 0.5 s of 16 kHz
// mono int16. Shorter captures are almost always VAD misfires.
const MinPCMBytes = 16000

// Transcriber converts one utterance of 16-bit little-endian mono PCM to
// text. Buffers under [MinPCMBytes] return "" without an error, as does
// audio the model hears as silence.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
