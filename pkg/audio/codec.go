// Package audio holds the PCM plumbing shared by the voice pipeline: the
// opus codec pair for device transport, WAV framing, RMS energy, the
// synthesis-rate resampler, and the voice-style shaper.
//
// All PCM in this package is 16-bit little-endian signed mono unless a
// function says otherwise.
package audio

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Devices send 16 kHz mono opus in 60 ms frames and play back 24 kHz mono
// opus at the same frame duration.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1

	FrameDuration = 60 * time.Millisecond

	// Samples per channel per 60 ms frame.
	InputFrameSamples  = InputSampleRate * 60 / 1000  // 960
	OutputFrameSamples = OutputSampleRate * 60 / 1000 // 1440

	// OutputFrameBytes is the PCM size of one outbound frame.
	OutputFrameBytes = OutputFrameSamples * 2 // 2880

	// OutputBitrate keeps outbound packets small enough for
	// microcontroller-class receive buffers.
	OutputBitrate = 32000
)

// Decoder decodes inbound opus packets into 16 kHz mono PCM. A decoder keeps
// codec state across consecutive packets, so each connection needs its own.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder for the device uplink format.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(InputSampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one opus packet and returns the PCM as little-endian int16
// bytes. A malformed packet returns an error and leaves the decoder usable
// for the next packet.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, InputFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

// Encoder encodes 24 kHz mono PCM into opus packets for the device downlink.
// Like the decoder it is stateful and must not be shared across connections.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an encoder for the device downlink format.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(OutputSampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	enc.SetBitrate(OutputBitrate)
	return &Encoder{enc: enc}, nil
}

// Encode encodes exactly one frame of PCM (OutputFrameBytes little-endian
// int16 bytes) into a single opus packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != OutputFrameBytes {
		return nil, fmt.Errorf("audio: opus encode: need %d PCM bytes, got %d", OutputFrameBytes, len(pcm))
	}
	packet, err := e.enc.Encode(BytesToInt16s(pcm), OutputFrameSamples, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

// EncodeAll splits pcm into whole frames and encodes each. A trailing
// partial frame is dropped; callers that must not lose the tail pad it to a
// frame boundary first.
func (e *Encoder) EncodeAll(pcm []byte) ([][]byte, error) {
	frames := make([][]byte, 0, len(pcm)/OutputFrameBytes)
	for len(pcm) >= OutputFrameBytes {
		packet, err := e.Encode(pcm[:OutputFrameBytes])
		if err != nil {
			return frames, err
		}
		frames = append(frames, packet)
		pcm = pcm[OutputFrameBytes:]
	}
	return frames, nil
}

// PadToFrame pads pcm with silence up to the next frame boundary. Input
// already on a boundary is returned unchanged.
func PadToFrame(pcm []byte) []byte {
	rem := len(pcm) % OutputFrameBytes
	if rem == 0 {
		return pcm
	}
	return append(pcm, make([]byte, OutputFrameBytes-rem)...)
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
