package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// EncodeWAV wraps raw 16-bit little-endian PCM in a standard 44-byte RIFF
// header so it can be handed to transcription APIs or written to disk.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// WAVInfo is the format of a decoded WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE container. It walks the
// chunk list, so files with extra chunks (LIST, fact) decode fine. Only
// uncompressed 16-bit PCM is accepted.
func DecodeWAV(data []byte) ([]byte, WAVInfo, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, info, errors.New("audio: not a RIFF/WAVE file")
	}

	var pcm []byte
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, info, errors.New("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, info, fmt.Errorf("audio: unsupported WAV encoding (format=%d bits=%d)", format, bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}

	if !haveFmt || pcm == nil {
		return nil, info, errors.New("audio: missing fmt or data chunk")
	}
	return pcm, info, nil
}

// RMS computes the root-mean-square energy of 16-bit little-endian PCM.
// Empty or odd-length input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
