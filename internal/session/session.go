// Package session tracks per-connection state: the decoded PCM buffer,
// voice-activity detection, chat history, and playback flags.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vietvoz/vozgate/internal/vad"
	"github.com/vietvoz/vozgate/pkg/audio"
	"github.com/vietvoz/vozgate/pkg/provider/llm"
)

// Session is the state of one connected device. Audio methods are called
// from the connection's read loop; flags may be flipped from pipeline and
// scheduler goroutines, so they are atomics.
type Session struct {
	ID       string
	DeviceID string
	ClientID string

	mu         sync.Mutex
	decoder    *audio.Decoder
	pcmBuf     []byte
	vad        *vad.Detector
	history    []llm.Message
	maxHistory int

	speaking atomic.Bool
	aborted  atomic.Bool
	idling   atomic.Bool
}

// New creates a session with a fresh opus decoder and VAD state.
func New(deviceID, clientID string, maxHistory int, vadCfg vad.Config) (*Session, error) {
	dec, err := audio.NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		ClientID:   clientID,
		decoder:    dec,
		vad:        vad.New(vadCfg),
		maxHistory: maxHistory,
	}, nil
}

// BufferSize returns the buffered PCM byte count.
func (s *Session) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pcmBuf)
}

// ResetAudio clears the PCM buffer and VAD state for a new recording and
// lifts any standing abort.
func (s *Session) ResetAudio() {
	s.mu.Lock()
	s.pcmBuf = nil
	s.vad.Reset()
	s.mu.Unlock()
	s.aborted.Store(false)
}

// AppendAudio decodes one opus packet and appends the PCM to the buffer,
// returning the decoded PCM for energy analysis. It returns nil while
// aborted or when the packet does not decode; a corrupt frame is dropped,
// not fatal.
func (s *Session) AppendAudio(packet []byte) []byte {
	if s.aborted.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pcm, err := s.decoder.Decode(packet)
	if err != nil {
		slog.Error("opus decode failed", "device", s.DeviceID, "error", err)
		return nil
	}
	s.pcmBuf = append(s.pcmBuf, pcm...)
	return pcm
}

// CheckVAD feeds one frame of PCM to the voice-activity detector.
func (s *Session) CheckVAD(pcm []byte) vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vad.Analyze(pcm)
}

// HasSpeech reports whether confirmed speech has been heard since the last
// reset.
func (s *Session) HasSpeech() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vad.HasSpeech()
}

// TakeBuffer returns the buffered PCM and empties the buffer.
func (s *Session) TakeBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.pcmBuf
	s.pcmBuf = nil
	return data
}

// History returns a copy of the chat history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// HistoryLen returns the number of stored history messages.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// SaveHistory appends one user/assistant exchange, trimming the history to
// the configured maximum message count.
func (s *Session) SaveHistory(userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// Abort stops any ongoing playback.
func (s *Session) Abort() {
	s.aborted.Store(true)
	s.speaking.Store(false)
}

// Aborted reports whether playback was aborted.
func (s *Session) Aborted() bool { return s.aborted.Load() }

// SetSpeaking marks whether a pipeline is currently emitting audio.
func (s *Session) SetSpeaking(v bool) { s.speaking.Store(v) }

// IsSpeaking reports whether a pipeline is currently emitting audio.
func (s *Session) IsSpeaking() bool { return s.speaking.Load() }

// SetIdling marks the post-goodbye idle state.
func (s *Session) SetIdling(v bool) { s.idling.Store(v) }

// IsIdling reports the post-goodbye idle state.
func (s *Session) IsIdling() bool { return s.idling.Load() }
