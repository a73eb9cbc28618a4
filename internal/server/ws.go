package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vietvoz/vozgate/internal/pipeline"
	"github.com/vietvoz/vozgate/internal/prompt"
	"github.com/vietvoz/vozgate/internal/session"
	"github.com/vietvoz/vozgate/internal/vad"
	"github.com/vietvoz/vozgate/pkg/audio"
)

// minPipelinePCM is the smallest utterance worth transcribing: 3200 bytes
// is 100 ms of 16 kHz PCM.
const minPipelinePCM = 3200

// idleTimeoutFrames is how many inbound frames without confirmed speech
// (about 10 s) we tolerate before saying goodbye and idling the connection.
const idleTimeoutFrames = 167

// goodbyePacing is the inter-frame sleep while streaming the goodbye
// message, slightly under one frame so the device's buffer never runs dry.
const goodbyePacing = 54 * time.Millisecond

// connState is per-connection counters owned by the read loop but reset
// from the goodbye goroutine.
type connState struct {
	frames    atomic.Int64
	triggered atomic.Bool
}

// HandleWS is the websocket endpoint devices connect to.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // embedded clients send no Origin header
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection handler exited")

	deviceID := headerOr(r, "device-id", "unknown")
	clientID := headerOr(r, "client-id", "unknown")
	protoVersion, err := strconv.Atoi(headerOr(r, "protocol-version", "1"))
	if err != nil {
		protoVersion = 1
	}

	sess, err := session.New(deviceID, clientID, s.maxHistory, s.vadCfg)
	if err != nil {
		slog.Error("session create failed", "device", deviceID, "error", err)
		return
	}
	s.registry.Add(sess)
	s.metrics.ActiveSessions.Add(r.Context(), 1)

	c := &conn{ws: ws, sessionID: sess.ID, ctx: r.Context()}
	s.addConn(c)
	slog.Info("device connected", "device", deviceID, "protocol", protoVersion)

	state := &connState{}
	defer s.teardown(c, sess, state)

	for {
		typ, data, err := ws.Read(r.Context())
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageText:
			s.onText(r.Context(), c, sess, state, data)
		case websocket.MessageBinary:
			s.onBinary(r.Context(), c, sess, state, data, protoVersion)
		}
	}
}

// teardown flushes a pending utterance, then unregisters everything.
func (s *Server) teardown(c *conn, sess *session.Session, state *connState) {
	frames := state.frames.Load()
	if sess.BufferSize() > minPipelinePCM && state.triggered.CompareAndSwap(false, true) {
		slog.Info("disconnected with pending audio, flushing",
			"device", sess.DeviceID, "frames", frames, "buffer", sess.BufferSize())
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		s.runPipeline(ctx, c, sess)
		cancel()
	} else {
		slog.Info("device disconnected", "device", sess.DeviceID, "frames", frames)
	}

	s.removeConn(sess.ID)
	s.registry.Remove(sess.ID)
	s.metrics.ActiveSessions.Add(context.Background(), -1)
}

func (s *Server) onText(ctx context.Context, c *conn, sess *session.Session, state *connState, data []byte) {
	msg, err := decodeJSONMap(data)
	if err != nil {
		slog.Warn("invalid json from device", "device", sess.DeviceID)
		return
	}
	msgType, _ := msg["type"].(string)
	slog.Info("device message", "device", sess.DeviceID, "type", msgType)

	switch msgType {
	case "hello":
		s.handleHello(c, sess)
	case "listen":
		s.handleListen(ctx, c, sess, state, msg)
	case "abort":
		sess.Abort()
		slog.Info("playback aborted", "device", sess.DeviceID)
	case "mcp":
		s.handleMCP(ctx, c, msg)
	default:
		slog.Warn("unknown message type", "device", sess.DeviceID, "type", msgType)
	}
}

func (s *Server) handleHello(c *conn, sess *session.Session) {
	err := c.SendJSON(map[string]any{
		"type":      "hello",
		"transport": "websocket",
		"audio_params": map[string]any{
			"format":         "opus",
			"sample_rate":    audio.OutputSampleRate,
			"channels":       audio.Channels,
			"frame_duration": int(audio.FrameDuration.Milliseconds()),
		},
	})
	if err != nil {
		slog.Warn("hello reply failed", "device", sess.DeviceID, "error", err)
	}
}

func (s *Server) handleListen(ctx context.Context, c *conn, sess *session.Session, state *connState, msg map[string]any) {
	listenState, _ := msg["state"].(string)
	mode, _ := msg["mode"].(string)

	switch listenState {
	case "start", "detect":
		sess.ResetAudio()
		sess.SetIdling(false)
		state.frames.Store(0)
		state.triggered.Store(false)
		slog.Info("recording started", "device", sess.DeviceID, "mode", mode)
	case "stop":
		if state.triggered.CompareAndSwap(false, true) {
			slog.Info("recording stopped",
				"device", sess.DeviceID, "frames", state.frames.Load(), "buffer", sess.BufferSize())
			go s.runPipeline(ctx, c, sess)
		} else {
			slog.Info("recording stopped, pipeline already running", "device", sess.DeviceID)
		}
	}
}

func (s *Server) onBinary(ctx context.Context, c *conn, sess *session.Session, state *connState, data []byte, protoVersion int) {
	packet := extractOpusPayload(data, protoVersion)
	if len(packet) == 0 {
		return
	}
	pcm := sess.AppendAudio(packet)
	if pcm == nil {
		return
	}

	count := state.frames.Add(1)
	if count <= 10 || count%5 == 0 {
		slog.Debug("audio frame",
			"device", sess.DeviceID, "n", count,
			"rms", int(audio.RMS(pcm)), "packet", len(packet), "buffer", sess.BufferSize())
	}

	if state.triggered.Load() {
		return
	}

	switch sess.CheckVAD(pcm) {
	case vad.SilenceAfterSpeech:
		if state.triggered.CompareAndSwap(false, true) {
			slog.Info("silence after speech, starting pipeline",
				"device", sess.DeviceID, "frames", count, "buffer", sess.BufferSize())
			go s.runPipeline(ctx, c, sess)
		}
	default:
		if !sess.HasSpeech() && count >= idleTimeoutFrames && !sess.IsIdling() {
			if state.triggered.CompareAndSwap(false, true) {
				slog.Info("idle timeout, entering idle",
					"device", sess.DeviceID, "frames", count)
				go s.goodbyeAndIdle(ctx, c, sess, state)
			}
		}
	}
}

// goodbyeAndIdle speaks the goodbye message and leaves the connection open
// in idle mode.
func (s *Server) goodbyeAndIdle(ctx context.Context, c *conn, sess *session.Session, state *connState) {
	sess.SetIdling(true)

	c.SendJSON(map[string]any{"type": "tts", "state": "start"})
	c.SendJSON(map[string]any{"type": "tts", "state": "sentence_start", "text": prompt.Goodbye})

	stream, err := s.tts.Synthesize(ctx, prompt.Goodbye)
	if err != nil {
		slog.Error("goodbye synthesis failed", "device", sess.DeviceID, "error", err)
	} else {
		sent := 0
		for frame := range stream {
			if sess.Aborted() {
				continue
			}
			if err := c.SendFrame(frame); err != nil {
				break
			}
			sent++
			time.Sleep(goodbyePacing)
		}
		s.metrics.RecordFramesSent(ctx, "goodbye", int64(sent))
	}
	c.SendJSON(map[string]any{"type": "tts", "state": "stop"})

	if err := c.SendJSON(map[string]any{"type": "idle", "message": "Server is idling (connection kept open)"}); err != nil {
		slog.Warn("idle notify failed, closing", "device", sess.DeviceID, "error", err)
		c.ws.Close(websocket.StatusNormalClosure, "idle")
	}

	sess.ResetAudio()
	state.frames.Store(0)
	state.triggered.Store(false)
}

// runPipeline drives one turn and records the exchange into history.
func (s *Server) runPipeline(ctx context.Context, c *conn, sess *session.Session) {
	pcm := sess.TakeBuffer()
	durationS := float64(len(pcm)) / float64(audio.InputSampleRate*2)
	slog.Info("pipeline starting", "device", sess.DeviceID, "bytes", len(pcm), "seconds", durationS)

	if len(pcm) < minPipelinePCM {
		slog.Info("utterance too short, skipping", "device", sess.DeviceID)
		return
	}

	sess.SetSpeaking(true)
	defer sess.SetSpeaking(false)

	cb := s.pipelineCallbacks(c, sess)
	res, err := s.pipeline.Process(ctx, pcm, sess.History(), cb, sess.Aborted)
	if err != nil {
		slog.Error("pipeline failed", "device", sess.DeviceID, "error", err)
		return
	}
	if res == nil {
		slog.Warn("pipeline produced no result", "device", sess.DeviceID)
		return
	}
	sess.SaveHistory(res.UserText, res.AssistantText)
	slog.Info("pipeline done", "device", sess.DeviceID, "user", res.UserText, "assistant", res.AssistantText)
}

// pipelineCallbacks adapts the session connection to pipeline events. Send
// failures are logged and otherwise ignored; a dead socket surfaces in the
// read loop.
func (s *Server) pipelineCallbacks(c *conn, sess *session.Session) pipeline.Callbacks {
	sendJSON := func(msg map[string]any) {
		if err := c.SendJSON(msg); err != nil {
			slog.Warn("device send failed", "device", sess.DeviceID, "error", err)
		}
	}
	return pipeline.Callbacks{
		OnSTTResult: func(text string) {
			sendJSON(map[string]any{"type": "stt", "text": text})
		},
		OnTTSStart: func() {
			sendJSON(map[string]any{"type": "tts", "state": "start"})
		},
		OnTTSSentence: func(text string) {
			sendJSON(map[string]any{"type": "tts", "state": "sentence_start", "text": text})
		},
		OnTTSAudio: func(frame []byte) {
			if err := c.SendFrame(frame); err != nil {
				slog.Warn("frame send failed", "device", sess.DeviceID, "error", err)
			}
		},
		OnTTSStop: func() {
			sendJSON(map[string]any{"type": "tts", "state": "stop"})
		},
		OnMusicAction: func(payload map[string]any) {
			intentName, _ := payload["intent"].(string)
			if intentName != "music" {
				return
			}
			sendJSON(map[string]any{
				"type":         "mcp",
				"op":           "tools/call",
				"name":         "search_vietnamese_music",
				"intent":       intentName,
				"song_name":    payload["song_name"],
				"request_body": payload["request_body"],
				"ok":           payload["ok"],
				"content":      payload["content"],
				"error":        payload["error"],
			})
		},
	}
}

func headerOr(r *http.Request, key, fallback string) string {
	if v := r.Header.Get(key); v != "" {
		return v
	}
	return fallback
}

// extractOpusPayload strips the transport header from a binary frame
// according to the negotiated protocol version.
func extractOpusPayload(data []byte, version int) []byte {
	switch {
	case version == 2 && len(data) > 16:
		return data[16:]
	case version == 3 && len(data) > 4:
		size := int(binary.BigEndian.Uint16(data[2:4]))
		end := 4 + size
		if end > len(data) {
			end = len(data)
		}
		return data[4:end]
	default:
		return data
	}
}

func decodeJSONMap(data []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("null message")
	}
	return msg, nil
}
