// Package server is the device-facing surface: the websocket endpoint the
// devices speak to and the REST introspection API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietvoz/vozgate/internal/alarm"
	"github.com/vietvoz/vozgate/internal/observe"
	"github.com/vietvoz/vozgate/internal/pipeline"
	"github.com/vietvoz/vozgate/internal/session"
	"github.com/vietvoz/vozgate/internal/tools"
	"github.com/vietvoz/vozgate/internal/vad"
	"github.com/vietvoz/vozgate/pkg/provider/tts"
)

// sendTimeout bounds one outbound websocket write.
const sendTimeout = 10 * time.Second

// Config wires a [Server].
type Config struct {
	Pipeline   *pipeline.Pipeline
	Tools      *tools.Registry
	TTS        tts.Synthesizer
	Registry   *session.Registry
	VAD        vad.Config
	MaxHistory int
	Version    string
	Metrics    *observe.Metrics
}

// Server owns the connection map and dispatches device traffic into the
// pipeline.
type Server struct {
	pipeline   *pipeline.Pipeline
	tools      *tools.Registry
	tts        tts.Synthesizer
	registry   *session.Registry
	vadCfg     vad.Config
	maxHistory int
	version    string
	metrics    *observe.Metrics

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a Server.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = session.NewRegistry()
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Server{
		pipeline:   cfg.Pipeline,
		tools:      cfg.Tools,
		tts:        cfg.TTS,
		registry:   reg,
		vadCfg:     cfg.VAD,
		maxHistory: maxHistory,
		version:    cfg.Version,
		metrics:    m,
	}
}

// RegisterRoutes mounts the websocket endpoint, REST API, and metrics on
// mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", s.HandleWS)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/mcp/tools", s.handleMCPTools)
	mux.HandleFunc("POST /api/mcp/call/{tool}", s.handleMCPCall)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// AlarmTargets snapshots every live connection for the alarm scheduler.
func (s *Server) AlarmTargets() []alarm.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alarm.Target, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[string]*conn)
	}
	s.conns[c.sessionID] = c
	s.mu.Unlock()
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// conn wraps one websocket connection with the per-session send mutex, so
// pipeline frames and background pushes (alarms, goodbye) never interleave
// mid-message.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	ctx       context.Context

	mu sync.Mutex
}

var _ alarm.Target = (*conn)(nil)

// SendJSON writes one JSON message, attaching the session id.
func (c *conn) SendJSON(v any) error {
	if msg, ok := v.(map[string]any); ok {
		msg["session_id"] = c.sessionID
		v = msg
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.MessageText, data)
}

// SendFrame writes one binary audio frame.
func (c *conn) SendFrame(frame []byte) error {
	return c.write(websocket.MessageBinary, frame)
}

func (c *conn) write(typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()
	return c.ws.Write(ctx, typ, data)
}
