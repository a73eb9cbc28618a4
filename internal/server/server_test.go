package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/vietvoz/vozgate/internal/alarm"
	"github.com/vietvoz/vozgate/internal/pipeline"
	"github.com/vietvoz/vozgate/internal/prompt"
	"github.com/vietvoz/vozgate/internal/resilience"
	"github.com/vietvoz/vozgate/internal/session"
	"github.com/vietvoz/vozgate/internal/tools"
	"github.com/vietvoz/vozgate/pkg/audio"
	"github.com/vietvoz/vozgate/pkg/provider/llm/mock"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := alarm.NewStore(filepath.Join(t.TempDir(), "alarms.json"))
	srv := New(Config{
		Tools:   tools.NewRegistry(tools.Config{Alarms: store}),
		Version: "1.0.0",
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func postJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var got healthResponse
	resp := getJSON(t, ts.URL+"/api/health", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got.Status != "ok" || got.Version != "1.0.0" || got.ActiveSessions != 0 {
		t.Fatalf("health = %+v", got)
	}
}

func TestSessionsAndHistory(t *testing.T) {
	srv, ts := newTestServer(t)

	sess := newAPITestSession(t, srv)
	sess.SaveHistory("mở nhạc", "Đang mở bài Nơi Này Có Anh.")

	var list []sessionInfo
	getJSON(t, ts.URL+"/api/sessions", &list)
	if len(list) != 1 {
		t.Fatalf("sessions = %+v", list)
	}
	if list[0].SessionID != sess.ID || list[0].DeviceID != "esp32-test" || list[0].HistoryLength != 2 {
		t.Fatalf("session info = %+v", list[0])
	}

	var hist map[string]any
	getJSON(t, ts.URL+"/api/sessions/"+sess.ID+"/history", &hist)
	if hist["session_id"] != sess.ID {
		t.Fatalf("history = %+v", hist)
	}
	msgs, ok := hist["history"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("history messages = %+v", hist["history"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "mở nhạc" {
		t.Fatalf("first message = %+v", first)
	}

	var missing map[string]any
	resp := getJSON(t, ts.URL+"/api/sessions/nope/history", &missing)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if missing["error"] != "Session not found" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestMCPPlaceholderEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	var toolList map[string][]map[string]string
	postJSON(t, ts.URL+"/api/mcp/tools", &toolList)
	if len(toolList["tools"]) != 3 {
		t.Fatalf("tools = %+v", toolList)
	}
	if toolList["tools"][0]["name"] != "set_volume" {
		t.Fatalf("first tool = %+v", toolList["tools"][0])
	}

	var call map[string]any
	postJSON(t, ts.URL+"/api/mcp/call/reboot", &call)
	if call["tool"] != "reboot" || call["status"] != "not_implemented" {
		t.Fatalf("call = %+v", call)
	}
}

func newAPITestSession(t *testing.T, srv *Server) *session.Session {
	t.Helper()
	sess, err := session.New("esp32-test", "client-test", 20, srv.vadCfg)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	srv.registry.Add(sess)
	t.Cleanup(func() { srv.registry.Remove(sess.ID) })
	return sess
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"device-id": []string{"esp32-ws"},
			"client-id": []string{"client-ws"},
		},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func wsRoundTrip(t *testing.T, conn *websocket.Conn, msg map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v", typ)
	}
	var out map[string]any
	if err := json.Unmarshal(reply, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return out
}

func TestWSHelloHandshake(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	reply := wsRoundTrip(t, conn, map[string]any{"type": "hello"})
	if reply["type"] != "hello" || reply["transport"] != "websocket" {
		t.Fatalf("reply = %+v", reply)
	}
	if id, _ := reply["session_id"].(string); id == "" {
		t.Fatal("reply must carry a session id")
	}
	params, ok := reply["audio_params"].(map[string]any)
	if !ok {
		t.Fatalf("audio_params = %+v", reply["audio_params"])
	}
	if params["format"] != "opus" || params["sample_rate"] != float64(24000) || params["frame_duration"] != float64(60) {
		t.Fatalf("audio_params = %+v", params)
	}
}

func TestWSSessionVisibleInAPI(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	// The hello round trip guarantees the session is registered.
	wsRoundTrip(t, conn, map[string]any{"type": "hello"})

	var health healthResponse
	getJSON(t, ts.URL+"/api/health", &health)
	if health.ActiveSessions != 1 {
		t.Fatalf("active_sessions = %d", health.ActiveSessions)
	}

	var list []sessionInfo
	getJSON(t, ts.URL+"/api/sessions", &list)
	if len(list) != 1 || list[0].DeviceID != "esp32-ws" {
		t.Fatalf("sessions = %+v", list)
	}
}

func TestWSMCPToolsList(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	// "method" is one of the accepted aliases for "op".
	reply := wsRoundTrip(t, conn, map[string]any{"type": "mcp", "method": "tools/list"})
	if reply["type"] != "mcp" || reply["op"] != "tools/list" || reply["ok"] != true {
		t.Fatalf("reply = %+v", reply)
	}
	toolList, ok := reply["tools"].([]any)
	if !ok || len(toolList) != 2 {
		t.Fatalf("tools = %+v", reply["tools"])
	}
	names := map[string]bool{}
	for _, raw := range toolList {
		tool := raw.(map[string]any)
		names[tool["name"].(string)] = true
	}
	if !names["search_vietnamese_music"] || !names["set_alarm"] {
		t.Fatalf("tool names = %v", names)
	}
}

func TestWSMCPCallSetAlarm(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	reply := wsRoundTrip(t, conn, map[string]any{
		"type": "mcp",
		"payload": map[string]any{
			"op":        "tools/call",
			"name":      "set_alarm",
			"arguments": map[string]any{"time": "2027-01-01T07:30:00", "message": "dậy đi học"},
		},
	})
	if reply["op"] != "tools/call" || reply["name"] != "set_alarm" || reply["ok"] != true {
		t.Fatalf("reply = %+v", reply)
	}
	content, ok := reply["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("content = %+v", reply["content"])
	}
	first := content[0].(map[string]any)
	text, _ := first["text"].(string)
	if !strings.HasPrefix(text, "Đã đặt báo thức lúc") {
		t.Fatalf("ack = %q", text)
	}
}

func TestWSMCPUnsupportedOp(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	reply := wsRoundTrip(t, conn, map[string]any{"type": "mcp", "op": "resources/list"})
	if reply["ok"] != false {
		t.Fatalf("reply = %+v", reply)
	}
	// The rejected op is echoed back like every other mcp reply.
	if reply["op"] != "resources/list" {
		t.Fatalf("op = %v, want resources/list", reply["op"])
	}
	errMsg, _ := reply["error"].(string)
	if !strings.Contains(errMsg, "Unsupported MCP operation") {
		t.Fatalf("error = %q", errMsg)
	}
}

// fakeSynth yields two frames per sentence and records every synthesized
// text.
type fakeSynth struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	out := make(chan []byte, 2)
	out <- []byte{0x01}
	out <- []byte{0x02}
	close(out)
	return out, nil
}

func (f *fakeSynth) synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return f.text, nil
}

type fakeStreamer struct{}

func (fakeStreamer) StreamURL(ctx context.Context, url string) (<-chan []byte, error) {
	out := make(chan []byte)
	close(out)
	return out, nil
}

func (fakeStreamer) StreamSongByQuery(ctx context.Context, query string) (<-chan []byte, error) {
	out := make(chan []byte)
	close(out)
	return out, nil
}

// newVoiceTestServer wires a server with a full pipeline over fakes, for
// tests that push audio through the websocket.
func newVoiceTestServer(t *testing.T, sttText string, deltas []string) (*httptest.Server, *fakeSynth) {
	t.Helper()
	synth := &fakeSynth{}
	store := alarm.NewStore(filepath.Join(t.TempDir(), "alarms.json"))
	reg := tools.NewRegistry(tools.Config{Alarms: store})
	pipe := pipeline.New(pipeline.Config{
		STT:            &fakeTranscriber{text: sttText},
		Chat:           resilience.NewChatService(&mock.Endpoint{Deltas: deltas}, "mock", resilience.ChatConfig{}),
		TTS:            synth,
		Media:          fakeStreamer{},
		Tools:          reg,
		PreferFastOnly: true,
	})
	srv := New(Config{
		Pipeline: pipe,
		Tools:    reg,
		TTS:      synth,
		Version:  "1.0.0",
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, synth
}

// encodeFrames opus-encodes n copies of one 60 ms input frame.
func encodeFrames(t *testing.T, samples []int16, n int) [][]byte {
	t.Helper()
	enc, err := gopus.NewEncoder(audio.InputSampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	packets := make([][]byte, n)
	for i := range packets {
		pkt, err := enc.Encode(samples, audio.InputFrameSamples, 4000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		packets[i] = append([]byte(nil), pkt...)
	}
	return packets
}

func sineFrame(amplitude float64) []int16 {
	samples := make([]int16, audio.InputFrameSamples)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(audio.InputSampleRate)))
	}
	return samples
}

func writeFrames(t *testing.T, conn *websocket.Conn, packets [][]byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, pkt := range packets {
		if err := conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

// collectUntilStop reads events until the tts stop message arrives. Text
// messages are flattened to "type:state" (or "stt:<text>", "idle") and
// binary messages to "frame".
func collectUntilStop(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var events []string
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v (events so far: %v)", err, events)
		}
		if typ == websocket.MessageBinary {
			events = append(events, "frame")
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch msg["type"] {
		case "tts":
			state, _ := msg["state"].(string)
			if state == "sentence_start" {
				events = append(events, "sentence:"+msg["text"].(string))
				continue
			}
			events = append(events, "tts:"+state)
			if state == "stop" {
				return events
			}
		case "stt":
			events = append(events, "stt:"+msg["text"].(string))
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestWSIdleGoodbyeAfterSilence(t *testing.T) {
	ts, synth := newVoiceTestServer(t, "", nil)
	conn := dialWS(t, ts)

	silence := encodeFrames(t, make([]int16, audio.InputFrameSamples), idleTimeoutFrames)
	writeFrames(t, conn, silence)

	events := collectUntilStop(t, conn)
	if events[0] != "tts:start" || events[1] != "sentence:"+prompt.Goodbye {
		t.Fatalf("events = %v", events)
	}
	frames := 0
	for _, e := range events {
		if e == "frame" {
			frames++
		}
	}
	if frames == 0 {
		t.Fatalf("no goodbye audio sent: %v", events)
	}
	if events[len(events)-1] != "tts:stop" {
		t.Fatalf("events = %v", events)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read idle: %v", err)
	}
	var idle map[string]any
	if err := json.Unmarshal(data, &idle); err != nil {
		t.Fatalf("unmarshal idle: %v", err)
	}
	if idle["type"] != "idle" || idle["message"] != "Server is idling (connection kept open)" {
		t.Fatalf("idle = %+v", idle)
	}

	if got := synth.synthesized(); len(got) != 1 || got[0] != prompt.Goodbye {
		t.Fatalf("synthesized = %v", got)
	}

	// Already idling: another stretch of silence must not trigger a second
	// goodbye, so the next reply is the hello handshake.
	writeFrames(t, conn, silence)
	reply := wsRoundTrip(t, conn, map[string]any{"type": "hello"})
	if reply["type"] != "hello" {
		t.Fatalf("reply after idle = %+v", reply)
	}
	if got := synth.synthesized(); len(got) != 1 {
		t.Fatalf("goodbye spoken again while idling: %v", got)
	}
}

func TestWSSpeechTriggersPipeline(t *testing.T) {
	ts, synth := newVoiceTestServer(t, "hôm nay trời đẹp", []string{"Chào bạn."})
	conn := dialWS(t, ts)

	// Enough loud frames to confirm speech, then enough quiet ones to close
	// the utterance and start the pipeline.
	writeFrames(t, conn, encodeFrames(t, sineFrame(8000), 12))
	writeFrames(t, conn, encodeFrames(t, make([]int16, audio.InputFrameSamples), 12))

	events := collectUntilStop(t, conn)
	if events[0] != "stt:hôm nay trời đẹp" {
		t.Fatalf("events = %v", events)
	}
	if events[1] != "tts:start" || events[2] != "sentence:Chào bạn." {
		t.Fatalf("events = %v", events)
	}
	frames := 0
	for _, e := range events {
		if e == "frame" {
			frames++
		}
	}
	if frames != 2 {
		t.Fatalf("frames = %d, want 2: %v", frames, events)
	}

	if got := synth.synthesized(); len(got) != 1 || got[0] != "Chào bạn." {
		t.Fatalf("synthesized = %v", got)
	}
}

func TestExtractOpusPayload(t *testing.T) {
	packet := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

	if got := extractOpusPayload(packet, 1); !bytes.Equal(got, packet) {
		t.Fatalf("v1 = %v", got)
	}

	v2 := append(make([]byte, 16), packet...)
	if got := extractOpusPayload(v2, 2); !bytes.Equal(got, packet) {
		t.Fatalf("v2 = %v", got)
	}
	// Too short for a v2 header, passed through untouched.
	if got := extractOpusPayload(packet, 2); !bytes.Equal(got, packet) {
		t.Fatalf("short v2 = %v", got)
	}

	v3 := []byte{0x00, 0x00, 0x00, byte(len(packet))}
	v3 = append(v3, packet...)
	if got := extractOpusPayload(v3, 3); !bytes.Equal(got, packet) {
		t.Fatalf("v3 = %v", got)
	}
	// Declared size beyond the buffer is clamped.
	v3[3] = 0xFF
	if got := extractOpusPayload(v3, 3); !bytes.Equal(got, packet) {
		t.Fatalf("oversized v3 = %v", got)
	}
}
