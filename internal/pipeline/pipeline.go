// Package pipeline orchestrates one conversation turn: STT, intent, LLM
// streaming with sentence chunking, TTS pre-fetch, and paced frame emission.
//
// Synthesis runs ahead of playback through a bounded queue: while the
// consumer is still pacing out sentence N, the producer is already
// synthesizing sentence N+1.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietvoz/vozgate/internal/intent"
	"github.com/vietvoz/vozgate/internal/observe"
	"github.com/vietvoz/vozgate/internal/resilience"
	"github.com/vietvoz/vozgate/internal/tools"
	"github.com/vietvoz/vozgate/pkg/audio"
	"github.com/vietvoz/vozgate/pkg/provider/llm"
	"github.com/vietvoz/vozgate/pkg/provider/stt"
	"github.com/vietvoz/vozgate/pkg/provider/tts"
)

// preBufferFrames are sent back-to-back before pacing kicks in, prefilling
// the device's jitter buffer.
const preBufferFrames = 3

// sentenceGrace is the extra wait between sentences so the client finishes
// playing the previous one before the next caption arrives.
const sentenceGrace = 50 * time.Millisecond

// MediaStreamer plays remote audio. Satisfied by tts.MediaStreamer.
type MediaStreamer interface {
	StreamURL(ctx context.Context, url string) (<-chan []byte, error)
	StreamSongByQuery(ctx context.Context, query string) (<-chan []byte, error)
}

// Callbacks deliver pipeline events to the transport. All callbacks are
// invoked from pipeline goroutines; implementations must be safe to call
// concurrently with other session traffic.
type Callbacks struct {
	OnSTTResult   func(text string)
	OnTTSStart    func()
	OnTTSSentence func(text string)
	OnTTSAudio    func(frame []byte)
	OnTTSStop     func()
	OnMusicAction func(payload map[string]any)
}

// Result is the outcome of a completed turn, recorded into chat history.
type Result struct {
	UserText      string
	AssistantText string
}

// Config wires a [Pipeline].
type Config struct {
	STT    stt.Transcriber
	Chat   *resilience.ChatService
	TTS    tts.Synthesizer
	Media  MediaStreamer
	Intent *intent.Detector // nil disables the LLM intent path
	Tools  *tools.Registry  // nil disables music and alarm actions

	// PreferFastOnly skips the parallel LLM intent task, relying on the
	// rule-based fast path alone.
	PreferFastOnly bool

	Metrics *observe.Metrics
}

// Pipeline runs conversation turns. One instance serves all sessions.
type Pipeline struct {
	stt      stt.Transcriber
	chat     *resilience.ChatService
	tts      tts.Synthesizer
	media    MediaStreamer
	intent   *intent.Detector
	tools    *tools.Registry
	fastOnly bool
	metrics  *observe.Metrics
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pipeline{
		stt:      cfg.STT,
		chat:     cfg.Chat,
		tts:      cfg.TTS,
		media:    cfg.Media,
		intent:   cfg.Intent,
		tools:    cfg.Tools,
		fastOnly: cfg.PreferFastOnly,
		metrics:  m,
	}
}

// queueItem carries either a sentence caption or one opus frame.
type queueItem struct {
	sentence string
	frame    []byte
}

// Process runs one turn over the buffered utterance PCM. It returns nil
// when the turn produced nothing worth recording (empty transcript, or a
// generative reply that never materialized).
func (p *Pipeline) Process(ctx context.Context, pcm []byte, history []llm.Message, cb Callbacks, isAborted func() bool) (*Result, error) {
	turnStart := time.Now()
	defer func() {
		p.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	}()

	sttStart := time.Now()
	userText, err := p.stt.Transcribe(ctx, pcm, audio.InputSampleRate)
	if err != nil {
		return nil, err
	}
	p.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if userText == "" {
		slog.Info("empty transcript, skipping turn")
		return nil, nil
	}
	slog.Info("user said", "text", userText)
	cb.OnSTTResult(userText)

	// Fast path: command-shaped requests skip the conversational LLM.
	switch fast := intent.DetectFast(userText); fast.Intent {
	case intent.Music:
		slog.Info("fast music intent", "song", fast.SongName)
		cb.OnTTSStart()
		payload := p.callMusicTool(ctx, fast.SongName, cb)
		p.streamMusicPreview(ctx, payload, cb, isAborted)
		if !isAborted() {
			cb.OnTTSStop()
		}
		return &Result{UserText: userText}, nil
	case intent.Alarm:
		if done := p.handleAlarmIntent(ctx, userText, fast, cb, isAborted); done != nil {
			return done, nil
		}
	}

	// Generative path: producer/consumer with TTS pre-fetch.
	cb.OnTTSStart()

	var musicActive atomic.Bool
	shouldStop := musicActive.Load

	g, gctx := errgroup.WithContext(ctx)

	var fullResponse string
	g.Go(func() error {
		fullResponse = p.streamResponse(gctx, userText, history, cb, isAborted, shouldStop)
		return nil
	})

	var musicPayload map[string]any
	if !p.fastOnly && p.intent != nil {
		g.Go(func() error {
			musicPayload = p.detectAndHandleMusic(gctx, userText, cb, &musicActive)
			return nil
		})
	}
	g.Wait()

	if musicPayload != nil && musicPayload["intent"] == "music" {
		p.streamMusicPreview(ctx, musicPayload, cb, isAborted)
	}

	if !isAborted() {
		cb.OnTTSStop()
	}

	if fullResponse == "" {
		return nil, nil
	}
	return &Result{UserText: userText, AssistantText: fullResponse}, nil
}

// handleAlarmIntent sets an alarm recognized by the fast rules and speaks
// the confirmation. It returns nil when the request cannot be completed
// locally, letting the generative path answer instead.
func (p *Pipeline) handleAlarmIntent(ctx context.Context, userText string, fast intent.Result, cb Callbacks, isAborted func() bool) *Result {
	if p.tools == nil || fast.AlarmTime == "" {
		return nil
	}
	slog.Info("fast alarm intent", "time", fast.AlarmTime, "message", fast.AlarmMessage)

	res := p.tools.Call(ctx, "set_alarm", map[string]any{
		"time":    fast.AlarmTime,
		"message": fast.AlarmMessage,
	})
	p.metrics.RecordToolCall(ctx, "set_alarm", toolStatus(res.OK))
	if !res.OK || len(res.Content) == 0 {
		return nil
	}

	ack := res.Content[0].Text
	cb.OnTTSStart()
	cb.OnTTSSentence(ack)
	p.sendFramesWithPacing(ctx, func(sctx context.Context) (<-chan []byte, error) {
		return p.tts.Synthesize(sctx, ack)
	}, cb, isAborted, "tts")
	if !isAborted() {
		cb.OnTTSStop()
	}
	return &Result{UserText: userText, AssistantText: ack}
}

// streamResponse runs the LLM producer and frame consumer and returns the
// accumulated reply text.
func (p *Pipeline) streamResponse(ctx context.Context, userText string, history []llm.Message, cb Callbacks, isAborted, shouldStop func() bool) string {
	queue := make(chan queueItem, 100)
	var full strings.Builder

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)

		llmStart := time.Now()
		firstDelta := true
		var buffer []rune
		for delta := range p.chat.ChatStream(gctx, userText, history) {
			if isAborted() || shouldStop() {
				continue // keep draining so the stream goroutine can exit
			}
			if firstDelta {
				p.metrics.LLMFirstDelta.Record(gctx, time.Since(llmStart).Seconds())
				firstDelta = false
			}
			full.WriteString(delta)
			buffer = append(buffer, []rune(delta)...)

			for {
				sentence, rest := extractSentence(buffer)
				buffer = rest
				if sentence == "" {
					break
				}
				p.enqueueSentence(gctx, sentence, queue, isAborted)
			}

			for len(buffer) >= chunkHardLimit && !isAborted() && !shouldStop() {
				chunk, rest := extractSoftChunk(buffer)
				if chunk == "" {
					break
				}
				buffer = rest
				p.enqueueSentence(gctx, chunk, queue, isAborted)
			}
		}

		if remaining := strings.TrimSpace(string(buffer)); remaining != "" && !isAborted() && !shouldStop() {
			p.enqueueSentence(gctx, remaining, queue, isAborted)
		}
		return nil
	})

	g.Go(func() error {
		totalFrames := 0
		hasSpoken := false
		var nextSend time.Time

		for item := range queue {
			if isAborted() || shouldStop() {
				continue // drain without sending
			}

			if item.sentence != "" {
				if hasSpoken {
					sleepCtx(ctx, audio.FrameDuration+sentenceGrace)
				}
				cb.OnTTSSentence(item.sentence)
				hasSpoken = true
				continue
			}

			cb.OnTTSAudio(item.frame)
			totalFrames++

			if totalFrames == preBufferFrames {
				nextSend = time.Now().Add(audio.FrameDuration)
			} else if totalFrames > preBufferFrames {
				if d := time.Until(nextSend); d > 0 {
					sleepCtx(ctx, d)
				}
				nextSend = nextSend.Add(audio.FrameDuration)
			}
		}

		slog.Info("reply audio sent", "frames", totalFrames)
		p.metrics.RecordFramesSent(ctx, "tts", int64(totalFrames))
		return nil
	})

	g.Wait()
	return full.String()
}

// enqueueSentence pushes a caption marker and then every synthesized frame
// of the sentence onto the queue.
func (p *Pipeline) enqueueSentence(ctx context.Context, sentence string, queue chan<- queueItem, isAborted func() bool) {
	select {
	case queue <- queueItem{sentence: sentence}:
	case <-ctx.Done():
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	synthStart := time.Now()
	stream, err := p.tts.Synthesize(sctx, sentence)
	if err != nil {
		slog.Error("tts synthesize failed", "error", err)
		return
	}

	count := 0
	first := true
	for frame := range stream {
		if first {
			p.metrics.TTSFirstFrame.Record(ctx, time.Since(synthStart).Seconds())
			first = false
		}
		if isAborted() {
			cancel() // stop the synthesizer, then drain what it buffered
			continue
		}
		select {
		case queue <- queueItem{frame: frame}:
			count++
		case <-ctx.Done():
			cancel()
		}
	}
	slog.Debug("sentence queued", "frames", count, "text", sentence)
}

// detectAndHandleMusic runs the LLM intent check concurrently with the
// generative producer. On a music hit it flips active, which the producer
// observes to stop generating further sentences.
func (p *Pipeline) detectAndHandleMusic(ctx context.Context, userText string, cb Callbacks, active *atomic.Bool) map[string]any {
	res := p.intent.Detect(ctx, userText)
	if res.Intent != intent.Music {
		payload := map[string]any{"intent": "other"}
		cb.OnMusicAction(payload)
		return payload
	}

	active.Store(true)
	return p.callMusicTool(ctx, res.SongName, cb)
}

// callMusicTool invokes the music search tool and reports the normalized
// payload through OnMusicAction.
func (p *Pipeline) callMusicTool(ctx context.Context, songName string, cb Callbacks) map[string]any {
	if p.tools == nil {
		payload := map[string]any{
			"intent":    "music",
			"song_name": songName,
			"ok":        false,
			"error":     "MCP tool registry chưa sẵn sàng",
		}
		cb.OnMusicAction(payload)
		return payload
	}

	requestBody := map[string]any{
		"song_name": songName,
		"query":     songName,
		"limit":     5,
	}
	start := time.Now()
	result := p.tools.Call(ctx, "search_vietnamese_music", requestBody)
	p.metrics.ToolDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.RecordToolCall(ctx, "search_vietnamese_music", toolStatus(result.OK))

	payload := map[string]any{
		"intent":       "music",
		"song_name":    songName,
		"request_body": requestBody,
		"ok":           result.OK,
		"content":      result.Content,
	}
	cb.OnMusicAction(payload)
	return payload
}

// streamMusicPreview speaks an acknowledgement for the best track, then
// plays the full song, falling back to the 30-second preview clip when the
// full stream yields nothing.
func (p *Pipeline) streamMusicPreview(ctx context.Context, payload map[string]any, cb Callbacks, isAborted func() bool) {
	if p.tools == nil || isAborted() {
		return
	}
	tracks := extractTracks(payload)
	if len(tracks) == 0 {
		return
	}

	first := tracks[0]
	title := first.Title
	if title == "" {
		if s, _ := payload["song_name"].(string); s != "" {
			title = s
		} else {
			title = "bài nhạc"
		}
	}
	artist := first.Artist
	previewURL := strings.TrimSpace(first.PreviewURL)

	ack := "Đang mở bài " + title + "."
	if artist != "" {
		ack = "Đang mở bài " + title + " của " + artist + "."
	}
	cb.OnTTSSentence(ack)
	p.sendFramesWithPacing(ctx, func(sctx context.Context) (<-chan []byte, error) {
		return p.tts.Synthesize(sctx, ack)
	}, cb, isAborted, "tts")

	if previewURL == "" {
		return
	}

	// One frame of quiet so the song does not step on the acknowledgement.
	sleepCtx(ctx, audio.FrameDuration)

	cb.OnTTSSentence("Đang phát bài hát.")
	query := strings.TrimSpace(title + " " + artist)
	streamed := p.sendFramesWithPacing(ctx, func(sctx context.Context) (<-chan []byte, error) {
		return p.media.StreamSongByQuery(sctx, query)
	}, cb, isAborted, "music")

	if streamed == 0 {
		p.sendFramesWithPacing(ctx, func(sctx context.Context) (<-chan []byte, error) {
			return p.media.StreamURL(sctx, previewURL)
		}, cb, isAborted, "music")
	}
}

// sendFramesWithPacing drains one frame stream through OnTTSAudio with the
// standard 3-frame burst + 60 ms cadence. It returns the number of frames
// sent; an abort mid-stream counts as zero so callers can tell "nothing
// played" from "played and was cut off" the same way.
func (p *Pipeline) sendFramesWithPacing(ctx context.Context, open func(context.Context) (<-chan []byte, error), cb Callbacks, isAborted func() bool, source string) int {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	openStart := time.Now()
	stream, err := open(sctx)
	if err != nil {
		slog.Warn("frame stream unavailable", "error", err)
		return 0
	}

	sent := 0
	aborted := false
	first := true
	var nextSend time.Time
	for frame := range stream {
		if first {
			if source == "tts" {
				p.metrics.TTSFirstFrame.Record(ctx, time.Since(openStart).Seconds())
			}
			first = false
		}
		if aborted || isAborted() {
			if !aborted {
				aborted = true
				cancel()
			}
			continue
		}

		cb.OnTTSAudio(frame)
		sent++

		if sent == preBufferFrames {
			nextSend = time.Now().Add(audio.FrameDuration)
		} else if sent > preBufferFrames {
			if d := time.Until(nextSend); d > 0 {
				sleepCtx(ctx, d)
			}
			nextSend = nextSend.Add(audio.FrameDuration)
		}
	}
	if aborted {
		return 0
	}
	p.metrics.RecordFramesSent(ctx, source, int64(sent))
	return sent
}

// extractTracks digs the track list out of a music tool payload.
func extractTracks(payload map[string]any) []tools.Track {
	content, ok := payload["content"].([]tools.Item)
	if !ok {
		return nil
	}
	for _, item := range content {
		if item.Type != "json" {
			continue
		}
		data, ok := item.JSON.(map[string]any)
		if !ok {
			continue
		}
		if tracks, ok := data["tracks"].([]tools.Track); ok {
			return tracks
		}
	}
	return nil
}

func toolStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
