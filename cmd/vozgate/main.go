// Command vozgate is the voice gateway server for ESP32-class devices:
// websocket audio in and out, with a REST API for introspection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vietvoz/vozgate/internal/alarm"
	"github.com/vietvoz/vozgate/internal/config"
	"github.com/vietvoz/vozgate/internal/intent"
	"github.com/vietvoz/vozgate/internal/observe"
	"github.com/vietvoz/vozgate/internal/pipeline"
	"github.com/vietvoz/vozgate/internal/prompt"
	"github.com/vietvoz/vozgate/internal/resilience"
	"github.com/vietvoz/vozgate/internal/server"
	"github.com/vietvoz/vozgate/internal/session"
	"github.com/vietvoz/vozgate/internal/tools"
	"github.com/vietvoz/vozgate/internal/vad"
	"github.com/vietvoz/vozgate/pkg/audio"
	"github.com/vietvoz/vozgate/pkg/provider/llm/openai"
	"github.com/vietvoz/vozgate/pkg/provider/stt"
	"github.com/vietvoz/vozgate/pkg/provider/tts"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "vozgate: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vozgate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vozgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	transcriber, err := buildSTT(cfg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}

	chat, err := buildChatService(cfg.LLM, resilience.ChatConfig{
		SystemPrompt:  prompt.System,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		FallbackReply: prompt.AllDown,
	})
	if err != nil {
		slog.Error("failed to build llm chain", "err", err)
		return 1
	}

	intentChat, err := buildChatService(cfg.IntentLLM, resilience.ChatConfig{
		MaxTokens:   cfg.IntentLLM.MaxTokens,
		Temperature: cfg.IntentLLM.Temperature,
	})
	if err != nil {
		slog.Error("failed to build intent llm chain", "err", err)
		return 1
	}

	voice, err := tts.NewPiper(tts.PiperConfig{
		Bin:       cfg.PiperBin,
		ModelPath: cfg.TTS.ModelPath,
		SpeakerID: cfg.TTS.SpeakerID,
		Speed:     cfg.TTS.Speed,
		Style:     cfg.TTS.VoiceStyle,
	})
	if err != nil {
		slog.Error("failed to build tts voice", "err", err)
		return 1
	}

	media := tts.NewMediaStreamer(cfg.FFmpegBin, cfg.YtdlpBin)

	// ── Tools, alarms, pipeline ───────────────────────────────────────────────
	alarmStore := alarm.NewStore(cfg.AlarmStorePath)
	toolRegistry := tools.NewRegistry(tools.Config{Alarms: alarmStore})

	pipe := pipeline.New(pipeline.Config{
		STT:            transcriber,
		Chat:           chat,
		TTS:            voice,
		Media:          media,
		Intent:         intent.NewDetector(intentChat),
		Tools:          toolRegistry,
		PreferFastOnly: *cfg.PreferFastIntentOnly,
	})

	// ── Server ────────────────────────────────────────────────────────────────
	sessions := session.NewRegistry()
	srv := server.New(server.Config{
		Pipeline: pipe,
		Tools:    toolRegistry,
		TTS:      voice,
		Registry: sessions,
		VAD: vad.Config{
			SpeechThreshold:     cfg.VAD.SpeechThreshold,
			SilenceThreshold:    cfg.VAD.SilenceThreshold,
			SpeechFramesNeeded:  cfg.VAD.SpeechFramesNeeded,
			SilenceFramesNeeded: cfg.VAD.SilenceFramesNeeded,
		},
		MaxHistory: cfg.MaxChatHistory,
		Version:    version,
	})

	ringtonePath := filepath.Join(filepath.Dir(cfg.AlarmStorePath), "ringtone.wav")
	scheduler := alarm.NewScheduler(alarmStore, media, srv.AlarmTargets, ringtonePath)
	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	printStartupSummary(cfg)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	slog.Info("server ready", "listen_addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSTT selects the transcription backend.
func buildSTT(cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STT.Provider {
	case "whisper-native":
		return stt.NewNative(cfg.STT.ModelPath, cfg.STT.Language)
	default: // groq, openai: OpenAI-compatible HTTP endpoints
		return stt.NewRemote(cfg.STT.APIKey, cfg.STT.BaseURL, cfg.STT.Model, cfg.STT.Language)
	}
}

// buildChatService assembles a failover chain from the configured providers,
// first entry primary and the rest fallbacks in order.
func buildChatService(cfg config.LLM, chatCfg resilience.ChatConfig) (*resilience.ChatService, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("no llm providers configured")
	}
	primary := cfg.Providers[0]
	ep, err := openai.New(primary.APIKey, primary.BaseURL, primary.Model)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", primary.Name, err)
	}
	svc := resilience.NewChatService(ep, primary.Name, chatCfg)
	for _, p := range cfg.Providers[1:] {
		fb, err := openai.New(p.APIKey, p.BaseURL, p.Model)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Name, err)
		}
		svc.AddFallback(p.Name, fb)
	}
	return svc, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	slog.Info(strings.Repeat("=", 60))
	slog.Info("vozgate started")
	slog.Info(fmt.Sprintf("   WebSocket : ws://%s/", displayAddr(cfg.ListenAddr)))
	slog.Info(fmt.Sprintf("   REST API  : http://%s/api/", displayAddr(cfg.ListenAddr)))
	slog.Info(fmt.Sprintf("   LLM       : %s", providerChain(cfg.LLM.Providers)))
	slog.Info(fmt.Sprintf("   Intent LLM: %s", providerChain(cfg.IntentLLM.Providers)))
	slog.Info(fmt.Sprintf("   STT       : %s (%s)", cfg.STT.Provider, cfg.STT.Model))
	slog.Info(fmt.Sprintf("   TTS model : %s", cfg.TTS.ModelPath))
	slog.Info(fmt.Sprintf("   TTS style : %s", cfg.TTS.VoiceStyle))
	slog.Info(fmt.Sprintf("   Audio in  : %dHz", audio.InputSampleRate))
	slog.Info(fmt.Sprintf("   Audio out : %dHz", audio.OutputSampleRate))
	slog.Info(strings.Repeat("=", 60))
}

func providerChain(providers []config.Provider) string {
	parts := make([]string, 0, len(providers))
	for _, p := range providers {
		parts = append(parts, fmt.Sprintf("%s(%s)", p.Name, p.Model))
	}
	return strings.Join(parts, " -> ")
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	return addr
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
