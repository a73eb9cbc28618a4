package alarm

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietvoz/vozgate/pkg/audio"
)

// DefaultMessage is spoken when an alarm has no message of its own.
const DefaultMessage = "Báo thức"

// pollInterval is how often the scheduler re-reads the store.
const pollInterval = 5 * time.Second

// Target is one connected session's outbound channel. Implementations must
// serialize writes with the session's other traffic.
type Target interface {
	SendJSON(v any) error
	SendFrame(frame []byte) error
}

// Streamer decodes an audio file or URL into paced outbound frames.
// Satisfied by tts.MediaStreamer.
type Streamer interface {
	StreamURL(ctx context.Context, url string) (<-chan []byte, error)
}

// Scheduler polls the store and pushes due alarms to every connected
// session. Delivery is best-effort: a dead session is logged and skipped,
// never retried.
type Scheduler struct {
	store    *Store
	media    Streamer
	targets  func() []Target
	ringtone string
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler. targets is called on every trigger to
// snapshot the currently connected sessions; defaultRingtone is the file
// played when an alarm names none (generated on Run if missing).
func NewScheduler(store *Store, media Streamer, targets func() []Target, defaultRingtone string) *Scheduler {
	return &Scheduler{
		store:    store,
		media:    media,
		targets:  targets,
		ringtone: defaultRingtone,
		interval: pollInterval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Call it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	if err := EnsureDefaultRingtone(s.ringtone); err != nil {
		slog.Warn("default ringtone unavailable", "error", err)
	}
	slog.Info("alarm scheduler started", "store", s.store.Path(), "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every alarm whose time has passed and persists the triggered
// flags. Store errors skip the tick; the next interval retries.
func (s *Scheduler) tick(ctx context.Context) {
	alarms, err := s.store.Load()
	if err != nil {
		slog.Error("alarm store read failed", "error", err)
		return
	}

	now := s.now()
	changed := false
	for i := range alarms {
		if alarms[i].Triggered {
			continue
		}
		due, err := ParseTime(alarms[i].Time)
		if err != nil {
			slog.Warn("skipping alarm with invalid time", "id", alarms[i].ID, "time", alarms[i].Time)
			continue
		}
		if now.Before(due) {
			continue
		}

		// Mark before delivering so a crash mid-delivery cannot re-fire.
		alarms[i].Triggered = true
		changed = true
		s.fire(ctx, alarms[i])
	}

	if changed {
		if err := s.store.Save(alarms); err != nil {
			slog.Error("alarm store write failed", "error", err)
		}
	}
}

// fire spawns one delivery goroutine per connected session.
func (s *Scheduler) fire(ctx context.Context, a Alarm) {
	targets := s.targets()
	slog.Info("alarm fired", "id", a.ID, "time", a.Time, "sessions", len(targets))
	for _, t := range targets {
		go s.deliver(ctx, t, a)
	}
}

// deliver plays one alarm into one session: caption, ringtone (looped until
// play_duration is covered), stop.
func (s *Scheduler) deliver(ctx context.Context, t Target, a Alarm) {
	message := a.Message
	if message == "" {
		message = DefaultMessage
	}
	if err := t.SendJSON(map[string]any{"type": "tts", "state": "start"}); err != nil {
		slog.Warn("alarm start notify failed", "id", a.ID, "error", err)
		return
	}
	if err := t.SendJSON(map[string]any{"type": "tts", "state": "sentence_start", "text": message}); err != nil {
		slog.Warn("alarm caption failed", "id", a.ID, "error", err)
	}

	ringtone := a.Ringtone
	if ringtone == "" {
		ringtone = s.ringtone
	}

	var total float64
	for {
		played := s.playOnce(ctx, t, ringtone)
		total += played
		if played == 0 {
			slog.Warn("no frames streamed for ringtone", "path", ringtone)
			break
		}
		if a.PlayDuration <= 0 || total >= a.PlayDuration {
			break
		}
	}

	if err := t.SendJSON(map[string]any{"type": "tts", "state": "stop"}); err != nil {
		slog.Warn("alarm stop notify failed", "id", a.ID, "error", err)
	}
	slog.Info("alarm delivered", "id", a.ID, "played_s", total)
}

// playOnce streams the ringtone through once with per-frame pacing and
// returns the seconds of audio sent. A send failure ends the pass early.
func (s *Scheduler) playOnce(ctx context.Context, t Target, ringtone string) float64 {
	frames := 0
	seconds := func() float64 { return float64(frames) * audio.FrameDuration.Seconds() }

	stream, err := s.media.StreamURL(ctx, ringtone)
	if err != nil {
		slog.Warn("ringtone stream failed", "path", ringtone, "error", err)
		return 0
	}
	for frame := range stream {
		if err := t.SendFrame(frame); err != nil {
			slog.Warn("alarm frame send failed", "error", err)
			return seconds()
		}
		frames++
		select {
		case <-ctx.Done():
			return seconds()
		case <-time.After(audio.FrameDuration):
		}
	}
	return seconds()
}
