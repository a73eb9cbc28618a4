package tools

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietvoz/vozgate/internal/alarm"
)

// setAlarm runs the set_alarm tool. The time argument is tried as a full
// timestamp first, then as a bare HH:MM meaning "today, or tomorrow if that
// moment already passed". A ringtone field is accepted even though the
// schema does not declare it, so callers can point alarms at local audio
// files.
func (r *Registry) setAlarm(args map[string]any) Result {
	rawTime := strings.TrimSpace(stringArg(args, "time"))
	if rawTime == "" {
		return failure("Thiếu tham số time")
	}

	when, err := r.resolveAlarmTime(rawTime)
	if err != nil {
		return failure(fmt.Sprintf("Không hiểu định dạng thời gian: %s", rawTime))
	}

	id := strings.TrimSpace(stringArg(args, "id"))
	if id == "" {
		id = uuid.NewString()
	}

	entry := alarm.Alarm{
		ID:           id,
		Time:         when.Format("2006-01-02T15:04:05"),
		Message:      strings.TrimSpace(stringArg(args, "message")),
		Ringtone:     strings.TrimSpace(stringArg(args, "ringtone")),
		PlayDuration: floatArg(args, "play_duration"),
		CreatedAt:    r.now().Format("2006-01-02T15:04:05"),
	}
	if err := r.alarms.Append(entry); err != nil {
		slog.Error("alarm append failed", "error", err)
		return failure(fmt.Sprintf("Không lưu được báo thức: %v", err))
	}

	slog.Info("alarm set", "id", entry.ID, "time", entry.Time)
	return Result{
		OK: true,
		Content: []Item{
			TextItem(fmt.Sprintf("Đã đặt báo thức lúc %s", when.Format("15:04 ngày 02/01/2006"))),
			JSONItem(entry),
		},
	}
}

// resolveAlarmTime parses a timestamp or an HH:MM clock time relative to
// now.
func (r *Registry) resolveAlarmTime(raw string) (time.Time, error) {
	if t, err := alarm.ParseTime(raw); err == nil {
		return t, nil
	}

	var hour, minute int
	if _, err := fmt.Sscanf(raw, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("tools: unparseable alarm time %q", raw)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("tools: clock time %q out of range", raw)
	}

	now := r.now()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// floatArg reads a numeric argument, defaulting to zero.
func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
