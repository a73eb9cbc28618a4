// Package intent classifies user utterances into music, alarm, or plain
// chat. A rule-based fast path answers without a model round-trip; an
// LLM-backed path covers phrasings the rules miss.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vietvoz/vozgate/internal/prompt"
	"github.com/vietvoz/vozgate/internal/resilience"
)

// Intent labels.
const (
	Music = "music"
	Alarm = "alarm"
	Other = "other"
)

// DefaultSong is searched when a music request names no song.
const DefaultSong = "nhạc việt"

// Result is a classified utterance. SongName is set for music;
// AlarmTime ("HH:MM") and AlarmMessage for alarm.
type Result struct {
	Intent       string
	SongName     string
	AlarmTime    string
	AlarmMessage string
}

var (
	triggerWords = []string{"mở", "mơ", "mỡ", "phát", "bật", "nghe", "play"}
	musicWords   = []string{"nhạc", "bài", "bài hát", "ca sĩ", "playlist", "music"}
	alarmWords   = []string{"báo thức", "đặt báo thức", "hẹn giờ", "báo", "báo cho tôi"}

	// musicStrip removes command tokens from a music request, leaving the
	// song name. Multi-word phrases come first so "bài hát" is not eaten
	// word by word.
	musicStrip = []string{
		"bài hát", "cho tôi", "giúp tôi",
		"mở", "mơ", "phát", "bật", "nghe", "play", "bài", "nhạc", "music",
	}
	alarmStrip = []string{
		"đặt báo thức", "báo cho tôi", "báo thức", "hẹn giờ", "báo",
	}
)

// timePatterns match spoken clock times, most specific first: HH:MM with an
// optional am/pm, a bare hour with am/pm, the Vietnamese 7h30 shorthand, and
// "7 giờ 30".
var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?`),
	regexp.MustCompile(`(?i)(\d{1,2})\s*(am|pm)`),
	regexp.MustCompile(`(?i)(\d{1,2})h(\d{2})`),
	regexp.MustCompile(`(\d{1,2})\s*giờ\s*(\d{1,2})?`),
}

// DetectFast classifies by keyword rules alone. It errs toward Other: both a
// trigger word and a music word are required before a sentence counts as a
// music request.
func DetectFast(text string) Result {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Result{Intent: Other}
	}

	if containsAny(lowered, triggerWords) && containsAny(lowered, musicWords) {
		song := stripPhrases(lowered, musicStrip)
		if song == "" {
			song = DefaultSong
		}
		return Result{Intent: Music, SongName: song}
	}

	if containsAny(lowered, alarmWords) {
		clock, rest := extractClockTime(lowered)
		return Result{
			Intent:       Alarm,
			AlarmTime:    clock,
			AlarmMessage: stripPhrases(rest, alarmStrip),
		}
	}

	return Result{Intent: Other}
}

// Detector classifies with a dedicated LLM chain when the rules come up
// empty.
type Detector struct {
	chat *resilience.ChatService
}

// NewDetector wraps an intent LLM chain.
func NewDetector(chat *resilience.ChatService) *Detector {
	return &Detector{chat: chat}
}

// Detect asks the intent model for a {intent, song_name} JSON object. Any
// model or parse failure degrades to Other rather than failing the turn.
func (d *Detector) Detect(ctx context.Context, text string) Result {
	data, err := d.chat.ChatJSON(ctx, text, prompt.Intent)
	if err != nil {
		slog.Warn("intent detect failed", "error", err)
		return Result{Intent: Other}
	}

	rawIntent, _ := data["intent"].(string)
	if strings.TrimSpace(strings.ToLower(rawIntent)) != Music {
		return Result{Intent: Other}
	}
	song, _ := data["song_name"].(string)
	song = strings.TrimSpace(song)
	if song == "" {
		song = DefaultSong
	}
	slog.Info("intent detected", "intent", Music, "song", song)
	return Result{Intent: Music, SongName: song}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// stripPhrases removes whole-word phrase occurrences and trims the leftover
// whitespace and punctuation.
func stripPhrases(text string, phrases []string) string {
	padded := " " + text + " "
	for _, p := range phrases {
		needle := " " + p + " "
		for strings.Contains(padded, needle) {
			padded = strings.ReplaceAll(padded, needle, " ")
		}
	}
	collapsed := strings.Join(strings.Fields(padded), " ")
	return strings.Trim(collapsed, " ,.!?\n\t")
}

// extractClockTime finds the first clock time in text, normalizes it to
// HH:MM, and returns the text with the match removed. "chiều"/"tối" push a
// morning hour into the afternoon when no am/pm is given.
func extractClockTime(text string) (clock, rest string) {
	for _, re := range timePatterns {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		groups := make([]string, 0, 3)
		for g := 1; g*2 < len(m); g++ {
			if m[g*2] < 0 {
				groups = append(groups, "")
			} else {
				groups = append(groups, text[m[g*2]:m[g*2+1]])
			}
		}

		hour, minute, ok := parseClockGroups(groups)
		if !ok {
			continue
		}
		if hour < 12 && (strings.Contains(text, "chiều") || strings.Contains(text, "tối")) {
			hour += 12
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), text[:m[0]] + text[m[1]:]
	}
	return "", text
}

// parseClockGroups interprets the submatches of one time pattern: an hour,
// then either a minute, an am/pm marker, or both.
func parseClockGroups(groups []string) (hour, minute int, ok bool) {
	if len(groups) == 0 || groups[0] == "" {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(groups[0], "%d", &hour); err != nil {
		return 0, 0, false
	}

	ampm := ""
	for _, g := range groups[1:] {
		switch lg := strings.ToLower(g); lg {
		case "am", "pm":
			ampm = lg
		case "":
		default:
			if _, err := fmt.Sscanf(g, "%d", &minute); err != nil {
				return 0, 0, false
			}
		}
	}

	switch ampm {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
