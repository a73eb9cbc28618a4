package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/vietvoz/vozgate/internal/resilience"
	"github.com/vietvoz/vozgate/pkg/provider/llm/mock"
)

func TestDetectFastMusic(t *testing.T) {
	cases := []struct {
		text string
		song string
	}{
		{"Mở bài hát Nơi Này Có Anh", "nơi này có anh"},
		{"phát nhạc Sơn Tùng", "sơn tùng"},
		{"cho tôi nghe bài Lạc Trôi", "lạc trôi"},
		{"bật playlist chill đi", "playlist chill đi"},
		{"play music", DefaultSong},
		{"bật nhạc", DefaultSong},
	}
	for _, c := range cases {
		got := DetectFast(c.text)
		if got.Intent != Music {
			t.Errorf("DetectFast(%q).Intent = %q, want music", c.text, got.Intent)
			continue
		}
		if got.SongName != c.song {
			t.Errorf("DetectFast(%q).SongName = %q, want %q", c.text, got.SongName, c.song)
		}
	}
}

func TestDetectFastRequiresBothWordSets(t *testing.T) {
	// A trigger without a music word, and vice versa, stay Other.
	for _, text := range []string{
		"mở cửa sổ ra",
		"bài này hay quá",
		"hôm nay trời đẹp",
		"",
	} {
		if got := DetectFast(text); got.Intent != Other {
			t.Errorf("DetectFast(%q).Intent = %q, want other", text, got.Intent)
		}
	}
}

func TestDetectFastAlarm(t *testing.T) {
	cases := []struct {
		text    string
		clock   string
		message string
	}{
		{"đặt báo thức lúc 7:30", "07:30", "lúc"},
		{"báo thức 7h30 sáng mai", "07:30", "sáng mai"},
		{"hẹn giờ 6 giờ 15", "06:15", ""},
		{"báo thức lúc 7 giờ tối", "19:00", "lúc tối"},
		{"đặt báo thức 9:15pm", "21:15", ""},
		{"báo thức 12:00am", "00:00", ""},
	}
	for _, c := range cases {
		got := DetectFast(c.text)
		if got.Intent != Alarm {
			t.Errorf("DetectFast(%q).Intent = %q, want alarm", c.text, got.Intent)
			continue
		}
		if got.AlarmTime != c.clock {
			t.Errorf("DetectFast(%q).AlarmTime = %q, want %q", c.text, got.AlarmTime, c.clock)
		}
		if got.AlarmMessage != c.message {
			t.Errorf("DetectFast(%q).AlarmMessage = %q, want %q", c.text, got.AlarmMessage, c.message)
		}
	}
}

func TestDetectFastAlarmWithoutTime(t *testing.T) {
	got := DetectFast("đặt báo thức dậy sớm nhé")
	if got.Intent != Alarm || got.AlarmTime != "" {
		t.Fatalf("got %+v, want alarm without time", got)
	}
	if got.AlarmMessage != "dậy sớm nhé" {
		t.Fatalf("AlarmMessage = %q", got.AlarmMessage)
	}
}

func newTestDetector(ep *mock.Endpoint) *Detector {
	chat := resilience.NewChatService(ep, "mock", resilience.ChatConfig{})
	return NewDetector(chat)
}

func TestDetectLLMMusic(t *testing.T) {
	ep := &mock.Endpoint{CompleteReply: `{"intent": "music", "song_name": "Hà Nội mùa thu"}`}
	got := newTestDetector(ep).Detect(context.Background(), "tôi muốn nghe gì đó về Hà Nội")
	if got.Intent != Music || got.SongName != "Hà Nội mùa thu" {
		t.Fatalf("got %+v", got)
	}
}

func TestDetectLLMMusicWithoutSongDefaults(t *testing.T) {
	ep := &mock.Endpoint{CompleteReply: `{"intent": "music", "song_name": ""}`}
	got := newTestDetector(ep).Detect(context.Background(), "mở gì đó nghe đi")
	if got.Intent != Music || got.SongName != DefaultSong {
		t.Fatalf("got %+v", got)
	}
}

func TestDetectLLMOther(t *testing.T) {
	ep := &mock.Endpoint{CompleteReply: `{"intent": "other", "song_name": ""}`}
	got := newTestDetector(ep).Detect(context.Background(), "thời tiết hôm nay thế nào")
	if got.Intent != Other || got.SongName != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestDetectLLMFailureDegradesToOther(t *testing.T) {
	ep := &mock.Endpoint{CompleteErr: errors.New("provider down")}
	got := newTestDetector(ep).Detect(context.Background(), "mở nhạc")
	if got.Intent != Other {
		t.Fatalf("got %+v, want other on failure", got)
	}
}
