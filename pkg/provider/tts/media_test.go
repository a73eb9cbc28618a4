package tts

import (
	"strings"
	"testing"
)

func TestFFmpegArgs(t *testing.T) {
	m := NewMediaStreamer("", "")
	if m.FFmpegBin != "ffmpeg" || m.YtdlpBin != "yt-dlp" {
		t.Fatalf("default binaries = %q/%q", m.FFmpegBin, m.YtdlpBin)
	}

	args := strings.Join(m.ffmpegArgs("http://example.com/a.mp3"), " ")
	for _, want := range []string{
		"-reconnect 1",
		"-i http://example.com/a.mp3",
		"-f s16le",
		"-ac 1",
		"-ar 24000",
		"pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestPiperArgs(t *testing.T) {
	id := 3
	p, err := NewPiper(PiperConfig{ModelPath: "models/voice.onnx", SpeakerID: &id, Speed: 0.7, Style: "robot"})
	if err != nil {
		t.Fatalf("NewPiper: %v", err)
	}
	args := strings.Join(p.args(), " ")
	if !strings.Contains(args, "--model models/voice.onnx") {
		t.Errorf("args = %q", args)
	}
	if !strings.Contains(args, "--output-raw") {
		t.Errorf("args = %q, missing --output-raw", args)
	}
	// speed 0.7 -> length_scale 1/0.7
	if !strings.Contains(args, "--length-scale 1.429") {
		t.Errorf("args = %q, want length scale 1.429", args)
	}
	if !strings.Contains(args, "--speaker 3") {
		t.Errorf("args = %q, missing speaker", args)
	}
}

func TestNewPiperRequiresModel(t *testing.T) {
	if _, err := NewPiper(PiperConfig{}); err == nil {
		t.Fatal("expected error for empty model path")
	}
}
