package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/vietvoz/vozgate/pkg/audio"
)

// MediaStreamer plays remote audio (song URLs, previews, ringtone files)
// through ffmpeg, which decodes whatever container the source uses into
// 24 kHz mono PCM on stdout. yt-dlp resolves free-text song queries into
// direct audio URLs.
type MediaStreamer struct {
	FFmpegBin string
	YtdlpBin  string
}

// NewMediaStreamer creates a streamer using the given binaries. Empty
// fields default to "ffmpeg" and "yt-dlp" on PATH.
func NewMediaStreamer(ffmpegBin, ytdlpBin string) *MediaStreamer {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ytdlpBin == "" {
		ytdlpBin = "yt-dlp"
	}
	return &MediaStreamer{FFmpegBin: ffmpegBin, YtdlpBin: ytdlpBin}
}

// ffmpegArgs builds the decode command for a source URL. The reconnect
// flags ride out CDN hiccups on long songs.
func (m *MediaStreamer) ffmpegArgs(url string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "3",
		"-i", url,
		"-f", "s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(audio.OutputSampleRate),
		"pipe:1",
	}
}

// StreamURL decodes the audio at url into opus frames. The channel closes
// when the source ends or ctx is cancelled; cancelling kills ffmpeg.
func (m *MediaStreamer) StreamURL(ctx context.Context, url string) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	if url == "" {
		close(out)
		return out, nil
	}

	enc, err := audio.NewEncoder()
	if err != nil {
		close(out)
		return nil, err
	}

	cmd := exec.CommandContext(ctx, m.FFmpegBin, m.ffmpegArgs(url)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(out)
		return nil, fmt.Errorf("tts: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		close(out)
		return nil, fmt.Errorf("tts: start ffmpeg: %w", err)
	}

	go func() {
		defer close(out)

		var pending []byte
		frames := 0
		buf := make([]byte, 8192)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				for len(pending) >= audio.OutputFrameBytes {
					packet, encErr := enc.Encode(pending[:audio.OutputFrameBytes])
					pending = pending[audio.OutputFrameBytes:]
					if encErr != nil {
						slog.Error("tts: opus encode failed", "error", encErr)
						cmd.Process.Kill()
						cmd.Wait()
						return
					}
					frames++
					select {
					case out <- packet:
					case <-ctx.Done():
						cmd.Wait()
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					slog.Error("tts: read ffmpeg output", "error", err)
				}
				break
			}
		}

		if len(pending) > 0 {
			if packet, encErr := enc.Encode(audio.PadToFrame(pending)); encErr == nil {
				frames++
				select {
				case out <- packet:
				case <-ctx.Done():
				}
			}
		}

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("ffmpeg exited with error",
				"error", err,
				"stderr", strings.TrimSpace(stderr.String()),
			)
		}
		slog.Info("media stream finished", "frames", frames)
	}()

	return out, nil
}

// StreamSongByQuery resolves a free-text query to a direct audio URL via
// yt-dlp and streams it. An unresolvable query returns an error rather than
// an empty stream so the caller can fall back to a preview URL.
func (m *MediaStreamer) StreamSongByQuery(ctx context.Context, query string) (<-chan []byte, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("tts: empty song query")
	}
	url, err := m.resolveAudioURL(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.StreamURL(ctx, url)
}

// resolveAudioURL asks yt-dlp for the best-audio direct URL of the top
// search hit.
func (m *MediaStreamer) resolveAudioURL(ctx context.Context, query string) (string, error) {
	cmd := exec.CommandContext(ctx, m.YtdlpBin,
		"-f", "bestaudio/best",
		"-g",
		"--no-playlist",
		fmt.Sprintf("ytsearch1:%s official audio", query),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tts: yt-dlp: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("tts: yt-dlp returned no url for %q", query)
}
