// Package tools is the in-process tool registry exposed over the device
// channel's mcp messages: music search and alarm setting.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vietvoz/vozgate/internal/alarm"
)

// Item is one entry in a tool result's content list: either a human-readable
// text line or a structured JSON block.
type Item struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	JSON any    `json:"json,omitempty"`
}

// TextItem builds a text content item.
func TextItem(text string) Item { return Item{Type: "text", Text: text} }

// JSONItem builds a structured content item.
func JSONItem(v any) Item { return Item{Type: "json", JSON: v} }

// Result is the normalized outcome of a tool call.
type Result struct {
	OK      bool   `json:"ok"`
	Content []Item `json:"content"`
}

func failure(text string) Result {
	return Result{OK: false, Content: []Item{TextItem(text)}}
}

// Descriptor describes one tool in a JSON-Schema-like shape.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Registry holds the built-in tools. All methods are safe for concurrent
// use.
type Registry struct {
	client        *http.Client
	deezerBaseURL string
	alarms        *alarm.Store
	now           func() time.Time
}

// Config configures a [Registry].
type Config struct {
	// DeezerBaseURL overrides the music search API root, mainly for tests.
	DeezerBaseURL string

	// Alarms is the store set_alarm appends to.
	Alarms *alarm.Store
}

// searchTimeout bounds the music search HTTP call.
const searchTimeout = 12 * time.Second

// NewRegistry creates the registry.
func NewRegistry(cfg Config) *Registry {
	base := cfg.DeezerBaseURL
	if base == "" {
		base = "https://api.deezer.com"
	}
	return &Registry{
		client:        &http.Client{Timeout: searchTimeout},
		deezerBaseURL: base,
		alarms:        cfg.Alarms,
		now:           time.Now,
	}
}

// List returns the descriptors of every registered tool.
func (r *Registry) List() []Descriptor {
	return []Descriptor{
		{
			Name:        "search_vietnamese_music",
			Description: "Tìm nhạc Việt theo từ khóa (artist/bài hát), trả metadata và link nghe.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"song_name": map[string]any{
						"type":        "string",
						"description": "Tên bài hát cần tìm, ví dụ: Nơi này có anh",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "Từ khóa tìm kiếm, ví dụ: Son Tung M-TP",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Số kết quả tối đa (1-20)",
						"minimum":     1,
						"maximum":     20,
						"default":     5,
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "set_alarm",
			Description: "Đặt báo thức. Nhận thời gian ISO hoặc HH:MM và lời nhắn tùy chọn.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"time": map[string]any{
						"type":        "string",
						"description": "Thời điểm báo thức, ví dụ: 2026-08-25T07:30:00 hoặc 07:30",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "Lời nhắn khi báo thức kêu",
					},
					"id": map[string]any{
						"type":        "string",
						"description": "Định danh tùy chọn cho báo thức",
					},
				},
				"required": []string{"time"},
			},
		},
	}
}

// Call invokes one tool by name. Unknown names fail soft with a text item so
// the device channel always gets a well-formed response.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) Result {
	switch name {
	case "search_vietnamese_music":
		return r.searchMusic(ctx, args)
	case "set_alarm":
		return r.setAlarm(args)
	default:
		return failure(fmt.Sprintf("Tool không tồn tại: %s", name))
	}
}

// stringArg reads a string argument, tolerating absent or non-string values.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
