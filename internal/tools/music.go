package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Track is one music search hit in the shape spoken pipelines expect.
type Track struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DeezerURL  string `json:"deezer_url"`
	PreviewURL string `json:"preview_url"`
	Duration   int    `json:"duration"`
}

// deezerResponse mirrors the fields of the search API we use.
type deezerResponse struct {
	Data []struct {
		Title  string `json:"title"`
		Link   string `json:"link"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album struct {
			Title string `json:"title"`
		} `json:"album"`
		Preview  string `json:"preview"`
		Duration int    `json:"duration"`
	} `json:"data"`
}

// searchMusic runs the search_vietnamese_music tool: query Deezer, map the
// hits, rank them against the requested name, and wrap everything in the
// text + json content pair.
func (r *Registry) searchMusic(ctx context.Context, args map[string]any) Result {
	songName := strings.TrimSpace(stringArg(args, "song_name"))
	query := songName
	if query == "" {
		query = strings.TrimSpace(stringArg(args, "query"))
	}
	if query == "" {
		return failure("Thiếu tham số song_name hoặc query")
	}

	limit := intArg(args, "limit", 5)
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	tracks, err := r.deezerSearch(ctx, query, limit)
	if err != nil {
		slog.Error("music search failed", "query", query, "error", err)
		return failure(fmt.Sprintf("Lỗi gọi Deezer API: %v", err))
	}
	rankTracks(tracks, query)

	return Result{
		OK: true,
		Content: []Item{
			TextItem(fmt.Sprintf("Tìm thấy %d kết quả nhạc cho: %s", len(tracks), query)),
			JSONItem(map[string]any{
				"request_body": map[string]any{
					"song_name": songName,
					"query":     query,
					"limit":     limit,
				},
				"tracks": tracks,
			}),
		},
	}
}

// deezerSearch issues the GET and maps the payload into [Track] values.
func (r *Registry) deezerSearch(ctx context.Context, query string, limit int) ([]Track, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%d", r.deezerBaseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %s", resp.Status)
	}

	var payload deezerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := payload.Data
	if len(items) > limit {
		items = items[:limit]
	}
	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		tracks = append(tracks, Track{
			Title:      item.Title,
			Artist:     item.Artist.Name,
			Album:      item.Album.Title,
			DeezerURL:  item.Link,
			PreviewURL: item.Preview,
			Duration:   item.Duration,
		})
	}
	return tracks, nil
}

// rankTracks orders tracks by string similarity between the query and
// "title artist". The search API ranks by popularity, which buries exact
// title matches for covers of well-known songs.
func rankTracks(tracks []Track, query string) {
	q := strings.ToLower(query)
	score := func(t Track) float64 {
		full := strings.ToLower(strings.TrimSpace(t.Title + " " + t.Artist))
		s := matchr.JaroWinkler(q, full, false)
		if titleOnly := matchr.JaroWinkler(q, strings.ToLower(t.Title), false); titleOnly > s {
			s = titleOnly
		}
		return s
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		return score(tracks[i]) > score(tracks[j])
	})
}

// intArg reads an integer argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n
		}
	}
	return def
}
