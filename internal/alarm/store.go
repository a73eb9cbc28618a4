// Package alarm persists alarm records and delivers due alarms to every
// connected session as a TTS-style audio push.
package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Alarm is one persisted alarm record. Triggered flips false→true exactly
// once, when the scheduler fires the alarm.
type Alarm struct {
	ID           string  `json:"id"`
	Time         string  `json:"time"` // ISO 8601, local
	Message      string  `json:"message,omitempty"`
	Ringtone     string  `json:"ringtone,omitempty"`
	PlayDuration float64 `json:"play_duration,omitempty"` // seconds
	CreatedAt    string  `json:"created_at,omitempty"`
	Triggered    bool    `json:"triggered"`
}

// timeLayouts are accepted when parsing Alarm.Time, most specific first.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses an alarm timestamp in any accepted layout. Offsets are
// honored when present; otherwise the time is local.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("alarm: unparseable time %q", s)
}

// Store reads and writes the alarm file, a JSON array of [Alarm] records.
// All methods are safe for concurrent use within one process.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path. The file is created on first
// append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns all alarms. A missing file is an empty store, not an error.
func (s *Store) Load() ([]Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Alarm, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("alarm: read store: %w", err)
	}
	var alarms []Alarm
	if err := json.Unmarshal(data, &alarms); err != nil {
		return nil, fmt.Errorf("alarm: parse store: %w", err)
	}
	return alarms, nil
}

// Append adds one alarm to the store.
func (s *Store) Append(a Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarms, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(alarms, a))
}

// Save rewrites the whole store.
func (s *Store) Save(alarms []Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(alarms)
}

func (s *Store) save(alarms []Alarm) error {
	data, err := json.MarshalIndent(alarms, "", "  ")
	if err != nil {
		return fmt.Errorf("alarm: encode store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("alarm: write store: %w", err)
	}
	return nil
}
