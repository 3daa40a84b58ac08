// Package progress keeps short-lived, in-memory download progress per video.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a snapshot survives without updates before eviction.
const DefaultTTL = 300 * time.Second

// Snapshot is the externally visible progress state for one video.
type Snapshot struct {
	Status  string  `json:"status"`
	Percent float64 `json:"percent"`
	Speed   string  `json:"speed,omitempty"`
	ETA     string  `json:"eta,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type entry struct {
	snap      Snapshot
	updatedAt time.Time
}

// Tracker maps video IDs onto live progress snapshots with TTL eviction.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]*entry
	nowFunc func() time.Time
}

// NewTracker creates a tracker with the given TTL; ttl <= 0 uses DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:     ttl,
		entries: make(map[int64]*entry),
		nowFunc: time.Now,
	}
}

// Update merges the given fields into the video's snapshot and refreshes its
// timestamp. Zero-valued fields are not merged, except Status which always
// wins when non-empty.
func (t *Tracker) Update(videoID int64, s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[videoID]
	if !ok {
		e = &entry{}
		t.entries[videoID] = e
	}
	if s.Status != "" {
		e.snap.Status = s.Status
	}
	if s.Percent > 0 {
		e.snap.Percent = s.Percent
	}
	if s.Speed != "" {
		e.snap.Speed = s.Speed
	}
	if s.ETA != "" {
		e.snap.ETA = s.ETA
	}
	if s.Error != "" {
		e.snap.Error = s.Error
	}
	e.updatedAt = t.nowFunc()
}

// Get returns a copy of the video's snapshot, evicting stale entries first.
func (t *Tracker) Get(videoID int64) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	e, ok := t.entries[videoID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// All returns a copy of every live snapshot keyed by video ID.
func (t *Tracker) All() map[int64]Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	out := make(map[int64]Snapshot, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.snap
	}
	return out
}

// MarkDone records a terminal success state.
func (t *Tracker) MarkDone(videoID int64) {
	t.Update(videoID, Snapshot{Status: "completed", Percent: 100})
}

// MarkError records a terminal failure state.
func (t *Tracker) MarkError(videoID int64, errMsg string) {
	t.Update(videoID, Snapshot{Status: "error", Error: errMsg})
}

func (t *Tracker) evictLocked() {
	cutoff := t.nowFunc().Add(-t.ttl)
	for id, e := range t.entries {
		if e.updatedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}

// Hook is the callback shape the media backend feeds with raw progress maps.
type Hook func(fields map[string]string)

// CreateHook returns a callback translating backend progress dicts (keys such
// as _percent_str, _speed_str, eta, status) into tracker updates.
func (t *Tracker) CreateHook(videoID int64) Hook {
	return func(fields map[string]string) {
		s := Snapshot{
			Status:  fields["status"],
			Percent: ParsePercent(fields["_percent_str"]),
			Speed:   strings.TrimSpace(fields["_speed_str"]),
			ETA:     strings.TrimSpace(fields["eta"]),
		}
		t.Update(videoID, s)
	}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ParsePercent extracts a float from yt-dlp percent strings. The raw value
// may carry a trailing '%', ANSI colour escapes, or junk; failure yields 0.
func ParsePercent(raw string) float64 {
	s := ansiEscape.ReplaceAllString(raw, "")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
