// Package schedule decides whether automatic downloads may run right now.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ScheduleSource lists the enabled download schedules.
type ScheduleSource interface {
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*models.DownloadSchedule, error)
}

// Gate evaluates download time windows against the local clock.
type Gate struct {
	source  ScheduleSource
	nowFunc func() time.Time
}

// NewGate creates a gate reading schedules from source.
func NewGate(source ScheduleSource) *Gate {
	return &Gate{source: source, nowFunc: time.Now}
}

// IsDownloadAllowed reports whether any enabled schedule permits downloads at
// the current local time. With no enabled schedules downloads are always
// allowed. Sync tasks are never gated; callers only consult the gate for
// automatic download dispatch.
func (g *Gate) IsDownloadAllowed(ctx context.Context) (bool, error) {
	schedules, err := g.source.ListSchedules(ctx, true)
	if err != nil {
		return false, fmt.Errorf("load schedules: %w", err)
	}
	if len(schedules) == 0 {
		return true, nil
	}
	now := g.nowFunc()
	day := models.WeekdayFromTime(now.Weekday())
	minute := now.Hour()*60 + now.Minute()
	for _, s := range schedules {
		if matches(s, day, minute) {
			return true, nil
		}
	}
	return false, nil
}

func matches(s *models.DownloadSchedule, day models.Weekday, minute int) bool {
	if !containsDay(s.Days, day) {
		return false
	}
	start, ok := parseClock(s.StartTime)
	if !ok {
		return false
	}
	end, ok := parseClock(s.EndTime)
	if !ok {
		return false
	}
	if start > end {
		// Overnight window: [start, 24:00) ∪ [00:00, end].
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}

func containsDay(days []models.Weekday, day models.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
