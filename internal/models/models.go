// Package models defines the persisted entities of fetcharr.
package models

import "time"

// Profile is a reusable download configuration referenced by lists.
type Profile struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Container      string            `json:"container"`
	// MaxResolution is a vertical pixel ceiling; 0 means audio-only.
	MaxResolution  int               `json:"max_resolution"`
	VideoCodec     string            `json:"video_codec,omitempty"`
	AudioCodec     string            `json:"audio_codec,omitempty"`
	IncludeShorts  bool              `json:"include_shorts"`
	IncludeLive    bool              `json:"include_live"`
	EmbedSubtitles bool              `json:"embed_subtitles"`
	EmbedMetadata  bool              `json:"embed_metadata"`
	OutputTemplate string            `json:"output_template,omitempty"`
	ExtraOptions   map[string]string `json:"extra_options,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ListType distinguishes the two monitored source kinds.
type ListType string

const (
	ListTypeChannel  ListType = "channel"
	ListTypePlaylist ListType = "playlist"
)

// SyncCadence is how often a list is due for synchronisation.
type SyncCadence string

const (
	CadenceHourly  SyncCadence = "hourly"
	Cadence6Hours  SyncCadence = "6h"
	Cadence12Hours SyncCadence = "12h"
	CadenceDaily   SyncCadence = "daily"
	CadenceWeekly  SyncCadence = "weekly"
	CadenceMonthly SyncCadence = "monthly"
)

// Interval maps a cadence onto its wall-clock period.
func (c SyncCadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case Cadence6Hours:
		return 6 * time.Hour
	case Cadence12Hours:
		return 12 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// List is a monitored source (channel or playlist) that yields videos on sync.
type List struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	URL            string      `json:"url"`
	Type           ListType    `json:"list_type"`
	ProfileID      int64       `json:"profile_id"`
	FromDate       string      `json:"from_date,omitempty"` // YYYYMMDD
	Cadence        SyncCadence `json:"sync_cadence"`
	Enabled        bool        `json:"enabled"`
	AutoDownload   bool        `json:"auto_download"`
	TitleBlacklist string      `json:"title_blacklist,omitempty"`
	MinDuration    int         `json:"min_duration,omitempty"` // seconds
	MaxDuration    int         `json:"max_duration,omitempty"` // seconds
	Deleting       bool        `json:"deleting,omitempty"`
	LastSynced     *time.Time  `json:"last_synced,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MediaType classifies a discovered item.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeShort MediaType = "short"
	MediaTypeLive  MediaType = "live"
)

// Video is a discovered item within a list. (ListID, ExternalID) is unique.
type Video struct {
	ID           int64             `json:"id"`
	ListID       int64             `json:"list_id"`
	ExternalID   string            `json:"external_video_id"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Duration     int               `json:"duration,omitempty"` // seconds
	UploadDate   string            `json:"upload_date,omitempty"`
	Thumbnail    string            `json:"thumbnail,omitempty"`
	MediaType    MediaType         `json:"media_type"`
	Labels       map[string]string `json:"labels,omitempty"`
	Downloaded   bool              `json:"downloaded"`
	DownloadPath string            `json:"download_path,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RetryCount   int               `json:"retry_count"`
	Blacklisted  bool              `json:"blacklisted"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Weekday is a lowercase three-letter day name used by download schedules.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

// WeekdayFromTime maps a time.Weekday onto the schedule day name.
func WeekdayFromTime(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// DownloadSchedule is a named permissive time window. StartTime and EndTime
// are "HH:MM" local times; StartTime > EndTime spans midnight.
type DownloadSchedule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Days      []Weekday `json:"days_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is an audit record, optionally tied to a list.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	ListID    *int64    `json:"list_id,omitempty"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Reserved settings keys read and written by the core.
const (
	SettingWorkerPaused      = "worker_paused"
	SettingSyncPaused        = "sync_paused"
	SettingDownloadPaused    = "download_paused"
	SettingDataRetentionDays = "data_retention_days"
)
