// Package backend abstracts the media-extraction program (yt-dlp) behind a
// capability interface so handlers never spawn processes directly.
package backend

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/progress"
)

// VideoData is one discovered entry reported by ExtractVideos.
type VideoData struct {
	VideoID     string
	Title       string
	URL         string
	Duration    int // seconds
	UploadDate  string
	Thumbnail   string
	Extractor   string
	MediaType   models.MediaType
	Labels      map[string]string
	Description string
	WasLive     bool
}

// ListMetadata describes a channel or playlist as a whole.
type ListMetadata struct {
	Name         string
	Description  string
	Thumbnails   []string
	Tags         []string
	ExtractorKey string
	ChannelID    string
}

// OnVideoFound receives each entry whose external ID was not in the existing
// set. It must be safe for concurrent invocation: extractors may run
// multiple fetchers in parallel.
type OnVideoFound func(VideoData)

// MediaBackend is the extraction/download capability the core delegates to.
type MediaBackend interface {
	// ExtractVideos iterates url, invoking onVideo for every entry not in
	// existingIDs. fromDate, when non-empty, is a YYYYMMDD lower bound.
	// Returns the total number of entries the source reported.
	ExtractVideos(ctx context.Context, url, fromDate string, onVideo OnVideoFound, existingIDs map[string]bool) (int, error)

	// ExtractListMetadata probes a channel/playlist for its display metadata.
	ExtractListMetadata(ctx context.Context, url string) (*ListMetadata, error)

	// Download fetches one video according to profile, feeding hook with raw
	// progress dicts. On success it returns the final file path and any
	// format labels the backend derived (resolution, codecs).
	Download(ctx context.Context, video *models.Video, profile *models.Profile, hook progress.Hook) (string, map[string]string, error)

	// EnsureListArtwork best-effort fetches and stores artwork for a list.
	EnsureListArtwork(ctx context.Context, name, url string) error
}
