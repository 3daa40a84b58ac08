package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"golang.org/x/time/rate"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/progress"
)

// progressSep separates the fields of a progress-template line.
const progressSep = "|"

// progressTemplate makes yt-dlp emit machine-readable progress lines.
const progressTemplate = "FETCHARR" + progressSep +
	"%(progress._percent_str)s" + progressSep +
	"%(progress._speed_str)s" + progressSep +
	"%(progress.eta)s" + progressSep +
	"%(progress.status)s"

// YtDlp runs the yt-dlp program for extraction and downloads.
type YtDlp struct {
	// Path is the yt-dlp executable; defaults to "yt-dlp" on $PATH.
	Path string
	// DownloadDir is the root directory downloaded media lands in.
	DownloadDir string
	// ArtworkDir receives per-list artwork files.
	ArtworkDir string
	// Limiter throttles process launches so metadata probing of many lists
	// does not stampede the remote site. Nil means unlimited.
	Limiter *rate.Limiter

	// HTTPClient fetches artwork; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewYtDlp creates a backend with sane defaults.
func NewYtDlp(path, downloadDir, artworkDir string) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	return &YtDlp{
		Path:        path,
		DownloadDir: downloadDir,
		ArtworkDir:  artworkDir,
		Limiter:     rate.NewLimiter(rate.Limit(1), 3),
	}
}

func (y *YtDlp) wait(ctx context.Context) error {
	if y.Limiter == nil {
		return nil
	}
	return y.Limiter.Wait(ctx)
}

// rawEntry is the subset of yt-dlp's JSON output the extractor consumes.
type rawEntry struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	WebpageURL  string  `json:"webpage_url"`
	Duration    float64 `json:"duration"`
	UploadDate  string  `json:"upload_date"`
	Thumbnail   string  `json:"thumbnail"`
	Extractor   string  `json:"extractor_key"`
	Description string  `json:"description"`
	WasLive     bool    `json:"was_live"`
	IsLive      bool    `json:"is_live"`
}

// ExtractVideos lists url entries with --flat-playlist --dump-json and calls
// onVideo for every entry not in existingIDs.
func (y *YtDlp) ExtractVideos(ctx context.Context, url, fromDate string, onVideo OnVideoFound, existingIDs map[string]bool) (int, error) {
	if err := y.wait(ctx); err != nil {
		return 0, err
	}
	args := []string{"--flat-playlist", "--dump-json", "--ignore-errors", "--no-warnings"}
	if fromDate != "" {
		args = append(args, "--dateafter", fromDate)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ytdlp stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		metrics.BackendInvocationsTotal.WithLabelValues("extract", "error").Inc()
		return 0, fmt.Errorf("ytdlp start: %w", err)
	}

	logger := log.WithComponent("backend")
	total := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var e rawEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			logger.Warn().Err(err).Str("event", "extract.bad_entry").Msg("skipping unparseable entry")
			continue
		}
		if e.ID == "" {
			continue
		}
		total++
		if existingIDs[e.ID] {
			continue
		}
		onVideo(entryToVideoData(e))
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	if scanErr != nil {
		metrics.BackendInvocationsTotal.WithLabelValues("extract", "error").Inc()
		return total, fmt.Errorf("ytdlp read: %w", scanErr)
	}
	if waitErr != nil && total == 0 {
		metrics.BackendInvocationsTotal.WithLabelValues("extract", "error").Inc()
		return total, fmt.Errorf("ytdlp extract %s: %w", url, waitErr)
	}
	metrics.BackendInvocationsTotal.WithLabelValues("extract", "ok").Inc()
	return total, nil
}

func entryToVideoData(e rawEntry) VideoData {
	url := e.WebpageURL
	if url == "" {
		url = e.URL
	}
	return VideoData{
		VideoID:     e.ID,
		Title:       e.Title,
		URL:         url,
		Duration:    int(e.Duration),
		UploadDate:  e.UploadDate,
		Thumbnail:   e.Thumbnail,
		Extractor:   e.Extractor,
		MediaType:   ClassifyMediaType(url, e.WasLive || e.IsLive),
		Description: e.Description,
		WasLive:     e.WasLive,
	}
}

// ClassifyMediaType derives the media type from the entry URL and live flag.
func ClassifyMediaType(url string, wasLive bool) models.MediaType {
	if wasLive {
		return models.MediaTypeLive
	}
	if strings.Contains(url, "/shorts/") {
		return models.MediaTypeShort
	}
	return models.MediaTypeVideo
}

type rawListMetadata struct {
	Title        string   `json:"title"`
	Channel      string   `json:"channel"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	ExtractorKey string   `json:"extractor_key"`
	ChannelID    string   `json:"channel_id"`
	Thumbnails   []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// ExtractListMetadata probes a channel/playlist without enumerating entries.
func (y *YtDlp) ExtractListMetadata(ctx context.Context, url string) (*ListMetadata, error) {
	if err := y.wait(ctx); err != nil {
		return nil, err
	}
	out, err := exec.CommandContext(ctx, y.Path,
		"--flat-playlist", "--playlist-items", "0", "--dump-single-json", "--no-warnings", url).Output()
	if err != nil {
		metrics.BackendInvocationsTotal.WithLabelValues("metadata", "error").Inc()
		return nil, fmt.Errorf("ytdlp metadata %s: %w", url, err)
	}
	var raw rawListMetadata
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("ytdlp metadata parse: %w", err)
	}
	md := &ListMetadata{
		Name:         raw.Title,
		Description:  raw.Description,
		Tags:         raw.Tags,
		ExtractorKey: raw.ExtractorKey,
		ChannelID:    raw.ChannelID,
	}
	if md.Name == "" {
		md.Name = raw.Channel
	}
	for _, t := range raw.Thumbnails {
		md.Thumbnails = append(md.Thumbnails, t.URL)
	}
	metrics.BackendInvocationsTotal.WithLabelValues("metadata", "ok").Inc()
	return md, nil
}

// formatSelector builds the -f argument from a profile.
func formatSelector(p *models.Profile) string {
	if p.MaxResolution == 0 {
		return "bestaudio/best"
	}
	sel := fmt.Sprintf("bestvideo[height<=%d]", p.MaxResolution)
	if p.VideoCodec != "" {
		sel += fmt.Sprintf("[vcodec^=%s]", p.VideoCodec)
	}
	audio := "bestaudio"
	if p.AudioCodec != "" {
		audio += fmt.Sprintf("[acodec^=%s]", p.AudioCodec)
	}
	return fmt.Sprintf("%s+%s/best[height<=%d]/best", sel, audio, p.MaxResolution)
}

// downloadArgs assembles the full yt-dlp argument list for one video.
func (y *YtDlp) downloadArgs(video *models.Video, p *models.Profile) []string {
	template := p.OutputTemplate
	if template == "" {
		template = "%(uploader)s/%(title)s [%(id)s].%(ext)s"
	}
	args := []string{
		"--newline",
		"--no-warnings",
		"--progress-template", progressTemplate,
		"-f", formatSelector(p),
		"-o", filepath.Join(y.DownloadDir, template),
		"--print", "after_move:filepath",
		"--no-simulate",
	}
	if p.Container != "" && p.MaxResolution > 0 {
		args = append(args, "--merge-output-format", p.Container)
	}
	if p.MaxResolution == 0 {
		args = append(args, "-x")
	}
	if p.EmbedSubtitles {
		args = append(args, "--embed-subs")
	}
	if p.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	for k, v := range p.ExtraOptions {
		if strings.HasPrefix(k, "--") {
			if v == "" {
				args = append(args, k)
			} else {
				args = append(args, k, v)
			}
		}
	}
	return append(args, video.URL)
}

// parseProgressLine splits one progress-template line into the raw fields the
// tracker hook understands. ok is false for non-progress output.
func parseProgressLine(line string) (map[string]string, bool) {
	if !strings.HasPrefix(line, "FETCHARR"+progressSep) {
		return nil, false
	}
	parts := strings.Split(line, progressSep)
	if len(parts) != 5 {
		return nil, false
	}
	return map[string]string{
		"_percent_str": parts[1],
		"_speed_str":   parts[2],
		"eta":          parts[3],
		"status":       parts[4],
	}, true
}

// Download runs yt-dlp for one video, streaming progress into hook. The
// returned path is where the final file landed.
func (y *YtDlp) Download(ctx context.Context, video *models.Video, profile *models.Profile, hook progress.Hook) (string, map[string]string, error) {
	if err := y.wait(ctx); err != nil {
		return "", nil, err
	}
	cmd := exec.CommandContext(ctx, y.Path, y.downloadArgs(video, profile)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, fmt.Errorf("ytdlp stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		metrics.BackendInvocationsTotal.WithLabelValues("download", "error").Inc()
		return "", nil, fmt.Errorf("ytdlp start: %w", err)
	}

	var finalPath string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if fields, ok := parseProgressLine(line); ok {
			if hook != nil {
				hook(fields)
			}
			continue
		}
		// The after_move:filepath print is the only other stdout line.
		if line != "" {
			finalPath = line
		}
	}
	if err := cmd.Wait(); err != nil {
		metrics.BackendInvocationsTotal.WithLabelValues("download", "error").Inc()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", nil, fmt.Errorf("ytdlp download %s: %s", video.URL, msg)
	}
	metrics.BackendInvocationsTotal.WithLabelValues("download", "ok").Inc()

	labels := map[string]string{}
	if profile.MaxResolution > 0 {
		labels["resolution"] = fmt.Sprintf("<=%dp", profile.MaxResolution)
	} else {
		labels["resolution"] = "audio"
	}
	if ext := filepath.Ext(finalPath); ext != "" {
		labels["container"] = strings.TrimPrefix(ext, ".")
	}
	return finalPath, labels, nil
}

// EnsureListArtwork downloads the list's primary thumbnail into ArtworkDir.
// Failures are returned for logging but never block a sync.
func (y *YtDlp) EnsureListArtwork(ctx context.Context, name, url string) error {
	if y.ArtworkDir == "" {
		return nil
	}
	target := filepath.Join(y.ArtworkDir, sanitizeFilename(name)+".jpg")
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	md, err := y.ExtractListMetadata(ctx, url)
	if err != nil {
		return err
	}
	if len(md.Thumbnails) == 0 {
		return nil
	}
	client := y.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, md.Thumbnails[len(md.Thumbnails)-1], nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artwork: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch artwork: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(y.ArtworkDir, 0o755); err != nil {
		return err
	}
	// Atomic write so a crashed fetch never leaves a truncated image.
	return renameio.WriteFile(target, body, 0o644)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if s == "" {
		s = "artwork"
	}
	return s
}

var _ MediaBackend = (*YtDlp)(nil)
