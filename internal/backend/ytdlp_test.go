package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func TestClassifyMediaType(t *testing.T) {
	require.Equal(t, models.MediaTypeShort, ClassifyMediaType("https://www.youtube.com/shorts/abc", false))
	require.Equal(t, models.MediaTypeVideo, ClassifyMediaType("https://www.youtube.com/watch?v=abc", false))
	require.Equal(t, models.MediaTypeLive, ClassifyMediaType("https://www.youtube.com/watch?v=abc", true))
}

func TestParseProgressLine(t *testing.T) {
	fields, ok := parseProgressLine("FETCHARR| 42.1%|2.32MiB/s|00:35|downloading")
	require.True(t, ok)
	require.Equal(t, " 42.1%", fields["_percent_str"])
	require.Equal(t, "2.32MiB/s", fields["_speed_str"])
	require.Equal(t, "00:35", fields["eta"])
	require.Equal(t, "downloading", fields["status"])

	_, ok = parseProgressLine("[download] Destination: video.mkv")
	require.False(t, ok)
	_, ok = parseProgressLine("FETCHARR|too|few")
	require.False(t, ok)
}

func TestFormatSelector(t *testing.T) {
	require.Equal(t, "bestaudio/best", formatSelector(&models.Profile{MaxResolution: 0}))

	sel := formatSelector(&models.Profile{MaxResolution: 1080, VideoCodec: "av01"})
	require.Contains(t, sel, "height<=1080")
	require.Contains(t, sel, "vcodec^=av01")
}

func TestDownloadArgs(t *testing.T) {
	y := NewYtDlp("", "/data/media", "")
	video := &models.Video{URL: "https://www.youtube.com/watch?v=abc"}

	args := y.downloadArgs(video, &models.Profile{
		MaxResolution:  720,
		Container:      "mkv",
		EmbedSubtitles: true,
		EmbedMetadata:  true,
		ExtraOptions:   map[string]string{"--sponsorblock-remove": "sponsor"},
	})

	require.Contains(t, args, "--merge-output-format")
	require.Contains(t, args, "mkv")
	require.Contains(t, args, "--embed-subs")
	require.Contains(t, args, "--embed-metadata")
	require.Contains(t, args, "--sponsorblock-remove")
	require.Contains(t, args, "sponsor")
	require.Equal(t, video.URL, args[len(args)-1])
	require.NotContains(t, args, "-x")

	audio := y.downloadArgs(video, &models.Profile{MaxResolution: 0})
	require.Contains(t, audio, "-x")
	require.NotContains(t, audio, "--merge-output-format")
}

func TestEntryToVideoDataPrefersWebpageURL(t *testing.T) {
	v := entryToVideoData(rawEntry{
		ID:         "abc",
		Title:      "A Video",
		URL:        "abc",
		WebpageURL: "https://www.youtube.com/watch?v=abc",
		Duration:   93.4,
		UploadDate: "20260101",
	})
	require.Equal(t, "https://www.youtube.com/watch?v=abc", v.URL)
	require.Equal(t, 93, v.Duration)
	require.Equal(t, models.MediaTypeVideo, v.MediaType)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b_c", sanitizeFilename("a/b:c"))
	require.Equal(t, "artwork", sanitizeFilename("  "))
}
