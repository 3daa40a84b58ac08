package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 2, cfg.MaxSyncWorkers)
	require.Equal(t, 3, cfg.MaxDownloadWorkers)
	require.Equal(t, 30*time.Second, cfg.PollInterval.Std())
	require.Equal(t, filepath.Join("./data", "fetcharr.db"), cfg.DatabasePath)
	require.Equal(t, filepath.Join("./data", "media"), cfg.DownloadDir)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetcharr.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
data_dir: /var/lib/fetcharr
max_download_workers: 5
poll_interval: 10s
sqlite_network_share: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 5, cfg.MaxDownloadWorkers)
	require.Equal(t, 10*time.Second, cfg.PollInterval.Std())
	require.True(t, cfg.SQLiteNetworkShare)
	require.Equal(t, filepath.Join("/var/lib/fetcharr", "fetcharr.db"), cfg.DatabasePath)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetcharr.yml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\n"), 0o644))

	t.Setenv("FETCHARR_LISTEN", ":7000")
	t.Setenv("FETCHARR_MAX_SYNC_WORKERS", "4")
	t.Setenv("FETCHARR_YTDLP_PATH", "/usr/local/bin/yt-dlp")
	t.Setenv("FETCHARR_DATA_RETENTION_DAYS", "14")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, 4, cfg.MaxSyncWorkers)
	require.Equal(t, "/usr/local/bin/yt-dlp", cfg.YtDlpPath)
	require.Equal(t, 14, cfg.DataRetentionDays)
}

func TestExplicitMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestInvalidWorkerCountRejected(t *testing.T) {
	t.Setenv("FETCHARR_MAX_DOWNLOAD_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_download_workers")
}

func TestInvalidYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetcharr.yml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
