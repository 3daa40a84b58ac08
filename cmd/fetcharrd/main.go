// Command fetcharrd runs the fetcharr daemon: the task queue, the background
// scheduler and the HTTP API in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/backend"
	"github.com/fetcharr/fetcharr/internal/config"
	dl "github.com/fetcharr/fetcharr/internal/download"
	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/listsync"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notify"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/queue"
	"github.com/fetcharr/fetcharr/internal/schedule"
	"github.com/fetcharr/fetcharr/internal/scheduler"
	"github.com/fetcharr/fetcharr/internal/store"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fetcharr " + version)
		return
	}
	if err := run(*configPath); err != nil {
		logger := log.Base()
		logger.Fatal().Err(err).Msg("fetcharrd exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "fetcharr"})
	logger := log.WithComponent("daemon")

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir, cfg.ArtworkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.DatabasePath, store.Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
		NetworkShare: cfg.SQLiteNetworkShare,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	if cfg.DataRetentionDays > 0 {
		if err := seedRetention(context.Background(), st, cfg.DataRetentionDays); err != nil {
			return err
		}
	}

	h := hub.New()
	tracker := progress.NewTracker(0)
	gate := schedule.NewGate(st)
	be := backend.NewYtDlp(cfg.YtDlpPath, cfg.DownloadDir, cfg.ArtworkDir)

	notifiers := []notify.Notifier{notify.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL))
	}
	multi := notify.NewMulti(notifiers...)

	q := queue.New(st, h, gate)
	q.PollInterval = cfg.PollInterval.Std()
	q.Register(models.TaskTypeSync, listsync.New(st, h, be, multi), cfg.MaxSyncWorkers)
	q.Register(models.TaskTypeDownload, dl.New(st, h, be, tracker, multi), cfg.MaxDownloadWorkers)

	sched := scheduler.New(st, q, gate)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(st, q, h, tracker).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Str("version", version).Msg("fetcharrd started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("fetcharrd stopped")
	return err
}

// seedRetention writes the configured retention into the settings store
// unless an operator already set a value through the API.
func seedRetention(ctx context.Context, st *store.Store, days int) error {
	current, err := st.GetSetting(ctx, models.SettingDataRetentionDays)
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}
	return st.SetSetting(ctx, models.SettingDataRetentionDays, strconv.Itoa(days))
}
