package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"

    "github.com/redis/go-redis/v9"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/flipbook/internal/config"
    "github.com/local/flipbook/internal/converter"
    "github.com/local/flipbook/internal/document"
    "github.com/local/flipbook/internal/intake"
    logpkg "github.com/local/flipbook/internal/logger"
    "github.com/local/flipbook/internal/metrics"
    "github.com/local/flipbook/internal/narration"
    "github.com/local/flipbook/internal/orchestrator"
    "github.com/local/flipbook/internal/pagination"
    "github.com/local/flipbook/internal/render"
    "github.com/local/flipbook/internal/statuscheck"
    "github.com/local/flipbook/internal/storage"
    "github.com/local/flipbook/internal/store"
    "github.com/local/flipbook/internal/viewport"
    web "github.com/local/flipbook/internal/web"
)

func main() {
    cfg := cfgpkg.Load()

    // Init logging
    if err := logpkg.Init(logpkg.Options{
        Level:  cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: logpkg.FileOptions{
            Path:       cfg.Logging.File,
            MaxSizeMB:  cfg.Logging.MaxSizeMB,
            MaxBackups: cfg.Logging.MaxBackups,
            MaxAgeDays: cfg.Logging.MaxAgeDays,
            Compress:   cfg.Logging.Compress,
        },
        Axiom: logpkg.AxiomOptions{
            Enabled: cfg.Axiom.Send,
            Token:   cfg.Axiom.APIKey,
            OrgID:   cfg.Axiom.OrgID,
            Dataset: cfg.Axiom.Dataset,
            Flush:   cfg.Axiom.FlushInterval,
        },
    }); err != nil {
        fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
    }
    defer logpkg.Close()
    metrics.Init()

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Redis-backed stores are optional; without them the app runs from memory.
    var (
        rdb   *redis.Client
        cache render.Cache
        sink  pagination.StatusSink
        prefs store.Preferences = store.NewMemoryPreferences()
    )
    if cfg.Redis.URL != "" {
        c, err := store.Connect(ctx, cfg.Redis.URL)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to connect to redis")
        }
        defer c.Close()
        rdb = c
        cache = store.NewRedisPageCache(c, cfg.Redis.PageTTL)
        sink = store.NewRedisStatus(c, cfg.Redis.PageTTL)
        prefs = store.NewRedisPreferences(c)
    }

    health := statuscheck.Options{
        S3Bucket:      cfg.S3.Bucket,
        LibreOffice:   cfg.Converter.Binary,
        OfficeEnabled: cfg.Intake.AllowOffice,
        Speech:        cfg.Narration.Binary,
    }
    if rdb != nil {
        health.Redis = statuscheck.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
    }

    engine := document.NewFitzEngine()
    health.RenderEngine = engine.Name()

    renderer := render.New(render.Options{
        Scale:       cfg.Render.Scale,
        Format:      cfg.Render.Format,
        Quality:     cfg.Render.Quality,
        Gray:        cfg.Render.ColorMode == "gray",
        Concurrency: cfg.Render.Concurrency,
    }, cache)

    deps := orchestrator.Dependencies{
        Engine:   engine,
        Intake:   intake.New(cfg.Intake.MaxBytes, cfg.Intake.AllowOffice),
        Renderer: renderer,
        Pagination: pagination.NewController(renderer, pagination.Options{
            Config: pagination.Config{
                InitialBatchSize:  cfg.Pagination.InitialBatchSize,
                PrefetchBatchSize: cfg.Pagination.PrefetchBatchSize,
                PrefetchThreshold: cfg.Pagination.PrefetchThreshold,
            },
            BatchTimeout: cfg.Pagination.BatchTimeout,
            Sink:         sink,
        }),
        Viewport: viewport.New(viewport.Config{
            TwoPage:  cfg.Viewport.TwoPage,
            ZoomStep: cfg.Viewport.ZoomStep,
            MinZoom:  cfg.Viewport.MinZoom,
            MaxZoom:  cfg.Viewport.MaxZoom,
        }, viewport.TimedAnimator{Duration: cfg.Viewport.FlipDuration}),
        Narration:    narration.NewAdapter(narration.NewEspeak(cfg.Narration.Binary), cfg.Narration.Language, cfg.Narration.Volume),
        Prefs:        prefs,
        ThumbWidth:   cfg.Render.ThumbWidth,
        ArchivePages: cfg.S3.ArchivePages,
        UploadDir:    cfg.Intake.UploadDir,
    }

    if cfg.Intake.AllowOffice {
        deps.Converter = converter.NewLibreOffice(cfg.Converter.Binary, cfg.Converter.MaxWorkers, cfg.Converter.Timeout)
    }

    if cfg.S3.Bucket != "" {
        archive, err := storage.NewArchive(ctx, storage.Options{
            Bucket:          cfg.S3.Bucket,
            Region:          cfg.S3.Region,
            Prefix:          cfg.S3.Prefix,
            AccessKeyID:     cfg.S3.AccessKeyID,
            SecretAccessKey: cfg.S3.SecretAccessKey,
            Endpoint:        cfg.S3.Endpoint,
            Password:        cfg.S3.Password,
        })
        if err != nil {
            log.Error().Err(err).Str("bucket", cfg.S3.Bucket).Msg("archive disabled")
        } else {
            deps.Archive = archive
            health.S3 = archive
        }
    }
    deps.Health = statuscheck.New(health)

    orch := orchestrator.New(deps)
    runDone := make(chan struct{})
    go func() { orch.Run(ctx); close(runDone) }()

    mux := http.NewServeMux()
    orch.RegisterRoutes(mux)

    // Viewer
    web := web.New(orch, cfg.Web.Username, cfg.Web.Password)
    web.RegisterRoutes(mux)

    // Housekeeping
    sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
    if _, err := sched.AddFunc(cfg.Maintenance.CleanupSchedule, func() {
        n := orchestrator.CleanupTemps(cfg.Intake.UploadDir, cfg.Maintenance.TempMaxAge)
        if n > 0 { log.Info().Int("removed", n).Msg("temp cleanup") }
    }); err != nil {
        log.Error().Err(err).Str("schedule", cfg.Maintenance.CleanupSchedule).Msg("invalid cleanup schedule")
    }
    sched.Start()
    defer sched.Stop()

    srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

    go func() {
        log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
    defer done()
    _ = srv.Shutdown(shutdownCtx)
    cancel()
    <-runDone
    log.Info().Msg("shutdown complete")
}
