package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subforge/internal/app"
	"subforge/internal/config"
	"subforge/internal/events"
	"subforge/internal/handlers"
	"subforge/internal/jobs"
	"subforge/internal/logging"
	"subforge/internal/publish"
	"subforge/internal/storage"
	"subforge/internal/telemetry"
	"subforge/internal/version"
	"subforge/internal/worker"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML or TOML config file")
	backend := flag.String("backend", "", "ASR backend (sherpa, whispercpp)")
	share := flag.Bool("share", false, "listen on every interface")
	host := flag.String("host", "", "listen host")
	port := flag.Int("port", 0, "listen port")
	username := flag.String("username", "", "basic auth username")
	password := flag.String("password", "", "basic auth password")
	theme := flag.String("theme", "", "UI theme (light, dark)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// コマンドライン引数は設定ファイルと環境変数より優先
	if *backend != "" {
		cfg.ASR.Backend = *backend
	}
	if *share {
		cfg.Server.Share = true
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *username != "" {
		cfg.Server.Username = *username
	}
	if *password != "" {
		cfg.Server.Password = *password
	}
	if *theme != "" {
		cfg.Server.Theme = *theme
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Paths.Data, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	lock, err := storage.LockDir(cfg.Paths.Data)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	db, err := storage.Open(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	jobRepo := storage.NewJobRepository(db)
	if n, err := jobRepo.FailInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	} else if n > 0 {
		logger.Warn("failed jobs interrupted by the previous run", "count", n)
	}

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "subforge",
		ServiceVersion: version.Version,
		Metrics:        cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		StdoutTraces:   cfg.Telemetry.StdoutTraces,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var bus *events.Publisher
	if cfg.Events.Enabled {
		bus, err = events.Connect(ctx, events.Options{URL: cfg.Events.NATSURL, Subject: cfg.Events.Subject}, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
	}

	var mirror publish.Publisher
	if cfg.Mirror.Enabled {
		m, err := publish.NewMinio(ctx, publish.Options{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
			UseSSL:    cfg.Mirror.UseSSL,
		}, logger)
		if err != nil {
			return err
		}
		mirror = m
	}

	p, err := app.NewPipeline(cfg, tel.Metrics, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	w := worker.NewWorker(jobRepo, logger.With("component", "worker"))
	w.SetInterval(cfg.PollInterval())
	svc := jobs.NewService(jobs.Config{
		Jobs:      jobRepo,
		Artifacts: storage.NewArtifactRepository(db),
		Worker:    w,
		Pipeline:  p.Pipeline,
		Events:    bus,
		Mirror:    mirror,
		Metrics:   tel.Metrics,
		Tracer:    tel.Tracer,
		InputsDir: cfg.InputsDir(),
		Logger:    logger.With("component", "jobs"),
	})
	w.Start(ctx)
	defer w.Stop()

	if cfg.Worker.RetentionDays > 0 {
		go svc.RunRetention(ctx, time.Hour, time.Duration(cfg.Worker.RetentionDays)*24*time.Hour)
	}

	e := newServer(cfg, p, svc, tel, bus, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("starting subforge", "version", version.Version, "addr", cfg.Addr(), "backend", p.Backend.Name())
	if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newServer(cfg config.Config, p *app.Pipeline, svc *jobs.Service, tel *telemetry.Provider, bus *events.Publisher, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if cfg.Server.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.Server.MaxUploadMB)))
	}
	if cfg.AuthEnabled() {
		e.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
			Validator: func(user, pass string, c echo.Context) (bool, error) {
				okUser := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Server.Username)) == 1
				okPass := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Server.Password)) == 1
				return okUser && okPass, nil
			},
		}))
	}

	defaults := app.JobDefaults(cfg)
	home := handlers.NewHomeHandler(p.Backend, defaults, cfg.Server.Theme, app.LocalModel(cfg))
	tr := handlers.NewTranscribeHandler(svc, p.Videos, defaults)
	jh := handlers.NewJobHandler(svc, cfg.Server.Theme, logger)

	// ルートの登録
	e.GET("/", home.Home)
	e.GET("/jobs", jh.ListPage)
	e.GET("/jobs/:id", jh.DetailPage)
	e.Static("/outputs", cfg.Paths.Outputs)

	api := e.Group("/api")
	api.GET("/models", home.Models)
	api.POST("/transcribe/file", tr.File)
	api.POST("/transcribe/youtube", tr.YouTube)
	api.POST("/transcribe/mic", tr.Mic)
	api.GET("/youtube/meta", tr.YouTubeMeta)
	api.POST("/translate", tr.Translate)
	api.GET("/jobs", jh.List)
	api.GET("/jobs/stats", jh.Stats)
	api.GET("/jobs/:id", jh.Get)
	api.DELETE("/jobs/:id", jh.Delete)
	api.GET("/artifacts/:id", jh.Artifact)
	e.GET("/ws/jobs/:id", jh.Stream)

	if tel.Handler != nil {
		e.GET("/metrics", echo.WrapHandler(tel.Handler))
	}
	e.GET("/health", func(c echo.Context) error {
		status := map[string]any{
			"status":  "ok",
			"version": version.Version,
			"backend": p.Backend.Name(),
		}
		if entry, ok := p.Transcriber.Loaded(); ok {
			status["asr_model"] = entry.ID
		}
		if cfg.Events.Enabled {
			status["events"] = bus.Healthy()
		}
		return c.JSON(http.StatusOK, status)
	})
	return e
}
