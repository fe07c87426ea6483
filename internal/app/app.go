// Package app wires all KuranGame subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecaller,
// WithCatalog, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/joffreyzhang/kurangame/internal/config"
	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/health"
	"github.com/joffreyzhang/kurangame/internal/imagegen"
	"github.com/joffreyzhang/kurangame/internal/ingest"
	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/observe"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/server"
	"github.com/joffreyzhang/kurangame/internal/session"
	"github.com/joffreyzhang/kurangame/internal/status"
	"github.com/joffreyzhang/kurangame/internal/stream"
	"github.com/joffreyzhang/kurangame/internal/task"
	"github.com/joffreyzhang/kurangame/pkg/memory"
	"github.com/joffreyzhang/kurangame/pkg/memory/postgres"
	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings"
	"github.com/joffreyzhang/kurangame/pkg/provider/image"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
)

// defaultListenAddr is used when server.listen_addr is not configured.
const defaultListenAddr = ":8080"

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// taskCleanupInterval is how often expired task records are purged.
const taskCleanupInterval = time.Hour

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Image      image.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the KuranGame HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	store    *game.Store
	hub      *stream.Hub
	runtime  *session.Runtime
	missions *mission.Engine
	tasks    *task.Manager
	images   *imagegen.Pipeline
	indexer  *session.Indexer
	guard    *session.MemoryGuard
	pg       *postgres.Store
	catalog  memory.Catalog
	metrics  *observe.Metrics

	httpServer      *http.Server
	metricsShutdown func(context.Context) error

	// recaller/rememberer may be injected for tests; otherwise both come
	// from the postgres-backed semantic memory.
	recaller   session.Recaller
	rememberer session.Rememberer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger all subsystems derive from. Default: slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithRecaller injects a semantic-memory recaller instead of creating one
// from the postgres config.
func WithRecaller(r session.Recaller) Option {
	return func(a *App) { a.recaller = r }
}

// WithRememberer injects a semantic-memory writer instead of creating one
// from the postgres config.
func WithRememberer(r session.Rememberer) Option {
	return func(a *App) { a.rememberer = r }
}

// WithCatalog injects a world-file catalog instead of the postgres one.
func WithCatalog(c memory.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); an LLM provider is
// required, image and embeddings are optional.
//
// New performs all initialisation synchronously: storage layout, the optional
// postgres memory, the gameplay engines, the ingest pipeline, and the HTTP
// server. Background loops start in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an llm provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Semantic memory + catalog ─────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 3. Gameplay engines ──────────────────────────────────────────────
	a.initEngines()

	// ── 4. Image pipeline ────────────────────────────────────────────────
	a.initImages()

	// ── 5. Ingest tasks ──────────────────────────────────────────────────
	if err := a.initTasks(); err != nil {
		return nil, fmt.Errorf("app: init tasks: %w", err)
	}

	// ── 6. Observability + HTTP server ───────────────────────────────────
	if err := a.initHTTP(ctx); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// dataDir returns the configured data directory, defaulting to "data".
func (a *App) dataDir() string {
	if a.cfg.Storage.DataDir != "" {
		return a.cfg.Storage.DataDir
	}
	return "data"
}

// taskDir returns the task-record directory, defaulting to DataDir/tasks.
func (a *App) taskDir() string {
	if a.cfg.Storage.TaskDir != "" {
		return a.cfg.Storage.TaskDir
	}
	return filepath.Join(a.dataDir(), "tasks")
}

// imagesDir returns the generated-image directory, defaulting to DataDir/images.
func (a *App) imagesDir() string {
	if a.cfg.Storage.ImagesDir != "" {
		return a.cfg.Storage.ImagesDir
	}
	return filepath.Join(a.dataDir(), "images")
}

// uploadsDir returns the blob-upload directory, defaulting to DataDir/uploads.
func (a *App) uploadsDir() string {
	if a.cfg.Storage.UploadsDir != "" {
		return a.cfg.Storage.UploadsDir
	}
	return filepath.Join(a.dataDir(), "uploads")
}

// initStorage creates the world/session document store.
func (a *App) initStorage() error {
	store, err := game.NewStore(a.dataDir())
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// initMemory connects the postgres-backed catalog and semantic memory when a
// DSN is configured. Without one the server runs file-only: no catalog rows
// and no NPC recall beyond the transcript window.
func (a *App) initMemory(ctx context.Context) error {
	injected := a.recaller != nil || a.rememberer != nil || a.catalog != nil

	dsn := a.cfg.Storage.PostgresDSN
	if dsn != "" && !injected {
		dims := a.cfg.Storage.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDimensions
		}
		pg, err := postgres.NewStore(ctx, dsn, dims)
		if err != nil {
			return err
		}
		a.pg = pg
		a.catalog = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})

		if a.providers.Embeddings != nil {
			rec := memory.NewSemanticRecaller(pg.Narrative(), a.providers.Embeddings)
			a.recaller = rec
			a.rememberer = rec
		} else {
			a.log.Warn("postgres configured without an embeddings provider; semantic recall disabled")
		}
	}

	if a.recaller != nil || a.rememberer != nil {
		a.guard = session.NewMemoryGuard(a.recaller, a.rememberer, a.log)
	}
	return nil
}

// initEngines builds the status, prompt, mission, and session layers.
func (a *App) initEngines() {
	st := status.NewEngine(a.store, a.log)
	builder := prompt.NewBuilder()
	a.missions = mission.NewEngine(a.store, st, a.providers.LLM, builder, a.log,
		mission.WithCadence(a.cfg.Game.MissionCadence))
	a.hub = stream.NewHub(a.log)

	runtimeOpts := []session.Option{
		session.WithChunkWidth(a.cfg.Game.ChunkWidth),
		session.WithGameHoursPerAction(a.cfg.Game.GameHoursPerAction),
		session.WithSummariser(session.NewLLMSummariser(a.providers.LLM)),
	}
	if a.guard != nil {
		runtimeOpts = append(runtimeOpts, session.WithRecaller(a.guard))
	}
	a.runtime = session.NewRuntime(a.store, st, a.missions, a.providers.LLM, builder, a.hub, a.log, runtimeOpts...)

	if a.guard != nil {
		a.indexer = session.NewIndexer(session.IndexerConfig{
			Runtime:    a.runtime,
			Rememberer: a.guard,
			Logger:     a.log,
		})
	}
}

// initImages builds the image pipeline when an image provider is configured.
func (a *App) initImages() {
	if a.providers.Image == nil {
		a.log.Info("no image provider configured; image generation disabled")
		return
	}
	a.images = imagegen.NewPipeline(a.store, a.providers.Image, a.imagesDir(), a.log)
}

// initTasks wires the resumable ingest workflow and its manager.
func (a *App) initTasks() error {
	userFiles, err := task.NewUserFiles(filepath.Join(a.dataDir(), "users"))
	if err != nil {
		return err
	}

	wf := &task.Workflow{
		Store:     a.store,
		Extractor: ingest.PlainTextExtractor{},
		Generator: ingest.NewWorldGenerator(a.providers.LLM, a.log),
		Uploader:  &ingest.FSUploader{Dir: a.uploadsDir()},
		Images:    a.images,
		Catalog:   a.catalog,
		UserFiles: userFiles,
	}

	mgr, err := task.NewManager(a.taskDir(), wf, a.log)
	if err != nil {
		return err
	}
	a.tasks = mgr
	return nil
}

// initHTTP sets up the OTel providers, metrics, health checks, and the HTTP
// server with all routes wired.
func (a *App) initHTTP(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.metricsShutdown = shutdown

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	a.metrics = metrics

	checkers := []health.Checker{
		health.DataDirCheck(a.dataDir()),
		health.MemoryCheck(a.guard),
	}
	if a.pg != nil {
		checkers = append(checkers, health.PostgresCheck(a.pg.Pool()))
	}

	srvOpts := []server.Option{
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(metrics),
	}
	if a.images != nil {
		srvOpts = append(srvOpts, server.WithImagePipeline(a.images, a.imagesDir()))
	}

	srv := server.New(a.runtime, a.tasks, a.hub, a.log, srvOpts...)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background loops and serves HTTP until ctx is cancelled or
// the listener fails. On cancellation it returns ctx.Err(); call Shutdown
// afterwards to tear down the subsystems.
func (a *App) Run(ctx context.Context) error {
	// Resume interrupted ingest tasks from their last checkpoint. This can
	// involve LLM calls, so it must not block serving.
	go func() {
		if err := a.tasks.RecoverAll(ctx); err != nil {
			a.log.Error("task recovery incomplete", "error", err)
		}
	}()
	a.tasks.StartCleanup(ctx, taskCleanupInterval)

	if a.indexer != nil {
		a.indexer.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("serving https", "addr", a.httpServer.Addr)
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("serving http", "addr", a.httpServer.Addr)
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies a hot-reloadable config change to the running engines.
// Only gameplay design constants are handled here; the log level lives in
// main's level var, and provider or storage changes require a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if !d.GameChanged {
		return
	}
	a.runtime.SetGameConstants(d.NewGame.ChunkWidth, d.NewGame.GameHoursPerAction)
	a.missions.SetCadence(d.NewGame.MissionCadence)
	a.log.Info("game constants reloaded",
		"mission_cadence", d.NewGame.MissionCadence,
		"chunk_width", d.NewGame.ChunkWidth,
		"game_hours_per_action", d.NewGame.GameHoursPerAction,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: stop accepting HTTP traffic,
// stop the background loops, then close the stores. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "error", err)
		}

		if a.indexer != nil {
			a.indexer.Stop()
		}
		a.hub.Shutdown()

		if a.metricsShutdown != nil {
			if err := a.metricsShutdown(ctx); err != nil {
				a.log.Warn("telemetry shutdown error", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// Addr returns the address the HTTP server is configured to listen on.
func (a *App) Addr() string { return a.httpServer.Addr }
