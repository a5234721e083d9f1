package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
	"github.com/mohammad-safakhou/boardroom/internal/memory"
	"github.com/mohammad-safakhou/boardroom/internal/runtime"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

// Version is stamped into telemetry resources.
var Version = "dev"

type appStore interface {
	userStore
	chatStore
	sessionStore
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Store     appStore
	Pipeline  pipelineRunner
	Memory    memoryCounter
	Telemetry *telemetry.Telemetry
	Gatherer  prometheus.Gatherer
	Secret    []byte
	Server    config.ServerConfig
	Logger    *log.Logger
}

// NewEcho builds the router. It does not start listening.
func NewEcho(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := d.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := d.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		ExposeHeaders:    []string{SessionHeader},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/readyz", func(c echo.Context) error {
		if d.Store == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "store not configured")
		}
		if err := d.Store.Ping(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.String(http.StatusOK, "ready")
	})
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	authMW := runtime.EchoAuthMiddleware(d.Secret)
	api := e.Group("/api")
	auth := &AuthHandler{Store: d.Store, Secret: d.Secret, TokenTTL: d.Server.TokenTTL, SecureCookies: d.Server.SecureCookies}
	auth.Register(api.Group("/auth"), authMW)

	chat := &ChatHandler{Store: d.Store, Pipeline: d.Pipeline}
	chat.Register(api.Group("/chat", authMW))

	sessions := &SessionsHandler{Store: d.Store, Memory: d.Memory}
	sessions.Register(api.Group("/sessions", authMW), api.Group("/memory", authMW))

	NewOpsHandler(d.Telemetry).Register(api.Group("/ops", authMW))
	return e
}

// MemoryBackend is the long-term memory store plus its pruning janitor.
type MemoryBackend struct {
	Service core.MemoryService
	Janitor *memory.Janitor
	close   func()
}

// Close stops the janitor and releases the backend.
func (m *MemoryBackend) Close() {
	if m == nil {
		return
	}
	if m.Janitor != nil {
		m.Janitor.Stop()
	}
	if m.close != nil {
		m.close()
	}
}

// OpenMemory picks Redis when storage.redis is configured and reachable,
// otherwise a process-local store. The janitor is created but not started.
func OpenMemory(ctx context.Context, cfg *config.Config, logger *log.Logger) (*MemoryBackend, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	if cfg.Storage.Redis.Enabled() {
		rdb := memory.NewRedisClient(cfg.Storage.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		rs := memory.NewRedisStore(rdb, cfg.Memory, logger)
		j, err := memory.NewJanitor(rs, rdb, cfg.Memory, nil)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return &MemoryBackend{Service: rs, Janitor: j, close: func() {
			rs.Close()
			_ = rdb.Close()
		}}, nil
	}
	logger.Printf("storage.redis not configured; using in-process memory")
	ms := memory.NewInMemoryStore()
	j, err := memory.NewJanitor(ms, nil, cfg.Memory, nil)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{Service: ms, Janitor: j}, nil
}

// BuildPipeline loads the responder table and LLM clients and assembles the
// pipeline. Responders cannot answer without a provider, so none is an error.
func BuildPipeline(cfg *config.Config, mem core.MemoryService, tel *telemetry.Telemetry, logger *log.Logger) (*core.Pipeline, error) {
	reg, err := core.LoadRegistry(cfg.Pipeline.RespondersFile)
	if err != nil {
		return nil, err
	}
	gen, err := core.NewTextGenerator(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return core.NewPipeline(cfg.Pipeline, core.Deps{Generator: gen, Memory: mem, Registry: reg, Telemetry: tel, Logger: logger})
}

// Run wires storage, memory and the pipeline, then serves until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}

	tel := telemetry.NewTelemetry(cfg.Telemetry)
	defer tel.Shutdown()
	otelRT, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Registerer:     tel.Registry(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelRT.Shutdown(sctx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	if cfg.Server.AutoMigrate {
		if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	mem, err := OpenMemory(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer mem.Close()
	mem.Janitor.Start()

	pipeline, err := BuildPipeline(cfg, mem.Service, tel, log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags))
	if err != nil {
		return err
	}

	e := NewEcho(Deps{
		Store:     st,
		Pipeline:  pipeline,
		Memory:    mem.Service,
		Telemetry: tel,
		Gatherer:  tel.Registry(),
		Secret:    secret,
		Server:    cfg.Server,
	})

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := pipeline.Wait(sctx); err != nil {
		log.Printf("pending memory writes abandoned: %v", err)
	}
	return nil
}
