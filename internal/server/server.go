package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/insight/config"
	core "github.com/mohammad-safakhou/insight/internal/agent/core"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
	"github.com/mohammad-safakhou/insight/internal/cube"
	"github.com/mohammad-safakhou/insight/internal/history"
	"github.com/mohammad-safakhou/insight/internal/store"
)

// Run wires the full service and blocks serving HTTP until the listener
// fails.
func Run(cfg *config.Config) error {
	e := newEcho(cfg)

	ctx := context.Background()
	dsn, err := store.DSN(cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	archive := history.New(cfg.Storage.Redis, cfg.Agents.HistoryLimit)
	defer archive.Close()

	llmProvider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	cubeClient := cube.NewClient(cfg.Cube)
	meta := cube.NewMetaCache(cubeClient, cfg.Cube.MetaTTL)
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()
	orch := core.NewOrchestrator(cfg, llmProvider, cubeClient, meta, tele)

	secret := []byte(cfg.Server.JWTSecret)
	auth := &AuthHandler{Store: st, Secret: secret}
	ask := &AskHandler{
		Runner:       orch,
		Store:        st,
		History:      archive,
		HistoryLimit: cfg.Agents.HistoryLimit,
		Logger:       log.New(log.Writer(), "[ASK] ", log.LstdFlags),
	}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))
	ask.Register(api, secret)

	return e.Start(cfg.Server.Address)
}

// newEcho builds the echo instance with the shared middleware stack. Split
// out so handler tests can run against the same error handling.
func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
