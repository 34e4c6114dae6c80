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
	"github.com/mohammad-safakhou/ragpipe/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewEcho builds the HTTP surface over app.
func NewEcho(app *App, logger *log.Logger) *echo.Echo {
	if logger == nil {
		logger = newLogger("[HTTP] ")
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if reg := app.Metrics.Registry(); reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	ch := &ChatHandler{
		Pipe:           app.Pipe,
		StreamEvents:   app.Config.Server.StreamEvents,
		RequestTimeout: app.Config.General.RequestTimeout,
		Logger:         logger,
	}
	ch.Register(e.Group("/v1"))

	api := e.Group("/api")
	kh := &KnowledgeHandler{Library: app.Library, Fetcher: app.Fetcher, TopK: app.Config.Knowledge.TopK, Logger: logger}
	kh.Register(api.Group("/knowledge"))

	rh := &RunsHandler{}
	if app.Store != nil {
		rh.Store = app.Store
	}
	rh.Register(api.Group("/runs"))
	return e
}

// Run serves the HTTP API on addr until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, addr string) error {
	if cfg.Storage.Postgres.Enabled() {
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return err
		}
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("migrations failed: %v", err)
		}
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	e := NewEcho(app, newLogger("[HTTP] "))
	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
