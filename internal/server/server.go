// Package server exposes the engine's programmatic control surface over an
// HTTP admin API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgedlt/internal/auth"
	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/observability"
)

const version = "0.1.0"

type Admin struct {
	Name     string    `json:"name"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`
	// Auth guards the mutating routes; Appear leaves it open.
	Auth auth.Validator `json:"-"`

	engine  *engine.Engine
	router  *gin.Engine
	metrics http.Handler
}

func Appear(name, addr string, eng *engine.Engine, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver(name, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(observability.NewEngineCollector(eng))
	return &Admin{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		Auth:     auth.Open{},
		engine:   eng,
		router:   r,
		metrics:  promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{}),
	}
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

// Serve registers the routes and serves until ctx is done.
func (a *Admin) Serve(ctx context.Context) error {
	a.RegisterRoutes()
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", a.Addr).Msg("admin api listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
