package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/edgedlt/internal/auth"
	"github.com/danmuck/edgedlt/internal/config"
	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/logging"
	"github.com/danmuck/edgedlt/internal/observability"
	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/server"
	"github.com/danmuck/edgedlt/internal/store"
	"github.com/danmuck/edgedlt/internal/transport"
)

const serviceName = "dltd"

var (
	selfApp = protocol.MakeID("DLTD")
	selfCtx = protocol.MakeID("CORE")
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			d, err := newDaemon(cfg, observability.InitLogger(serviceName))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.run(ctx)
		},
	}
}

type daemon struct {
	cfg    config.Config
	log    zerolog.Logger
	engine *engine.Engine
	mux    *transport.Mux
	link   *transport.Link
	admin  *server.Admin
}

// newDaemon wires the engine to its store and TCP link, initializes it and
// registers the daemon's own context.
func newDaemon(cfg config.Config, logger zerolog.Logger) (*daemon, error) {
	var st engine.PersistentStore = store.NewMemory()
	if cfg.Daemon.PersistencePath != "" {
		st = store.NewFile(cfg.Daemon.PersistencePath)
	}

	def := cfg.Engine.Channels[cfg.Engine.DefaultChannel]
	link := transport.NewLink(transport.LinkConfig{
		Channel:  cfg.Engine.DefaultChannel,
		Name:     def.Name,
		Addr:     cfg.Daemon.ListenAddr,
		MaxFrame: def.MaxFrameLength,
	})
	mux := transport.NewMux(len(cfg.Engine.Channels), link)

	session := protocol.SessionID(cfg.Daemon.SessionID)
	e, err := engine.New(cfg.Engine,
		engine.WithLowerLayer(mux),
		engine.WithStore(st),
		engine.WithErrorSink(observability.CountingSink{Next: engine.LogSink{}}),
		engine.WithLogger(logger.With().Str("component", "dlt").Logger()),
		engine.WithSession(session, engine.Capabilities{
			LevelChanged: func(app, ctx protocol.ID, level protocol.LogLevel) {
				logger.Info().Str("app_id", app.String()).Str("context_id", ctx.String()).
					Str("level", level.String()).Msg("log level changed")
			},
			TraceChanged: func(app, ctx protocol.ID, status protocol.TraceStatus) {
				logger.Info().Str("app_id", app.String()).Str("context_id", ctx.String()).
					Str("trace_status", status.String()).Msg("trace status changed")
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	mux.Bind(e)
	if err := e.Init(); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	err = e.RegisterContext(engine.Registration{SessionID: session, AppID: selfApp, ContextID: selfCtx})
	if err != nil {
		return nil, fmt.Errorf("register %s/%s: %w", selfApp, selfCtx, err)
	}

	admin := server.Appear(serviceName, cfg.Daemon.AdminAddr, e, cfg.Daemon.CorsOrigins)
	admin.Auth = auth.ForToken(cfg.Daemon.AdminToken)

	return &daemon{
		cfg:    cfg,
		log:    logger,
		engine: e,
		mux:    mux,
		link:   link,
		admin:  admin,
	}, nil
}

// logSelf emits a log message from the daemon's own context.
func (d *daemon) logSelf(level protocol.LogLevel, msg string) {
	outcome, err := d.engine.SendLogMessage(engine.FilterInfo{
		Kind:      protocol.KindLog,
		Level:     level,
		AppID:     selfApp,
		ContextID: selfCtx,
	}, []byte(msg))
	if err != nil {
		d.log.Warn().Err(err).Str("outcome", outcome.String()).Msg("self log rejected")
	}
}

// run drives the engine on a ticker and serves the admin API and the link
// until ctx is done or a server fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.link.Listen(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.log.Info().
		Str("listen", d.link.Addr().String()).
		Str("admin", d.cfg.Daemon.AdminAddr).
		Str("ecu_id", d.cfg.Engine.EcuID).
		Dur("cycle", d.cfg.Daemon.CyclePeriod).
		Msg("dltd started")
	d.logSelf(protocol.LogLevelInfo, "dltd started")

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	fail := func(err error) {
		if err != nil {
			once.Do(func() { first = err })
			cancel()
		}
	}
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.drive(ctx)
	}()
	go func() {
		defer wg.Done()
		fail(d.mux.Serve(ctx))
	}()
	go func() {
		defer wg.Done()
		fail(d.admin.Serve(ctx))
	}()
	wg.Wait()

	if err := d.engine.SetState(engine.ModeOffline); err != nil {
		d.log.Warn().Err(err).Msg("engine offline")
	}
	d.log.Info().Msg("dltd stopped")
	return first
}

func (d *daemon) drive(ctx context.Context) {
	tick := time.NewTicker(d.cfg.Daemon.CyclePeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			d.engine.Drive()
		}
	}
}
