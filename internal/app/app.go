package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/config"
	servernet "orbfall/server/internal/net"
	"orbfall/server/internal/net/ws"
	"orbfall/server/internal/policy"
	"orbfall/server/internal/session"
	"orbfall/server/internal/sim"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
	loggingSinks "orbfall/server/logging/sinks"
)

const (
	orbPrefix      = "orb"
	orbTint        = "#e9ecef"
	orbSpawnTick   = 0
	shutdownWindow = 5 * time.Second
)

type Options struct {
	ConfigPath string
	Logger     telemetry.Logger
}

// Run wires the full server: config, event router, session, tick loop,
// websocket gateway, and diagnostics surface. It blocks until ctx is
// cancelled or the listener fails.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if len(cfg.Logging.Sinks) > 0 {
		logCfg.EnabledSinks = cfg.Logging.Sinks
	}
	logCfg.Console.UseColor = cfg.Logging.UseColor
	if cfg.Logging.JSONPath != "" {
		logCfg.JSON.FilePath = cfg.Logging.JSONPath
	}

	named := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout, logCfg.Console)},
	}
	if logCfg.HasSink("json") && logCfg.JSON.FilePath != "" {
		file, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open json log: %w", err)
		}
		defer file.Close()
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logCfg.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters()

	world := session.New(session.Deps{
		Publisher: router,
		Metrics:   counters,
		Clock:     logging.SystemClock{},
	})

	buffer := sim.NewCommandBuffer(cfg.CommandCapacity, counters)
	engine := sim.NewEngine(world, sim.EngineConfig{
		WorldWidth:       cfg.World.Width,
		WorldHeight:      cfg.World.Height,
		MoveSpeed:        cfg.World.MoveSpeed,
		SpawnX:           cfg.World.SpawnX,
		SpawnY:           cfg.World.SpawnY,
		HeartbeatTimeout: cfg.HeartbeatTimeout.Duration,
	}, buffer, logger, counters)

	orbID := sim.SpawnShared(orbSpawnTick, world, orbPrefix,
		state.Position{X: cfg.World.OrbX, Y: cfg.World.OrbY},
		state.Velocity{Y: cfg.World.OrbDriftY},
		orbTint)

	engine.AddPolicy(policy.NewProximityHandoff(orbID, cfg.Policy.Radius, cfg.Policy.IntervalTicks, logger))

	// The orb renders in its current owner's tint so clients can see
	// authority move without reading the diagnostics endpoint.
	world.Authority().Subscribe(func(change authority.Change) {
		if change.Object != orbID {
			return
		}
		tint := orbTint
		if peer, owned := change.New.Peer(); owned {
			if avatar, bound := world.AvatarOf(peer); bound {
				world.WithObject(avatar, func(record *session.ObjectRecord) {
					tint = record.Tint
				})
			}
		}
		world.WithObject(orbID, func(record *session.ObjectRecord) {
			record.Tint = tint
		})
	})

	hub := NewHub(engine, logger)
	loop := sim.NewLoop(engine, sim.LoopConfig{
		TickRate:        cfg.TickRate,
		CatchupMaxTicks: cfg.CatchupMaxTicks,
	}, sim.LoopHooks{
		AfterStep: func(result sim.StepResult) {
			hub.Broadcast(result)
			hub.DropRemoved(result)
		},
	}, logging.SystemClock{}, counters)

	stop := make(chan struct{})
	go loop.Run(stop)
	defer close(stop)

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.Handle)
	mux.Handle("/", servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Counters:  counters,
		LogStats:  func() any { return router.Stats() },
		TickRate:  cfg.TickRate,
		Heartbeat: cfg.HeartbeatTimeout.Duration,
	}))

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	logger.Printf("server listening on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Printf("shutdown: %v", serr)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
