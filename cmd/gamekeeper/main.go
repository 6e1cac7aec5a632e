// Package main provides the gamekeeper binary: the runtime that
// bridges the game server and player clients, dispatches module
// commands, and drives the game server's remote console.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/bridge"
	"github.com/cory-johannsen/gamekeeper/internal/config"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/observability"
	"github.com/cory-johannsen/gamekeeper/internal/plugins/bank"
	"github.com/cory-johannsen/gamekeeper/internal/plugins/weather"
	"github.com/cory-johannsen/gamekeeper/internal/rcon"
	"github.com/cory-johannsen/gamekeeper/internal/server"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

// lateMessenger breaks the construction cycle between the dispatch
// engine and the bridge: the engine needs a Messenger before the
// bridge, which needs the engine, exists.
type lateMessenger struct {
	b *bridge.Bridge
}

func (m *lateMessenger) SendToPlayer(id string, data any) {
	if m.b != nil {
		m.b.SendToPlayer(id, data)
	}
}

func (m *lateMessenger) BroadcastPlayers(data any) {
	if m.b != nil {
		m.b.BroadcastPlayers(data)
	}
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics()

	tokens, err := auth.NewService(cfg.Auth.SessionSecret, cfg.Auth.ServiceSecret)
	if err != nil {
		logger.Fatal("initializing token service", zap.Error(err))
	}

	operators, err := auth.LoadOperators(cfg.Auth.OperatorsFile)
	if err != nil {
		logger.Fatal("loading operators file",
			zap.String("path", cfg.Auth.OperatorsFile), zap.Error(err))
	}
	logger.Info("operators loaded", zap.Int("count", len(operators)))

	// Pick the persistent store. Without a database the runtime keeps
	// everything in memory, which loses state across restarts.
	var (
		kv       store.Store
		pool     *store.Pool
		accounts bridge.Authenticator
	)
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err = store.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		kv = store.NewPostgres(pool.DB())
		accounts = auth.NewAccountRepository(pool.DB())
	} else {
		logger.Warn("database disabled, using in-memory store")
		kv = store.NewMemory()
	}

	console := rcon.NewClient(cfg.Console, logger, metrics)

	roster := auth.NewRoster()
	registry := module.NewRegistry()
	for _, desc := range []*module.Descriptor{
		weather.Descriptor(),
		bank.Descriptor(),
	} {
		if err := registry.Register(desc); err != nil {
			logger.Fatal("registering module",
				zap.String("module", desc.Name), zap.Error(err))
		}
		logger.Info("module registered",
			zap.String("module", desc.Name),
			zap.String("version", desc.Version))
	}

	messenger := &lateMessenger{}
	engine := dispatch.NewEngine(registry, kv, console, messenger, tokens, roster, logger, metrics)
	b := bridge.New(engine, tokens, roster, accounts, operators, cfg.RateLimit, cfg.Auth.SessionTTL, logger, metrics)
	messenger.b = b

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("console", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			// Commands reconnect on demand after the initial handshake.
			return console.Connect(ctx)
		},
		StopFn: func() {
			console.Disconnect()
		},
	})

	agentSvc := server.NewHTTPService(cfg.Server.AgentAddr(), b.AgentHandler(), logger.Named("agent"))
	lifecycle.Add("agent", agentSvc)

	playerSvc := server.NewHTTPService(cfg.Server.PlayerAddr(), b.PlayerHandler(), logger.Named("player"))
	lifecycle.Add("player", playerSvc)

	if cfg.Metrics.Enabled {
		lifecycle.Add("metrics", server.NewHTTPService(cfg.Metrics.Addr(), metrics.Handler(), logger.Named("metrics")))
	}

	if pool != nil {
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func(ctx context.Context) error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				pool.Close()
			},
		})
	}

	lifecycle.Add("bridge", &server.FuncService{
		StartFn: func(ctx context.Context) error { return nil },
		StopFn:  b.Close,
	})

	logger.Info("gamekeeper initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("agent_addr", cfg.Server.AgentAddr()),
		zap.String("player_addr", cfg.Server.PlayerAddr()),
		zap.String("console_addr", cfg.Console.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("runtime error", zap.Error(err))
	}
}
