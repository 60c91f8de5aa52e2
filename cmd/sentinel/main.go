// Package main provides the entry point for the Sentinel portfolio
// monitoring engine: it wires the audit chain, access layer, analysis
// coordinator, persona router, and event gateway together, then runs
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sentinel-uhnw/sentinel/internal/access"
	"github.com/sentinel-uhnw/sentinel/internal/analysis/tax"
	"github.com/sentinel-uhnw/sentinel/internal/chain"
	"github.com/sentinel-uhnw/sentinel/internal/config"
	"github.com/sentinel-uhnw/sentinel/internal/coordinator"
	"github.com/sentinel-uhnw/sentinel/internal/events"
	"github.com/sentinel-uhnw/sentinel/internal/gateway"
	"github.com/sentinel-uhnw/sentinel/internal/router"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

func main() {
	configPath := flag.String("config", "./configs/sentinel.yaml", "Path to YAML config file")
	chainPath := flag.String("chain-path", "", "Override the audit chain's persistence path")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *chainPath != "" {
		cfg.Chain.PersistPath = *chainPath
	}
	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}

	logger := setupLogger(level)
	defer logger.Sync()

	logger.Info("starting sentinel",
		zap.String("config", *configPath),
		zap.String("chainPath", cfg.Chain.PersistPath),
		zap.String("logLevel", level),
	)

	auditChain, err := chain.New(logger, chain.WithPersistence(cfg.Chain.PersistPath, cfg.Chain.AutoPersist))
	if err != nil {
		logger.Fatal("failed to initialize audit chain", zap.Error(err))
	}

	accessManager := access.NewManager(logger, auditChain, access.LocalSandbox{})
	systemSession := accessManager.CreateSession(types.SessionSystem, types.RoleSystem, "sentinel-system", nil, 0, 0, 0)
	logger.Info("system session established", zap.String("sessionId", systemSession.ID))

	coord := coordinator.New(logger, auditChain, coordinator.Config{
		Scoring:    cfg.Scoring,
		TaxContext: tax.Context{},
	})

	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	coord.WithEventBus(bus)
	bus.SubscribeAll(func(e events.Event) error {
		logger.Debug("progress event", zap.String("type", string(e.GetType())))
		return nil
	}, events.SubscriptionOptions{Async: true})

	loader := newInMemoryPortfolioLoader()
	routingConfig := cfg.Routing.ToRoutingConfig()

	gw := gateway.New(logger, auditChain, cfg.Gateway.ToGatewayConfig())

	registerHandlers(gw, coord, loader, routingConfig, logger)

	gw.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sentinel started successfully")

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	gw.Stop()
	bus.Stop()

	if err := auditChain.Persist(); err != nil {
		logger.Error("failed to persist audit chain on shutdown", zap.Error(err))
	}

	logger.Info("sentinel stopped")
}

// registerHandlers wires every event kind through the persona router and,
// when routing decides an analysis run is warranted, into the coordinator.
func registerHandlers(gw *gateway.Gateway, coord *coordinator.Coordinator, loader *inMemoryPortfolioLoader, routingConfig router.RoutingConfig, logger *zap.Logger) {
	handle := func(ctx context.Context, event types.Event) error {
		decision := router.Route(event, loader, routingConfig)
		if !decision.ShouldProcess {
			logger.Debug("routing skipped event",
				zap.String("eventId", event.EventID),
				zap.String("reasoning", decision.Reasoning),
			)
			return nil
		}

		portfolio, err := loader.Load(event.PortfolioID)
		if err != nil {
			return fmt.Errorf("loading portfolio %s: %w", event.PortfolioID, err)
		}

		_, err = coord.Analyze(ctx, coordinator.Input{
			SessionID:    event.SessionID,
			Portfolio:    portfolio,
			TriggerEvent: string(event.Kind),
		})
		return err
	}

	for _, kind := range []types.EventKind{
		types.EventKindMarket,
		types.EventKindHeartbeat,
		types.EventKindWebhook,
		types.EventKindCronJob,
		types.EventKindAgentMessage,
	} {
		gw.RegisterHandler(kind, handle)
	}
}

// inMemoryPortfolioLoader is the development-mode PortfolioLoader. A real
// deployment resolves portfolio_id against a per-client data store, which
// is out of scope here; this loader only serves whatever portfolios are
// registered in process.
type inMemoryPortfolioLoader struct {
	mu         sync.RWMutex
	portfolios map[string]types.Portfolio
}

func newInMemoryPortfolioLoader() *inMemoryPortfolioLoader {
	return &inMemoryPortfolioLoader{portfolios: make(map[string]types.Portfolio)}
}

func (l *inMemoryPortfolioLoader) Register(p types.Portfolio) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.portfolios[p.PortfolioID] = p
}

func (l *inMemoryPortfolioLoader) Load(portfolioID string) (types.Portfolio, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.portfolios[portfolioID]
	if !ok {
		return types.Portfolio{}, fmt.Errorf("portfolio %q not registered", portfolioID)
	}
	return p, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
