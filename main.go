package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cyphertrade/config"
	"cyphertrade/internal/api"
	"cyphertrade/internal/auth"
	"cyphertrade/internal/botmgr"
	"cyphertrade/internal/candletrack"
	"cyphertrade/internal/events"
	"cyphertrade/internal/exchange"
	"cyphertrade/internal/logging"
	"cyphertrade/internal/marketcache"
	"cyphertrade/internal/memory"
	"cyphertrade/internal/notification"
	"cyphertrade/internal/position"
	"cyphertrade/internal/secrets"
	"cyphertrade/internal/storage"
	"cyphertrade/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	zlog := newComponentLogger(cfg.LoggingConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.StorageConfig.DSN, cfg.StorageConfig.MaxConns)
	if err != nil {
		logger.Fatal("failed to connect to storage", "error", err.Error())
	}
	defer db.Close()

	if cfg.StorageConfig.MigrationsOnBoot {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", "error", err.Error())
		}
		logger.Info("storage migrations applied")
	}

	candleStore := storage.NewCandleStore(db)
	memoryStore := storage.NewMemoryStore(db)
	tradingStore := storage.NewTradingStore(db)

	credProvider, err := secrets.NewProvider(cfg.VaultConfig, secrets.ExchangeCredentials{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
		Exchange:  "binance",
		IsTestnet: cfg.BinanceConfig.TestNet,
	})
	if err != nil {
		logger.Fatal("failed to initialize credential provider", "error", err.Error())
	}

	gateway, err := buildGateway(ctx, cfg, credProvider)
	if err != nil {
		logger.Fatal("failed to initialize exchange gateway", "error", err.Error())
	}

	var rdb *redis.Client
	if cfg.RedisConfig.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to process-local price cache", "error", err.Error())
			rdb = nil
		}
	}

	priceCache := marketcache.New(gateway, rdb)
	tracker := candletrack.New(candleStore, gateway, zlog.With().Str("component", "candletrack").Logger())
	learning := memory.New(memoryStore, zlog.With().Str("component", "memory").Logger())
	bus := events.New()
	defer bus.Close()

	riskCfg := position.Config{
		StopLossPct:           cfg.RiskConfig.StopLossPct,
		TakeProfitMinPct:      cfg.RiskConfig.TakeProfitMinPct,
		TrailingDrawdownPct:   cfg.RiskConfig.TrailingDrawdownPct,
		MinHoldingMinutes:     cfg.RiskConfig.MinHoldingMinutes,
		SignalMinConfidence:   cfg.RiskConfig.SignalMinConfidence,
		TakerFee:              cfg.RiskConfig.TakerFeePct,
		MinProfitAfterFeesPct: cfg.RiskConfig.MinProfitAfterFeesPct,
	}

	bots := botmgr.New(gateway, priceCache, tracker, learning, bus, tradingStore, riskCfg,
		zlog.With().Str("component", "botmgr").Logger(), cfg.BinanceConfig.TestNet)

	if cfg.NotificationConfig.Enabled {
		notifyManager := notification.NewManager()
		if cfg.NotificationConfig.WebhookURL != "" {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.WebhookURL,
				Enabled:    true,
			}))
		}
		go notification.RunBridge(ctx, bus, notifyManager)
		logger.Info("notification manager initialized")
	}

	// The decision agent is an external collaborator (see SPEC_FULL.md §9):
	// the supervisor runs both loops against nil news/agent collaborators
	// until one is wired in, so the rest of the stack is usable standalone.
	sup := supervisor.New(nil, nil, gateway, bots, bus, zlog.With().Str("component", "supervisor").Logger())
	sup.Start(ctx)
	defer sup.Stop()

	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService, err = auth.NewService(auth.Config{
			JWTSecret:            cfg.AuthConfig.JWTSecret,
			AccessTokenDuration:  cfg.AuthConfig.AccessTokenDuration,
			OperatorUsername:     cfg.AuthConfig.OperatorUsername,
			OperatorPasswordHash: cfg.AuthConfig.OperatorPasswordHash,
			MinPasswordLength:    cfg.AuthConfig.MinPasswordLength,
		})
		if err != nil {
			logger.Fatal("failed to initialize auth service", "error", err.Error())
		}
	} else {
		logger.Warn("AUTH_ENABLED=false, control surface is unauthenticated")
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: !cfg.TradingConfig.DryRun,
	}, bots, tradingStore, bus, authService, zlog.With().Str("component", "api").Logger())

	logger.Info("starting control surface", "host", cfg.ServerConfig.Host, "port", fmt.Sprintf("%d", cfg.ServerConfig.Port))
	if err := server.Run(ctx); err != nil {
		logger.Error("control surface exited with error", "error", err.Error())
	}

	logger.Info("shutdown complete")
}

// buildGateway picks the live Binance-style client or the in-memory mock,
// per BinanceConfig.MockMode / DryRun - a bot never branches on this itself,
// it only ever sees the exchange.Gateway interface.
func buildGateway(ctx context.Context, cfg *config.Config, creds *secrets.Provider) (exchange.Gateway, error) {
	if cfg.BinanceConfig.MockMode || cfg.TradingConfig.DryRun {
		return exchange.NewMockGateway(cfg.TradingConfig.QuoteCurrency, 10000.0, 1), nil
	}

	cred, err := creds.Get(ctx, "binance", cfg.BinanceConfig.TestNet)
	if err != nil {
		return nil, fmt.Errorf("resolve exchange credentials: %w", err)
	}
	return exchange.NewClient(cred.APIKey, cred.SecretKey, cfg.BinanceConfig.BaseURL), nil
}

// newComponentLogger builds the zerolog logger handed to the components
// that log structured, per-event fields (candletrack, memory, botrun,
// botmgr, supervisor, api) - internal/logging remains the general-purpose
// logger for main's own bootstrap messages.
func newComponentLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.JSONFormat {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(writer).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
