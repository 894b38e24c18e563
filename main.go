package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"market-structure-engine/config"
	"market-structure-engine/internal/api"
	"market-structure-engine/internal/auth"
	"market-structure-engine/internal/cache"
	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/database"
	"market-structure-engine/internal/engine"
	"market-structure-engine/internal/events"
	"market-structure-engine/internal/execution"
	"market-structure-engine/internal/logging"
	"market-structure-engine/internal/memory"
	"market-structure-engine/internal/quality"
	"market-structure-engine/internal/regime"
	"market-structure-engine/internal/retrain"
	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
	"market-structure-engine/internal/structure"
	"market-structure-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	logger.Info().Msg("Starting market structure engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets come from Vault when enabled; config and environment seed the
	// local cache either way
	secrets, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.Fatal().Err(err).Msg("Vault client initialization failed")
	}
	secrets.Seed(vault.SecretDatabasePassword, cfg.Database.Password)
	secrets.Seed(vault.SecretJWTKey, cfg.Auth.JWTSecret)
	secrets.Seed(vault.SecretRedisPassword, cfg.Redis.Password)

	bus := events.NewEventBus()

	// Persistence: PostgreSQL when configured, in-memory otherwise
	var records signal.Store
	var repo *database.Repository
	if cfg.Database.Enabled {
		dbCfg := cfg.Database.Config
		dbCfg.Password = secrets.SecretOr(ctx, vault.SecretDatabasePassword, dbCfg.Password)
		db, err := database.NewDB(dbCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Database migrations failed")
		}
		repo = database.NewRepository(db)
		records = repo
	} else {
		logger.Warn().Msg("Database disabled, signal records are in-memory only")
		records = signal.NewMemoryStore()
	}

	// Quality gate cache: Redis when available, in-process fallback
	var cacheSvc *cache.CacheService
	var reportCache quality.ReportCache
	if cfg.Redis.Enabled {
		redisCfg := cfg.Redis
		redisCfg.Password = secrets.SecretOr(ctx, vault.SecretRedisPassword, redisCfg.Password)
		cacheSvc, err = cache.NewCacheService(redisCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Redis initialization failed")
		}
		defer cacheSvc.Close()
		reportCache = cacheSvc.Reports()
	}

	// Scoring weights: resume from the last persisted table
	holder := scoring.NewTableHolder(nil)
	if repo != nil {
		if table, err := repo.LatestWeightTable(ctx); err != nil {
			logger.Warn().Err(err).Msg("Could not load persisted weight table, using baseline")
		} else if table != nil {
			holder.Swap(table)
			logger.Info().Int("version", table.Version).Str("source", table.Source).Msg("Restored weight table")
		}
	}

	gate := quality.NewGate(cfg.Quality, reportCache)
	memStore := memory.NewStore(cfg.Memory.Capacity)
	classifier := regime.NewClassifier(cfg.Regime)
	guard := execution.NewGuard(cfg.Execution.Defaults, cfg.Execution.PerSymbol)
	breakers := circuit.NewManager(cfg.Circuit)

	trainer := retrain.NewTrainer(records, holder, cfg.Retrain.Config, logger)
	trainer.OnPublish(func(ctx context.Context, table *scoring.WeightTable) {
		if repo != nil {
			if err := repo.SaveWeightTable(ctx, table); err != nil {
				logger.Error().Err(err).Msg("Failed to persist weight table")
			}
		}
		bus.PublishWeightsSwapped(table.Version, table.Source, 0)
	})

	eng := engine.New(cfg.Engine, engine.Deps{
		Gate:       gate,
		Detector:   structure.NewDetector(cfg.Structure),
		Memory:     memStore,
		Holder:     holder,
		Classifier: classifier,
		Guard:      guard,
		Breakers:   breakers,
		Planner:    risk.NewPlanner(cfg.Risk),
		Records:    records,
		Bus:        bus,
		Logger:     logger,
	})

	// Periodic instrument memory sweep
	go func() {
		ticker := time.NewTicker(cfg.Memory.SweepInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				memStore.Sweep(time.Now().Add(-cfg.Memory.SweepAge.Std()))
			}
		}
	}()

	if cfg.Retrain.Enabled {
		scheduler := retrain.NewScheduler(trainer, cfg.Retrain.Interval.Std(), logger)
		go scheduler.Run(ctx)
	}

	// Auth is optional for local runs
	var authService *auth.Service
	var jwtManager *auth.JWTManager
	if cfg.Auth.Enabled {
		jwtSecret := secrets.SecretOr(ctx, vault.SecretJWTKey, cfg.Auth.JWTSecret)
		if jwtSecret == "" {
			logger.Fatal().Msg("Auth is enabled but no JWT secret is configured")
		}
		jwtManager = auth.NewJWTManager(
			jwtSecret,
			time.Duration(cfg.Auth.AccessTokenMinutes)*time.Minute,
			time.Duration(cfg.Auth.RefreshTokenHours)*time.Hour,
		)
		authService = auth.NewService(jwtManager, auth.NewPasswordManager(cfg.Auth.BcryptCost), cfg.Auth.Operators, logger)
	} else {
		logger.Warn().Msg("API authentication disabled")
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProductionMode: cfg.Server.ProductionMode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api.Deps{
		Engine:      eng,
		Records:     records,
		Breakers:    breakers,
		Holder:      holder,
		Trainer:     trainer,
		Cache:       cacheSvc,
		AuthService: authService,
		JWTManager:  jwtManager,
		Bus:         bus,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("API server exited")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	logger.Info().Msg("Stopped")
}
