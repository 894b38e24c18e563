// Command retrain runs one offline training pass against the configured
// database and exits non-zero when the candidate is rejected. Intended for
// cron or manual runs; the serving process keeps its active table until this
// publishes a new version.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"market-structure-engine/config"
	"market-structure-engine/internal/database"
	"market-structure-engine/internal/logging"
	"market-structure-engine/internal/retrain"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/vault"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "path to config file")
		symbol     = flag.String("symbol", "", "restrict training to one symbol")
		timeframe  = flag.String("timeframe", "", "restrict training to one timeframe")
		timeout    = flag.Duration("timeout", 10*time.Minute, "training timeout")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if !cfg.Database.Enabled {
		logger.Fatal().Msg("Retraining requires the database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	secrets, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.Fatal().Err(err).Msg("Vault client initialization failed")
	}
	secrets.Seed(vault.SecretDatabasePassword, cfg.Database.Password)

	dbCfg := cfg.Database.Config
	dbCfg.Password = secrets.SecretOr(ctx, vault.SecretDatabasePassword, dbCfg.Password)
	db, err := database.NewDB(dbCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	repo := database.NewRepository(db)

	holder := scoring.NewTableHolder(nil)
	if table, err := repo.LatestWeightTable(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Could not load persisted weight table")
	} else if table != nil {
		holder.Swap(table)
	}

	trainer := retrain.NewTrainer(repo, holder, cfg.Retrain.Config, logger)
	trainer.OnPublish(func(ctx context.Context, table *scoring.WeightTable) {
		if err := repo.SaveWeightTable(ctx, table); err != nil {
			logger.Error().Err(err).Msg("Failed to persist weight table")
		}
	})

	table, err := trainer.Retrain(ctx, *symbol, *timeframe)
	if err != nil {
		var rejected *retrain.RejectedError
		if errors.As(err, &rejected) {
			logger.Warn().
				Str("reason", rejected.Reason).
				Int("samples", rejected.Samples).
				Float64("accuracy", rejected.Accuracy).
				Msg("Candidate rejected, active table unchanged")
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("Training failed")
	}

	logger.Info().
		Int("version", table.Version).
		Time("trained_at", table.TrainedAt).
		Msg("Published new weight table")
}
