package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
)

// Repository provides data access methods. It implements signal.Store so the
// engine can persist records directly to PostgreSQL.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNAL RECORDS
// ============================================================================

// Save inserts or replaces a signal record
func (r *Repository) Save(ctx context.Context, rec *signal.Record) error {
	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return fmt.Errorf("marshaling factors: %w", err)
	}
	regimeJSON, err := json.Marshal(rec.Regime)
	if err != nil {
		return fmt.Errorf("marshaling regime: %w", err)
	}
	var riskJSON []byte
	if rec.Risk != nil {
		if riskJSON, err = json.Marshal(rec.Risk); err != nil {
			return fmt.Errorf("marshaling risk: %w", err)
		}
	}

	query := `
		INSERT INTO signal_records (id, symbol, timeframe, timestamp, factors, score, tier, regime, risk, emitted, reason, outcome, realized_return, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			realized_return = EXCLUDED.realized_return,
			resolved_at = EXCLUDED.resolved_at
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		rec.ID, rec.Symbol, rec.Timeframe, rec.Timestamp, factors, rec.Score, rec.Tier,
		regimeJSON, riskJSON, rec.Emitted, rec.Reason, rec.Outcome, rec.RealizedReturn, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting signal record: %w", err)
	}
	return nil
}

// Get fetches one record by id
func (r *Repository) Get(ctx context.Context, id string) (*signal.Record, error) {
	query := `
		SELECT id, symbol, timeframe, timestamp, factors, score, tier, regime, risk, emitted, reason, outcome, realized_return, resolved_at
		FROM signal_records WHERE id = $1
	`
	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &signal.NotFoundError{ID: id}
	}
	return rec, err
}

// Update persists outcome changes for an existing record
func (r *Repository) Update(ctx context.Context, rec *signal.Record) error {
	query := `
		UPDATE signal_records
		SET outcome = $2, realized_return = $3, resolved_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, rec.ID, rec.Outcome, rec.RealizedReturn, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("updating signal record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &signal.NotFoundError{ID: rec.ID}
	}
	return nil
}

// ListResolved returns resolved records for an instrument, oldest first.
// Empty symbol or timeframe matches everything.
func (r *Repository) ListResolved(ctx context.Context, symbol, timeframe string, limit int) ([]*signal.Record, error) {
	query := `
		SELECT id, symbol, timeframe, timestamp, factors, score, tier, regime, risk, emitted, reason, outcome, realized_return, resolved_at
		FROM signal_records
		WHERE outcome != 'pending'
			AND ($1 = '' OR symbol = $1)
			AND ($2 = '' OR timeframe = $2)
		ORDER BY timestamp ASC
	`
	args := []interface{}{symbol, timeframe}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.queryRecords(ctx, query, args...)
}

// ListRecent returns the newest records first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*signal.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, timeframe, timestamp, factors, score, tier, regime, risk, emitted, reason, outcome, realized_return, resolved_at
		FROM signal_records
		ORDER BY timestamp DESC
		LIMIT $1
	`
	return r.queryRecords(ctx, query, limit)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*signal.Record, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying signal records: %w", err)
	}
	defer rows.Close()

	var out []*signal.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*signal.Record, error) {
	var rec signal.Record
	var factors, regimeJSON []byte
	var riskJSON []byte
	var reason *string

	err := row.Scan(
		&rec.ID, &rec.Symbol, &rec.Timeframe, &rec.Timestamp, &factors, &rec.Score, &rec.Tier,
		&regimeJSON, &riskJSON, &rec.Emitted, &reason, &rec.Outcome, &rec.RealizedReturn, &rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		rec.Reason = *reason
	}
	if err := json.Unmarshal(factors, &rec.Factors); err != nil {
		return nil, fmt.Errorf("unmarshaling factors: %w", err)
	}
	if err := json.Unmarshal(regimeJSON, &rec.Regime); err != nil {
		return nil, fmt.Errorf("unmarshaling regime: %w", err)
	}
	if len(riskJSON) > 0 {
		rec.Risk = &risk.Decision{}
		if err := json.Unmarshal(riskJSON, rec.Risk); err != nil {
			return nil, fmt.Errorf("unmarshaling risk: %w", err)
		}
	}
	return &rec, nil
}

// ============================================================================
// WEIGHT TABLES
// ============================================================================

// SaveWeightTable persists a published table so it survives restarts
func (r *Repository) SaveWeightTable(ctx context.Context, table *scoring.WeightTable) error {
	weights, err := json.Marshal(table.FactorWeights)
	if err != nil {
		return fmt.Errorf("marshaling factor weights: %w", err)
	}
	var thresholds []byte
	if table.Thresholds != nil {
		if thresholds, err = json.Marshal(table.Thresholds); err != nil {
			return fmt.Errorf("marshaling thresholds: %w", err)
		}
	}

	query := `
		INSERT INTO weight_tables (version, source, trained_at, factor_weights, thresholds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version) DO NOTHING
	`
	var trainedAt *time.Time
	if !table.TrainedAt.IsZero() {
		trainedAt = &table.TrainedAt
	}
	if _, err := r.db.Pool.Exec(ctx, query, table.Version, table.Source, trainedAt, weights, thresholds); err != nil {
		return fmt.Errorf("inserting weight table: %w", err)
	}
	return nil
}

// LatestWeightTable fetches the highest-version table, nil when none exists
func (r *Repository) LatestWeightTable(ctx context.Context) (*scoring.WeightTable, error) {
	query := `
		SELECT version, source, trained_at, factor_weights, thresholds
		FROM weight_tables
		ORDER BY version DESC
		LIMIT 1
	`
	var table scoring.WeightTable
	var trainedAt *time.Time
	var weights, thresholds []byte

	err := r.db.Pool.QueryRow(ctx, query).Scan(&table.Version, &table.Source, &trainedAt, &weights, &thresholds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying weight table: %w", err)
	}
	if trainedAt != nil {
		table.TrainedAt = *trainedAt
	}
	if err := json.Unmarshal(weights, &table.FactorWeights); err != nil {
		return nil, fmt.Errorf("unmarshaling factor weights: %w", err)
	}
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &table.Thresholds); err != nil {
			return nil, fmt.Errorf("unmarshaling thresholds: %w", err)
		}
	}
	return &table, nil
}
