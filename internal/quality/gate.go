// Package quality validates candle batches before they reach structure
// detection. A failed batch never produces synthetic data: the gate either
// serves the last known-good report or reports the batch unavailable.
package quality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/timeutil"
)

// IssueKind classifies a data quality problem
type IssueKind string

const (
	IssueEmpty      IssueKind = "empty_batch"
	IssueOutOfOrder IssueKind = "out_of_order"
	IssueGap        IssueKind = "interval_gap"
	IssueBadValue   IssueKind = "bad_value"
	IssueStale      IssueKind = "stale"
	IssuePriceJump  IssueKind = "price_jump"
	IssueZeroVolume IssueKind = "zero_volume"
)

// Issue describes a single detected problem
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Index  int       `json:"index"`
	Detail string    `json:"detail"`
}

// Report is the outcome of validating one batch
type Report struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Score     float64   `json:"score"` // 0-100
	Issues    []Issue   `json:"issues,omitempty"`
	Pass      bool      `json:"pass"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"cached"` // True when served from the last-good cache
}

// DataQualityError is returned when a batch fails validation and no cached
// good report is available to fall back on
type DataQualityError struct {
	Symbol    string
	Timeframe string
	Report    *Report
}

func (e *DataQualityError) Error() string {
	n := 0
	if e.Report != nil {
		n = len(e.Report.Issues)
	}
	return fmt.Sprintf("data quality check failed for %s %s (%d issues)", e.Symbol, e.Timeframe, n)
}

// ReportCache stores the last known-good report per instrument key
type ReportCache interface {
	GetReport(key string) (*Report, bool)
	SetReport(key string, report *Report, ttl time.Duration)
}

// Config holds gate thresholds
type Config struct {
	GapFactor       float64           `json:"gap_factor"`        // Flag gaps beyond this multiple of the expected interval
	StalenessMax    timeutil.Duration `json:"staleness_max"`     // Maximum age of the last candle
	MaxJumpPercent  float64           `json:"max_jump_percent"`  // Single-candle close-to-close jump limit
	MinPassingScore float64           `json:"min_passing_score"` // Score below this fails the batch
	CacheTTL        timeutil.Duration `json:"cache_ttl"`         // Last-good report retention
}

// DefaultConfig returns the standard gate thresholds
func DefaultConfig() Config {
	return Config{
		GapFactor:       1.5,
		StalenessMax:    timeutil.Duration(30 * time.Second),
		MaxJumpPercent:  10.0,
		MinPassingScore: 60,
		CacheTTL:        timeutil.Duration(5 * time.Minute),
	}
}

// Gate validates candle batches and caches last known-good reports
type Gate struct {
	cfg   Config
	cache ReportCache
	now   func() time.Time
}

// NewGate creates a gate. A nil cache falls back to an in-process cache.
func NewGate(cfg Config, cache ReportCache) *Gate {
	if cfg.GapFactor <= 0 {
		cfg.GapFactor = 1.5
	}
	if cfg.StalenessMax <= 0 {
		cfg.StalenessMax = timeutil.Duration(30 * time.Second)
	}
	if cfg.MaxJumpPercent <= 0 {
		cfg.MaxJumpPercent = 10.0
	}
	if cfg.MinPassingScore <= 0 {
		cfg.MinPassingScore = 60
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = timeutil.Duration(5 * time.Minute)
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Gate{cfg: cfg, cache: cache, now: time.Now}
}

// SetClock overrides the time source, used by tests for staleness checks
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Check validates a batch. The optional priorTail (end of the previous batch)
// extends gap detection across batch boundaries.
//
// On pass the fresh report is returned and cached. On failure the last
// known-good report is returned alongside a *DataQualityError; with no cached
// report the returned report is nil.
func (g *Gate) Check(batch candle.Batch, priorTail []candle.Candle) (*Report, error) {
	report := g.Evaluate(batch, priorTail)
	key := batch.Symbol + ":" + batch.Timeframe

	if report.Pass {
		g.cache.SetReport(key, report, g.cfg.CacheTTL.Std())
		return report, nil
	}

	qerr := &DataQualityError{Symbol: batch.Symbol, Timeframe: batch.Timeframe, Report: report}
	if cached, ok := g.cache.GetReport(key); ok {
		fallback := *cached
		fallback.Cached = true
		return &fallback, qerr
	}
	return nil, qerr
}

// Evaluate runs all checks and scores the batch. It never mutates state.
func (g *Gate) Evaluate(batch candle.Batch, priorTail []candle.Candle) *Report {
	report := &Report{
		Symbol:    batch.Symbol,
		Timeframe: batch.Timeframe,
		Score:     100,
		CheckedAt: g.now(),
	}

	if len(batch.Candles) == 0 {
		report.Issues = append(report.Issues, Issue{Kind: IssueEmpty, Detail: "no candles in batch"})
		report.Score = 0
		return report
	}

	interval, err := candle.IntervalDuration(batch.Timeframe)
	if err != nil {
		interval = 0
	}

	g.checkOrdering(batch.Candles, priorTail, interval, report)
	g.checkValues(batch.Candles, report)
	g.checkStaleness(batch.Candles, interval, report)
	g.checkAnomalies(batch.Candles, priorTail, report)

	if report.Score < 0 {
		report.Score = 0
	}
	report.Pass = report.Score >= g.cfg.MinPassingScore && !report.hasFatal()
	return report
}

func (r *Report) hasFatal() bool {
	for _, issue := range r.Issues {
		switch issue.Kind {
		case IssueEmpty, IssueOutOfOrder, IssueBadValue:
			return true
		}
	}
	return false
}

func (g *Gate) checkOrdering(candles, priorTail []candle.Candle, interval time.Duration, report *Report) {
	prev := candles[0].OpenTime
	if len(priorTail) > 0 {
		tail := priorTail[len(priorTail)-1].OpenTime
		if !candles[0].OpenTime.After(tail) {
			report.Issues = append(report.Issues, Issue{
				Kind:   IssueOutOfOrder,
				Detail: "batch overlaps previous batch tail",
			})
			report.Score -= 40
		} else if interval > 0 {
			gap := candles[0].OpenTime.Sub(tail)
			if float64(gap) > g.cfg.GapFactor*float64(interval) {
				report.Issues = append(report.Issues, Issue{
					Kind:   IssueGap,
					Detail: fmt.Sprintf("gap of %v from previous batch", gap),
				})
				report.Score -= 15
			}
		}
	}

	for i := 1; i < len(candles); i++ {
		cur := candles[i].OpenTime
		if !cur.After(prev) {
			report.Issues = append(report.Issues, Issue{
				Kind:   IssueOutOfOrder,
				Index:  i,
				Detail: "open_time not strictly increasing",
			})
			report.Score -= 40
		} else if interval > 0 {
			gap := cur.Sub(prev)
			if float64(gap) > g.cfg.GapFactor*float64(interval) {
				report.Issues = append(report.Issues, Issue{
					Kind:   IssueGap,
					Index:  i,
					Detail: fmt.Sprintf("gap of %v between candles", gap),
				})
				report.Score -= 15
			}
		}
		prev = cur
	}
}

func (g *Gate) checkValues(candles []candle.Candle, report *Report) {
	for i, c := range candles {
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				report.Issues = append(report.Issues, Issue{
					Kind:   IssueBadValue,
					Index:  i,
					Detail: "non-finite or non-positive price",
				})
				report.Score -= 40
				break
			}
		}
		if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
			report.Issues = append(report.Issues, Issue{
				Kind:   IssueBadValue,
				Index:  i,
				Detail: "invalid volume",
			})
			report.Score -= 40
		}
	}
}

func (g *Gate) checkStaleness(candles []candle.Candle, interval time.Duration, report *Report) {
	last := candles[len(candles)-1]
	closeTime := last.OpenTime.Add(interval)
	age := g.now().Sub(closeTime)
	if age > g.cfg.StalenessMax.Std() {
		report.Issues = append(report.Issues, Issue{
			Kind:   IssueStale,
			Index:  len(candles) - 1,
			Detail: fmt.Sprintf("last candle is %v old", age.Round(time.Second)),
		})
		report.Score -= 25
	}
}

func (g *Gate) checkAnomalies(candles, priorTail []candle.Candle, report *Report) {
	prevClose := 0.0
	if len(priorTail) > 0 {
		prevClose = priorTail[len(priorTail)-1].Close
	}

	zeroVolume := 0
	for i, c := range candles {
		if prevClose > 0 {
			jump := math.Abs(c.Close-prevClose) / prevClose * 100
			if jump > g.cfg.MaxJumpPercent {
				report.Issues = append(report.Issues, Issue{
					Kind:   IssuePriceJump,
					Index:  i,
					Detail: fmt.Sprintf("%.1f%% single-candle move", jump),
				})
				report.Score -= 20
			}
		}
		prevClose = c.Close

		if c.Volume == 0 {
			zeroVolume++
		}
	}

	if zeroVolume > 0 {
		report.Issues = append(report.Issues, Issue{
			Kind:   IssueZeroVolume,
			Detail: fmt.Sprintf("%d zero-volume candles", zeroVolume),
		})
		report.Score -= 10
	}
}

// MemoryCache is an in-process ReportCache used when Redis is unavailable
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	report    Report
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process report cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// GetReport returns a copy of the cached report if present and unexpired
func (m *MemoryCache) GetReport(key string) (*Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	report := entry.report
	return &report, true
}

// SetReport stores a report with the given TTL
func (m *MemoryCache) SetReport(key string, report *Report, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{report: *report, expiresAt: time.Now().Add(ttl)}
}
