// Package pipeline orchestrates the fetch, normalize and load stages of a
// declarations sync run.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/declarations"
	"github.com/sells-group/femasync/internal/observability"
)

// Extractor downloads every declaration record from the source API.
type Extractor interface {
	FetchAll(ctx context.Context) ([]declarations.Record, error)
}

// Normalizer converts raw records into a load-ready batch.
type Normalizer interface {
	Normalize(records []declarations.Record) declarations.Batch
}

// Loader writes a batch to the destination and keeps the sync log.
type Loader interface {
	Replace(ctx context.Context, table string, batch declarations.Batch) (int64, error)
	StartSync(ctx context.Context, runID string) (int64, error)
	CompleteSync(ctx context.Context, syncID int64, rowsSynced int64) error
	FailSync(ctx context.Context, syncID int64, errMsg string) error
}

// Pipeline runs one full-replace sync: fetch all pages, normalize, load.
type Pipeline struct {
	extractor  Extractor
	normalizer Normalizer
	loader     Loader
	metrics    *observability.Metrics
	table      string
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, n Normalizer, l Loader, m *observability.Metrics, table string) *Pipeline {
	return &Pipeline{
		extractor:  e,
		normalizer: n,
		loader:     l,
		metrics:    m,
		table:      table,
	}
}

// Run executes one sync run. It never returns an error: every failure is
// logged and recorded in the sync log, and the process is expected to exit
// zero regardless. A fetch failure truncates the run to the pages already
// downloaded rather than aborting it.
func (p *Pipeline) Run(ctx context.Context) {
	runID := uuid.New().String()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID))

	start := time.Now()
	p.metrics.RunRunning.Set(1)
	defer p.metrics.RunRunning.Set(0)
	defer func() {
		p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	syncID, err := p.loader.StartSync(ctx, runID)
	if err != nil {
		log.Warn("failed to record sync start", zap.Error(err))
		syncID = 0
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("run failed", zap.Any("panic", r))
			p.failSync(ctx, log, syncID, "panic during run")
		}
	}()

	log.Info("sync started", zap.String("table", p.table))

	records, fetchErr := p.extractor.FetchAll(ctx)
	if fetchErr != nil {
		// Completed pages are still normalized and loaded.
		log.Error("fetch truncated", zap.Error(fetchErr), zap.Int("records", len(records)))
	}

	batch := p.normalizer.Normalize(records)

	rows, err := p.loader.Replace(ctx, p.table, batch)
	if err != nil {
		p.metrics.LoadErrors.Inc()
		log.Error("load failed", zap.Error(err))
		p.failSync(ctx, log, syncID, err.Error())
		return
	}
	p.metrics.RowsLoaded.Add(float64(rows))

	if fetchErr != nil {
		p.failSync(ctx, log, syncID, fetchErr.Error())
	} else if syncID != 0 {
		if err := p.loader.CompleteSync(ctx, syncID, rows); err != nil {
			log.Warn("failed to record sync completion", zap.Error(err))
		}
	}

	log.Info("sync finished",
		zap.Int64("rows", rows),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("truncated", fetchErr != nil),
	)
}

func (p *Pipeline) failSync(ctx context.Context, log *zap.Logger, syncID int64, msg string) {
	if syncID == 0 {
		return
	}
	if err := p.loader.FailSync(ctx, syncID, msg); err != nil {
		log.Warn("failed to record sync failure", zap.Error(err))
	}
}
