package settlement

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
)

// Config tunes the worker and the sweeper.
type Config struct {
	Workers       int           `envconfig:"SETTLEMENT_WORKERS" default:"4"`
	BaseBackoff   time.Duration `envconfig:"SETTLEMENT_BACKOFF" default:"500ms"`
	MaxBackoff    time.Duration `envconfig:"SETTLEMENT_MAX_BACKOFF" default:"30s"`
	Timeout       time.Duration `envconfig:"SETTLEMENT_TIMEOUT" default:"10m"`
	RequeueAfter  time.Duration `envconfig:"SETTLEMENT_REQUEUE_AFTER" default:"1m"`
	SweepInterval time.Duration `envconfig:"SETTLEMENT_SWEEP_INTERVAL" default:"30s"`
	SweepBatch    int           `envconfig:"SETTLEMENT_SWEEP_BATCH" default:"100"`
	ApproveRate   float64       `envconfig:"SETTLEMENT_APPROVE_RATE" default:"0.95"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		Timeout:       10 * time.Minute,
		RequeueAfter:  time.Minute,
		SweepInterval: 30 * time.Second,
		SweepBatch:    100,
		ApproveRate:   0.95,
	}
}

// Engine is the part of the P2P service the worker drives.
type Engine interface {
	SettlementCandidate(ctx context.Context, txID string) (*domain.Transaction, bool, error)
	ApplySettlement(ctx context.Context, txID string, d p2p.Decision) (*domain.Transaction, error)
	ResumeSettlement(ctx context.Context, txID string) (*domain.Transaction, error)
	Sweep(ctx context.Context, cfg p2p.SweepConfig) (p2p.SweepResult, error)
}

// Handler settles one transaction. A positive retryAfter asks the source to
// deliver the id again after that delay.
type Handler func(ctx context.Context, txID string) (retryAfter time.Duration, err error)

// Source delivers transaction ids to handlers.
type Source interface {
	Run(ctx context.Context, workers int, handle Handler) error
}

// Worker is the settlement worker pool.
type Worker struct {
	cfg      Config
	engine   Engine
	clearing Clearing
	source   Source
	metrics  *Metrics
	logger   *slog.Logger
}

// NewWorker builds a worker. metrics may be nil.
func NewWorker(cfg Config, engine Engine, clearing Clearing, source Source, metrics *Metrics, logger *slog.Logger) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Worker{
		cfg:      cfg,
		engine:   engine,
		clearing: clearing,
		source:   source,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run consumes the queue and runs the sweeper until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("settlement worker starting", "workers", w.cfg.Workers, "sweep_interval", w.cfg.SweepInterval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.source.Run(gctx, w.cfg.Workers, w.Process)
	})
	g.Go(func() error {
		w.runSweeper(gctx)
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Process clears and settles one transaction. A decided transaction whose
// ledger step failed is finished without clearing it again; transactions that
// are gone or fully settled are skipped.
func (w *Worker) Process(ctx context.Context, txID string) (time.Duration, error) {
	start := time.Now()
	defer func() { w.metrics.duration.Observe(time.Since(start).Seconds()) }()

	tx, ok, err := w.engine.SettlementCandidate(ctx, txID)
	if err != nil {
		w.metrics.errors.Inc()
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if tx.Status != domain.TxPending {
		if _, err := w.engine.ResumeSettlement(ctx, txID); err != nil {
			w.metrics.errors.Inc()
			w.logger.Error("resuming ledger step", "transaction_id", txID, "status", tx.Status, "error", err)
			return 0, err
		}
		return 0, nil
	}

	decision, err := w.clearing.Clear(ctx, tx)
	if err != nil {
		decision = p2p.Decision{Outcome: p2p.OutcomeTransient, Reason: err.Error()}
	}

	settled, err := w.engine.ApplySettlement(ctx, txID, decision)
	if err != nil {
		w.metrics.errors.Inc()
		w.logger.Error("applying settlement", "transaction_id", txID, "outcome", decision.Outcome, "error", err)
		return 0, err
	}
	w.metrics.outcomes.WithLabelValues(string(settled.Status)).Inc()

	if settled.Status == domain.TxPending {
		return w.backoff(settled.AttemptCount), nil
	}
	return 0, nil
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if w.cfg.MaxBackoff > 0 && d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

func (w *Worker) runSweeper(ctx context.Context) {
	if w.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweeper pass and records what it changed.
func (w *Worker) SweepOnce(ctx context.Context) p2p.SweepResult {
	res, err := w.engine.Sweep(ctx, p2p.SweepConfig{
		Timeout:      w.cfg.Timeout,
		RequeueAfter: w.cfg.RequeueAfter,
		Batch:        w.cfg.SweepBatch,
	})
	if err != nil {
		w.logger.Error("sweep failed", "error", err)
	}
	w.metrics.swept.WithLabelValues("ledger_resumed").Add(float64(res.LedgerResumed))
	w.metrics.swept.WithLabelValues("requeued").Add(float64(res.Requeued))
	w.metrics.swept.WithLabelValues("timed_out").Add(float64(res.TimedOut))
	w.metrics.swept.WithLabelValues("expired_transfer").Add(float64(res.ExpiredTransfers))
	w.metrics.swept.WithLabelValues("expired_request").Add(float64(res.ExpiredRequests))
	w.metrics.swept.WithLabelValues("expired_link").Add(float64(res.ExpiredLinks))
	return res
}
