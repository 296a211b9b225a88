package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/offers"
	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/pkg/response"
)

// Report is the outcome of one pass over the key index.
type Report struct {
	CheckedAt  time.Time           `json:"checked_at"`
	IndexedIDs int                 `json:"indexed_ids"`
	Records    int                 `json:"records"`
	Dangling   []string            `json:"dangling"`
	Malformed  []offers.Diagnostic `json:"malformed"`
	Stats      offers.MarketStats  `json:"stats"`
}

// Healthy reports whether every indexed id resolved to a well-formed record
func (r *Report) Healthy() bool {
	return len(r.Dangling) == 0 && len(r.Malformed) == 0
}

// Processor periodically checks that the key index and the record blobs
// agree. Ids whose record was never written (a crash between the index
// append and the record write) are reported, not removed.
type Processor struct {
	store        *offers.Store
	processDelay time.Duration
	metrics      *Metrics
	now          func() time.Time

	mu   sync.RWMutex
	last *Report
}

func NewProcessor(store *offers.Store, interval time.Duration) *Processor {
	return &Processor{
		store:        store,
		processDelay: interval,
		metrics:      NopMetrics(),
		now:          time.Now,
	}
}

// SetMetrics replaces the processor's metrics. Call before Start.
func (p *Processor) SetMetrics(m *Metrics) {
	p.metrics = m
}

// Start runs a pass immediately and then on every tick until ctx is done
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconcile_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting reconcile processor")

	if _, err := p.RunOnce(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to reconcile ledger")
	}

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconcile processor")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to reconcile ledger")
			}
		}
	}
}

// RunOnce performs a single pass and stores the report. Ledger failures
// abort the pass and leave the previous report in place.
func (p *Processor) RunOnce(ctx context.Context) (*Report, error) {
	logger := log.With().Str("component", "reconcile_processor").Logger()

	ids, diags, err := p.store.ListIDs(ctx)
	if err != nil {
		p.metrics.Failures.Add(1)
		return nil, err
	}

	report := &Report{
		CheckedAt:  p.now(),
		IndexedIDs: len(ids),
		Dangling:   []string{},
		Malformed:  append([]offers.Diagnostic{}, diags...),
	}

	records := make([]types.OrderRecord, 0, len(ids))
	for _, id := range ids {
		rec, diag, err := p.store.Get(ctx, id)
		if err != nil {
			p.metrics.Failures.Add(1)
			return nil, err
		}
		switch {
		case diag != nil:
			report.Malformed = append(report.Malformed, *diag)
		case rec == nil:
			report.Dangling = append(report.Dangling, id)
			logger.Warn().Str("offer_id", id).Msg("indexed offer has no record")
		default:
			records = append(records, *rec)
		}
	}
	report.Records = len(records)
	report.Stats = offers.Aggregate(records)

	event := logger.Info()
	if !report.Healthy() {
		event = logger.Warn()
	}
	event.
		Int("indexed", report.IndexedIDs).
		Int("dangling", len(report.Dangling)).
		Int("malformed", len(report.Malformed)).
		Int("pending", report.Stats.PendingCount).
		Int("matched", report.Stats.MatchedCount).
		Int("completed", report.Stats.CompletedCount).
		Int("active_traders", report.Stats.ActiveTraders).
		Msg("ledger reconciled")

	p.metrics.observe(report)

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent report, or nil before the first pass
func (p *Processor) LastReport() *Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// GinHandlers contains HTTP handlers for operator reconcile endpoints
type GinHandlers struct {
	processor *Processor
}

// NewGinHandlers creates a new set of HTTP handlers for reconcile endpoints
func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{
		processor: processor,
	}
}

// ReconcileHandler handles POST requests forcing a reconcile pass
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.processor.RunOnce(c.Request.Context())
		response.Handle(c, report, err)
	}
}

// LastReportHandler handles GET requests for the latest reconcile report
func (h *GinHandlers) LastReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := h.processor.LastReport()
		if report == nil {
			response.NotFound(c, "No reconcile pass has completed yet")
			return
		}
		response.Success(c, report)
	}
}
