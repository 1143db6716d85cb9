package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/billflow/internal/metrics"
)

const sweepPageSize = 100

// SweepFailure is one invoice the sweeper could not update.
type SweepFailure struct {
	InvoiceID string `json:"invoiceId"`
	Error     string `json:"error"`
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned  int            `json:"scanned"`
	Updated  int            `json:"updated"`
	Failures []SweepFailure `json:"failures"`
}

// Sweeper periodically marks pending invoices past their due date overdue.
type Sweeper struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewSweeper creates a new overdue sweeper.
func NewSweeper(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	metrics.SweeperRunning.Set(1)
	defer func() {
		s.running.Store(false)
		metrics.SweeperRunning.Set(0)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in overdue sweeper", "panic", fmt.Sprint(r))
		}
	}()
	report, err := s.Sweep(ctx, s.service.Now())
	if err != nil {
		s.logger.Warn("overdue sweep aborted", "error", err, "scanned", report.Scanned)
		return
	}
	if report.Updated > 0 || len(report.Failures) > 0 {
		s.logger.Info("overdue sweep finished",
			"scanned", report.Scanned, "updated", report.Updated, "failed", len(report.Failures))
	}
}

// Sweep re-derives the payment status of every pending invoice due before
// now. A failure on one invoice is recorded in the report and the pass
// continues. Only a listing error or context cancellation aborts it.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	done := observeOp("sweep")
	defer done()

	report := SweepReport{Failures: []SweepFailure{}}
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := s.store.ListOverdueCandidates(ctx, now, afterID, sweepPageSize)
		if err != nil {
			return report, fmt.Errorf("list overdue candidates: %w", err)
		}
		for _, inv := range page {
			report.Scanned++
			changed, err := s.service.RefreshStatus(ctx, inv.ID, now)
			if err != nil {
				SweepFailuresTotal.Inc()
				s.logger.Warn("failed to refresh invoice status",
					"invoiceId", inv.ID, "error", err)
				report.Failures = append(report.Failures, SweepFailure{InvoiceID: inv.ID, Error: err.Error()})
				continue
			}
			if changed {
				report.Updated++
			}
		}
		if len(page) < sweepPageSize {
			metrics.LastSweepTimestamp.SetToCurrentTime()
			return report, nil
		}
		afterID = page[len(page)-1].ID
	}
}
