// Package progress reports pipeline throughput without flooding the log.
// Updates are throttled to a fixed rate; the final summary always prints.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Reporter logs record counts at a bounded rate. Safe for use from a
// single goroutine; the pipeline advances it at chunk boundaries.
type Reporter struct {
	log     *slog.Logger
	limiter *rate.Limiter
	enabled bool

	mu      sync.Mutex
	total   int64
	records int64
	skipped int64
	started time.Time
}

// New builds a reporter. total may be 0 when the record count is not
// known up front. A disabled reporter still tracks counts but stays
// silent until Done.
func New(log *slog.Logger, total int64, enabled bool) *Reporter {
	return &Reporter{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		enabled: enabled,
		total:   total,
		started: time.Now(),
	}
}

// Advance records n processed records and maybe logs an update.
func (r *Reporter) Advance(n int64) {
	r.mu.Lock()
	r.records += n
	records := r.records
	total := r.total
	elapsed := time.Since(r.started)
	r.mu.Unlock()

	if !r.enabled || !r.limiter.Allow() {
		return
	}
	attrs := []any{
		slog.Int64("records", records),
		slog.Duration("elapsed", elapsed.Round(time.Second)),
		slog.Float64("rate_per_sec", ratePerSec(records, elapsed)),
	}
	if total > 0 {
		attrs = append(attrs, slog.Int64("total", total))
	}
	r.log.Info("progress", attrs...)
}

// Skip records n records dropped in lenient mode.
func (r *Reporter) Skip(n int64) {
	r.mu.Lock()
	r.skipped += n
	r.mu.Unlock()
}

// Done emits the final summary regardless of throttling.
func (r *Reporter) Done() (records, skipped int64, elapsed time.Duration) {
	r.mu.Lock()
	records = r.records
	skipped = r.skipped
	elapsed = time.Since(r.started)
	r.mu.Unlock()

	if r.enabled {
		r.log.Info("progress complete",
			slog.Int64("records", records),
			slog.Int64("skipped", skipped),
			slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
			slog.Float64("rate_per_sec", ratePerSec(records, elapsed)),
		)
	}
	return records, skipped, elapsed
}

func ratePerSec(records int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(records) / secs
}
