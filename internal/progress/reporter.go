// Package progress normalizes driver progress callbacks into a single
// throttled percentage per model file.
package progress

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// WriteFunc persists one percentage value for the model file.
type WriteFunc func(percent float64)

// Reporter accumulates incremental byte counts on top of an initial
// already-on-disk baseline and writes back a monotonic 0-100 percentage.
// Writes are throttled to one per interval, except the final one, which
// goes out immediately.
type Reporter struct {
	source   string
	total    int64
	initial  int64
	interval time.Duration
	write    WriteFunc
	logger   *slog.Logger

	mu              sync.Mutex
	transferred     int64
	lastWrite       time.Time
	lastPercent     float64
	warnedOvershoot bool
}

// NewReporter creates a reporter for one model file. total is the declared
// artifact size, initial the bytes already present on disk before the
// transfer starts.
func NewReporter(source string, total, initial int64, interval time.Duration, write WriteFunc, logger *slog.Logger) *Reporter {
	return &Reporter{
		source:      source,
		total:       total,
		initial:     initial,
		interval:    interval,
		write:       write,
		logger:      logger,
		lastPercent: -1,
	}
}

// ReportInitial writes the baseline percentage before any new bytes are
// transferred, so a resumed download never shows up as restarting from 0.
func (r *Reporter) ReportInitial() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(r.percent(), true)
}

// Add records n newly transferred bytes and writes the updated percentage
// if the throttle window has elapsed or the download is complete.
func (r *Reporter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transferred += n

	done := r.initial+r.transferred >= r.total
	r.emit(r.percent(), done)
}

// Transferred returns the bytes counted so far, excluding the baseline.
func (r *Reporter) Transferred() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferred
}

// percent computes the clamped percentage. Callers must hold mu.
func (r *Reporter) percent() float64 {
	if r.total <= 0 {
		return 0
	}

	downloaded := r.initial + r.transferred
	pct := round2(float64(downloaded) / float64(r.total) * 100)
	if pct > 100 {
		if !r.warnedOvershoot {
			r.warnedOvershoot = true
			r.logger.Warn("download progress exceeded declared size",
				"source", r.source,
				"downloaded", downloaded,
				"total", r.total,
			)
		}
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// emit writes pct unless throttled. Callers must hold mu. The percentage
// never goes backwards as observed externally.
func (r *Reporter) emit(pct float64, force bool) {
	if pct < r.lastPercent {
		return
	}

	now := time.Now()
	if !force && now.Sub(r.lastWrite) < r.interval {
		return
	}

	r.lastWrite = now
	r.lastPercent = pct
	r.write(pct)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
