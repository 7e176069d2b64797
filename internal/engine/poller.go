package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lelangbot/bid-engine/internal/metrics"
	"github.com/lelangbot/bid-engine/internal/model"
)

// Fetcher is the status-read half of the auction session.
type Fetcher interface {
	FetchStatus(ctx context.Context) (*model.AuctionStatus, error)
}

// Poller keeps the state store fresh by running a pool of concurrent
// polling workers. Workers are phase-staggered at startup, evenly spaced
// across the polling interval, so in steady state a fresh round trip
// lands roughly every interval/N, giving effective detection latency close
// to interval/N rather than the full interval.
//
// Each worker sleeps independently after its own request completes; no
// worker ever waits on another. Failed requests are logged and skipped,
// never fatal to the pool.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	workers  int
	out      chan<- *model.AuctionStatus
}

// NewPoller creates a poller delivering successful snapshots to out. The
// per-request timeout must be strictly shorter than the interval so a
// stuck request cannot delay a worker past its next cycle.
func NewPoller(fetcher Fetcher, interval, timeout time.Duration, workers int, out chan<- *model.AuctionStatus) *Poller {
	if workers < 1 {
		workers = 1
	}
	if timeout >= interval {
		timeout = interval * 9 / 10
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		timeout:  timeout,
		workers:  workers,
		out:      out,
	}
}

// Run starts the worker pool and blocks until ctx is canceled and all
// workers have exited.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	stagger := p.interval / time.Duration(p.workers)

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			// Phase offset so workers spread across the interval.
			if !sleepCtx(ctx, time.Duration(worker)*stagger) {
				return
			}
			p.worker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Poller) worker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		fctx, cancel := context.WithTimeout(ctx, p.timeout)
		st, err := p.fetcher.FetchStatus(fctx)
		cancel()

		switch {
		case err == nil:
			metrics.PollsTotal.WithLabelValues("ok").Inc()
			metrics.PollLatency.Observe(st.Latency.Seconds())
			select {
			case p.out <- st:
			case <-ctx.Done():
				return
			}
		case errors.Is(err, context.DeadlineExceeded):
			metrics.PollsTotal.WithLabelValues("timeout").Inc()
			slog.Debug("poll timed out", "worker", id)
		case ctx.Err() != nil:
			return
		default:
			metrics.PollsTotal.WithLabelValues("error").Inc()
			slog.Warn("poll failed", "worker", id, "err", err)
		}

		if !sleepCtx(ctx, p.interval) {
			return
		}
	}
}

// sleepCtx sleeps for d or until ctx is canceled, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
