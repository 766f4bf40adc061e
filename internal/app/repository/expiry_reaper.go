package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// idleWait bounds how long the reaper sleeps when no record carries an
	// expiry, so links created by other instances are still picked up.
	idleWait = time.Minute
	// retryWait is applied after a failed reap so a broken store does not
	// spin the loop.
	retryWait = 5 * time.Second
)

// ExpiryReaper deletes records at their exact expiry instant. It arms a
// timer to the earliest pending expires_at rather than polling on an
// interval; Notify re-arms it when a link with an earlier expiry is
// created. Resolution keeps its own expiry check, so a record that is
// briefly gettable past its instant still never redirects.
type ExpiryReaper struct {
	logger *zap.Logger
	repo   LinkRepository
	wake   chan struct{}
	stop   chan struct{}
}

// NewExpiryReaper creates a reaper over the given repository.
func NewExpiryReaper(logger *zap.Logger, repo LinkRepository) *ExpiryReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryReaper{
		logger: logger,
		repo:   repo,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Start begins the reap loop.
func (r *ExpiryReaper) Start() {
	go r.run()
}

// Stop terminates the reap loop.
func (r *ExpiryReaper) Stop() {
	close(r.stop)
}

// Notify tells the reaper the set of pending expiries changed. Safe to
// call from any goroutine; never blocks.
func (r *ExpiryReaper) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *ExpiryReaper) run() {
	for {
		timer := time.NewTimer(r.nextWait())
		select {
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		case <-r.stop:
			timer.Stop()
			r.logger.Info("expiry reaper stopped")
			return
		}
	}
}

// nextWait reaps anything already overdue and returns how long to sleep
// until the next pending expiry.
func (r *ExpiryReaper) nextWait() time.Duration {
	ctx := context.Background()

	for {
		next, err := r.repo.NextExpiry(ctx)
		if err != nil {
			r.logger.Error("failed to query next expiry", zap.Error(err))
			return retryWait
		}
		if next == nil {
			return idleWait
		}

		wait := time.Until(*next)
		if wait > 0 {
			if wait > idleWait {
				return idleWait
			}
			return wait
		}

		if err := r.reap(ctx); err != nil {
			return retryWait
		}
	}
}

func (r *ExpiryReaper) reap(ctx context.Context) error {
	now := time.Now()

	removed, err := r.repo.DeleteExpired(ctx, now)
	if err != nil {
		r.logger.Error("failed to delete expired links", zap.Error(err))
		return err
	}
	if removed > 0 {
		r.logger.Info("removed expired links",
			zap.Int64("count", removed),
			zap.Time("at", now),
		)
	}
	return nil
}
