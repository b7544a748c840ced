package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ResetSweeper clears resets requested before a cutoff
type ResetSweeper interface {
	CancelExpiredResets(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically cancels password resets whose token outlived the TTL
type CleanupManager struct {
	sweeper  ResetSweeper
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sweeper ResetSweeper,
	logger *slog.Logger,
	interval time.Duration,
	ttl time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup cancels resets requested more than ttl ago
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now().Add(-cm.ttl)
	cancelled, err := cm.sweeper.CancelExpiredResets(cleanupCtx, cutoff)
	if err != nil {
		cm.logger.Error("failed to cancel expired resets", slog.Any("error", err))
		return
	}

	if cancelled > 0 {
		cm.logger.Info("expired resets cancelled",
			slog.Int64("accounts", cancelled),
			slog.Time("cutoff", cutoff),
		)
	}
}

// Stop signals the cleanup manager to stop; safe to call more than once
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
