package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Repository interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Janitor periodically deletes notifications past their expiry.
type Janitor struct {
	repo     Repository
	interval time.Duration
	logger   *zap.Logger
}

func New(repo Repository, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval == 0 {
		interval = time.Hour
	}
	return &Janitor{
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Start sweeps on every tick until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	deleted, err := j.repo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("failed to delete expired notifications", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("deleted expired notifications", zap.Int("count", deleted))
	}
}
