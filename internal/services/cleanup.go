package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"IBT-ASSESS/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LogCleanupService periodically deletes activity logs older than maxAge.
type LogCleanupService struct {
	db       *gorm.DB
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewLogCleanupService(db *gorm.DB, maxAge time.Duration, logger *zap.Logger) *LogCleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogCleanupService{
		db:       db,
		maxAge:   maxAge,
		interval: time.Hour,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (s *LogCleanupService) Start() {
	s.ticker = time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.ticker.C:
				if _, err := s.Purge(context.Background()); err != nil {
					s.logger.Warn("Activity log cleanup failed", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Info("Activity log cleanup started", zap.Duration("max_age", s.maxAge))
}

func (s *LogCleanupService) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.done)
		s.logger.Info("Activity log cleanup stopped")
	})
}

// Purge hard-deletes logs created before now-maxAge and reports how many
// rows went.
func (s *LogCleanupService) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	res := s.db.WithContext(ctx).Unscoped().Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete activity logs before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Deleted old activity logs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
