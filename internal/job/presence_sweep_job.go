package job

import (
	"TelegramMini/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// Sweeper 由 presence.Tracker 满足
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// PresenceSweepJob 周期性将心跳超时的用户置为离线
type PresenceSweepJob struct {
	sweeper Sweeper
	now     func() time.Time
}

func NewPresenceSweepJob(sweeper Sweeper) *PresenceSweepJob {
	return &PresenceSweepJob{
		sweeper: sweeper,
		now:     time.Now,
	}
}

func (s *PresenceSweepJob) Run() {
	ctx := logger.WithTraceID(context.Background(), "job-"+uuid.NewString())

	expired := s.sweeper.Sweep(ctx, s.now())
	if expired > 0 {
		log.InfoContext(ctx, "presence sweep finished", "expired", expired)
	}
}
