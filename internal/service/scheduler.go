package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 30 * time.Second
	defaultSchedulerScanLimit    = 100
)

// Scheduler periodically enqueues dispatches for campaigns whose next run is due.
type Scheduler struct {
	campaigns repository.CampaignRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	campaigns repository.CampaignRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		campaigns: campaigns,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start scans immediately and then on every tick until ctx is cancelled.
// Scan errors are logged; they never stop the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.campaigns.GetDueForSchedule(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due campaigns: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runDue(ctx, &due[i], now)
	}
	return nil
}

// runDue advances the campaign's schedule and enqueues the run it claimed.
// The claim is a compare-and-set on next_run_at, so concurrent schedulers
// enqueue each run at most once.
func (s *Scheduler) runDue(ctx context.Context, campaign *domain.Campaign, now time.Time) {
	if campaign.Schedule == nil || campaign.Schedule.NextRunAt == nil {
		return
	}
	log := s.logger.With(zap.String("campaignId", campaign.ID))
	dueAt := *campaign.Schedule.NextRunAt

	claimed, err := s.campaigns.ClaimScheduledRun(ctx, campaign.ID, dueAt, nextRun(campaign.Schedule, dueAt, now))
	switch {
	case err != nil:
		log.Error("failed to claim scheduled run", zap.Error(err))
		return
	case !claimed:
		log.Info("scheduled run already claimed")
		return
	case !campaign.Schedule.Within(dueAt):
		log.Info("schedule window closed, run skipped", zap.Time("dueAt", dueAt))
		return
	}

	queueName := queue.QueueName(campaign.Channel)
	err = s.publisher.Publish(ctx, queueName, queue.DispatchMessage{
		CampaignID:    campaign.ID,
		BlastID:       uuid.NewString(),
		Channel:       campaign.Channel,
		Trigger:       queue.TriggerScheduled,
		RequestedBy:   campaign.UserID,
		CorrelationID: fmt.Sprintf("schedule-%s-%d", campaign.ID, dueAt.Unix()),
	})
	if err != nil {
		s.metrics.IncDispatchJob(string(queue.TriggerScheduled), "publish_error")
		log.Error("failed to enqueue scheduled dispatch", zap.String("queue", queueName), zap.Error(err))
		return
	}
	s.metrics.IncDispatchJob(string(queue.TriggerScheduled), "queued")
}

// nextRun returns the first run after now, or nil once the window is exhausted.
// Runs missed while the service was down are skipped, not replayed.
func nextRun(schedule *domain.Schedule, dueAt, now time.Time) *time.Time {
	next := schedule.Frequency.Next(dueAt)
	for next != nil && !next.After(now) {
		next = schedule.Frequency.Next(*next)
	}
	if next != nil && schedule.EndAt != nil && next.After(*schedule.EndAt) {
		return nil
	}
	return next
}
