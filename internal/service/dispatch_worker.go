package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DispatchWorker consumes queued dispatch requests and runs them.
type DispatchWorker struct {
	consumer    queue.Consumer
	dispatcher  *Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDispatchWorker(consumer queue.Consumer, dispatcher *Dispatcher, concurrency int, logger *zap.Logger) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes every channel queue until ctx is cancelled. Each queue gets
// at least one consumer.
func (w *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	consumers := max(w.concurrency, len(queueNames))
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only for system failures, which the
// consumer requeues. An empty dispatch is a successful job.
func (w *DispatchWorker) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("campaignId", msg.CampaignID),
		zap.String("blastId", msg.BlastID),
		zap.String("trigger", string(msg.Trigger)),
	)

	result, err := w.dispatcher.DispatchBlast(ctx, msg.CampaignID, msg.BlastID)
	w.metrics.IncDispatchJob(string(msg.Trigger), dispatchOutcome(err))

	switch {
	case err == nil:
		logger.Info("queued dispatch finished",
			zap.String("blastId", result.BlastID),
			zap.Int("totalSends", result.TotalSends),
		)
		return nil
	case errors.Is(err, domain.ErrNoRecipientSource), errors.Is(err, domain.ErrNoValidRecipient):
		logger.Info("queued dispatch had no recipients", zap.String("reason", domain.CodeOf(err)))
		return nil
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("campaign not found, dropping dispatch")
		return nil
	case errors.Is(err, domain.ErrConflict):
		logger.Error("blast belongs to another campaign, dropping dispatch", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("dispatch failed: %w", err)
	}
}
