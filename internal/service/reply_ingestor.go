package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// BounceMarker flags addresses as undeliverable in the candidate store.
type BounceMarker interface {
	MarkEmailsBounced(ctx context.Context, emails []string) error
}

// ReplyIngestor correlates provider callbacks with the sends that caused them.
// Callers always get success: a failing callback is logged and dropped, so the
// provider does not redeliver it forever.
type ReplyIngestor struct {
	sends       repository.SendRepository
	replies     repository.ReplyRepository
	campaigns   repository.CampaignRepository
	accumulator *BlastAccumulator
	bounces     BounceMarker
	activities  activity.Recorder
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewReplyIngestor(
	sends repository.SendRepository,
	replies repository.ReplyRepository,
	campaigns repository.CampaignRepository,
	accumulator *BlastAccumulator,
	bounces BounceMarker,
	activities activity.Recorder,
	logger *zap.Logger,
) (*ReplyIngestor, error) {
	switch {
	case sends == nil:
		return nil, fmt.Errorf("send repository is required")
	case replies == nil:
		return nil, fmt.Errorf("reply repository is required")
	case campaigns == nil:
		return nil, fmt.Errorf("campaign repository is required")
	case accumulator == nil:
		return nil, fmt.Errorf("blast accumulator is required")
	}
	if activities == nil {
		activities = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReplyIngestor{
		sends:       sends,
		replies:     replies,
		campaigns:   campaigns,
		accumulator: accumulator,
		bounces:     bounces,
		activities:  activities,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (i *ReplyIngestor) SetMetrics(metrics *observability.Metrics) {
	if i == nil {
		return
	}
	i.metrics = metrics
}

func (i *ReplyIngestor) IngestSMS(ctx context.Context, cb provider.SMSCallback) {
	if err := i.ingestSMS(ctx, cb.Normalize()); err != nil {
		i.logger.Error("failed to ingest sms reply",
			zap.String("messageSid", cb.MessageSID),
			zap.Error(err),
		)
	}
}

func (i *ReplyIngestor) IngestEmailEvent(ctx context.Context, event *provider.EmailEvent) {
	if event == nil {
		return
	}
	if err := i.ingestEmailEvent(ctx, event); err != nil {
		i.logger.Error("failed to ingest email event",
			zap.String("messageId", event.MessageID()),
			zap.String("notificationType", event.NotificationType),
			zap.Error(err),
		)
	}
}

func (i *ReplyIngestor) ingestSMS(ctx context.Context, cb provider.SMSCallback) error {
	cb.From = domain.NormalizeEndpoint(domain.EndpointMobilePhone, cb.From)
	if cb.From == "" {
		return fmt.Errorf("%w: sms callback has no sender", domain.ErrUnresolvableCallback)
	}

	reply := &domain.Reply{
		ID:           uuid.NewString(),
		Kind:         domain.ReplyKindSMS,
		FromEndpoint: cb.From,
		ToEndpoint:   cb.To,
		Body:         cb.Body,
		ReceivedAt:   i.now().UTC(),
	}
	if cb.MessageSID != "" {
		sid := cb.MessageSID
		reply.ProviderMessageID = &sid
	}

	send, err := i.sends.LatestByEndpoint(ctx, domain.ChannelSMS, cb.From)
	if errors.Is(err, domain.ErrNotFound) {
		return i.storeOrphan(ctx, reply)
	}
	if err != nil {
		return fmt.Errorf("failed to find send for %s: %w", cb.From, err)
	}

	correlate(reply, send)
	if err := i.replies.Create(ctx, reply); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	if err := i.accumulator.Apply(ctx, send.BlastID, domain.BlastDelta{Replies: 1}); err != nil {
		return err
	}
	i.metrics.IncReply(string(reply.Kind), "correlated")

	campaign, err := i.campaigns.GetByID(ctx, send.CampaignID)
	if err != nil {
		i.logger.Warn("reply correlated to unknown campaign",
			zap.String("campaignId", send.CampaignID),
			zap.Error(err),
		)
		return nil
	}
	i.activities.Record(ctx, activity.Activity{
		UserID:      campaign.UserID,
		Type:        activity.TypeSMSReply,
		SourceID:    reply.ID,
		SourceTable: "replies",
		Params: map[string]any{
			"campaign_name": campaign.Name,
			"candidate_id":  send.CandidateID,
			"reply_text":    reply.Body,
		},
	})
	return nil
}

func (i *ReplyIngestor) ingestEmailEvent(ctx context.Context, event *provider.EmailEvent) error {
	var kind domain.ReplyKind
	switch {
	case event.IsBounce():
		kind = domain.ReplyKindBounce
	case event.IsComplaint():
		kind = domain.ReplyKindComplaint
	default:
		i.logger.Debug("ignoring email event",
			zap.String("notificationType", event.NotificationType),
			zap.String("messageId", event.MessageID()),
		)
		return nil
	}

	messageID := event.MessageID()
	recipients := event.Recipients()
	reply := &domain.Reply{
		ID:                uuid.NewString(),
		Kind:              kind,
		FromEndpoint:      strings.Join(recipients, ","),
		ProviderMessageID: &messageID,
		ReceivedAt:        i.now().UTC(),
	}
	if event.Bounce != nil {
		reply.Body = event.Bounce.BounceType
	}

	if event.IsPermanentBounce() {
		i.markBounced(ctx, recipients)
	} else if kind == domain.ReplyKindBounce {
		i.logger.Info("transient email bounce",
			zap.String("messageId", messageID),
			zap.Strings("recipients", recipients),
		)
	}

	send, err := i.sends.GetByProviderMessageID(ctx, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		return i.storeOrphan(ctx, reply)
	}
	if err != nil {
		return fmt.Errorf("failed to find send for message %s: %w", messageID, err)
	}

	correlate(reply, send)
	reply.ToEndpoint = send.RecipientEndpoint
	if err := i.replies.Create(ctx, reply); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}

	var first bool
	var delta domain.BlastDelta
	if kind == domain.ReplyKindBounce {
		first, err = i.sends.MarkBounced(ctx, send.ID)
		delta.Bounces = 1
	} else {
		first, err = i.sends.MarkComplaint(ctx, send.ID)
		delta.Complaints = 1
	}
	if err != nil {
		return fmt.Errorf("failed to flag send %s: %w", send.ID, err)
	}
	if !first {
		i.metrics.IncReply(string(kind), "duplicate")
		return nil
	}

	if err := i.accumulator.Apply(ctx, send.BlastID, delta); err != nil {
		return err
	}
	i.metrics.IncReply(string(kind), "correlated")
	return nil
}

func (i *ReplyIngestor) markBounced(ctx context.Context, recipients []string) {
	if i.bounces == nil || len(recipients) == 0 {
		return
	}
	if err := i.bounces.MarkEmailsBounced(ctx, recipients); err != nil {
		i.logger.Error("failed to mark emails bounced",
			zap.Strings("recipients", recipients),
			zap.Error(err),
		)
	}
}

func (i *ReplyIngestor) storeOrphan(ctx context.Context, reply *domain.Reply) error {
	reply.IsOrphan = true
	i.logger.Warn("callback did not match any send",
		zap.String("kind", string(reply.Kind)),
		zap.String("from", reply.FromEndpoint),
		zap.String("code", domain.ErrUnresolvableCallback.Code),
	)
	i.metrics.IncReply(string(reply.Kind), "orphan")

	if err := i.replies.Create(ctx, reply); err != nil {
		return fmt.Errorf("failed to store orphan reply: %w", err)
	}
	return nil
}

func correlate(reply *domain.Reply, send *domain.Send) {
	blastID, sendID, candidateID := send.BlastID, send.ID, send.CandidateID
	reply.BlastID = &blastID
	reply.SendID = &sendID
	reply.CandidateID = &candidateID
}
