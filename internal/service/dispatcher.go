package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDispatchConcurrency = 8
	maxSendAttempts            = 3
	baseRetryDelay             = 500 * time.Millisecond
	maxRetryDelay              = 10 * time.Second
	maxRetryJitterMillis       = 250
)

// DispatchState is the phase a dispatch reached.
type DispatchState string

const (
	StateResolvingRecipients DispatchState = "RESOLVING_RECIPIENTS"
	StateNoRecipients        DispatchState = "NO_RECIPIENTS"
	StateRewritingLink       DispatchState = "REWRITING_LINK"
	StateSending             DispatchState = "SENDING"
	StateAggregating         DispatchState = "AGGREGATING"
	StateDone                DispatchState = "DONE"
)

// DispatchResult summarises one blast.
type DispatchResult struct {
	CampaignID string
	BlastID    string
	State      DispatchState
	Recipients int
	TotalSends int
	Failed     int
}

// LinkRewriter finds the tracked URL of a body and mints the per-send short
// link that replaces it.
type LinkRewriter interface {
	Rewrite(ctx context.Context, campaignID string, body string) (linktrack.RewriteResult, error)
	Mint(ctx context.Context, target linktrack.RedirectTarget, kind domain.LinkKind) (*domain.SendTrackedLink, error)
}

type renderedBody struct {
	rewrite linktrack.RewriteResult
	kind    domain.LinkKind
}

type renderedContent struct {
	subject string
	text    renderedBody
	html    renderedBody
}

// Dispatcher fans one campaign out to all of its recipients.
type Dispatcher struct {
	campaigns   repository.CampaignRepository
	sends       repository.SendRepository
	attempts    repository.AttemptRepository
	resolver    *RecipientResolver
	rewriter    LinkRewriter
	accumulator *BlastAccumulator
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	activities  activity.Recorder
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	retryDelay  time.Duration
	now         func() time.Time
	randIntn    func(n int) int
}

type DispatcherDeps struct {
	Campaigns   repository.CampaignRepository
	Sends       repository.SendRepository
	Attempts    repository.AttemptRepository
	Resolver    *RecipientResolver
	Rewriter    LinkRewriter
	Accumulator *BlastAccumulator
	Provider    provider.Provider
	RateLimiter ratelimit.RateLimiter
	Activities  activity.Recorder
}

func NewDispatcher(deps DispatcherDeps, concurrency int, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Campaigns == nil:
		return nil, fmt.Errorf("campaign repository is required")
	case deps.Sends == nil:
		return nil, fmt.Errorf("send repository is required")
	case deps.Attempts == nil:
		return nil, fmt.Errorf("attempt repository is required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("recipient resolver is required")
	case deps.Rewriter == nil:
		return nil, fmt.Errorf("link rewriter is required")
	case deps.Accumulator == nil:
		return nil, fmt.Errorf("blast accumulator is required")
	case deps.Provider == nil:
		return nil, fmt.Errorf("provider is required")
	case deps.RateLimiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < 1 {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	activities := deps.Activities
	if activities == nil {
		activities = nopRecorder{}
	}

	return &Dispatcher{
		campaigns:   deps.Campaigns,
		sends:       deps.Sends,
		attempts:    deps.Attempts,
		resolver:    deps.Resolver,
		rewriter:    deps.Rewriter,
		accumulator: deps.Accumulator,
		provider:    deps.Provider,
		rateLimiter: deps.RateLimiter,
		activities:  activities,
		logger:      logger,
		concurrency: concurrency,
		retryDelay:  baseRetryDelay,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch creates a blast and sends the campaign to every resolved recipient.
// Per-recipient failures are counted, never returned. ErrNoRecipientSource and
// ErrNoValidRecipient come back together with the zero-send result.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string) (*DispatchResult, error) {
	return d.DispatchBlast(ctx, campaignID, "")
}

// DispatchBlast sends the campaign as blast blastID. A blast that already has
// sends is resumed: recipients it reached are not sent to again and its send
// counter is topped up to the real total. An empty blastID behaves as Dispatch.
func (d *Dispatcher) DispatchBlast(ctx context.Context, campaignID string, blastID string) (*DispatchResult, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	blast, err := d.accumulator.Resume(ctx, campaign.ID, blastID)
	if err != nil {
		return nil, err
	}

	delivered := map[string]struct{}{}
	if blastID != "" {
		candidateIDs, err := d.sends.CandidateIDsByBlast(ctx, blast.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load sends of blast %s: %w", blast.ID, err)
		}
		for _, candidateID := range candidateIDs {
			delivered[candidateID] = struct{}{}
		}
	}

	result := &DispatchResult{CampaignID: campaign.ID, BlastID: blast.ID}
	logger := d.logger.With(
		zap.String("campaignId", campaign.ID),
		zap.String("blastId", blast.ID),
		zap.String("channel", campaign.Channel.String()),
	)

	d.transition(logger, result, StateResolvingRecipients)
	recipients, err := d.resolver.Resolve(ctx, campaign)
	if errors.Is(err, domain.ErrNoRecipientSource) || errors.Is(err, domain.ErrNoValidRecipient) {
		d.transition(logger, result, StateNoRecipients)
		return result, err
	}
	if err != nil {
		return result, err
	}
	result.Recipients = len(recipients)
	if len(delivered) > 0 {
		logger.Info("resuming blast", zap.Int("alreadySent", len(delivered)))
	}

	d.transition(logger, result, StateRewritingLink)
	content, err := d.render(ctx, campaign)
	if err != nil {
		return result, err
	}

	d.transition(logger, result, StateSending)
	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, recipient := range recipients {
		if _, ok := delivered[recipient.CandidateID]; ok {
			continue
		}
		g.Go(func() error {
			inserted, err := d.sendOne(ctx, campaign, blast.ID, content, recipient)
			if err != nil {
				failed.Add(1)
				logger.Warn("recipient send failed",
					zap.String("candidateId", recipient.CandidateID),
					zap.Error(err),
				)
				return nil
			}
			if inserted {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.TotalSends = len(delivered) + int(sent.Load())
	result.Failed = int(failed.Load())

	d.transition(logger, result, StateAggregating)
	if missing := result.TotalSends - blast.Sends; missing > 0 {
		if err := d.accumulator.Apply(ctx, blast.ID, domain.BlastDelta{Sends: missing}); err != nil {
			return result, err
		}
	}

	d.activities.Record(ctx, activity.Activity{
		UserID:      campaign.UserID,
		Type:        activity.TypeCampaignSend,
		SourceID:    campaign.ID,
		SourceTable: "campaigns",
		Params: map[string]any{
			"campaign_name":  campaign.Name,
			"num_recipients": result.TotalSends,
		},
	})

	d.transition(logger, result, StateDone)
	logger.Info("campaign dispatched",
		zap.Int("recipients", result.Recipients),
		zap.Int("totalSends", result.TotalSends),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (d *Dispatcher) transition(logger *zap.Logger, result *DispatchResult, state DispatchState) {
	result.State = state
	logger.Debug("dispatch state changed", zap.String("state", string(state)))
}

// render finds the tracked link of each body once per dispatch. The short
// link itself is minted per send.
func (d *Dispatcher) render(ctx context.Context, campaign *domain.Campaign) (renderedContent, error) {
	content := renderedContent{subject: campaign.Subject}

	textKind := domain.LinkKindPlain
	if campaign.Channel == domain.ChannelEmail {
		textKind = domain.LinkKindTextClick
	}

	var err error
	content.text, err = d.renderBody(ctx, campaign.ID, campaign.BodyText, textKind)
	if err != nil {
		return content, err
	}
	if campaign.Channel == domain.ChannelEmail {
		content.html, err = d.renderBody(ctx, campaign.ID, campaign.BodyHTML, domain.LinkKindHTMLClick)
		if err != nil {
			return content, err
		}
	}
	return content, nil
}

func (d *Dispatcher) renderBody(ctx context.Context, campaignID, body string, kind domain.LinkKind) (renderedBody, error) {
	rendered := renderedBody{rewrite: linktrack.RewriteResult{Body: body}, kind: kind}
	if strings.TrimSpace(body) == "" {
		return rendered, nil
	}
	rewrite, err := d.rewriter.Rewrite(ctx, campaignID, body)
	if err != nil {
		return rendered, fmt.Errorf("failed to rewrite links: %w", err)
	}
	rendered.rewrite = rewrite
	return rendered, nil
}

// personalize mints the short link of one send into body.
func (d *Dispatcher) personalize(ctx context.Context, campaignID, sendID string, body renderedBody) (string, error) {
	if body.rewrite.Link == nil {
		return body.rewrite.Body, nil
	}
	minted, err := d.rewriter.Mint(ctx, linktrack.RedirectTarget{
		CampaignID: campaignID,
		LinkID:     body.rewrite.Link.ID,
		SendID:     sendID,
	}, body.kind)
	if err != nil {
		return "", fmt.Errorf("failed to mint short link: %w", err)
	}
	return body.rewrite.Apply(minted.SourceURL), nil
}

// sendOne reports whether a new send row was written for the recipient.
func (d *Dispatcher) sendOne(ctx context.Context, campaign *domain.Campaign, blastID string, content renderedContent, recipient domain.Recipient) (bool, error) {
	channelName := strings.ToLower(campaign.Channel.String())
	d.metrics.IncDispatchInFlight(channelName)
	defer d.metrics.DecDispatchInFlight(channelName)

	if err := d.rateLimiter.Wait(ctx, channelName); err != nil {
		d.metrics.IncSendFailure(channelName, "rate_limited")
		return false, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendID := uuid.NewString()
	var bodyHTML string
	bodyText, err := d.personalize(ctx, campaign.ID, sendID, content.text)
	if err == nil {
		bodyHTML, err = d.personalize(ctx, campaign.ID, sendID, content.html)
	}
	if err != nil {
		d.recordFailure(ctx, blastID, recipient, err)
		d.metrics.IncSendFailure(channelName, "link_error")
		return false, err
	}

	msg := provider.Message{
		Channel:     campaign.Channel,
		To:          recipient.Endpoint,
		Subject:     content.subject,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
		CampaignID:  campaign.ID,
		CandidateID: recipient.CandidateID,
	}
	resp, err := d.sendWithRetry(ctx, channelName, msg)
	if err != nil {
		d.recordFailure(ctx, blastID, recipient, err)
		reason := "permanent_error"
		if provider.IsTransient(err) {
			reason = "retry_exhausted"
		}
		d.metrics.IncSendFailure(channelName, reason)
		return false, fmt.Errorf("%w: %v", domain.ErrProviderSendFailure, err)
	}

	send := &domain.Send{
		ID:                sendID,
		BlastID:           blastID,
		CampaignID:        campaign.ID,
		CandidateID:       recipient.CandidateID,
		Channel:           campaign.Channel,
		RecipientEndpoint: recipient.Endpoint,
		SentAt:            d.now().UTC(),
	}
	if resp != nil && strings.TrimSpace(resp.MessageID) != "" {
		messageID := resp.MessageID
		send.ProviderMessageID = &messageID
	}

	inserted, err := d.sends.Upsert(ctx, send)
	if err != nil {
		d.metrics.IncSendFailure(channelName, "persist_error")
		return false, fmt.Errorf("failed to store send: %w", err)
	}

	if !inserted {
		return false, nil
	}

	d.metrics.IncSend(channelName)
	d.activities.Record(ctx, activity.Activity{
		UserID:      campaign.UserID,
		Type:        activity.SendType(campaign.Channel),
		SourceID:    send.ID,
		SourceTable: "sends",
		Params: map[string]any{
			"campaign_name": campaign.Name,
			"candidate_id":  recipient.CandidateID,
		},
	})
	return true, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, channelName string, msg provider.Message) (*provider.ProviderResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		start := d.now()
		resp, err := d.provider.Send(ctx, msg)
		d.metrics.ObserveProviderSendDuration(channelName, d.now().Sub(start))
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !provider.IsTransient(err) || attempt == maxSendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.computeRetryDelay(attempt)):
		}
	}
	return nil, lastErr
}

func (d *Dispatcher) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := d.retryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if d.randIntn != nil && d.retryDelay > 0 {
		jitterMillis = d.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (d *Dispatcher) recordFailure(ctx context.Context, blastID string, recipient domain.Recipient, sendErr error) {
	attempt := &domain.DeliveryAttempt{
		ID:                sendID,
		BlastID:           blastID,
		CandidateID:       recipient.CandidateID,
		RecipientEndpoint: recipient.Endpoint,
		Error:             sendErr.Error(),
		CreatedAt:         d.now().UTC(),
	}

	var providerErr *provider.ProviderError
	if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 {
		statusCode := providerErr.StatusCode
		attempt.StatusCode = &statusCode
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		d.logger.Error("failed to record delivery attempt",
			zap.String("blastId", blastID),
			zap.String("candidateId", recipient.CandidateID),
			zap.Error(err),
		)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, activity.Activity) {}
