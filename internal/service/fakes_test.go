package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// memDB is a mutex-guarded store shared by the in-memory repositories.
// Slices keep insertion order so "latest" ties resolve to the newest row.
type memDB struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	smartlists map[string][]string
	blasts     []*domain.Blast
	sends      []*domain.Send
	links      []*domain.TrackedLink
	sendLinks  []domain.SendTrackedLink
	replies    []*domain.Reply
	attempts   []*domain.DeliveryAttempt
}

func newMemDB() *memDB {
	return &memDB{
		campaigns:  map[string]*domain.Campaign{},
		smartlists: map[string][]string{},
	}
}

type memCampaignRepo struct{ db *memDB }

func (r *memCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	copied := *c
	r.db.campaigns[c.ID] = &copied
	return nil
}

func (r *memCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.IsHidden {
		return nil, domain.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memCampaignRepo) UpdateText(ctx context.Context, c *domain.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Name, stored.Subject, stored.BodyText, stored.BodyHTML = c.Name, c.Subject, c.BodyText, c.BodyHTML
	return nil
}

func (r *memCampaignRepo) Hide(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[id]
	if !ok || stored.IsHidden {
		return domain.ErrNotFound
	}
	stored.IsHidden = true
	return nil
}

func (r *memCampaignRepo) SetSchedule(ctx context.Context, id string, schedule *domain.Schedule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if schedule == nil {
		stored.Schedule = nil
		return nil
	}
	copied := *schedule
	stored.Schedule = &copied
	return nil
}

func (r *memCampaignRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Campaign, 0)
	for _, c := range r.db.campaigns {
		if c.IsHidden || c.Schedule == nil || c.Schedule.NextRunAt == nil || c.Schedule.NextRunAt.After(now) {
			continue
		}
		copied := *c
		schedule := *c.Schedule
		copied.Schedule = &schedule
		out = append(out, copied)
	}
	return out, nil
}

func (r *memCampaignRepo) ClaimScheduledRun(ctx context.Context, id string, dueAt time.Time, next *time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.Schedule == nil || c.Schedule.NextRunAt == nil || !c.Schedule.NextRunAt.Equal(dueAt) {
		return false, nil
	}
	c.Schedule.NextRunAt = next
	return true, nil
}

func (r *memCampaignRepo) ReplaceSmartlists(ctx context.Context, campaignID string, smartlistIDs []string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.smartlists[campaignID] = append([]string(nil), smartlistIDs...)
	return nil
}

func (r *memCampaignRepo) ListSmartlistIDs(ctx context.Context, campaignID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]string(nil), r.db.smartlists[campaignID]...), nil
}

type memBlastRepo struct{ db *memDB }

func (r *memBlastRepo) Create(ctx context.Context, b *domain.Blast) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	copied := *b
	r.db.blasts = append(r.db.blasts, &copied)
	return nil
}

func (r *memBlastRepo) GetByID(ctx context.Context, id string) (*domain.Blast, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, b := range r.db.blasts {
		if b.ID == id {
			copied := *b
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memBlastRepo) Latest(ctx context.Context, campaignID string) (*domain.Blast, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *domain.Blast
	for _, b := range r.db.blasts {
		if b.CampaignID == campaignID && (latest == nil || !b.SentAt.Before(latest.SentAt)) {
			latest = b
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *memBlastRepo) ApplyDelta(ctx context.Context, id string, delta domain.BlastDelta) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, b := range r.db.blasts {
		if b.ID == id {
			delta.Add(b)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memBlastRepo) ListByCampaign(ctx context.Context, campaignID string, params repository.ListParams) ([]domain.Blast, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Blast, 0)
	for _, b := range r.db.blasts {
		if b.CampaignID == campaignID {
			out = append(out, *b)
		}
	}
	return out, int64(len(out)), nil
}

type memSendRepo struct{ db *memDB }

func (r *memSendRepo) Upsert(ctx context.Context, s *domain.Send) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.sends {
		if existing.BlastID == s.BlastID && existing.CandidateID == s.CandidateID {
			*s = *existing
			return false, nil
		}
	}
	copied := *s
	r.db.sends = append(r.db.sends, &copied)
	return true, nil
}

func (r *memSendRepo) GetByID(ctx context.Context, id string) (*domain.Send, error) {
	return r.find(func(s *domain.Send) bool { return s.ID == id })
}

func (r *memSendRepo) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Send, error) {
	return r.find(func(s *domain.Send) bool {
		return s.ProviderMessageID != nil && *s.ProviderMessageID == providerMsgID
	})
}

func (r *memSendRepo) LatestByEndpoint(ctx context.Context, channel domain.Channel, endpoint string) (*domain.Send, error) {
	return r.find(func(s *domain.Send) bool {
		return s.Channel == channel && s.RecipientEndpoint == endpoint
	})
}

func (r *memSendRepo) MarkBounced(ctx context.Context, id string) (bool, error) {
	return r.flag(id, func(s *domain.Send) *bool { return &s.IsBounced })
}

func (r *memSendRepo) MarkComplaint(ctx context.Context, id string) (bool, error) {
	return r.flag(id, func(s *domain.Send) *bool { return &s.IsComplaint })
}

func (r *memSendRepo) ListByBlast(ctx context.Context, blastID string, params repository.ListParams) ([]domain.Send, int64, error) {
	return r.list(func(s *domain.Send) bool { return s.BlastID == blastID })
}

func (r *memSendRepo) CandidateIDsByBlast(ctx context.Context, blastID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]string, 0)
	for _, s := range r.db.sends {
		if s.BlastID == blastID {
			out = append(out, s.CandidateID)
		}
	}
	return out, nil
}

func (r *memSendRepo) ListByCampaign(ctx context.Context, campaignID string, params repository.ListParams) ([]domain.Send, int64, error) {
	return r.list(func(s *domain.Send) bool { return s.CampaignID == campaignID })
}

// find returns the newest matching send.
func (r *memSendRepo) find(match func(*domain.Send) bool) (*domain.Send, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := len(r.db.sends) - 1; i >= 0; i-- {
		if match(r.db.sends[i]) {
			copied := *r.db.sends[i]
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSendRepo) flag(id string, field func(*domain.Send) *bool) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sends {
		if s.ID != id {
			continue
		}
		f := field(s)
		if *f {
			return false, nil
		}
		*f = true
		return true, nil
	}
	return false, nil
}

func (r *memSendRepo) list(match func(*domain.Send) bool) ([]domain.Send, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Send, 0)
	for _, s := range r.db.sends {
		if match(s) {
			out = append(out, *s)
		}
	}
	return out, int64(len(out)), nil
}

type memLinkRepo struct{ db *memDB }

func (r *memLinkRepo) GetOrCreateByDestination(ctx context.Context, destinationURL string) (*domain.TrackedLink, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, l := range r.db.links {
		if l.DestinationURL == destinationURL {
			copied := *l
			return &copied, nil
		}
	}
	link := &domain.TrackedLink{ID: "link-" + string(rune('a'+len(r.db.links))), DestinationURL: destinationURL, CreatedAt: time.Now().UTC()}
	r.db.links = append(r.db.links, link)
	copied := *link
	return &copied, nil
}

func (r *memLinkRepo) GetByID(ctx context.Context, id string) (*domain.TrackedLink, error) {
	return r.find(func(l *domain.TrackedLink) bool { return l.ID == id })
}

func (r *memLinkRepo) CreateSendLink(ctx context.Context, link *domain.SendTrackedLink) error {
	if err := link.Validate(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.sendLinks {
		if existing.ShortCode == link.ShortCode {
			return fmt.Errorf("%w: short code %s is taken", domain.ErrConflict, link.ShortCode)
		}
	}
	link.CreatedAt = time.Now().UTC()
	r.db.sendLinks = append(r.db.sendLinks, *link)
	return nil
}

func (r *memLinkRepo) GetSendLinkByShortCode(ctx context.Context, code string) (*domain.SendTrackedLink, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, l := range r.db.sendLinks {
		if l.ShortCode == code {
			copied := l
			return &copied, nil
		}
	}
	return nil, domain.ErrLinkNotFound
}

func (r *memLinkRepo) RecordClick(ctx context.Context, linkID string, blastID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var link *domain.TrackedLink
	for _, l := range r.db.links {
		if l.ID == linkID {
			link = l
		}
	}
	if link == nil {
		return domain.ErrLinkNotFound
	}
	link.HitCount++
	link.LastHitAt = &at
	if blastID == "" {
		return nil
	}
	for _, b := range r.db.blasts {
		if b.ID == blastID {
			b.Clicks++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memLinkRepo) find(match func(*domain.TrackedLink) bool) (*domain.TrackedLink, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, l := range r.db.links {
		if match(l) {
			copied := *l
			return &copied, nil
		}
	}
	return nil, domain.ErrLinkNotFound
}

type memReplyRepo struct{ db *memDB }

func (r *memReplyRepo) Create(ctx context.Context, reply *domain.Reply) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	copied := *reply
	r.db.replies = append(r.db.replies, &copied)
	return nil
}

func (r *memReplyRepo) ListByBlast(ctx context.Context, blastID string, params repository.ListParams) ([]domain.Reply, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Reply, 0)
	for _, reply := range r.db.replies {
		if reply.BlastID != nil && *reply.BlastID == blastID {
			out = append(out, *reply)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memReplyRepo) ListByCampaign(ctx context.Context, campaignID string, params repository.ListParams) ([]domain.Reply, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	blastIDs := map[string]struct{}{}
	for _, b := range r.db.blasts {
		if b.CampaignID == campaignID {
			blastIDs[b.ID] = struct{}{}
		}
	}
	out := make([]domain.Reply, 0)
	for _, reply := range r.db.replies {
		if reply.BlastID == nil {
			continue
		}
		if _, ok := blastIDs[*reply.BlastID]; ok {
			out = append(out, *reply)
		}
	}
	return out, int64(len(out)), nil
}

type memAttemptRepo struct{ db *memDB }

func (r *memAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	copied := *a
	r.db.attempts = append(r.db.attempts, &copied)
	return nil
}

func (r *memAttemptRepo) ListByBlast(ctx context.Context, blastID string) ([]domain.DeliveryAttempt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.DeliveryAttempt, 0)
	for _, a := range r.db.attempts {
		if a.BlastID == blastID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeSource struct {
	mu    sync.Mutex
	lists map[string][]domain.Candidate
	errs  map[string]error
	calls int
}

func (f *fakeSource) SmartlistCandidates(ctx context.Context, smartlistID string) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[smartlistID]; err != nil {
		return nil, err
	}
	return f.lists[smartlistID], nil
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error)
	sent   []provider.Message
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.sendFn != nil {
		resp, err := f.sendFn(ctx, msg)
		if err == nil {
			f.record(msg)
		}
		return resp, err
	}
	f.record(msg)
	return &provider.ProviderResponse{StatusCode: 202, MessageID: "msg-" + msg.CandidateID + "-" + string(rune('0'+n%10))}, nil
}

func (f *fakeProvider) record(msg provider.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	activities []activity.Activity
}

func (f *fakeRecorder) Record(ctx context.Context, a activity.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
}

func (f *fakeRecorder) count(t activity.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.activities {
		if a.Type == t {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.DispatchMessage
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeBounceMarker struct {
	mu     sync.Mutex
	marked []string
}

func (f *fakeBounceMarker) MarkEmailsBounced(ctx context.Context, emails []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, emails...)
	return nil
}

// testEngine wires the real services over the in-memory store.
type testEngine struct {
	db          *memDB
	campaigns   *memCampaignRepo
	blasts      *memBlastRepo
	sends       *memSendRepo
	links       *memLinkRepo
	replies     *memReplyRepo
	attempts    *memAttemptRepo
	source      *fakeSource
	provider    *fakeProvider
	recorder    *fakeRecorder
	publisher   *fakePublisher
	bounces     *fakeBounceMarker
	signer      *linktrack.Signer
	accumulator *BlastAccumulator
	resolver    *RecipientResolver
	dispatcher  *Dispatcher
	redirects   *RedirectService
	ingestor    *ReplyIngestor
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	db := newMemDB()
	e := &testEngine{
		db:        db,
		campaigns: &memCampaignRepo{db: db},
		blasts:    &memBlastRepo{db: db},
		sends:     &memSendRepo{db: db},
		links:     &memLinkRepo{db: db},
		replies:   &memReplyRepo{db: db},
		attempts:  &memAttemptRepo{db: db},
		source:    &fakeSource{lists: map[string][]domain.Candidate{}, errs: map[string]error{}},
		provider:  &fakeProvider{},
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
		bounces:   &fakeBounceMarker{},
	}

	var err error
	e.signer, err = linktrack.NewSigner("test-signing-key", "https://links.example", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	rewriter, err := linktrack.NewRewriter(e.links, e.signer, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRewriter() error = %v", err)
	}
	e.accumulator, err = NewBlastAccumulator(e.blasts)
	if err != nil {
		t.Fatalf("NewBlastAccumulator() error = %v", err)
	}
	e.resolver, err = NewRecipientResolver(e.campaigns, e.source, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecipientResolver() error = %v", err)
	}
	e.dispatcher, err = NewDispatcher(DispatcherDeps{
		Campaigns:   e.campaigns,
		Sends:       e.sends,
		Attempts:    e.attempts,
		Resolver:    e.resolver,
		Rewriter:    rewriter,
		Accumulator: e.accumulator,
		Provider:    e.provider,
		RateLimiter: &fakeRateLimiter{},
		Activities:  e.recorder,
	}, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	e.dispatcher.retryDelay = time.Millisecond
	e.dispatcher.randIntn = func(int) int { return 0 }

	e.redirects, err = NewRedirectService(e.signer, e.links, e.sends, e.campaigns, e.accumulator, e.recorder, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedirectService() error = %v", err)
	}
	e.ingestor, err = NewReplyIngestor(e.sends, e.replies, e.campaigns, e.accumulator, e.bounces, e.recorder, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplyIngestor() error = %v", err)
	}

	return e
}

// seedCampaign stores a campaign owned by domain d1 with the given smart lists.
func (e *testEngine) seedCampaign(t *testing.T, c domain.Campaign, smartlists map[string][]domain.Candidate) *domain.Campaign {
	t.Helper()

	if c.ID == "" {
		c.ID = "camp-1"
	}
	if c.UserID == "" {
		c.UserID = "u1"
	}
	if c.DomainID == "" {
		c.DomainID = "d1"
	}
	if c.Name == "" {
		c.Name = "Spring hiring"
	}
	if err := e.campaigns.Create(context.Background(), &c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ids := make([]string, 0, len(smartlists))
	for id, members := range smartlists {
		ids = append(ids, id)
		e.source.lists[id] = members
	}
	if err := e.campaigns.ReplaceSmartlists(context.Background(), c.ID, ids); err != nil {
		t.Fatalf("ReplaceSmartlists() error = %v", err)
	}
	return &c
}

func (e *testEngine) blast(t *testing.T, id string) *domain.Blast {
	t.Helper()

	b, err := e.blasts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return b
}

func (e *testEngine) trackedLink(t *testing.T) *domain.TrackedLink {
	t.Helper()

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if len(e.db.links) != 1 {
		t.Fatalf("tracked links = %d, want 1", len(e.db.links))
	}
	copied := *e.db.links[0]
	return &copied
}

func phoneCandidate(id, phone string) domain.Candidate {
	return domain.Candidate{
		ID:        id,
		DomainID:  "d1",
		Endpoints: []domain.ContactEndpoint{{Kind: domain.EndpointMobilePhone, Value: phone}},
	}
}

func emailCandidate(id, email string) domain.Candidate {
	return domain.Candidate{
		ID:        id,
		DomainID:  "d1",
		Endpoints: []domain.ContactEndpoint{{Kind: domain.EndpointEmail, Value: email}},
	}
}

func repositoryAll() repository.ListParams {
	return repository.ListParams{Page: 1, PageSize: 100}
}

func providerReply(from, body string) provider.SMSCallback {
	return provider.SMSCallback{From: from, To: "+15559999", Body: body, MessageSID: "SM-" + from}
}

// sendLink returns the short link minted for one send.
func (e *testEngine) sendLink(t *testing.T, sendID string) domain.SendTrackedLink {
	t.Helper()

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	for _, l := range e.db.sendLinks {
		if l.SendID == sendID {
			return l
		}
	}
	t.Fatalf("no short link minted for send %s", sendID)
	return domain.SendTrackedLink{}
}

// sendFor returns the send of candidateID in blastID.
func (e *testEngine) sendFor(t *testing.T, blastID, candidateID string) *domain.Send {
	t.Helper()

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	for _, s := range e.db.sends {
		if s.BlastID == blastID && s.CandidateID == candidateID {
			copied := *s
			return &copied
		}
	}
	t.Fatalf("no send for %s in blast %s", candidateID, blastID)
	return nil
}
