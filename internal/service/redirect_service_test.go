package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
)

func signedParams(t *testing.T, e *testEngine, campaignID, linkID, sendID string) linktrack.RedirectParams {
	t.Helper()

	raw, err := e.signer.RedirectURL(linktrack.RedirectTarget{CampaignID: campaignID, LinkID: linkID, SendID: sendID})
	if err != nil {
		t.Fatalf("RedirectURL() error = %v", err)
	}
	return redirectParams(t, raw)
}

func redirectParams(t *testing.T, raw string) linktrack.RedirectParams {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	params, err := linktrack.ParseRedirectParams(u.Query())
	if err != nil {
		t.Fatalf("ParseRedirectParams() error = %v", err)
	}
	return params
}

// sentParams returns the redirect parameters minted into the send of candidateID.
func sentParams(t *testing.T, e *testEngine, blastID, candidateID string) linktrack.RedirectParams {
	t.Helper()

	return redirectParams(t, e.sendLink(t, e.sendFor(t, blastID, candidateID).ID).RedirectURL)
}

func dispatchedLink(t *testing.T, e *testEngine) (*DispatchResult, *domain.TrackedLink) {
	t.Helper()

	campaign := e.seedCampaign(t, domain.Campaign{Channel: domain.ChannelSMS, BodyText: "Apply at https://jobs.example/apply."},
		map[string][]domain.Candidate{"sl-1": {phoneCandidate("c1", "+15550001"), phoneCandidate("c2", "+15550002")}})

	result, err := e.dispatcher.Dispatch(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	return result, e.trackedLink(t)
}

func clickCandidates(e *testEngine, channel domain.Channel) []any {
	e.recorder.mu.Lock()
	defer e.recorder.mu.Unlock()
	var out []any
	for _, a := range e.recorder.activities {
		if a.Type == activity.ClickType(channel) {
			out = append(out, a.Params["candidate_id"])
		}
	}
	return out
}

func TestRedirectServiceConcurrentClicks(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	result, link := dispatchedLink(t, e)
	if link.DestinationURL != "https://jobs.example/apply" {
		t.Fatalf("destination = %q, want trailing period trimmed", link.DestinationURL)
	}
	params := sentParams(t, e, result.BlastID, "c1")

	const clicks = 12
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			destination, err := e.redirects.Resolve(context.Background(), params)
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			if destination != link.DestinationURL {
				t.Errorf("Resolve() = %q", destination)
			}
		}()
	}
	wg.Wait()

	if got := e.trackedLink(t).HitCount; got != clicks {
		t.Fatalf("hit count = %d, want %d", got, clicks)
	}
	if got := e.blast(t, result.BlastID).Clicks; got != clicks {
		t.Fatalf("blast clicks = %d, want %d", got, clicks)
	}
	candidates := clickCandidates(e, domain.ChannelSMS)
	if len(candidates) != clicks {
		t.Fatalf("click activities = %d, want %d", len(candidates), clicks)
	}
	for _, candidateID := range candidates {
		if candidateID != "c1" {
			t.Fatalf("click credited to %v, want c1", candidateID)
		}
	}
}

func TestRedirectServiceRejectsTamperedParams(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	result, _ := dispatchedLink(t, e)
	valid := sentParams(t, e, result.BlastID, "c1")
	otherSend := e.sendFor(t, result.BlastID, "c2").ID

	tests := []struct {
		name   string
		mutate func(*linktrack.RedirectParams)
	}{
		{name: "other campaign", mutate: func(p *linktrack.RedirectParams) { p.CampaignID = "camp-2" }},
		{name: "other link", mutate: func(p *linktrack.RedirectParams) { p.LinkID = "link-z" }},
		{name: "send of another recipient", mutate: func(p *linktrack.RedirectParams) { p.SendID = otherSend }},
		{name: "missing send", mutate: func(p *linktrack.RedirectParams) { p.SendID = "" }},
		{name: "extended expiry", mutate: func(p *linktrack.RedirectParams) { p.ValidUntil += 3600 }},
		{name: "garbage signature", mutate: func(p *linktrack.RedirectParams) { p.Signature = "abc" }},
		{name: "missing signature", mutate: func(p *linktrack.RedirectParams) { p.Signature = "" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)

			if _, err := e.redirects.Resolve(context.Background(), params); !errors.Is(err, domain.ErrInvalidSignature) {
				t.Fatalf("Resolve() error = %v, want ErrInvalidSignature", err)
			}
		})
	}

	if got := e.trackedLink(t).HitCount; got != 0 {
		t.Fatalf("hit count = %d, want 0 after rejected requests", got)
	}
	if got := e.blast(t, result.BlastID).Clicks; got != 0 {
		t.Fatalf("blast clicks = %d, want 0 after rejected requests", got)
	}
}

func TestRedirectServiceCreditsCampaignThatSentTheLink(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	campaignA := e.seedCampaign(t, domain.Campaign{ID: "camp-A", Channel: domain.ChannelSMS, BodyText: "Visit http://x.example/offer"},
		map[string][]domain.Candidate{"sl-a": {phoneCandidate("cA", "+15550001")}})
	campaignB := e.seedCampaign(t, domain.Campaign{ID: "camp-B", Channel: domain.ChannelSMS, BodyText: "Visit http://x.example/offer"},
		map[string][]domain.Candidate{"sl-b": {phoneCandidate("cB", "+15550002")}})

	blastA, err := e.dispatcher.Dispatch(ctx, campaignA.ID)
	if err != nil {
		t.Fatalf("Dispatch(A) error = %v", err)
	}
	blastB, err := e.dispatcher.Dispatch(ctx, campaignB.ID)
	if err != nil {
		t.Fatalf("Dispatch(B) error = %v", err)
	}
	if got := len(e.db.links); got != 1 {
		t.Fatalf("tracked links = %d, want one shared destination", got)
	}

	linkA := e.sendLink(t, e.sendFor(t, blastA.BlastID, "cA").ID)
	destination := followShortLink(t, e, linkA.ShortCode)
	if destination != "http://x.example/offer" {
		t.Fatalf("destination = %q", destination)
	}

	if got := e.blast(t, blastA.BlastID).Clicks; got != 1 {
		t.Fatalf("campaign A clicks = %d, want 1", got)
	}
	if got := e.blast(t, blastB.BlastID).Clicks; got != 0 {
		t.Fatalf("campaign B clicks = %d, want 0", got)
	}
	if got := clickCandidates(e, domain.ChannelSMS); len(got) != 1 || got[0] != "cA" {
		t.Fatalf("click candidates = %v, want [cA]", got)
	}
}

func TestRedirectServiceLinksOfLaterBlastsOutliveTTL(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e.signer.SetClock(func() time.Time { return now })

	campaign := e.seedCampaign(t, domain.Campaign{Channel: domain.ChannelSMS, BodyText: "Go http://x.example/a"},
		map[string][]domain.Candidate{"sl-1": {phoneCandidate("c1", "+15550001")}})

	first, err := e.dispatcher.Dispatch(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	second, err := e.dispatcher.Dispatch(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if _, err := e.redirects.Resolve(ctx, sentParams(t, e, first.BlastID, "c1")); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("Resolve(first blast) error = %v, want ErrInvalidSignature after expiry", err)
	}

	code := e.sendLink(t, e.sendFor(t, second.BlastID, "c1").ID).ShortCode
	if destination := followShortLink(t, e, code); destination != "http://x.example/a" {
		t.Fatalf("destination = %q", destination)
	}
	if got := e.blast(t, second.BlastID).Clicks; got != 1 {
		t.Fatalf("second blast clicks = %d, want 1", got)
	}
}

func TestRedirectServiceUnknownSendFallsBackToLatestBlast(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	campaign := e.seedCampaign(t, domain.Campaign{Channel: domain.ChannelSMS, BodyText: "hi"}, nil)
	link, err := e.links.GetOrCreateByDestination(context.Background(), "https://x.example/early")
	if err != nil {
		t.Fatalf("GetOrCreateByDestination() error = %v", err)
	}

	destination, err := e.redirects.Resolve(context.Background(), signedParams(t, e, campaign.ID, link.ID, "send-gone"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if destination != "https://x.example/early" {
		t.Fatalf("Resolve() = %q", destination)
	}

	latest, err := e.accumulator.LatestBlast(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("LatestBlast() error = %v", err)
	}
	if latest.Clicks != 1 || latest.Sends != 0 {
		t.Fatalf("latest blast = %+v, want one click and no sends", latest)
	}
	if got := e.trackedLink(t).HitCount; got != 1 {
		t.Fatalf("hit count = %d, want 1", got)
	}
	if got := clickCandidates(e, domain.ChannelSMS); len(got) != 1 || got[0] != nil {
		t.Fatalf("click candidates = %v, want one click without candidate", got)
	}
}

func TestRedirectServiceIgnoresSendOfOtherCampaign(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	result, link := dispatchedLink(t, e)
	other := e.seedCampaign(t, domain.Campaign{ID: "camp-2", Channel: domain.ChannelSMS, BodyText: "hi"}, nil)
	send := e.sendFor(t, result.BlastID, "c1")

	if _, err := e.redirects.Resolve(context.Background(), signedParams(t, e, other.ID, link.ID, send.ID)); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := e.blast(t, result.BlastID).Clicks; got != 0 {
		t.Fatalf("sending blast clicks = %d, want 0", got)
	}
	latest, err := e.accumulator.LatestBlast(context.Background(), other.ID)
	if err != nil {
		t.Fatalf("LatestBlast() error = %v", err)
	}
	if latest.Clicks != 1 {
		t.Fatalf("signed campaign clicks = %d, want 1", latest.Clicks)
	}
}

func TestRedirectServiceErrors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	emptyDestination := &domain.TrackedLink{ID: "link-empty"}
	e.db.links = append(e.db.links, emptyDestination)
	e.db.sendLinks = append(e.db.sendLinks, domain.SendTrackedLink{SendID: "s1", TrackedLinkID: "link-empty", Kind: domain.LinkKindPlain, ShortCode: "blank01"})

	if _, err := e.redirects.Resolve(context.Background(), signedParams(t, e, "camp-1", "link-missing", "s1")); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Fatalf("Resolve(missing) error = %v, want ErrLinkNotFound", err)
	}
	if _, err := e.redirects.Resolve(context.Background(), signedParams(t, e, "camp-1", "link-empty", "s1")); !errors.Is(err, domain.ErrEmptyDestination) {
		t.Fatalf("Resolve(empty) error = %v, want ErrEmptyDestination", err)
	}
	if _, err := e.redirects.ResolveShortCode(context.Background(), "nope"); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Fatalf("ResolveShortCode() error = %v, want ErrLinkNotFound", err)
	}
	if _, err := e.redirects.ResolveShortCode(context.Background(), " "); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Fatalf("ResolveShortCode(blank) error = %v, want ErrLinkNotFound", err)
	}
	if _, err := e.redirects.ResolveShortCode(context.Background(), "blank01"); !errors.Is(err, domain.ErrEmptyDestination) {
		t.Fatalf("ResolveShortCode(no redirect) error = %v, want ErrEmptyDestination", err)
	}
}
