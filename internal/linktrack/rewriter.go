package linktrack

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	shortCodeLength      = 7
	shortCodeCharset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxShortCodeAttempts = 3
	shortLinkPath        = "/s/"
	trailingPunctuation  = ".,;:!?"
)

var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+|ftps?://[^\s<>"]+|www\.[^\s<>"]+`)

// LinkStore persists tracked links and the short links minted from them.
type LinkStore interface {
	GetOrCreateByDestination(ctx context.Context, destinationURL string) (*domain.TrackedLink, error)
	CreateSendLink(ctx context.Context, link *domain.SendTrackedLink) error
}

// RewriteResult is the outcome of scanning one body.
// Link is nil unless exactly one distinct URL was found.
type RewriteResult struct {
	Body       string
	LinksFound int
	Link       *domain.TrackedLink
	spans      [][]int
}

// Apply returns Body with every occurrence of the tracked URL replaced by
// sourceURL. Without a tracked link Body comes back unchanged.
func (r RewriteResult) Apply(sourceURL string) string {
	if r.Link == nil || len(r.spans) == 0 {
		return r.Body
	}
	return replaceSpans(r.Body, r.spans, sourceURL)
}

type Rewriter struct {
	links     LinkStore
	signer    *Signer
	logger    *zap.Logger
	shortCode func() (string, error)
	now       func() time.Time
}

func NewRewriter(links LinkStore, signer *Signer, logger *zap.Logger) (*Rewriter, error) {
	if links == nil {
		return nil, fmt.Errorf("link store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Rewriter{
		links:  links,
		signer: signer,
		logger: logger,
		shortCode: func() (string, error) {
			return generateShortCode(shortCodeLength)
		},
		now: time.Now,
	}, nil
}

// Rewrite finds the single URL of body and resolves its tracked link. Bodies
// with no URL or with several distinct URLs get no link.
func (r *Rewriter) Rewrite(ctx context.Context, campaignID string, body string) (RewriteResult, error) {
	spans := findLinks(body)
	distinct := distinctLinks(body, spans)

	result := RewriteResult{Body: body, LinksFound: len(distinct)}
	switch {
	case len(distinct) == 0:
		return result, nil
	case len(distinct) > 1:
		r.logger.Warn("body has more than one link, skipping rewrite",
			zap.String("campaignId", campaignID),
			zap.Int("linksFound", len(distinct)),
		)
		return result, nil
	}

	link, err := r.links.GetOrCreateByDestination(ctx, distinct[0])
	if err != nil {
		return result, fmt.Errorf("failed to resolve tracked link: %w", err)
	}
	result.Link = link
	result.spans = spans
	return result, nil
}

// Mint signs a redirect for one send and stores it behind a fresh short code.
func (r *Rewriter) Mint(ctx context.Context, target RedirectTarget, kind domain.LinkKind) (*domain.SendTrackedLink, error) {
	redirectURL, err := r.signer.RedirectURL(target)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxShortCodeAttempts; attempt++ {
		code, err := r.shortCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}

		link := &domain.SendTrackedLink{
			SendID:        target.SendID,
			TrackedLinkID: target.LinkID,
			Kind:          kind,
			ShortCode:     code,
			RedirectURL:   redirectURL,
			SourceURL:     r.signer.BaseURL() + shortLinkPath + code,
			CreatedAt:     r.now().UTC(),
		}
		err = r.links.CreateSendLink(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to store short link: %w", err)
		}
		r.logger.Warn("short code taken, retrying",
			zap.String("trackedLinkId", target.LinkID),
			zap.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w: no free short code after %d attempts", domain.ErrConflict, maxShortCodeAttempts)
}

func findLinks(body string) [][]int {
	spans := linkPattern.FindAllStringIndex(body, -1)
	for _, span := range spans {
		for span[1] > span[0] && strings.ContainsRune(trailingPunctuation, rune(body[span[1]-1])) {
			span[1]--
		}
	}
	return spans
}

func distinctLinks(body string, spans [][]int) []string {
	seen := make(map[string]struct{}, len(spans))
	out := make([]string, 0, len(spans))
	for _, span := range spans {
		u := body[span[0]:span[1]]
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func replaceSpans(body string, spans [][]int, replacement string) string {
	var b strings.Builder
	b.Grow(len(body))

	prev := 0
	for _, span := range spans {
		b.WriteString(body[prev:span[0]])
		b.WriteString(replacement)
		prev = span[1]
	}
	b.WriteString(body[prev:])
	return b.String()
}

func generateShortCode(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(shortCodeCharset))))
		if err != nil {
			return "", err
		}
		b[i] = shortCodeCharset[num.Int64()]
	}
	return string(b), nil
}
