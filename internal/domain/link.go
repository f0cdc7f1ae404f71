package domain

import (
	"fmt"
	"strings"
	"time"
)

// LinkKind tells which body a tracked link was rewritten into.
type LinkKind string

const (
	LinkKindPlain     LinkKind = "PLAIN"
	LinkKindTextClick LinkKind = "TEXT_CLICK"
	LinkKindHTMLClick LinkKind = "HTML_CLICK"
)

func (k LinkKind) String() string { return string(k) }

func (k LinkKind) IsValid() bool {
	switch k {
	case LinkKindPlain, LinkKindTextClick, LinkKindHTMLClick:
		return true
	}
	return false
}

// TrackedLink is the single row per destination URL. Its hit counter covers
// every short link minted for it.
type TrackedLink struct {
	ID             string
	DestinationURL string
	HitCount       int
	LastHitAt      *time.Time
	CreatedAt      time.Time
}

// SendTrackedLink is the short link minted for one send. Its signed redirect
// names the send, so a click is credited to that send's blast and recipient.
type SendTrackedLink struct {
	SendID        string
	TrackedLinkID string
	Kind          LinkKind
	ShortCode     string
	RedirectURL   string
	SourceURL     string
	CreatedAt     time.Time
}

func (s SendTrackedLink) Validate() error {
	if s.SendID == "" || s.TrackedLinkID == "" {
		return fmt.Errorf("%w: send and tracked link are required", ErrValidation)
	}
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: invalid link kind %q", ErrValidation, s.Kind)
	}
	if strings.TrimSpace(s.ShortCode) == "" || strings.TrimSpace(s.RedirectURL) == "" {
		return fmt.Errorf("%w: short code and redirect url are required", ErrValidation)
	}
	return nil
}
