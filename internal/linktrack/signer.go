package linktrack

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const (
	redirectPath       = "/v1/redirect"
	defaultRedirectTTL = 365 * 24 * time.Hour

	claimCampaignID = "campaign_id"
	claimLinkID     = "link_id"
	claimSendID     = "send_id"
	claimKind       = "kind"
	claimKindValue  = "redirect"
)

// RedirectTarget names the send a redirect URL is minted for.
type RedirectTarget struct {
	CampaignID string
	LinkID     string
	SendID     string
}

// RedirectParams are the query parameters of a signed redirect URL.
type RedirectParams struct {
	CampaignID string
	LinkID     string
	SendID     string
	ValidUntil int64
	Signature  string
}

// ParseRedirectParams reads redirect parameters from a query string.
func ParseRedirectParams(q url.Values) (RedirectParams, error) {
	p := RedirectParams{
		CampaignID: strings.TrimSpace(q.Get("campaign_id")),
		LinkID:     strings.TrimSpace(q.Get("link_id")),
		SendID:     strings.TrimSpace(q.Get("send_id")),
		Signature:  strings.TrimSpace(q.Get("signature")),
	}
	validUntil, err := strconv.ParseInt(strings.TrimSpace(q.Get("valid_until")), 10, 64)
	if err != nil {
		return p, fmt.Errorf("%w: invalid valid_until", domain.ErrInvalidSignature)
	}
	p.ValidUntil = validUntil
	return p, nil
}

// Signer builds and verifies HS256-signed redirect URLs.
type Signer struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(key, baseURL string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("redirect signing key is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("public base url is required")
	}
	if ttl <= 0 {
		ttl = defaultRedirectTTL
	}

	return &Signer{
		key:     []byte(key),
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *Signer) BaseURL() string {
	return s.baseURL
}

// SetClock replaces the time source used to issue and check expiries.
func (s *Signer) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// RedirectURL returns {base}/v1/redirect?campaign_id=..&link_id=..&send_id=..&valid_until=..&signature=..
// Every query parameter is covered by the signature.
func (s *Signer) RedirectURL(target RedirectTarget) (string, error) {
	if target.CampaignID == "" || target.LinkID == "" || target.SendID == "" {
		return "", fmt.Errorf("%w: campaign, link and send are required to sign", domain.ErrValidation)
	}

	validUntil := s.now().Add(s.ttl).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimCampaignID: target.CampaignID,
		claimLinkID:     target.LinkID,
		claimSendID:     target.SendID,
		claimKind:       claimKindValue,
		"exp":           validUntil,
	})
	signature, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign redirect url: %w", err)
	}

	q := url.Values{}
	q.Set("campaign_id", target.CampaignID)
	q.Set("link_id", target.LinkID)
	q.Set("send_id", target.SendID)
	q.Set("valid_until", strconv.FormatInt(validUntil, 10))
	q.Set("signature", signature)

	return s.baseURL + redirectPath + "?" + q.Encode(), nil
}

// Verify checks that the signature was issued by this service for exactly
// these parameters and has not expired.
func (s *Signer) Verify(p RedirectParams) error {
	if p.Signature == "" || p.CampaignID == "" || p.LinkID == "" || p.SendID == "" {
		return fmt.Errorf("%w: missing redirect parameters", domain.ErrInvalidSignature)
	}

	parsed, err := jwt.Parse(p.Signature, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: link expired", domain.ErrInvalidSignature)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return domain.ErrInvalidSignature
	}

	if claims[claimKind] != claimKindValue ||
		claims[claimCampaignID] != p.CampaignID ||
		claims[claimLinkID] != p.LinkID ||
		claims[claimSendID] != p.SendID {
		return fmt.Errorf("%w: parameters do not match signature", domain.ErrInvalidSignature)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Unix() != p.ValidUntil {
		return fmt.Errorf("%w: valid_until does not match signature", domain.ErrInvalidSignature)
	}

	return nil
}
