package candidate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const (
	defaultClientTimeout = 10 * time.Second
	smartlistPageSize    = 500
	maxSmartlistPages    = 200
)

// Source loads the members of a smart list.
type Source interface {
	SmartlistCandidates(ctx context.Context, smartlistID string) ([]domain.Candidate, error)
}

type smartlistPage struct {
	Data []domain.Candidate `json:"data"`
	Meta struct {
		NextPage int `json:"nextPage"`
	} `json:"meta"`
}

// Client talks to the candidate service over HTTP.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultClientTimeout)
	return NewClientWithResty(baseURL, client)
}

func NewClientWithResty(baseURL string, client *resty.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("candidate service url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid candidate service url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	client.SetBaseURL(trimmed)
	client.SetHeader("Accept", "application/json")

	return &Client{client: client}, nil
}

// SmartlistCandidates follows the service's pagination until the last page.
func (c *Client) SmartlistCandidates(ctx context.Context, smartlistID string) ([]domain.Candidate, error) {
	if strings.TrimSpace(smartlistID) == "" {
		return nil, fmt.Errorf("%w: smartlist id is required", domain.ErrValidation)
	}

	var candidates []domain.Candidate
	page := 1
	for i := 0; i < maxSmartlistPages && page > 0; i++ {
		var result smartlistPage
		resp, err := c.client.R().
			SetContext(ctx).
			SetPathParam("id", smartlistID).
			SetQueryParam("page", fmt.Sprint(page)).
			SetQueryParam("pageSize", fmt.Sprint(smartlistPageSize)).
			SetResult(&result).
			Get("/v1/smartlists/{id}/candidates")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch smartlist %s: %w", smartlistID, err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, fmt.Errorf("%w: smartlist %s", domain.ErrNotFound, smartlistID)
		case resp.IsError():
			return nil, fmt.Errorf("candidate service returned status %d for smartlist %s", resp.StatusCode(), smartlistID)
		}

		candidates = append(candidates, result.Data...)
		page = result.Meta.NextPage
	}

	return candidates, nil
}

// MarkEmailsBounced flags addresses as undeliverable across every domain.
func (c *Client) MarkEmailsBounced(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string][]string{"emails": emails}).
		Post("/v1/emails/bounced")
	if err != nil {
		return fmt.Errorf("failed to mark emails bounced: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("candidate service returned status %d marking emails bounced", resp.StatusCode())
	}
	return nil
}
