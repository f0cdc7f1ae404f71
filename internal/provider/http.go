package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultProviderTimeout = 10 * time.Second

// Header names checked, in order, when the response body carries no id.
var messageIDHeaders = []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"}

type sendRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Channel string `json:"channel"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

type sendResponse struct {
	ID        string `json:"id"`
	SID       string `json:"sid"`
	MessageID string `json:"messageId"`
}

func (r sendResponse) firstID() string {
	for _, id := range []string{r.MessageID, r.SID, r.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

type HTTPProviderConfig struct {
	Endpoint  string
	AccountID string
	AuthToken string
	Sender    string
}

func (c HTTPProviderConfig) validate() (string, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	switch {
	case endpoint == "":
		return "", errors.New("provider endpoint is required")
	case strings.TrimSpace(c.AccountID) == "", strings.TrimSpace(c.AuthToken) == "":
		return "", errors.New("provider account id and auth token are required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid provider endpoint: %w", err)
	}
	return endpoint, nil
}

// HTTPProvider posts messages to a JSON messaging API using basic auth with
// the account id and auth token. Retries are left to the dispatcher.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	sender   string
}

func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	return NewHTTPProviderWithClient(cfg, resty.New().SetTimeout(defaultProviderTimeout))
}

func NewHTTPProviderWithClient(cfg HTTPProviderConfig, client *resty.Client) (*HTTPProvider, error) {
	if client == nil {
		return nil, errors.New("resty client is required")
	}
	endpoint, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.
		SetRetryCount(0).
		SetBasicAuth(cfg.AccountID, cfg.AuthToken).
		SetHeader("Content-Type", "application/json")

	return &HTTPProvider{
		client:   client,
		endpoint: endpoint,
		sender:   strings.TrimSpace(cfg.Sender),
	}, nil
}

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, errors.New("provider is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetBody(p.newSendRequest(msg)).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	return classifyResponse(response)
}

func (p *HTTPProvider) newSendRequest(msg Message) sendRequest {
	return sendRequest{
		To:      msg.To,
		From:    p.sender,
		Channel: strings.ToLower(msg.Channel.String()),
		Subject: msg.Subject,
		Text:    msg.BodyText,
		HTML:    msg.BodyHTML,
	}
}

// classifyResponse turns a 2xx into a ProviderResponse and anything else into
// a ProviderError; 429 and 5xx are transient.
func classifyResponse(response *resty.Response) (*ProviderResponse, error) {
	if response == nil {
		return nil, &ProviderError{Message: "provider returned empty response", Transient: true}
	}

	status := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		message := fmt.Sprintf("provider returned status %d", status)
		if body != "" {
			message += ": " + body
		}
		return nil, &ProviderError{
			StatusCode: status,
			Message:    message,
			Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		}
	}

	return &ProviderResponse{
		StatusCode: status,
		Body:       body,
		MessageID:  messageID(response),
	}, nil
}

func messageID(response *resty.Response) string {
	var parsed sendResponse
	if json.Unmarshal(response.Body(), &parsed) == nil {
		if id := parsed.firstID(); id != "" {
			return id
		}
	}
	for _, key := range messageIDHeaders {
		if id := strings.TrimSpace(response.Header().Get(key)); id != "" {
			return id
		}
	}
	return ""
}
