package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type stubCampaignService struct {
	createFn        func(ctx context.Context, caller service.Caller, c *domain.Campaign) (*domain.Campaign, error)
	getFn           func(ctx context.Context, caller service.Caller, id string) (*domain.Campaign, error)
	editFn          func(ctx context.Context, caller service.Caller, id string, edit domain.CampaignEdit) (*domain.Campaign, error)
	hideFn          func(ctx context.Context, caller service.Caller, id string) error
	setSmartlistsFn func(ctx context.Context, caller service.Caller, id string, ids []string) ([]string, error)
	scheduleFn      func(ctx context.Context, caller service.Caller, id string, s domain.Schedule) (*domain.Campaign, error)
	unscheduleFn    func(ctx context.Context, caller service.Caller, id string) error
	sendFn          func(ctx context.Context, caller service.Caller, id string) (*service.SendOutcome, error)
}

func (s *stubCampaignService) Create(ctx context.Context, caller service.Caller, c *domain.Campaign) (*domain.Campaign, error) {
	if s.createFn == nil {
		return nil, fmt.Errorf("unexpected Create call")
	}
	return s.createFn(ctx, caller, c)
}

func (s *stubCampaignService) Get(ctx context.Context, caller service.Caller, id string) (*domain.Campaign, error) {
	if s.getFn == nil {
		return nil, fmt.Errorf("unexpected Get call")
	}
	return s.getFn(ctx, caller, id)
}

func (s *stubCampaignService) Edit(ctx context.Context, caller service.Caller, id string, edit domain.CampaignEdit) (*domain.Campaign, error) {
	if s.editFn == nil {
		return nil, fmt.Errorf("unexpected Edit call")
	}
	return s.editFn(ctx, caller, id, edit)
}

func (s *stubCampaignService) Hide(ctx context.Context, caller service.Caller, id string) error {
	if s.hideFn == nil {
		return fmt.Errorf("unexpected Hide call")
	}
	return s.hideFn(ctx, caller, id)
}

func (s *stubCampaignService) SetSmartlists(ctx context.Context, caller service.Caller, id string, ids []string) ([]string, error) {
	if s.setSmartlistsFn == nil {
		return nil, fmt.Errorf("unexpected SetSmartlists call")
	}
	return s.setSmartlistsFn(ctx, caller, id, ids)
}

func (s *stubCampaignService) Schedule(ctx context.Context, caller service.Caller, id string, schedule domain.Schedule) (*domain.Campaign, error) {
	if s.scheduleFn == nil {
		return nil, fmt.Errorf("unexpected Schedule call")
	}
	return s.scheduleFn(ctx, caller, id, schedule)
}

func (s *stubCampaignService) Unschedule(ctx context.Context, caller service.Caller, id string) error {
	if s.unscheduleFn == nil {
		return fmt.Errorf("unexpected Unschedule call")
	}
	return s.unscheduleFn(ctx, caller, id)
}

func (s *stubCampaignService) Send(ctx context.Context, caller service.Caller, id string) (*service.SendOutcome, error) {
	if s.sendFn == nil {
		return nil, fmt.Errorf("unexpected Send call")
	}
	return s.sendFn(ctx, caller, id)
}

func newCampaignTestApp(t *testing.T, svc CampaignService) *fiber.App {
	t.Helper()
	return newTestApp(t, func(app *fiber.App) error { return RegisterCampaignRoutes(app, svc) })
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var parsed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, body)
	}
	return parsed.Error.Code
}

func TestCampaignIntegration_Create(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		createFn: func(ctx context.Context, caller service.Caller, c *domain.Campaign) (*domain.Campaign, error) {
			if caller.UserID != "u1" || caller.DomainID != "d1" {
				t.Errorf("caller = %+v", caller)
			}
			if err := (&domain.Campaign{UserID: caller.UserID, DomainID: caller.DomainID, Channel: c.Channel, Name: c.Name, BodyText: c.BodyText, Subject: c.Subject, Schedule: c.Schedule}).Validate(); err != nil {
				return nil, err
			}
			c.ID = "camp-1"
			c.UserID, c.DomainID = caller.UserID, caller.DomainID
			return c, nil
		},
	}
	app := newCampaignTestApp(t, svc)

	body := `{"channel":"sms","name":"Spring hiring","bodyText":"Visit http://x.example/offer","schedule":{"startAt":"2026-05-01T09:00:00Z","frequency":"daily"}}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/campaigns", body, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, respBody)
	}

	var created map[string]any
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != "camp-1" || created["channel"] != "SMS" {
		t.Fatalf("created = %v", created)
	}
	schedule, _ := created["schedule"].(map[string]any)
	if schedule["frequency"] != "DAILY" {
		t.Fatalf("schedule = %v", created["schedule"])
	}

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "missing name", body: `{"channel":"sms","bodyText":"hi"}`, wantCode: "VALIDATION_ERROR"},
		{name: "bad channel", body: `{"channel":"fax","name":"x","bodyText":"hi"}`, wantCode: "VALIDATION_ERROR"},
		{name: "sms overflow", body: fmt.Sprintf(`{"channel":"sms","name":"x","bodyText":"%s"}`, strings.Repeat("a", domain.MaxSMSBody+1)), wantCode: "VALIDATION_ERROR"},
		{name: "bad schedule frequency", body: `{"channel":"sms","name":"x","bodyText":"hi","schedule":{"startAt":"2026-05-01T09:00:00Z","frequency":"hourly"}}`, wantCode: "VALIDATION_ERROR"},
		{name: "malformed json", body: `{"channel":`, wantCode: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		resp, respBody := performRequest(t, app, http.MethodPost, "/v1/campaigns", tt.body, withCaller("u1", "d1"))
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", tt.name, resp.StatusCode, respBody)
		}
		if got := errorCode(t, respBody); got != tt.wantCode {
			t.Fatalf("%s: code = %q, want %q", tt.name, got, tt.wantCode)
		}
	}
}

func TestCampaignIntegration_RequiresCallerHeaders(t *testing.T) {
	t.Parallel()

	app := newCampaignTestApp(t, &stubCampaignService{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/campaigns/camp-1", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCampaignIntegration_GetMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "not found", err: domain.ErrNotFound, wantStatus: fiber.StatusNotFound},
		{name: "other domain", err: fmt.Errorf("%w: campaign camp-1", domain.ErrForbidden), wantStatus: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newCampaignTestApp(t, &stubCampaignService{
				getFn: func(ctx context.Context, caller service.Caller, id string) (*domain.Campaign, error) {
					return nil, tt.err
				},
			})
			resp, body := performRequest(t, app, http.MethodGet, "/v1/campaigns/camp-1", "", withCaller("u1", "d1"))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestCampaignIntegration_EditHideAndSmartlists(t *testing.T) {
	t.Parallel()

	var gotEdit domain.CampaignEdit
	var hidden string
	svc := &stubCampaignService{
		editFn: func(ctx context.Context, caller service.Caller, id string, edit domain.CampaignEdit) (*domain.Campaign, error) {
			gotEdit = edit
			return &domain.Campaign{ID: id, Channel: domain.ChannelSMS, Name: *edit.Name}, nil
		},
		hideFn: func(ctx context.Context, caller service.Caller, id string) error {
			hidden = id
			return nil
		},
		setSmartlistsFn: func(ctx context.Context, caller service.Caller, id string, ids []string) ([]string, error) {
			if len(ids) > 2 {
				return nil, fmt.Errorf("%w: smartlists cannot change after the campaign was sent", domain.ErrValidation)
			}
			return ids, nil
		},
	}
	app := newCampaignTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPatch, "/v1/campaigns/camp-1", `{"name":"Renamed"}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("PATCH status = %d, body=%s", resp.StatusCode, body)
	}
	if gotEdit.Name == nil || *gotEdit.Name != "Renamed" || gotEdit.BodyText != nil {
		t.Fatalf("edit = %+v", gotEdit)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/campaigns/camp-1", "", withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusNoContent || hidden != "camp-1" {
		t.Fatalf("DELETE status = %d, hidden = %q", resp.StatusCode, hidden)
	}

	resp, body = performRequest(t, app, http.MethodPut, "/v1/campaigns/camp-1/smartlists", `{"smartlistIds":["sl-1","sl-2"]}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("PUT status = %d, body=%s", resp.StatusCode, body)
	}
	resp, _ = performRequest(t, app, http.MethodPut, "/v1/campaigns/camp-1/smartlists", `{"smartlistIds":["a","b","c"]}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("PUT frozen status = %d, want 400", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodPut, "/v1/campaigns/camp-1/smartlists", `{"smartlistIds":[""]}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("PUT blank id status = %d, want 400", resp.StatusCode)
	}
}

func TestCampaignIntegration_Schedule(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubCampaignService{
		scheduleFn: func(ctx context.Context, caller service.Caller, id string, s domain.Schedule) (*domain.Campaign, error) {
			if !s.StartAt.Equal(start) || s.Frequency != domain.FrequencyWeekly {
				t.Errorf("schedule = %+v", s)
			}
			next := s.StartAt
			s.NextRunAt = &next
			return &domain.Campaign{ID: id, Channel: domain.ChannelSMS, Schedule: &s}, nil
		},
		unscheduleFn: func(ctx context.Context, caller service.Caller, id string) error { return nil },
	}
	app := newCampaignTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/schedule", `{"startAt":"2026-05-01T09:00:00Z","frequency":"WEEKLY"}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"nextRunAt":"2026-05-01T09:00:00Z"`) {
		t.Fatalf("body = %s, want nextRunAt", body)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/schedule", `{"frequency":"WEEKLY"}`, withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing startAt status = %d, want 400", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/campaigns/camp-1/schedule", "", withCaller("u1", "d1"))
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unschedule status = %d, want 204", resp.StatusCode)
	}
}

func TestCampaignIntegration_Send(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		outcome    *service.SendOutcome
		err        error
		wantStatus int
		wantBody   sendResponse
		wantCode   string
	}{
		{
			name:       "sync dispatch",
			outcome:    &service.SendOutcome{Result: &service.DispatchResult{BlastID: "blast-1", TotalSends: 2}},
			wantStatus: fiber.StatusOK,
			wantBody:   sendResponse{TotalSends: 2, Message: "campaign sent", BlastID: "blast-1"},
		},
		{
			name:       "async dispatch",
			outcome:    &service.SendOutcome{Accepted: true, BlastID: "blast-q"},
			wantStatus: fiber.StatusOK,
			wantBody:   sendResponse{Message: "campaign queued for dispatch", BlastID: "blast-q"},
		},
		{
			name:       "no smart lists",
			outcome:    &service.SendOutcome{Result: &service.DispatchResult{BlastID: "blast-2"}},
			err:        domain.ErrNoRecipientSource,
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "NO_RECIPIENT_SOURCE",
		},
		{
			name:       "no valid recipient",
			err:        domain.ErrNoValidRecipient,
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "NO_VALID_RECIPIENT",
		},
		{
			name:       "unknown campaign",
			err:        domain.ErrNotFound,
			wantStatus: fiber.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newCampaignTestApp(t, &stubCampaignService{
				sendFn: func(ctx context.Context, caller service.Caller, id string) (*service.SendOutcome, error) {
					return tt.outcome, tt.err
				},
			})

			resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/send", "", withCaller("u1", "d1"))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantCode != "" {
				if got := errorCode(t, body); got != tt.wantCode {
					t.Fatalf("code = %q, want %q", got, tt.wantCode)
				}
				return
			}

			var got sendResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if got != tt.wantBody {
				t.Fatalf("body = %+v, want %+v", got, tt.wantBody)
			}
		})
	}
}
