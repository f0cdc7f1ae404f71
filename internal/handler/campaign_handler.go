package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, caller service.Caller, campaign *domain.Campaign) (*domain.Campaign, error)
	Get(ctx context.Context, caller service.Caller, id string) (*domain.Campaign, error)
	Edit(ctx context.Context, caller service.Caller, id string, edit domain.CampaignEdit) (*domain.Campaign, error)
	Hide(ctx context.Context, caller service.Caller, id string) error
	SetSmartlists(ctx context.Context, caller service.Caller, id string, smartlistIDs []string) ([]string, error)
	Schedule(ctx context.Context, caller service.Caller, id string, schedule domain.Schedule) (*domain.Campaign, error)
	Unschedule(ctx context.Context, caller service.Caller, id string) error
	Send(ctx context.Context, caller service.Caller, id string) (*service.SendOutcome, error)
}

type CampaignHandler struct {
	service   CampaignService
	validator *validator.Validate
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service, validator: validator.New()}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Patch("/campaigns/:id", h.EditCampaign)
	v1.Delete("/campaigns/:id", h.HideCampaign)
	v1.Put("/campaigns/:id/smartlists", h.SetSmartlists)
	v1.Post("/campaigns/:id/schedule", h.ScheduleCampaign)
	v1.Delete("/campaigns/:id/schedule", h.UnscheduleCampaign)
	v1.Post("/campaigns/:id/send", h.SendCampaign)

	return nil
}

type scheduleRequest struct {
	StartAt   time.Time  `json:"startAt" validate:"required"`
	EndAt     *time.Time `json:"endAt"`
	Frequency string     `json:"frequency" validate:"required"`
}

type createCampaignRequest struct {
	Channel  string           `json:"channel" validate:"required"`
	Name     string           `json:"name" validate:"required,max=255"`
	Subject  string           `json:"subject" validate:"max=998"`
	BodyText string           `json:"bodyText"`
	BodyHTML string           `json:"bodyHtml"`
	Schedule *scheduleRequest `json:"schedule" validate:"omitempty"`
}

type editCampaignRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=255"`
	Subject  *string `json:"subject" validate:"omitempty,max=998"`
	BodyText *string `json:"bodyText"`
	BodyHTML *string `json:"bodyHtml"`
}

type smartlistsRequest struct {
	SmartlistIDs []string `json:"smartlistIds" validate:"dive,required"`
}

type scheduleResponse struct {
	StartAt   time.Time  `json:"startAt"`
	EndAt     *time.Time `json:"endAt,omitempty"`
	Frequency string     `json:"frequency"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

type campaignResponse struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	DomainID  string            `json:"domainId"`
	Channel   string            `json:"channel"`
	Name      string            `json:"name"`
	Subject   string            `json:"subject,omitempty"`
	BodyText  string            `json:"bodyText,omitempty"`
	BodyHTML  string            `json:"bodyHtml,omitempty"`
	Schedule  *scheduleResponse `json:"schedule,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

type sendResponse struct {
	TotalSends int    `json:"total_sends"`
	Message    string `json:"message"`
	BlastID    string `json:"blast_id"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	var req createCampaignRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}

	campaign, err := requestToDomainCampaign(req)
	if err != nil {
		return err
	}

	created, err := h.service.Create(c.Context(), caller, campaign)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	campaign, err := h.service.Get(c.Context(), caller, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) EditCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	var req editCampaignRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}

	edit := domain.CampaignEdit{
		Name:     req.Name,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}
	campaign, err := h.service.Edit(c.Context(), caller, strings.TrimSpace(c.Params("id")), edit)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) HideCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	if err := h.service.Hide(c.Context(), caller, strings.TrimSpace(c.Params("id"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) SetSmartlists(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	var req smartlistsRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	smartlistIDs, err := h.service.SetSmartlists(c.Context(), caller, id, req.SmartlistIDs)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId":   id,
		"smartlistIds": smartlistIDs,
	})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	var req scheduleRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}

	schedule, err := requestToDomainSchedule(req)
	if err != nil {
		return err
	}
	campaign, err := h.service.Schedule(c.Context(), caller, strings.TrimSpace(c.Params("id")), *schedule)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) UnscheduleCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	if err := h.service.Unschedule(c.Context(), caller, strings.TrimSpace(c.Params("id"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) SendCampaign(c *fiber.Ctx) error {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return err
	}

	outcome, err := h.service.Send(c.Context(), caller, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}

	if outcome.Accepted {
		return c.Status(fiber.StatusOK).JSON(sendResponse{Message: "campaign queued for dispatch", BlastID: outcome.BlastID})
	}

	resp := sendResponse{Message: "campaign sent"}
	if outcome.Result != nil {
		resp.TotalSends = outcome.Result.TotalSends
		resp.BlastID = outcome.Result.BlastID
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func requestToDomainCampaign(req createCampaignRequest) (*domain.Campaign, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return nil, err
	}

	campaign := &domain.Campaign{
		Channel:  channel,
		Name:     req.Name,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}
	if req.Schedule != nil {
		campaign.Schedule, err = requestToDomainSchedule(*req.Schedule)
		if err != nil {
			return nil, err
		}
	}
	return campaign, nil
}

func requestToDomainSchedule(req scheduleRequest) (*domain.Schedule, error) {
	frequency, err := domain.ParseFrequencyFromString(req.Frequency)
	if err != nil {
		return nil, err
	}

	schedule := &domain.Schedule{
		StartAt:   req.StartAt.UTC(),
		Frequency: frequency,
	}
	if req.EndAt != nil {
		end := req.EndAt.UTC()
		schedule.EndAt = &end
	}
	return schedule, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	resp := campaignResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		DomainID:  c.DomainID,
		Channel:   c.Channel.String(),
		Name:      c.Name,
		Subject:   c.Subject,
		BodyText:  c.BodyText,
		BodyHTML:  c.BodyHTML,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Schedule != nil {
		resp.Schedule = &scheduleResponse{
			StartAt:   c.Schedule.StartAt,
			EndAt:     c.Schedule.EndAt,
			Frequency: c.Schedule.Frequency.String(),
			NextRunAt: c.Schedule.NextRunAt,
		}
	}
	return resp
}
