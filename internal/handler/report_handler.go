package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportService interface {
	ListBlasts(ctx context.Context, caller service.Caller, campaignID string, params repository.ListParams) ([]domain.Blast, int64, error)
	GetBlast(ctx context.Context, caller service.Caller, campaignID, blastID string) (*domain.Blast, error)
	ListBlastSends(ctx context.Context, caller service.Caller, campaignID, blastID string, params repository.ListParams) ([]domain.Send, int64, error)
	ListBlastReplies(ctx context.Context, caller service.Caller, campaignID, blastID string, params repository.ListParams) ([]domain.Reply, int64, error)
	ListBlastAttempts(ctx context.Context, caller service.Caller, campaignID, blastID string) ([]domain.DeliveryAttempt, error)
	ListCampaignSends(ctx context.Context, caller service.Caller, campaignID string, params repository.ListParams) ([]domain.Send, int64, error)
	ListCampaignReplies(ctx context.Context, caller service.Caller, campaignID string, params repository.ListParams) ([]domain.Reply, int64, error)
	ExportBlast(ctx context.Context, caller service.Caller, campaignID, blastID string) (string, []byte, error)
}

type ReportHandler struct {
	service ReportService
}

func NewReportHandler(service ReportService) (*ReportHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("report service is required")
	}
	return &ReportHandler{service: service}, nil
}

func RegisterReportRoutes(router fiber.Router, service ReportService) error {
	h, err := NewReportHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/campaigns/:id")
	v1.Get("/blasts", h.ListBlasts)
	v1.Get("/blasts/:blastId", h.GetBlast)
	v1.Get("/blasts/:blastId/sends", h.ListBlastSends)
	v1.Get("/blasts/:blastId/replies", h.ListBlastReplies)
	v1.Get("/blasts/:blastId/attempts", h.ListBlastAttempts)
	v1.Get("/blasts/:blastId/export", h.ExportBlast)
	v1.Get("/sends", h.ListCampaignSends)
	v1.Get("/replies", h.ListCampaignReplies)

	return nil
}

type blastResponse struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	Sends      int       `json:"sends"`
	Opens      int       `json:"opens"`
	Clicks     int       `json:"clicks"`
	Bounces    int       `json:"bounces"`
	Complaints int       `json:"complaints"`
	Replies    int       `json:"replies"`
	SentAt     time.Time `json:"sentAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type sendItemResponse struct {
	ID                string    `json:"id"`
	BlastID           string    `json:"blastId"`
	CandidateID       string    `json:"candidateId"`
	Channel           string    `json:"channel"`
	RecipientEndpoint string    `json:"recipient"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	IsBounced         bool      `json:"isBounced"`
	IsComplaint       bool      `json:"isComplaint"`
	SentAt            time.Time `json:"sentAt"`
}

type replyResponse struct {
	ID           string    `json:"id"`
	BlastID      *string   `json:"blastId,omitempty"`
	SendID       *string   `json:"sendId,omitempty"`
	CandidateID  *string   `json:"candidateId,omitempty"`
	Kind         string    `json:"kind"`
	FromEndpoint string    `json:"from"`
	ToEndpoint   string    `json:"to,omitempty"`
	Body         string    `json:"body,omitempty"`
	IsOrphan     bool      `json:"isOrphan"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

type attemptResponse struct {
	ID                string    `json:"id"`
	BlastID           string    `json:"blastId"`
	CandidateID       string    `json:"candidateId"`
	RecipientEndpoint string    `json:"recipient"`
	StatusCode        *int      `json:"statusCode,omitempty"`
	Error             string    `json:"error"`
	CreatedAt         time.Time `json:"createdAt"`
}

type attemptListResponse struct {
	Data []attemptResponse `json:"data"`
}

type reportRequest struct {
	caller     service.Caller
	campaignID string
	blastID    string
	params     repository.ListParams
}

func parseReportRequest(c *fiber.Ctx, paged bool) (reportRequest, error) {
	caller, err := callerFromHeaders(c)
	if err != nil {
		return reportRequest{}, err
	}
	req := reportRequest{
		caller:     caller,
		campaignID: strings.TrimSpace(c.Params("id")),
		blastID:    strings.TrimSpace(c.Params("blastId")),
	}
	if paged {
		req.params, err = parseListParams(c)
		if err != nil {
			return reportRequest{}, err
		}
	}
	return req, nil
}

func (h *ReportHandler) ListBlasts(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, true)
	if err != nil {
		return err
	}
	blasts, total, err := h.service.ListBlasts(c.Context(), req.caller, req.campaignID, req.params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(newListResponse(mapSlice(blasts, toBlastResponse), req.params, total))
}

func (h *ReportHandler) GetBlast(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, false)
	if err != nil {
		return err
	}
	blast, err := h.service.GetBlast(c.Context(), req.caller, req.campaignID, req.blastID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBlastResponse(*blast))
}

func (h *ReportHandler) ListBlastSends(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, true)
	if err != nil {
		return err
	}
	sends, total, err := h.service.ListBlastSends(c.Context(), req.caller, req.campaignID, req.blastID, req.params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(newListResponse(mapSlice(sends, toSendResponse), req.params, total))
}

func (h *ReportHandler) ListBlastReplies(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, true)
	if err != nil {
		return err
	}
	replies, total, err := h.service.ListBlastReplies(c.Context(), req.caller, req.campaignID, req.blastID, req.params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(newListResponse(mapSlice(replies, toReplyResponse), req.params, total))
}

func (h *ReportHandler) ListBlastAttempts(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, false)
	if err != nil {
		return err
	}
	attempts, err := h.service.ListBlastAttempts(c.Context(), req.caller, req.campaignID, req.blastID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(attemptListResponse{Data: mapSlice(attempts, toAttemptResponse)})
}

func (h *ReportHandler) ListCampaignSends(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, true)
	if err != nil {
		return err
	}
	sends, total, err := h.service.ListCampaignSends(c.Context(), req.caller, req.campaignID, req.params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(newListResponse(mapSlice(sends, toSendResponse), req.params, total))
}

func (h *ReportHandler) ListCampaignReplies(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, true)
	if err != nil {
		return err
	}
	replies, total, err := h.service.ListCampaignReplies(c.Context(), req.caller, req.campaignID, req.params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(newListResponse(mapSlice(replies, toReplyResponse), req.params, total))
}

func (h *ReportHandler) ExportBlast(c *fiber.Ctx) error {
	req, err := parseReportRequest(c, false)
	if err != nil {
		return err
	}
	filename, data, err := h.service.ExportBlast(c.Context(), req.caller, req.campaignID, req.blastID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Status(fiber.StatusOK).Send(data)
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}

func toBlastResponse(b domain.Blast) blastResponse {
	return blastResponse{
		ID:         b.ID,
		CampaignID: b.CampaignID,
		Sends:      b.Sends,
		Opens:      b.Opens,
		Clicks:     b.Clicks,
		Bounces:    b.Bounces,
		Complaints: b.Complaints,
		Replies:    b.Replies,
		SentAt:     b.SentAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toSendResponse(s domain.Send) sendItemResponse {
	return sendItemResponse{
		ID:                s.ID,
		BlastID:           s.BlastID,
		CandidateID:       s.CandidateID,
		Channel:           s.Channel.String(),
		RecipientEndpoint: s.RecipientEndpoint,
		ProviderMessageID: s.ProviderMessageID,
		IsBounced:         s.IsBounced,
		IsComplaint:       s.IsComplaint,
		SentAt:            s.SentAt,
	}
}

func toAttemptResponse(a domain.DeliveryAttempt) attemptResponse {
	return attemptResponse{
		ID:                a.ID,
		BlastID:           a.BlastID,
		CandidateID:       a.CandidateID,
		RecipientEndpoint: a.RecipientEndpoint,
		StatusCode:        a.StatusCode,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
}

func toReplyResponse(r domain.Reply) replyResponse {
	return replyResponse{
		ID:           r.ID,
		BlastID:      r.BlastID,
		SendID:       r.SendID,
		CandidateID:  r.CandidateID,
		Kind:         r.Kind.String(),
		FromEndpoint: r.FromEndpoint,
		ToEndpoint:   r.ToEndpoint,
		Body:         r.Body,
		IsOrphan:     r.IsOrphan,
		ReceivedAt:   r.ReceivedAt,
	}
}
