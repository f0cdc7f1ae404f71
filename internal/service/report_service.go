package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/xuri/excelize/v2"
)

const (
	exportPageSize = 100
	maxExportPages = 1000
	sendsSheet     = "sends"
	summarySheet   = "summary"
)

// ReportService serves read-only blast statistics scoped to the caller's domain.
type ReportService struct {
	campaigns repository.CampaignRepository
	blasts    repository.BlastRepository
	sends     repository.SendRepository
	replies   repository.ReplyRepository
	attempts  repository.AttemptRepository
}

func NewReportService(
	campaigns repository.CampaignRepository,
	blasts repository.BlastRepository,
	sends repository.SendRepository,
	replies repository.ReplyRepository,
	attempts repository.AttemptRepository,
) (*ReportService, error) {
	switch {
	case campaigns == nil:
		return nil, fmt.Errorf("campaign repository is required")
	case blasts == nil:
		return nil, fmt.Errorf("blast repository is required")
	case sends == nil:
		return nil, fmt.Errorf("send repository is required")
	case replies == nil:
		return nil, fmt.Errorf("reply repository is required")
	case attempts == nil:
		return nil, fmt.Errorf("attempt repository is required")
	}

	return &ReportService{
		campaigns: campaigns,
		blasts:    blasts,
		sends:     sends,
		replies:   replies,
		attempts:  attempts,
	}, nil
}

func (s *ReportService) ListBlasts(ctx context.Context, caller Caller, campaignID string, params repository.ListParams) ([]domain.Blast, int64, error) {
	if _, err := ownedCampaign(ctx, s.campaigns, caller, campaignID); err != nil {
		return nil, 0, err
	}
	return s.blasts.ListByCampaign(ctx, campaignID, params)
}

func (s *ReportService) GetBlast(ctx context.Context, caller Caller, campaignID, blastID string) (*domain.Blast, error) {
	if _, err := ownedCampaign(ctx, s.campaigns, caller, campaignID); err != nil {
		return nil, err
	}
	return s.blastOf(ctx, campaignID, blastID)
}

func (s *ReportService) ListBlastSends(ctx context.Context, caller Caller, campaignID, blastID string, params repository.ListParams) ([]domain.Send, int64, error) {
	if _, err := s.GetBlast(ctx, caller, campaignID, blastID); err != nil {
		return nil, 0, err
	}
	return s.sends.ListByBlast(ctx, blastID, params)
}

// ListBlastAttempts returns the failed deliveries of a blast, oldest first.
func (s *ReportService) ListBlastAttempts(ctx context.Context, caller Caller, campaignID, blastID string) ([]domain.DeliveryAttempt, error) {
	if _, err := s.GetBlast(ctx, caller, campaignID, blastID); err != nil {
		return nil, err
	}
	return s.attempts.ListByBlast(ctx, blastID)
}

func (s *ReportService) ListBlastReplies(ctx context.Context, caller Caller, campaignID, blastID string, params repository.ListParams) ([]domain.Reply, int64, error) {
	if _, err := s.GetBlast(ctx, caller, campaignID, blastID); err != nil {
		return nil, 0, err
	}
	return s.replies.ListByBlast(ctx, blastID, params)
}

func (s *ReportService) ListCampaignSends(ctx context.Context, caller Caller, campaignID string, params repository.ListParams) ([]domain.Send, int64, error) {
	if _, err := ownedCampaign(ctx, s.campaigns, caller, campaignID); err != nil {
		return nil, 0, err
	}
	return s.sends.ListByCampaign(ctx, campaignID, params)
}

func (s *ReportService) ListCampaignReplies(ctx context.Context, caller Caller, campaignID string, params repository.ListParams) ([]domain.Reply, int64, error) {
	if _, err := ownedCampaign(ctx, s.campaigns, caller, campaignID); err != nil {
		return nil, 0, err
	}
	return s.replies.ListByCampaign(ctx, campaignID, params)
}

// ExportBlast renders the blast counters and every send as an xlsx workbook.
func (s *ReportService) ExportBlast(ctx context.Context, caller Caller, campaignID, blastID string) (string, []byte, error) {
	campaign, err := ownedCampaign(ctx, s.campaigns, caller, campaignID)
	if err != nil {
		return "", nil, err
	}
	blast, err := s.blastOf(ctx, campaignID, blastID)
	if err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), sendsSheet); err != nil {
		return "", nil, fmt.Errorf("failed to prepare workbook: %w", err)
	}
	header := []string{"send_id", "candidate_id", "channel", "recipient", "provider_message_id", "bounced", "complaint", "sent_at"}
	if err := xl.SetSheetRow(sendsSheet, "A1", &header); err != nil {
		return "", nil, fmt.Errorf("failed to write header: %w", err)
	}

	row := 2
	for page := 1; page <= maxExportPages; page++ {
		sends, total, err := s.sends.ListByBlast(ctx, blastID, repository.ListParams{Page: page, PageSize: exportPageSize})
		if err != nil {
			return "", nil, err
		}
		for _, send := range sends {
			messageID := ""
			if send.ProviderMessageID != nil {
				messageID = *send.ProviderMessageID
			}
			record := []string{
				send.ID,
				send.CandidateID,
				send.Channel.String(),
				send.RecipientEndpoint,
				messageID,
				strconv.FormatBool(send.IsBounced),
				strconv.FormatBool(send.IsComplaint),
				send.SentAt.UTC().Format(time.RFC3339),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			if err := xl.SetSheetRow(sendsSheet, cellRef, &record); err != nil {
				return "", nil, fmt.Errorf("failed to write send row: %w", err)
			}
			row++
		}
		if len(sends) == 0 || int64(row-2) >= total {
			break
		}
	}

	if _, err := xl.NewSheet(summarySheet); err != nil {
		return "", nil, fmt.Errorf("failed to add summary sheet: %w", err)
	}
	summary := [][]any{
		{"campaign", campaign.Name},
		{"channel", campaign.Channel.String()},
		{"blast_id", blast.ID},
		{"sent_at", blast.SentAt.UTC().Format(time.RFC3339)},
		{"sends", blast.Sends},
		{"clicks", blast.Clicks},
		{"opens", blast.Opens},
		{"replies", blast.Replies},
		{"bounces", blast.Bounces},
		{"complaints", blast.Complaints},
	}
	for i, values := range summary {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cellRef, &values); err != nil {
			return "", nil, fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return fmt.Sprintf("blast_%s.xlsx", blast.ID), buf.Bytes(), nil
}

func (s *ReportService) blastOf(ctx context.Context, campaignID, blastID string) (*domain.Blast, error) {
	blast, err := s.blasts.GetByID(ctx, blastID)
	if err != nil {
		return nil, err
	}
	if blast.CampaignID != campaignID {
		return nil, fmt.Errorf("%w: blast %s", domain.ErrNotFound, blastID)
	}
	return blast, nil
}
