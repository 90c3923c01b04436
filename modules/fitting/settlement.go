package fitting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
	"quel-fitting-server/modules/common/utils"
)

const (
	ledgerTransactionType = "generation"
	// unpaidTransactionType - Complete 이후 차감 실패. amount 0, 정산 대상
	unpaidTransactionType = "generation_unpaid"
	saveFailureMessage    = "Failed to save the generated image. Please try again."
)

// settlement - 정산 단계 입력
type settlement struct {
	rec        *Record
	refs       *ReferenceSet
	quote      Quote
	edits      EditOutcome
	advice     Advice
	prompt     PromptOutcome
	tokens     int
	attempts   int
	strategy   BackgroundStrategy
	regenerate string
}

// settle persists the artifact and charges the caller. Only the primary
// upload and Complete abort; every other write is logged and absorbed.
// The debit is never reached unless Complete succeeded.
func (p *Pipeline) settle(ctx context.Context, s settlement) (*Result, error) {
	defer metrics.ObserveStage("settlement")()
	rec := s.rec

	// 1. decode + thumbnail
	primary, primaryMime, thumb, err := utils.PrepareArtifact(s.edits.Image.Data, s.edits.Image.MimeType)
	if err != nil {
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Settlement] Final image could not be decoded")
		return nil, apperr.Internal(saveFailureMessage, fmt.Errorf("decode final image: %w", err))
	}

	// 2. upload
	stored, err := p.deps.Storage.UploadImage(ctx, rec.UserID, rec.ID, primary, primaryMime)
	if err != nil {
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Settlement] Primary upload failed")
		return nil, apperr.Internal(saveFailureMessage, fmt.Errorf("upload primary: %w", err))
	}

	var thumbPath, thumbURL *string
	if len(thumb) > 0 {
		if t, err := p.deps.Storage.UploadImage(ctx, rec.UserID, rec.ID, thumb, utils.MimeJPEG); err != nil {
			metrics.SettlementFailures.WithLabelValues("thumbnail").Inc()
			log.Warn().Err(err).Str("generation_id", rec.ID).Msg("⚠️  [Settlement] Thumbnail upload failed, continuing without it")
		} else {
			thumbPath, thumbURL = &t.Path, &t.PublicURL
		}
	}

	applied := s.edits.AppliedNames()

	// 3. result row
	result := &model.GenerationResult{
		ID:                     p.deps.NewID(),
		GenerationID:           rec.ID,
		UserID:                 rec.UserID,
		ImagePath:              stored.Path,
		ImageURL:               stored.PublicURL,
		ThumbnailPath:          thumbPath,
		ThumbnailURL:           thumbURL,
		AIEditsApplied:         applied,
		PoseCompatibilityScore: s.advice.Score,
		CreatedAt:              p.deps.Now().UTC(),
	}
	if s.regenerate != "" {
		reason := s.regenerate
		result.RegenerationReason = &reason
	}
	if err := p.deps.Records.SaveResult(ctx, result); err != nil {
		metrics.SettlementFailures.WithLabelValues("result").Inc()
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Settlement] Failed to write result row")
	}

	// 4. edit rows
	p.writeEditApplications(ctx, rec, s.edits.Applied, s.quote)

	// 5. completed
	output := map[string]interface{}{
		"tokensUsed":             s.tokens,
		"aiEditsApplied":         applied,
		"poseCompatibilityScore": s.advice.Score,
		"promptSource":           s.prompt.Source,
		"isMinor":                s.prompt.IsMinor,
		"backgroundStrategy":     s.strategy.String(),
		"synthesisAttempts":      s.attempts,
		"imagePath":              stored.Path,
	}
	if err := p.records.Complete(ctx, rec, output); err != nil {
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Settlement] Failed to finalize record")
		return nil, apperr.Internal(saveFailureMessage, err)
	}

	// 6. debit (exactly once, only after completed)
	charged := s.quote.Total
	remaining, err := p.deps.Ledger.Debit(ctx, rec.UserID, s.quote.Total)
	if err != nil {
		charged = 0
		metrics.SettlementFailures.WithLabelValues("debit").Inc()
		log.Error().Err(err).Str("generation_id", rec.ID).Str("user_id", rec.UserID).Int("amount", s.quote.Total).
			Msg("❌ [Settlement] Debit failed after completion")
		if bal, berr := p.deps.Ledger.Balance(ctx, rec.UserID); berr == nil {
			remaining = bal
		}
		p.appendUnpaidEntry(ctx, rec, s, remaining, err)
	} else {
		// 7. ledger entry
		p.appendLedgerEntry(ctx, rec, s, remaining)
	}

	log.Info().Str("generation_id", rec.ID).Int("credits_used", charged).Int("credits_remaining", remaining).
		Strs("edits", applied).Msg("💰 [Settlement] Generation settled")

	return &Result{
		GenerationID:     rec.ID,
		PreviewURL:       stored.PublicURL,
		ThumbnailURL:     thumbURL,
		CreditsUsed:      charged,
		CreditsRemaining: remaining,
		AIEditsApplied:   applied,
	}, nil
}

func (p *Pipeline) writeEditApplications(ctx context.Context, rec *Record, applied []model.EditKind, quote Quote) {
	for _, kind := range applied {
		toolID, err := p.deps.Refs.GetToolID(ctx, kind)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				log.Warn().Str("generation_id", rec.ID).Str("edit", string(kind)).Msg("⚠️  [Settlement] Tool id not found, skipping edit row")
			} else {
				metrics.SettlementFailures.WithLabelValues("edit_lookup").Inc()
				log.Error().Err(err).Str("generation_id", rec.ID).Str("edit", string(kind)).Msg("❌ [Settlement] Tool lookup failed")
			}
			continue
		}
		row := &model.EditApplication{
			ID:             p.deps.NewID(),
			GenerationID:   rec.ID,
			ToolID:         toolID,
			EditKind:       kind,
			CreditsCharged: quote.Breakdown[string(kind)],
			CreatedAt:      p.deps.Now().UTC(),
		}
		if err := p.deps.Records.SaveEditApplication(ctx, row); err != nil {
			metrics.SettlementFailures.WithLabelValues("edit_application").Inc()
			log.Error().Err(err).Str("generation_id", rec.ID).Str("edit", string(kind)).Msg("❌ [Settlement] Failed to write edit row")
		}
	}
}

func (p *Pipeline) appendLedgerEntry(ctx context.Context, rec *Record, s settlement, balanceAfter int) {
	entry := &model.CreditTransaction{
		ID:              p.deps.NewID(),
		UserID:          rec.UserID,
		GenerationID:    rec.ID,
		TransactionType: ledgerTransactionType,
		Amount:          -s.quote.Total,
		BalanceAfter:    balanceAfter,
		Description:     fmt.Sprintf("Fitting generation (%d credits)", s.quote.Total),
		Metadata: map[string]interface{}{
			"generationId":  rec.ID,
			"breakdown":     s.quote.Breakdown,
			"customization": customizationSnapshot(s.refs),
		},
		CreatedAt: p.deps.Now().UTC(),
	}
	if err := p.deps.Ledger.AppendEntry(ctx, entry); err != nil {
		metrics.SettlementFailures.WithLabelValues("ledger_entry").Inc()
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Settlement] Failed to append ledger entry")
	}
}

// appendUnpaidEntry records a completed generation that was never charged.
// The completed record is immutable, so the ledger row is the reconciliation marker.
func (p *Pipeline) appendUnpaidEntry(ctx context.Context, rec *Record, s settlement, balance int, debitErr error) {
	entry := &model.CreditTransaction{
		ID:              p.deps.NewID(),
		UserID:          rec.UserID,
		GenerationID:    rec.ID,
		TransactionType: unpaidTransactionType,
		Amount:          0,
		BalanceAfter:    balance,
		Description:     fmt.Sprintf("Fitting generation not charged (%d credits owed)", s.quote.Total),
		Metadata: map[string]interface{}{
			"generationId": rec.ID,
			"debited":      false,
			"debitError":   debitErr.Error(),
			"owed":         s.quote.Total,
			"breakdown":    s.quote.Breakdown,
		},
		CreatedAt: p.deps.Now().UTC(),
	}
	if err := p.deps.Ledger.AppendEntry(ctx, entry); err != nil {
		metrics.SettlementFailures.WithLabelValues("unpaid_entry").Inc()
		log.Error().Err(err).Str("generation_id", rec.ID).Int("owed", s.quote.Total).
			Msg("❌ [Settlement] Failed to record unpaid generation")
	}
}
