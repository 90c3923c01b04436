package fitting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
)

// compatibilityThreshold - 이 점수 미만이면 moderate
const compatibilityThreshold = 70

const genericGuidance = "Follow the pose reference closely and fit the garment naturally to the body."

// Advice - 포즈 호환성 평가 결과. Score 는 평가 실패 시 nil
type Advice struct {
	Score           *int
	Guidance        string
	PoseDescription string
}

// GuidanceSentence turns an assessment into the sentence appended to the
// synthesis instruction.
func GuidanceSentence(c *model.Compatibility) string {
	if c == nil {
		return genericGuidance
	}
	if c.Score < compatibilityThreshold {
		s := fmt.Sprintf("Garment and pose have moderate compatibility (%d/100).", c.Score)
		if adj := strings.TrimSpace(c.RecommendAdjustment); adj != "" {
			s += " Recommended adjustment: " + adj
		}
		return s
	}
	return fmt.Sprintf("Garment and pose have high compatibility (%d/100), follow exactly the pose reference.", c.Score)
}

// advise - best effort. 어떤 실패도 generic guidance 로 대체
func (p *Pipeline) advise(ctx context.Context, rec *Record, refs *ReferenceSet) Advice {
	defer metrics.ObserveStage("advisor")()

	desc := refs.PoseMeta.Description
	if strings.TrimSpace(desc) == "" {
		desc = p.deps.Gateway.DescribePose(ctx, refs.Pose, refs.PoseMeta.Category, refs.PoseMeta.Gender)
	}

	var garment model.Image
	var category, pieceType string
	if len(refs.Garments) > 0 {
		garment = refs.Garments[0]
		category = refs.Uploads[0].Category
		pieceType = refs.Uploads[0].PieceType
	}

	c := p.deps.Gateway.AssessCompatibility(ctx, garment, refs.Pose, category, pieceType, desc)
	advice := Advice{Guidance: GuidanceSentence(c), PoseDescription: desc}
	if c != nil {
		score := c.Score
		advice.Score = &score
		log.Info().Str("generation_id", rec.ID).Int("score", score).Msg("🧭 [Advisor] Pose compatibility assessed")
	} else {
		log.Warn().Str("generation_id", rec.ID).Msg("⚠️  [Advisor] Assessment unavailable, using generic guidance")
	}
	return advice
}
