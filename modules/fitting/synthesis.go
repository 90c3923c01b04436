package fitting

import (
	"context"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
)

// maxSynthesisAttempts - primary synthesis provider 호출 상한
const maxSynthesisAttempts = 2

const synthesisRetryMessage = "Image generation failed. Please try again."

// BackgroundStrategy - 배경 합성 방식. 합성 전에 한 번만 결정
type BackgroundStrategy int

const (
	NoBackground BackgroundStrategy = iota
	Integrated
	DeferredEdit
)

func (s BackgroundStrategy) String() string {
	switch s {
	case Integrated:
		return "integrated"
	case DeferredEdit:
		return "deferred_edit"
	default:
		return "none"
	}
}

// DecideBackground picks the compositing strategy. Integrated requires an
// enabled background change, the integrated option, and a concrete image
// reference that is not a description-only AI background.
func DecideBackground(profile model.Customization, background *model.Image) BackgroundStrategy {
	bg := profile.Background
	if !profile.AITools.ChangeBackground || bg.Mode == "" || bg.Mode == model.BackgroundOriginal {
		return NoBackground
	}
	if bg.Integrated && bg.Mode != model.BackgroundAIDescription && background != nil && !background.Empty() {
		return Integrated
	}
	return DeferredEdit
}

// synthesize - 최대 2회 시도. 성공 = Success && 이미지 바이트 존재.
// 소진 시 마지막 실패 결과를 반환
func (p *Pipeline) synthesize(ctx context.Context, rec *Record, instruction string, refs *ReferenceSet, strategy BackgroundStrategy) (model.ImageResult, int) {
	defer metrics.ObserveStage("synthesis")()

	req := model.SynthesisRequest{
		Instruction: instruction,
		Garments:    refs.Garments,
		Pose:        refs.Pose,
		AspectRatio: refs.Profile.AspectRatio,
	}
	if strategy == Integrated {
		req.Background = refs.Background
	}

	var last model.ImageResult
	for attempt := 1; attempt <= maxSynthesisAttempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			break
		}
		last = p.deps.Gateway.SynthesizeImage(ctx, req)
		if last.OK() {
			metrics.SynthesisAttempts.WithLabelValues("success").Inc()
			log.Info().Str("generation_id", rec.ID).Int("attempt", attempt).Int("bytes", len(last.Image.Data)).Msg("✅ [Synthesis] Image generated")
			return last, attempt
		}
		metrics.SynthesisAttempts.WithLabelValues("failure").Inc()
		log.Warn().Str("generation_id", rec.ID).Int("attempt", attempt).Int("max", maxSynthesisAttempts).
			Str("cause", last.Error).Msg("⚠️  [Synthesis] Attempt failed")
	}
	last.Success = false
	if last.Error == "" {
		last.Error = synthesisRetryMessage
	}
	return last, maxSynthesisAttempts
}
