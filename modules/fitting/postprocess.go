package fitting

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
)

const (
	removeBackgroundInstruction = "Remove the background completely. Keep the person and the garments exactly as they are, " +
		"including edges and hair detail, on a transparent or pure white background."
	addLogoInstruction = "Place the logo from the second image onto the first image as a small, clean brand mark in a corner. " +
		"Do not change the person, garments, pose or background."
	blendBackgroundInstruction = "Place the person from the first image into the scene of the second image. " +
		"Match lighting, perspective and shadows naturally. Do not change the person, garments or pose."
)

// EditOutcome - 후처리 결과. Applied 는 적용 순서
type EditOutcome struct {
	Image   model.Image
	Applied []model.EditKind
}

// AppliedNames - 응답/감사용 문자열 목록 (nil 대신 빈 slice)
func (o EditOutcome) AppliedNames() []string {
	names := make([]string, 0, len(o.Applied))
	for _, k := range o.Applied {
		names = append(names, string(k))
	}
	return names
}

func textBackgroundInstruction(description string) string {
	return "Replace the background of this image with: " + description +
		". Keep the person, garments and pose exactly as they are and match the lighting naturally."
}

// postProcess runs the enabled edits in order. A failed edit is left out of
// Applied and the current image stays as it was before that edit.
func (p *Pipeline) postProcess(ctx context.Context, rec *Record, img model.Image, refs *ReferenceSet, strategy BackgroundStrategy) EditOutcome {
	defer metrics.ObserveStage("postprocess")()

	out := EditOutcome{Image: img, Applied: []model.EditKind{}}
	tools := refs.Profile.AITools
	removed := false

	apply := func(kind model.EditKind, res model.ImageResult) bool {
		if !res.OK() {
			metrics.Edits.WithLabelValues(string(kind), "failed").Inc()
			log.Warn().Str("generation_id", rec.ID).Str("edit", string(kind)).Str("cause", res.Error).
				Msg("⚠️  [PostProcess] Edit failed, skipping")
			return false
		}
		metrics.Edits.WithLabelValues(string(kind), "applied").Inc()
		log.Info().Str("generation_id", rec.ID).Str("edit", string(kind)).Msg("✨ [PostProcess] Edit applied")
		out.Image = res.Image
		out.Applied = append(out.Applied, kind)
		return true
	}

	if tools.RemoveBackground {
		removed = apply(model.EditRemoveBackground, p.deps.Gateway.ApplyEdit(ctx, removeBackgroundInstruction, out.Image))
	}

	if tools.AddLogo {
		if refs.Logo == nil || refs.Logo.Empty() {
			metrics.Edits.WithLabelValues(string(model.EditAddLogo), "skipped").Inc()
			log.Info().Str("generation_id", rec.ID).Msg("ℹ️  [PostProcess] No logo asset, skipping add_logo")
		} else {
			apply(model.EditAddLogo, p.deps.Gateway.BlendImages(ctx, addLogoInstruction, []model.Image{out.Image, *refs.Logo}))
		}
	}

	switch strategy {
	case Integrated:
		// 합성 단계에서 이미 배경 반영됨
		metrics.Edits.WithLabelValues(string(model.EditChangeBackground), "integrated").Inc()
		out.Applied = append(out.Applied, model.EditChangeBackground)

	case DeferredEdit:
		if removed {
			metrics.Edits.WithLabelValues(string(model.EditChangeBackground), "skipped").Inc()
			log.Info().Str("generation_id", rec.ID).Msg("ℹ️  [PostProcess] Background removed, skipping change_background")
			break
		}
		if refs.Background != nil && !refs.Background.Empty() {
			apply(model.EditChangeBackground, p.deps.Gateway.BlendImages(ctx, blendBackgroundInstruction, []model.Image{out.Image, *refs.Background}))
			break
		}
		desc := strings.TrimSpace(refs.Profile.Background.Description)
		if desc == "" {
			metrics.Edits.WithLabelValues(string(model.EditChangeBackground), "skipped").Inc()
			log.Warn().Str("generation_id", rec.ID).Msg("⚠️  [PostProcess] No background image or description, skipping change_background")
			break
		}
		apply(model.EditChangeBackground, p.deps.Gateway.ApplyEdit(ctx, textBackgroundInstruction(desc), out.Image))
	}

	return out
}
