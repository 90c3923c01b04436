package fitting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/fallback"
	"quel-fitting-server/modules/common/gemini"
	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/model"
)

// FixedTemplateSource - 미성년자 분기에서 저장되는 source 태그
const FixedTemplateSource = "fixed-template-minor"

const (
	safetyUserMessage     = "We couldn't create this image with the selected options. Please adjust your selection and try again."
	processingUserMessage = "Something went wrong while preparing your image. Please try again."
)

// Brief background modes
const (
	briefBackgroundDisabled    = "disabled"
	briefBackgroundOriginal    = "original"
	briefBackgroundReference   = "custom_reference"
	briefBackgroundDescription = "custom_description"
)

// minorBuckets - 18세 미만 연령대 표기
var minorBuckets = map[string]bool{
	"0-2": true, "3-5": true, "6-9": true, "10-12": true, "13-17": true,
	"infant": true, "toddler": true, "child": true, "kids": true, "teen": true, "junior": true,
}

// AgeContext - 미성년자 판별 입력
type AgeContext struct {
	AgeMin    *int
	AgeBucket string
}

// IsMinor reports whether the subject is under 18: an explicit minimum age
// below 18, or an age bucket known to be under 18.
func IsMinor(ac AgeContext) bool {
	if ac.AgeMin != nil && *ac.AgeMin < 18 {
		return true
	}
	bucket := strings.ToLower(strings.TrimSpace(ac.AgeBucket))
	if bucket == "" {
		return false
	}
	if minorBuckets[bucket] {
		return true
	}
	// "a-b" ranges whose upper bound is under 18
	if lo, hi, ok := strings.Cut(bucket, "-"); ok {
		if _, err := strconv.Atoi(strings.TrimSpace(lo)); err == nil {
			if upper, err := strconv.Atoi(strings.TrimSpace(hi)); err == nil && upper < 18 {
				return true
			}
		}
	}
	return false
}

// subjectIsMinor - profile 과 pose 중 하나라도 미성년자면 true
func subjectIsMinor(refs *ReferenceSet) bool {
	return IsMinor(AgeContext{AgeMin: refs.Profile.AgeMin, AgeBucket: refs.Profile.AgeBucket}) ||
		IsMinor(AgeContext{AgeMin: refs.PoseMeta.AgeMin, AgeBucket: refs.PoseMeta.AgeRange})
}

// PromptOutcome - 프롬프트 단계 결과 (fitting_prompts 에 저장)
type PromptOutcome struct {
	Text       string
	Source     string
	TokensUsed int
	IsMinor    bool
}

// BuildBrief assembles the optimizer input for an adult subject.
func BuildBrief(refs *ReferenceSet, strategy BackgroundStrategy, refinement string) model.PromptBrief {
	p := refs.Profile

	var pieces, descriptions []string
	for _, u := range refs.Uploads {
		if u.PieceType != "" {
			pieces = append(pieces, u.PieceType)
		}
		if u.Description != "" {
			descriptions = append(descriptions, u.Description)
		}
	}
	category := ""
	if len(refs.Uploads) > 0 {
		category = refs.Uploads[0].Category
	}

	brief := model.PromptBrief{
		GarmentCount:       len(refs.Garments),
		GarmentCategory:    category,
		GarmentPieceTypes:  pieces,
		GarmentDescription: strings.Join(descriptions, "; "),
		PlacementHint:      placementHint(category, len(refs.Garments)),

		PoseCategory:    refs.PoseMeta.Category,
		PoseDescription: refs.PoseMeta.Description,

		Gender:     fallback.SafeString(p.Gender, refs.PoseMeta.Gender),
		AgeRange:   fallback.SafeString(p.AgeBucket, refs.PoseMeta.AgeRange),
		HeightCm:   fallback.SafeInt(p.Height, fallback.DefaultHeight),
		WeightKg:   fallback.SafeInt(p.Weight, fallback.DeriveWeight(p.BodySize, p.Gender)),
		Expression: p.Expression,
		HairColor:  p.HairColor,

		AspectRatio: p.AspectRatio,
		Width:       refs.Width,
		Height:      refs.Height,

		Refinement: refinement,
	}
	brief.BackgroundMode, brief.BackgroundDescription = briefBackground(refs, strategy)
	return brief
}

// briefBackground - 합성 단계에서 배경을 어떻게 다룰지
func briefBackground(refs *ReferenceSet, strategy BackgroundStrategy) (string, string) {
	bg := refs.Profile.Background
	switch {
	case refs.Profile.AITools.RemoveBackground:
		return briefBackgroundDisabled, ""
	case strategy == Integrated:
		return briefBackgroundReference, bg.Description
	case strategy == DeferredEdit && refs.Background == nil && bg.Description != "":
		return briefBackgroundDescription, bg.Description
	case strategy == DeferredEdit:
		return briefBackgroundDisabled, ""
	default:
		return briefBackgroundOriginal, ""
	}
}

func placementHint(category string, count int) string {
	if count > 1 {
		return "layer all garments together as one complete outfit, each on its natural body area"
	}
	switch strings.ToLower(category) {
	case "top", "tops", "shirt":
		return "upper body, tucked or untucked as the garment is designed"
	case "bottom", "bottoms", "pants", "skirt":
		return "lower body from the waist down"
	case "dress", "onepiece", "one-piece":
		return "full body from shoulders down"
	case "outer", "outerwear", "jacket", "coat":
		return "outermost layer over the torso and arms"
	case "shoes", "footwear":
		return "on both feet"
	default:
		return "natural placement for this garment type"
	}
}

// MinorTemplate is the fixed instruction used for subjects under 18. It
// depends only on garment arity, dimensions and the background directive.
func MinorTemplate(garmentCount, width, height int, background string) string {
	garment := "the garment shown in the first image"
	if garmentCount > 1 {
		garment = fmt.Sprintf("the %d garments shown in the first images, worn together as one outfit", garmentCount)
	}
	return fmt.Sprintf(
		"Create a %dx%d age-appropriate catalog photo of the model in the pose reference image wearing %s. "+
			"Keep the garment design, colors and proportions exactly as shown. Fully clothed, natural catalog styling. %s",
		width, height, garment, background,
	)
}

func minorBackgroundDirective(refs *ReferenceSet, strategy BackgroundStrategy) string {
	switch {
	case strategy == Integrated:
		return "Use the last image as the background."
	case strategy == NoBackground && !refs.Profile.AITools.RemoveBackground:
		return "Keep the background of the pose reference photo."
	default:
		return "Use a plain neutral studio background."
	}
}

// synthesizePrompt - 미성년자면 고정 템플릿, 아니면 optimizer 호출.
// 결과는 합성 전에 fitting_prompts 에 저장
func (p *Pipeline) synthesizePrompt(ctx context.Context, rec *Record, refs *ReferenceSet, strategy BackgroundStrategy, refinement string) (PromptOutcome, error) {
	defer metrics.ObserveStage("prompt")()

	var out PromptOutcome
	if subjectIsMinor(refs) {
		log.Info().Str("generation_id", rec.ID).Msg("🛡️  [Prompt] Minor subject detected, using fixed template")
		out = PromptOutcome{
			Text:    MinorTemplate(len(refs.Garments), refs.Width, refs.Height, minorBackgroundDirective(refs, strategy)),
			Source:  FixedTemplateSource,
			IsMinor: true,
		}
	} else {
		res := p.deps.Gateway.OptimizePrompt(ctx, BuildBrief(refs, strategy, refinement))
		if !res.Success || strings.TrimSpace(res.Prompt) == "" {
			if gemini.IsContentSafetyRejection(res.Error) {
				log.Warn().Str("generation_id", rec.ID).Str("cause", res.Error).Msg("🛡️  [Prompt] Optimizer rejected brief on content safety")
				return PromptOutcome{}, apperr.ContentSafety(safetyUserMessage, fmt.Errorf("optimizer: %s", res.Error))
			}
			log.Error().Str("generation_id", rec.ID).Str("cause", res.Error).Msg("❌ [Prompt] Optimizer failed")
			return PromptOutcome{}, apperr.Internal(processingUserMessage, fmt.Errorf("optimizer: %s", res.Error))
		}
		out = PromptOutcome{Text: res.Prompt, Source: res.Model, TokensUsed: res.TokensUsed}
	}

	row := &model.OptimizedPrompt{
		ID:           p.deps.NewID(),
		GenerationID: rec.ID,
		Text:         out.Text,
		SourceModel:  out.Source,
		TokensUsed:   out.TokensUsed,
		IsMinor:      out.IsMinor,
		CreatedAt:    p.deps.Now().UTC(),
	}
	if err := p.deps.Records.SavePrompt(ctx, row); err != nil {
		metrics.SettlementFailures.WithLabelValues("prompt").Inc()
		log.Error().Err(err).Str("generation_id", rec.ID).Msg("❌ [Prompt] Failed to persist prompt")
	}
	return out, nil
}
