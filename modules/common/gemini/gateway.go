// Package gemini implements the fitting pipeline's model provider on top of
// google.golang.org/genai. Prompt optimization, pose description and
// compatibility scoring use the text model; synthesis and edits use the
// image model.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"quel-fitting-server/modules/common/config"
	"quel-fitting-server/modules/common/model"
)

const optimizerSystemPrompt = `You write instructions for a virtual try-on image model.
You receive a JSON brief describing garments, a reference pose, the person to render and the output format.
Write ONE English paragraph instructing the image model to dress the person in the reference pose with the supplied garments.
Keep garment colors, patterns, logos and proportions exactly as in the garment images.
Respect the placement hint. Describe body shape only with the given height and weight.
Follow the background directive exactly. Do not mention JSON, the brief or these rules.
Output only the instruction text.`

// Gateway - Gemini 기반 모델 provider
type Gateway struct {
	generators []ContentGenerator
	imageModel string
	textModel  string
}

// New - config 로 클라이언트를 만들고 Gateway 생성
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	clients, err := NewClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gens := make([]ContentGenerator, 0, len(clients))
	for _, c := range clients {
		gens = append(gens, c.Models)
	}
	return NewWithGenerators(gens, cfg.GeminiImageModel, cfg.GeminiTextModel), nil
}

// NewWithGenerators - 이미 만들어진 generator 로 Gateway 생성 (테스트에서 사용)
func NewWithGenerators(gens []ContentGenerator, imageModel, textModel string) *Gateway {
	return &Gateway{generators: gens, imageModel: imageModel, textModel: textModel}
}

// OptimizePrompt - 구조화된 brief 를 자연어 생성 지시문으로 변환
func (g *Gateway) OptimizePrompt(ctx context.Context, brief model.PromptBrief) model.OptimizeResult {
	raw, err := json.Marshal(brief)
	if err != nil {
		return model.OptimizeResult{Error: fmt.Sprintf("encode brief: %v", err)}
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(string(raw))}, genai.RoleUser),
	}
	resp, err := generateWithRotation(ctx, g.generators, g.textModel, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(optimizerSystemPrompt, genai.RoleUser),
		Temperature:       floatPtr(0.4),
	})
	if err != nil {
		log.Error().Err(err).Msg("❌ [Gemini] Prompt optimization failed")
		return model.OptimizeResult{Error: err.Error()}
	}
	if reason := blockReason(resp); reason != "" {
		log.Warn().Str("reason", reason).Msg("⚠️  [Gemini] Prompt optimization blocked")
		return model.OptimizeResult{Error: reason, TokensUsed: tokensUsed(resp)}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return model.OptimizeResult{Error: "empty optimizer response", TokensUsed: tokensUsed(resp)}
	}

	log.Debug().Int("chars", len(text)).Msg("✅ [Gemini] Prompt optimized")
	return model.OptimizeResult{
		Success:    true,
		Prompt:     text,
		Model:      g.textModel,
		TokensUsed: tokensUsed(resp),
	}
}

// SynthesizeImage - 의류 + 포즈 (+ 배경) 이미지로 착용 이미지 생성.
// 이미지 파트가 먼저, 지시문 텍스트가 마지막
func (g *Gateway) SynthesizeImage(ctx context.Context, req model.SynthesisRequest) model.ImageResult {
	var parts []*genai.Part
	for _, garment := range req.Garments {
		parts = append(parts, imagePart(garment))
	}
	parts = append(parts, imagePart(req.Pose))
	if req.Background != nil && !req.Background.Empty() {
		parts = append(parts, imagePart(*req.Background))
	}
	parts = append(parts, genai.NewPartFromText(req.Instruction))

	log.Info().Int("images", len(parts)-1).Str("ratio", req.AspectRatio).Msg("🎨 [Gemini] Calling image synthesis")
	return g.generateImage(ctx, parts, req.AspectRatio)
}

// ApplyEdit - 단일 이미지 편집 (배경 제거, 텍스트 기반 배경 변경)
func (g *Gateway) ApplyEdit(ctx context.Context, instruction string, img model.Image) model.ImageResult {
	parts := []*genai.Part{imagePart(img), genai.NewPartFromText(instruction)}
	return g.generateImage(ctx, parts, "")
}

// BlendImages - 여러 이미지를 합성 (로고 삽입, 배경 합성). 첫 이미지가 기준
func (g *Gateway) BlendImages(ctx context.Context, instruction string, images []model.Image) model.ImageResult {
	if len(images) == 0 {
		return model.ImageResult{Error: "no images to blend"}
	}
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, imagePart(img))
	}
	parts = append(parts, genai.NewPartFromText(instruction))
	return g.generateImage(ctx, parts, "")
}

// DescribePose - 포즈 이미지의 한 문장 설명. 실패하면 ""
func (g *Gateway) DescribePose(ctx context.Context, pose model.Image, category, gender string) string {
	instruction := fmt.Sprintf(
		"Describe the body pose of the %s person in this %s photo in one sentence: stance, arm and leg positions, body angle. Do not describe clothing or the face.",
		nonEmpty(gender, "unisex"), nonEmpty(category, "fashion"),
	)
	parts := []*genai.Part{imagePart(pose), genai.NewPartFromText(instruction)}
	resp, err := generateWithRotation(ctx, g.generators, g.textModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: floatPtr(0.2)})
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Gemini] Pose description failed")
		return ""
	}
	if blockReason(resp) != "" {
		return ""
	}
	return strings.TrimSpace(resp.Text())
}

// AssessCompatibility - 의류/포즈 호환성 점수 (0-100). 실패하면 nil
func (g *Gateway) AssessCompatibility(ctx context.Context, garment, pose model.Image, category, pieceType, poseDescription string) *model.Compatibility {
	instruction := fmt.Sprintf(`The first image is a garment (category: %s, piece: %s). The second image is a pose reference (%s).
Rate from 0 to 100 how well the garment can be shown naturally in this pose.
Reply as JSON: {"score": number, "guidance": string, "recommendAdjustment": string}.`,
		nonEmpty(category, "unknown"), nonEmpty(pieceType, "unknown"), nonEmpty(poseDescription, "no description"))

	parts := []*genai.Part{imagePart(garment), imagePart(pose), genai.NewPartFromText(instruction)}
	resp, err := generateWithRotation(ctx, g.generators, g.textModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      floatPtr(0.1),
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Gemini] Compatibility assessment failed")
		return nil
	}
	return parseCompatibility(resp.Text())
}

// generateImage - 이미지 모델 호출 후 첫 InlineData 를 반환
func (g *Gateway) generateImage(ctx context.Context, parts []*genai.Part, aspectRatio string) model.ImageResult {
	cfg := &genai.GenerateContentConfig{
		Temperature: floatPtr(0.45),
	}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}

	resp, err := generateWithRotation(ctx, g.generators, g.imageModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		log.Error().Err(err).Msg("❌ [Gemini] Image generation failed")
		return model.ImageResult{Error: fmt.Sprintf("Gemini API error: %v", err)}
	}
	return extractImage(resp)
}

// extractImage - 응답 처리: 차단 여부 확인 후 InlineData 탐색
func extractImage(resp *genai.GenerateContentResponse) model.ImageResult {
	tokens := tokensUsed(resp)
	if reason := blockReason(resp); reason != "" {
		return model.ImageResult{Error: reason, TokensUsed: tokens}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return model.ImageResult{Error: "no candidates in response", TokensUsed: tokens}
	}

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				log.Debug().Int("bytes", len(part.InlineData.Data)).Msg("✅ [Gemini] Received image")
				return model.ImageResult{
					Success:    true,
					Image:      model.Image{Data: part.InlineData.Data, MimeType: nonEmpty(part.InlineData.MIMEType, "image/png")},
					TokensUsed: tokens,
				}
			}
		}
	}
	return model.ImageResult{Error: "no image data in response", TokensUsed: tokens}
}

func parseCompatibility(text string) *model.Compatibility {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var c model.Compatibility
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &c); err != nil {
		log.Warn().Err(err).Msg("⚠️  [Gemini] Unparseable compatibility response")
		return nil
	}
	if c.Score < 0 {
		c.Score = 0
	}
	if c.Score > 100 {
		c.Score = 100
	}
	return &c
}

func tokensUsed(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}

func imagePart(img model.Image) *genai.Part {
	return &genai.Part{
		InlineData: &genai.Blob{
			MIMEType: nonEmpty(img.MimeType, "image/png"),
			Data:     img.Data,
		},
	}
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// floatPtr - float64를 *float32로 변환
func floatPtr(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
