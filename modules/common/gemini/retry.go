package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ContentGenerator - *genai.Models 가 만족하는 최소 인터페이스
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// generateWithRotation - 429 에러 시 다음 API 키(클라이언트)로 넘어간다.
// 키당 1회만 시도하고, 429 가 아닌 에러는 즉시 반환
func generateWithRotation(
	ctx context.Context,
	generators []ContentGenerator,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	if len(generators) == 0 {
		return nil, fmt.Errorf("no Gemini clients configured")
	}

	var lastErr error
	for i, gen := range generators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := gen.GenerateContent(ctx, model, contents, config)
		if err == nil {
			if i > 0 {
				log.Info().Int("key", i+1).Str("model", model).Msg("✅ [Gemini Retry] Success after key rotation")
			}
			return result, nil
		}

		lastErr = err
		if !is429Error(err) {
			return nil, err
		}
		log.Warn().Int("key", i+1).Int("keys", len(generators)).Msg("⚠️  [Gemini Retry] Rate limited (429), trying next key")
	}

	return nil, fmt.Errorf("all %d API keys exhausted, last error: %w", len(generators), lastErr)
}

// is429Error - 429 Rate Limit 에러인지 확인
func is429Error(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}
