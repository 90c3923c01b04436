package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var safetyFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:                 true,
	genai.FinishReasonBlocklist:              true,
	genai.FinishReasonProhibitedContent:      true,
	genai.FinishReasonSPII:                   true,
	genai.FinishReasonImageSafety:            true,
	genai.FinishReasonImageProhibitedContent: true,
}

// safetySignatures - provider 에러 문자열에서 안전 필터 거부를 식별하는 패턴
var safetySignatures = []string{
	"safety",
	"blocked",
	"prohibited",
	"content policy",
	"blocklist",
	"spii",
	"harm_category",
	"responsible ai",
}

// IsContentSafetyRejection - optimizer/synthesis 에러 메시지가 안전 필터 거부인지
func IsContentSafetyRejection(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range safetySignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// blockReason - 응답이 안전 필터로 차단됐으면 사유 문자열, 아니면 ""
func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c != nil && safetyFinishReasons[c.FinishReason] {
			return fmt.Sprintf("response blocked: %s", c.FinishReason)
		}
	}
	return ""
}
