package model

import "errors"

// Store sentinel errors shared by the supabase and gorm stores.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Image - 이미지 바이트 + MIME
type Image struct {
	Data     []byte
	MimeType string
}

// Empty reports whether the image carries no bytes.
func (i Image) Empty() bool { return len(i.Data) == 0 }

// PromptBrief - 프롬프트 최적화 입력 (성인 분기 전용)
type PromptBrief struct {
	GarmentCount       int      `json:"garmentCount"`
	GarmentCategory    string   `json:"garmentCategory"`
	GarmentPieceTypes  []string `json:"garmentPieceTypes"`
	GarmentDescription string   `json:"garmentDescription,omitempty"`
	PlacementHint      string   `json:"placementHint"`

	PoseCategory    string `json:"poseCategory"`
	PoseDescription string `json:"poseDescription,omitempty"`

	Gender     string `json:"gender"`
	AgeRange   string `json:"ageRange"`
	HeightCm   int    `json:"heightCm"`
	WeightKg   int    `json:"weightKg"`
	Expression string `json:"expression"`
	HairColor  string `json:"hairColor"`

	AspectRatio string `json:"aspectRatio"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`

	// disabled | original | custom_reference | custom_description
	BackgroundMode        string `json:"backgroundMode"`
	BackgroundDescription string `json:"backgroundDescription,omitempty"`

	Refinement string `json:"refinement,omitempty"`
}

// OptimizeResult - optimizePrompt 결과
type OptimizeResult struct {
	Success    bool
	Prompt     string
	Model      string
	TokensUsed int
	Error      string
}

// SynthesisRequest - synthesizeImage 입력. Background 는 integrated 모드에서만 설정
type SynthesisRequest struct {
	Instruction string
	Garments    []Image
	Pose        Image
	Background  *Image
	AspectRatio string
}

// ImageResult - 이미지 생성/편집 결과
type ImageResult struct {
	Success    bool
	Image      Image
	TokensUsed int
	Error      string
}

// OK - 성공 + 이미지 바이트 존재
func (r ImageResult) OK() bool {
	return r.Success && !r.Image.Empty()
}

// Compatibility - 포즈 호환성 평가 결과 (0-100)
type Compatibility struct {
	Score               int    `json:"score"`
	Guidance            string `json:"guidance"`
	RecommendAdjustment string `json:"recommendAdjustment"`
}

// StoredObject - 업로드된 파일 위치
type StoredObject struct {
	Path      string
	PublicURL string
}

// GenerationUpdate - 상태 전이와 함께 기록되는 필드
type GenerationUpdate struct {
	ErrorMessage   *string
	OutputSnapshot map[string]interface{}
}

// StatusEvent - 상태 변경 알림 (redis pub/sub → websocket)
type StatusEvent struct {
	GenerationID string           `json:"generationId"`
	UserID       string           `json:"userId"`
	Status       GenerationStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
}
