package model

import "time"

// GenerationStatus - fitting_generations.status
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// transitions - 허용되는 상태 전이 (단방향)
var transitions = map[GenerationStatus]map[GenerationStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// CanTransition - from → to 전이가 허용되는지
func CanTransition(from, to GenerationStatus) bool {
	return transitions[from][to]
}

// IsTerminal - completed/failed 이후 변경 불가
func (s GenerationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EditKind - 후처리 편집 종류 (fitting_ai_tools.name 과 동일)
type EditKind string

const (
	EditRemoveBackground EditKind = "remove_background"
	EditAddLogo          EditKind = "add_logo"
	EditChangeBackground EditKind = "change_background"
)

// ActionGeneration - 기본 생성 요금 pricing key
const ActionGeneration = "generation"

// Upload - fitting_uploads 테이블 구조
type Upload struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	UserID         string     `json:"user_id" gorm:"index"`
	StoragePath    string     `json:"storage_path"`
	MimeType       string     `json:"mime_type"`
	Category       string     `json:"category"`
	PieceType      string     `json:"piece_type"`
	Description    string     `json:"description"`
	SelectedPoseID string     `json:"selected_pose_id"`
	DeletedAt      *time.Time `json:"deleted_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Upload) TableName() string { return "fitting_uploads" }

// Pose - fitting_poses 테이블 구조 (카탈로그 포즈)
type Pose struct {
	ID          string `json:"id" gorm:"primaryKey"`
	StoragePath string `json:"storage_path"`
	MimeType    string `json:"mime_type"`
	Gender      string `json:"gender"`
	AgeRange    string `json:"age_range"`
	AgeMin      *int   `json:"age_min"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (Pose) TableName() string { return "fitting_poses" }

// SavedModel - fitting_saved_models 테이블 구조 (사용자 저장 모델)
type SavedModel struct {
	ID          string  `json:"id" gorm:"primaryKey"`
	OwnerID     string  `json:"owner_id" gorm:"index"`
	StoragePath string  `json:"storage_path"`
	MimeType    string  `json:"mime_type"`
	Gender      *string `json:"gender"`
	AgeRange    *string `json:"age_range"`
	AgeMin      *int    `json:"age_min"`
	Description *string `json:"description"`
}

func (SavedModel) TableName() string { return "fitting_saved_models" }

// AITools - 후처리 도구 활성화 여부
type AITools struct {
	RemoveBackground bool `json:"remove_background"`
	ChangeBackground bool `json:"change_background"`
	AddLogo          bool `json:"add_logo"`
}

// Enabled - 활성화된 도구 (적용 순서대로)
func (t AITools) Enabled() []EditKind {
	var kinds []EditKind
	if t.RemoveBackground {
		kinds = append(kinds, EditRemoveBackground)
	}
	if t.AddLogo {
		kinds = append(kinds, EditAddLogo)
	}
	if t.ChangeBackground {
		kinds = append(kinds, EditChangeBackground)
	}
	return kinds
}

// Background mode
const (
	BackgroundOriginal      = "original"       // 원본 배경 유지
	BackgroundPreset        = "preset"         // 프리셋 배경 이미지
	BackgroundCustom        = "custom"         // 사용자 업로드 배경 이미지
	BackgroundAIDescription = "ai_description" // 텍스트 설명만 있는 AI 배경
)

// BackgroundSelection - 사용자의 배경 선택
type BackgroundSelection struct {
	Mode        string `json:"mode"`
	ImagePath   string `json:"image_path"`
	MimeType    string `json:"mime_type"`
	Description string `json:"description"`
	Integrated  bool   `json:"integrated"`
}

// Customization - fitting_customizations 테이블 구조
type Customization struct {
	ID           string              `json:"id" gorm:"primaryKey"`
	UserID       string              `json:"user_id" gorm:"index:idx_customization_owner"`
	UploadID     string              `json:"upload_id" gorm:"index:idx_customization_owner"`
	PoseID       string              `json:"pose_id"`
	Height       *int                `json:"height"`
	Weight       *int                `json:"weight"`
	BodySize     string              `json:"body_size"`
	Gender       string              `json:"gender"`
	AgeBucket    string              `json:"age_bucket"`
	AgeMin       *int                `json:"age_min"`
	Expression   string              `json:"expression"`
	HairColor    string              `json:"hair_color"`
	AspectRatio  string              `json:"aspect_ratio"`
	AITools      AITools             `json:"ai_tools" gorm:"serializer:json"`
	Background   BackgroundSelection `json:"background" gorm:"serializer:json"`
	LogoPath     string              `json:"logo_path"`
	LogoMimeType string              `json:"logo_mime_type"`
}

func (Customization) TableName() string { return "fitting_customizations" }

// FormatPreset - fitting_format_presets 테이블 구조
type FormatPreset struct {
	AspectRatio string `json:"aspect_ratio" gorm:"primaryKey"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

func (FormatPreset) TableName() string { return "fitting_format_presets" }

// PricingOverride - fitting_pricing 테이블 구조
type PricingOverride struct {
	Action  string `json:"action" gorm:"primaryKey"`
	Credits int    `json:"credits"`
}

func (PricingOverride) TableName() string { return "fitting_pricing" }

// AITool - fitting_ai_tools 테이블 구조 (provider tool id 조회용)
type AITool struct {
	ID   string `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex"`
}

func (AITool) TableName() string { return "fitting_ai_tools" }

// GenerationRecord - fitting_generations 테이블 구조
type GenerationRecord struct {
	ID             string                 `json:"id" gorm:"primaryKey"`
	UserID         string                 `json:"user_id" gorm:"index"`
	Status         GenerationStatus       `json:"status" gorm:"index"`
	InputSnapshot  map[string]interface{} `json:"input_snapshot" gorm:"serializer:json"`
	CreditsUsed    int                    `json:"credits_used"`
	ErrorMessage   *string                `json:"error_message"`
	OutputSnapshot map[string]interface{} `json:"output_snapshot" gorm:"serializer:json"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func (GenerationRecord) TableName() string { return "fitting_generations" }

// OptimizedPrompt - fitting_prompts 테이블 구조
type OptimizedPrompt struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	GenerationID string    `json:"generation_id" gorm:"index"`
	Text         string    `json:"text"`
	SourceModel  string    `json:"source_model"`
	TokensUsed   int       `json:"tokens_used"`
	IsMinor      bool      `json:"is_minor"`
	CreatedAt    time.Time `json:"created_at"`
}

func (OptimizedPrompt) TableName() string { return "fitting_prompts" }

// GenerationResult - fitting_results 테이블 구조
type GenerationResult struct {
	ID                     string    `json:"id" gorm:"primaryKey"`
	GenerationID           string    `json:"generation_id" gorm:"uniqueIndex"`
	UserID                 string    `json:"user_id"`
	ImagePath              string    `json:"image_path"`
	ImageURL               string    `json:"image_url"`
	ThumbnailPath          *string   `json:"thumbnail_path"`
	ThumbnailURL           *string   `json:"thumbnail_url"`
	AIEditsApplied         []string  `json:"ai_edits_applied" gorm:"serializer:json"`
	PoseCompatibilityScore *int      `json:"pose_compatibility_score"`
	RegenerationReason     *string   `json:"regeneration_reason"`
	CreatedAt              time.Time `json:"created_at"`
}

func (GenerationResult) TableName() string { return "fitting_results" }

// EditApplication - fitting_edit_applications 테이블 구조
type EditApplication struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	GenerationID   string    `json:"generation_id" gorm:"index"`
	ToolID         string    `json:"tool_id"`
	EditKind       EditKind  `json:"edit_kind"`
	CreditsCharged int       `json:"credits_charged"`
	CreatedAt      time.Time `json:"created_at"`
}

func (EditApplication) TableName() string { return "fitting_edit_applications" }

// Member - quel_member 테이블 (잔액)
type Member struct {
	ID     string `json:"quel_member_id" gorm:"column:quel_member_id;primaryKey"`
	Credit int    `json:"quel_member_credit" gorm:"column:quel_member_credit"`
}

func (Member) TableName() string { return "quel_member" }

// CreditTransaction - quel_credits 테이블 (원장, generation 당 1건)
type CreditTransaction struct {
	ID              string                 `json:"id" gorm:"primaryKey"`
	UserID          string                 `json:"user_id" gorm:"index"`
	GenerationID    string                 `json:"generation_id" gorm:"uniqueIndex"`
	TransactionType string                 `json:"transaction_type"`
	Amount          int                    `json:"amount"`
	BalanceAfter    int                    `json:"balance_after"`
	Description     string                 `json:"description"`
	Metadata        map[string]interface{} `json:"metadata" gorm:"serializer:json"`
	CreatedAt       time.Time              `json:"created_at"`
}

func (CreditTransaction) TableName() string { return "quel_credits" }
