package fitting

import (
	"context"
	"time"

	"quel-fitting-server/modules/common/model"
)

// Gateway - 모델 provider (Gemini 구현: common/gemini.Gateway)
type Gateway interface {
	OptimizePrompt(ctx context.Context, brief model.PromptBrief) model.OptimizeResult
	SynthesizeImage(ctx context.Context, req model.SynthesisRequest) model.ImageResult
	ApplyEdit(ctx context.Context, instruction string, img model.Image) model.ImageResult
	BlendImages(ctx context.Context, instruction string, images []model.Image) model.ImageResult
	// DescribePose returns "" when the pose cannot be described.
	DescribePose(ctx context.Context, pose model.Image, category, gender string) string
	// AssessCompatibility returns nil on any internal failure.
	AssessCompatibility(ctx context.Context, garment, pose model.Image, category, pieceType, poseDescription string) *model.Compatibility
}

// PricingSource - action → credits override
type PricingSource interface {
	PricingOverrides(ctx context.Context) (map[string]int, error)
}

// ReferenceStore - read-only 참조 데이터
type ReferenceStore interface {
	PricingSource
	GetUploads(ctx context.Context, ids []string) ([]model.Upload, error)
	GetPose(ctx context.Context, id string) (*model.Pose, error)
	GetSavedModel(ctx context.Context, id string) (*model.SavedModel, error)
	// GetCustomization and GetFormatPreset return nil, nil when absent.
	GetCustomization(ctx context.Context, userID, uploadID string) (*model.Customization, error)
	GetFormatPreset(ctx context.Context, aspectRatio string) (*model.FormatPreset, error)
	GetToolID(ctx context.Context, kind model.EditKind) (string, error)
}

// RecordStore - generation 레코드와 감사 로그
type RecordStore interface {
	CreateGeneration(ctx context.Context, rec *model.GenerationRecord) error
	GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error)
	// TransitionGeneration returns model.ErrConflict when the stored status is not from.
	TransitionGeneration(ctx context.Context, id string, from, to model.GenerationStatus, upd model.GenerationUpdate) error
	FailStaleGenerations(ctx context.Context, olderThan time.Time, message string) (int, error)
	SavePrompt(ctx context.Context, p *model.OptimizedPrompt) error
	SaveResult(ctx context.Context, r *model.GenerationResult) error
	SaveEditApplication(ctx context.Context, e *model.EditApplication) error
}

// ObjectStorage - 이미지 업로드/다운로드
type ObjectStorage interface {
	UploadImage(ctx context.Context, ownerID, attemptID string, data []byte, mimeType string) (*model.StoredObject, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// Ledger - 잔액과 원장
type Ledger interface {
	Balance(ctx context.Context, userID string) (int, error)
	// Debit fails with model.ErrInsufficientBalance instead of overdrawing.
	Debit(ctx context.Context, userID string, amount int) (int, error)
	// AppendEntry fails with model.ErrConflict for a second entry of the same generation.
	AppendEntry(ctx context.Context, entry *model.CreditTransaction) error
}

// StatusPublisher - 상태 전이 알림 (redis). 실패해도 파이프라인은 계속
type StatusPublisher interface {
	PublishStatus(ctx context.Context, evt model.StatusEvent) error
}
