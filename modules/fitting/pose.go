package fitting

import (
	"strings"

	"quel-fitting-server/modules/common/apperr"
)

const (
	originalPosePrefix = "original:"
	savedModelPrefix   = "saved:"
)

// PoseSource is the pose reference chosen for an attempt. It is one of
// CatalogPose, OriginalUploadPose or SavedModelPose.
type PoseSource interface {
	isPoseSource()
	String() string
}

// CatalogPose - fitting_poses 카탈로그 포즈
type CatalogPose struct{ ID string }

// OriginalUploadPose - 사용자가 올린 원본 사진을 포즈로 사용
type OriginalUploadPose struct{ UploadID string }

// SavedModelPose - 저장된 커스텀 모델. 소유자 검증 필요
type SavedModelPose struct{ ModelID string }

func (CatalogPose) isPoseSource()        {}
func (OriginalUploadPose) isPoseSource() {}
func (SavedModelPose) isPoseSource()     {}

func (p CatalogPose) String() string        { return p.ID }
func (p OriginalUploadPose) String() string { return originalPosePrefix + p.UploadID }
func (p SavedModelPose) String() string     { return savedModelPrefix + p.ModelID }

// PoseMeta - 포즈의 인구통계/설명 메타데이터
type PoseMeta struct {
	Gender      string
	AgeRange    string
	AgeMin      *int
	Category    string
	Description string
}

// ParsePoseSelection turns the stored selection string into a PoseSource.
// An original-upload selection must name one of the request's uploads.
func ParsePoseSelection(raw string, uploadIDs []string) (PoseSource, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, apperr.Validation("no pose selected")

	case strings.HasPrefix(raw, originalPosePrefix):
		id := strings.TrimSpace(strings.TrimPrefix(raw, originalPosePrefix))
		for _, u := range uploadIDs {
			if u == id && id != "" {
				return OriginalUploadPose{UploadID: id}, nil
			}
		}
		return nil, apperr.Validation("original-photo pose must be one of the selected uploads")

	case strings.HasPrefix(raw, savedModelPrefix):
		id := strings.TrimSpace(strings.TrimPrefix(raw, savedModelPrefix))
		if id == "" {
			return nil, apperr.Validation("invalid saved model selection")
		}
		return SavedModelPose{ModelID: id}, nil

	default:
		return CatalogPose{ID: raw}, nil
	}
}
