package fitting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/fallback"
	"quel-fitting-server/modules/common/model"
	"quel-fitting-server/modules/common/utils"
)

const maxConcurrentDownloads = 4

// ReferenceSet - 한 attempt 의 해석된 입력
type ReferenceSet struct {
	UserID  string
	Uploads []model.Upload // 요청 순서
	// Garments[i] is the image of Uploads[i].
	Garments []model.Image

	PoseSource PoseSource
	Pose       model.Image
	PoseMeta   PoseMeta

	// Background is set only for an image-backed background selection.
	Background *model.Image
	// Logo is set only when add_logo is enabled and the asset loaded.
	Logo *model.Image

	Profile model.Customization
	Width   int
	Height  int
}

// UploadIDs - 요청 순서의 upload id
func (r *ReferenceSet) UploadIDs() []string {
	ids := make([]string, len(r.Uploads))
	for i, u := range r.Uploads {
		ids[i] = u.ID
	}
	return ids
}

// Resolver loads everything an attempt reads before any record exists.
type Resolver struct {
	refs    ReferenceStore
	storage ObjectStorage
}

func NewResolver(refs ReferenceStore, storage ObjectStorage) *Resolver {
	return &Resolver{refs: refs, storage: storage}
}

// LoadUploads validates the id list and returns the caller's uploads in
// request order. Missing, deleted and foreign uploads are all NotFound.
func (r *Resolver) LoadUploads(ctx context.Context, userID string, uploadIDs []string) ([]model.Upload, error) {
	ids, err := normalizeIDs(uploadIDs)
	if err != nil {
		return nil, err
	}

	rows, err := r.refs.GetUploads(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("failed to load uploads", err)
	}
	byID := make(map[string]model.Upload, len(rows))
	for _, u := range rows {
		byID[u.ID] = u
	}

	uploads := make([]model.Upload, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok || u.DeletedAt != nil || u.UserID != userID {
			return nil, apperr.NotFound(fmt.Sprintf("upload %s not found", id))
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

// LoadProfile - 첫 upload 기준 커스터마이징. 없으면 기본값
func (r *Resolver) LoadProfile(ctx context.Context, userID string, first model.Upload) (model.Customization, error) {
	c, err := r.refs.GetCustomization(ctx, userID, first.ID)
	if err != nil {
		return model.Customization{}, apperr.Internal("failed to load customization", err)
	}
	if c == nil {
		log.Debug().Str("upload_id", first.ID).Msg("ℹ️  [Resolver] No customization, using defaults")
	}
	return fallback.Profile(c, userID), nil
}

// Resolve builds the full ReferenceSet for one attempt.
func (r *Resolver) Resolve(ctx context.Context, userID string, uploadIDs []string) (*ReferenceSet, error) {
	uploads, err := r.LoadUploads(ctx, userID, uploadIDs)
	if err != nil {
		return nil, err
	}
	profile, err := r.LoadProfile(ctx, userID, uploads[0])
	if err != nil {
		return nil, err
	}

	set := &ReferenceSet{UserID: userID, Uploads: uploads, Profile: profile}

	source, err := ParsePoseSelection(poseSelection(uploads, profile), set.UploadIDs())
	if err != nil {
		return nil, err
	}
	set.PoseSource = source

	if set.Garments, err = r.fetchGarments(ctx, uploads); err != nil {
		return nil, err
	}
	if err := r.resolvePose(ctx, set); err != nil {
		return nil, err
	}

	set.Width, set.Height, err = r.dimensions(ctx, profile.AspectRatio)
	if err != nil {
		return nil, err
	}

	set.Background = r.optionalImage(ctx, "background", backgroundPath(profile), profile.Background.MimeType)
	if profile.AITools.AddLogo {
		set.Logo = r.optionalImage(ctx, "logo", profile.LogoPath, profile.LogoMimeType)
	}

	log.Info().
		Str("user_id", userID).
		Int("garments", len(set.Garments)).
		Str("pose", source.String()).
		Bool("background", set.Background != nil).
		Msg("✅ [Resolver] References resolved")
	return set, nil
}

// poseSelection - 첫 번째로 selected_pose_id 가 있는 upload, 없으면 profile.pose_id
func poseSelection(uploads []model.Upload, profile model.Customization) string {
	for _, u := range uploads {
		if strings.TrimSpace(u.SelectedPoseID) != "" {
			return u.SelectedPoseID
		}
	}
	return profile.PoseID
}

func (r *Resolver) resolvePose(ctx context.Context, set *ReferenceSet) error {
	switch src := set.PoseSource.(type) {
	case CatalogPose:
		pose, err := r.refs.GetPose(ctx, src.ID)
		if err != nil {
			return lookupError(err, "pose not found", "failed to load pose")
		}
		img, err := r.download(ctx, pose.StoragePath, pose.MimeType)
		if err != nil {
			return apperr.Internal("failed to load pose image", err)
		}
		set.Pose = img
		set.PoseMeta = PoseMeta{
			Gender:      fallback.SafeString(pose.Gender, fallback.DefaultGender),
			AgeRange:    fallback.SafeString(pose.AgeRange, fallback.DefaultAgeRange),
			AgeMin:      pose.AgeMin,
			Category:    pose.Category,
			Description: pose.Description,
		}

	case OriginalUploadPose:
		for i, u := range set.Uploads {
			if u.ID == src.UploadID {
				set.Pose = set.Garments[i]
				break
			}
		}
		set.PoseMeta = PoseMeta{
			Gender:   fallback.DefaultGender,
			AgeRange: fallback.DefaultAgeRange,
			Category: "original photo",
		}

	case SavedModelPose:
		saved, err := r.refs.GetSavedModel(ctx, src.ModelID)
		if err != nil {
			return lookupError(err, "saved model not found", "failed to load saved model")
		}
		if saved.OwnerID == "" || saved.OwnerID != set.UserID {
			log.Warn().Str("user_id", set.UserID).Str("model_id", src.ModelID).Msg("🚫 [Resolver] Saved model owned by another user")
			return apperr.Forbidden("saved model belongs to another user")
		}
		img, err := r.download(ctx, saved.StoragePath, saved.MimeType)
		if err != nil {
			return apperr.Internal("failed to load saved model image", err)
		}
		set.Pose = img
		set.PoseMeta = PoseMeta{
			Gender:      fallback.SafeStringPtr(saved.Gender, fallback.DefaultGender),
			AgeRange:    fallback.SafeStringPtr(saved.AgeRange, fallback.DefaultAgeRange),
			AgeMin:      saved.AgeMin,
			Category:    "saved model",
			Description: fallback.SafeStringPtr(saved.Description, ""),
		}

	default:
		return apperr.Validation("no pose selected")
	}
	return nil
}

// fetchGarments - 의류 이미지 병렬 다운로드 (순서 유지)
func (r *Resolver) fetchGarments(ctx context.Context, uploads []model.Upload) ([]model.Image, error) {
	images := make([]model.Image, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for i, u := range uploads {
		g.Go(func() error {
			img, err := r.download(gctx, u.StoragePath, u.MimeType)
			if err != nil {
				return fmt.Errorf("upload %s: %w", u.ID, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal("failed to load garment images", err)
	}
	return images, nil
}

func (r *Resolver) dimensions(ctx context.Context, aspectRatio string) (int, int, error) {
	preset, err := r.refs.GetFormatPreset(ctx, aspectRatio)
	if err != nil {
		return 0, 0, apperr.Internal("failed to load format preset", err)
	}
	if preset != nil && preset.Width > 0 && preset.Height > 0 {
		return preset.Width, preset.Height, nil
	}
	w, h := fallback.Dimensions(aspectRatio)
	return w, h, nil
}

// optionalImage - 실패해도 nil 반환 (배경/로고는 선택 사항)
func (r *Resolver) optionalImage(ctx context.Context, what, path, mimeType string) *model.Image {
	if path == "" {
		return nil
	}
	img, err := r.download(ctx, path, mimeType)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msgf("⚠️  [Resolver] Failed to load %s image, continuing without it", what)
		return nil
	}
	return &img
}

func (r *Resolver) download(ctx context.Context, path, mimeType string) (model.Image, error) {
	if path == "" {
		return model.Image{}, fmt.Errorf("empty storage path")
	}
	data, err := r.storage.Download(ctx, path)
	if err != nil {
		return model.Image{}, err
	}
	if len(data) == 0 {
		return model.Image{}, fmt.Errorf("%s: empty object", path)
	}
	return model.Image{Data: data, MimeType: utils.NormalizeMime(mimeType, data)}, nil
}

// backgroundPath - 이미지 기반 배경 선택일 때만 경로 반환
func backgroundPath(p model.Customization) string {
	switch p.Background.Mode {
	case model.BackgroundPreset, model.BackgroundCustom:
		return p.Background.ImagePath
	}
	return ""
}

func lookupError(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, model.ErrNotFound) {
		return apperr.NotFound(notFoundMsg)
	}
	return apperr.Internal(internalMsg, err)
}

// normalizeIDs - 빈 목록/빈 id 는 검증 실패, 중복은 제거
func normalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("uploadIds is required")
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Validation("uploadIds must not contain empty ids")
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
