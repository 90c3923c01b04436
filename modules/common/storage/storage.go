package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	storage_go "github.com/supabase-community/storage-go"

	"quel-fitting-server/modules/common/model"
	"quel-fitting-server/modules/common/utils"
)

// objectAPI - storage_go.Client 중 사용하는 메서드
type objectAPI interface {
	UploadFile(bucketId string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	DownloadFile(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
}

// Client - Supabase Storage 기반 오브젝트 저장소
type Client struct {
	api    objectAPI
	bucket string
}

// NewClient - supabase.Client.Storage 를 받아 생성
func NewClient(api objectAPI, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// UploadImage - generated/{owner}/{attempt}/{uuid}.{ext} 에 업로드 후 public URL 반환
func (c *Client) UploadImage(ctx context.Context, ownerID, attemptID string, data []byte, mimeType string) (*model.StoredObject, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	mimeType = utils.NormalizeMime(mimeType, data)
	path := fmt.Sprintf("generated/%s/%s/%s.%s", ownerID, attemptID, uuid.NewString(), utils.ExtensionForMime(mimeType))

	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("📤 [Storage] Uploading")

	upsert := false
	_, err := c.api.UploadFile(c.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &mimeType,
		Upsert:      &upsert,
	})
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	publicURL := c.api.GetPublicUrl(c.bucket, path).SignedURL
	log.Info().Str("path", path).Msg("✅ [Storage] Upload completed")
	return &model.StoredObject{Path: path, PublicURL: publicURL}, nil
}

// Download - bucket 내부 경로에서 바이트 읽기
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimPrefix(path, c.bucket+"/")
	if path == "" {
		return nil, fmt.Errorf("empty storage path")
	}

	data, err := c.api.DownloadFile(c.bucket, path)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty body", path)
	}
	return data, nil
}
