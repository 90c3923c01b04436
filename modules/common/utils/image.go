package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"
)

// DecodeImage - 바이트 → image.Image (PNG/JPEG/WebP 자동 감지)
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodeWebP - image.Image → WebP (lossy)
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail - 가로 maxWidth 이하로 축소한 JPEG
func Thumbnail(img image.Image, maxWidth int, quality int) ([]byte, error) {
	thumb := img
	if img.Bounds().Dx() > maxWidth {
		thumb = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareArtifact - 최종 이미지를 WebP 로 변환하고 썸네일 생성.
// WebP 변환 실패 시 원본 바이트 사용, 디코딩 실패는 에러.
func PrepareArtifact(data []byte, mimeType string) (primary []byte, primaryMime string, thumb []byte, err error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, "", nil, err
	}

	primary, primaryMime = data, NormalizeMime(mimeType, data)
	if webpData, encErr := EncodeWebP(img, 90); encErr == nil {
		log.Debug().Int("before", len(data)).Int("after", len(webpData)).Msg("🔄 Converted artifact to WebP")
		primary, primaryMime = webpData, MimeWebP
	} else {
		log.Warn().Err(encErr).Msg("⚠️  WebP conversion failed, keeping provider bytes")
	}

	thumb, thumbErr := Thumbnail(img, 400, 80)
	if thumbErr != nil {
		log.Warn().Err(thumbErr).Msg("⚠️  Thumbnail generation failed")
		thumb = nil
	}
	return primary, primaryMime, thumb, nil
}

// NormalizeMime - 빈 값이거나 image/* 가 아니면 바이트로 감지
func NormalizeMime(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}

// ExtensionForMime - 저장 경로용 확장자
func ExtensionForMime(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case MimeWebP:
		return "webp"
	case MimeJPEG, "image/jpg":
		return "jpg"
	case MimePNG:
		return "png"
	default:
		return "bin"
	}
}
