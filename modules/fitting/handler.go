package fitting

import (
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/microcosm-cc/bluemonday"

	"quel-fitting-server/modules/common/apperr"
	"quel-fitting-server/modules/common/auth"
	"quel-fitting-server/modules/common/middleware"
)

const (
	maxImprovementRunes = 500
	maxBodyBytes        = 1 << 20
)

// GenerateRequest - POST /api/fitting/generate 본문
type GenerateRequest struct {
	UploadIDs        []string `json:"uploadIds"`
	RegenerationType string   `json:"regenerationType,omitempty"`
	ImprovementText  string   `json:"improvementText,omitempty"`
}

// GenerateResponse - 200 응답
type GenerateResponse struct {
	Success bool `json:"success"`
	*Result
}

// QuoteRequest - POST /api/fitting/quote 본문
type QuoteRequest struct {
	UploadIDs []string `json:"uploadIds"`
}

type Handler struct {
	pipeline *Pipeline
	policy   *bluemonday.Policy
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p, policy: bluemonday.StrictPolicy()}
}

// RegisterRoutes - 라우트 등록. 모든 fitting 라우트는 인증 필요
func (h *Handler) RegisterRoutes(r *mux.Router, authMW mux.MiddlewareFunc) {
	api := r.PathPrefix("/api/fitting").Subrouter()
	if authMW != nil {
		api.Use(authMW)
	}
	api.HandleFunc("/generate", h.HandleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/quote", h.HandleQuote).Methods(http.MethodPost)
	api.HandleFunc("/generations/{id}", h.HandleStatus).Methods(http.MethodGet)
}

// HandleGenerate - POST /api/fitting/generate
// 요청 안에서 파이프라인 전체를 실행
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFrom(r.Context())

	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
		return
	}

	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	text, err := h.sanitizeImprovement(req.ImprovementText)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Info().Str("user_id", userID).Int("uploads", len(req.UploadIDs)).Str("regeneration", req.RegenerationType).
		Msg("👗 [Fitting] Generate request")

	res, err := h.pipeline.Run(r.Context(), Request{
		UserID:           userID,
		UploadIDs:        req.UploadIDs,
		RegenerationType: strings.TrimSpace(req.RegenerationType),
		ImprovementText:  text,
	})
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("❌ [Fitting] Generate failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{Success: true, Result: res})
}

// HandleQuote - POST /api/fitting/quote (부작용 없음)
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
		return
	}

	var req QuoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	q, err := h.pipeline.Quote(r.Context(), userID, req.UploadIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleStatus - GET /api/fitting/generations/{id}
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
		return
	}

	rec, err := h.pipeline.Status(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]interface{}{
		"generationId": rec.ID,
		"status":       rec.Status,
		"creditsUsed":  rec.CreditsUsed,
		"createdAt":    rec.CreatedAt,
		"updatedAt":    rec.UpdatedAt,
	}
	if rec.ErrorMessage != nil {
		body["error"] = *rec.ErrorMessage
	}
	writeJSON(w, http.StatusOK, body)
}

// sanitizeImprovement strips markup and caps the text at 500 runes. The
// text goes to the model as plain text, so the entities Sanitize emits are
// decoded before counting.
func (h *Handler) sanitizeImprovement(raw string) (string, error) {
	text := strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(raw)))
	if utf8.RuneCountInString(text) > maxImprovementRunes {
		return "", apperr.Validation("improvementText must be at most 500 characters")
	}
	return text, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": processingUserMessage})
		return
	}

	body := map[string]interface{}{"error": ae.Message}
	switch ae.Kind {
	case apperr.KindInsufficientCredits:
		body["required"] = ae.Required
		body["available"] = ae.Available
	case apperr.KindContentSafety, apperr.KindInternal, apperr.KindProvider:
		if ae.Retryable {
			body["retryable"] = true
		}
	}
	writeJSON(w, apperr.StatusCode(ae.Kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
