package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"quel-fitting-server/modules/common/model"
)

// debitAttempts - compare-and-set 재시도 횟수
const debitAttempts = 3

// Store - Supabase(postgrest) 기반 Reference/Record/Ledger 저장소
type Store struct {
	supabase *supabase.Client
}

// NewStoreFromClient - main 에서 만든 Supabase 클라이언트 공유 (storage 와 같은 클라이언트)
func NewStoreFromClient(client *supabase.Client) *Store {
	return &Store{supabase: client}
}

// selectRows - table 조회 후 out 으로 파싱
func (s *Store) selectRows(table string, out interface{}, filters ...func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) error {
	q := s.supabase.From(table).Select("*", "", false)
	for _, f := range filters {
		q = f(q)
	}
	data, _, err := q.Execute()
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", table, err)
	}
	return nil
}

func eq(column, value string) func(*postgrest.FilterBuilder) *postgrest.FilterBuilder {
	return func(f *postgrest.FilterBuilder) *postgrest.FilterBuilder { return f.Eq(column, value) }
}

// GetUploads - 업로드 목록 조회 (삭제/소유자 검증은 호출자가 수행)
func (s *Store) GetUploads(ctx context.Context, ids []string) ([]model.Upload, error) {
	var uploads []model.Upload
	err := s.selectRows("fitting_uploads", &uploads, func(f *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return f.In("id", ids)
	})
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// GetPose - 카탈로그 포즈 조회
func (s *Store) GetPose(ctx context.Context, id string) (*model.Pose, error) {
	var poses []model.Pose
	if err := s.selectRows("fitting_poses", &poses, eq("id", id)); err != nil {
		return nil, err
	}
	if len(poses) == 0 {
		return nil, fmt.Errorf("pose %s: %w", id, model.ErrNotFound)
	}
	return &poses[0], nil
}

// GetSavedModel - 저장된 커스텀 모델 조회
func (s *Store) GetSavedModel(ctx context.Context, id string) (*model.SavedModel, error) {
	var models []model.SavedModel
	if err := s.selectRows("fitting_saved_models", &models, eq("id", id)); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("saved model %s: %w", id, model.ErrNotFound)
	}
	return &models[0], nil
}

// GetCustomization - 없으면 nil, nil
func (s *Store) GetCustomization(ctx context.Context, userID, uploadID string) (*model.Customization, error) {
	var rows []model.Customization
	if err := s.selectRows("fitting_customizations", &rows, eq("user_id", userID), eq("upload_id", uploadID)); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetFormatPreset - 없으면 nil, nil
func (s *Store) GetFormatPreset(ctx context.Context, aspectRatio string) (*model.FormatPreset, error) {
	var rows []model.FormatPreset
	if err := s.selectRows("fitting_format_presets", &rows, eq("aspect_ratio", aspectRatio)); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// PricingOverrides - action → credits
func (s *Store) PricingOverrides(ctx context.Context) (map[string]int, error) {
	var rows []model.PricingOverride
	if err := s.selectRows("fitting_pricing", &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Action] = r.Credits
	}
	return out, nil
}

// GetToolID - provider tool id 조회
func (s *Store) GetToolID(ctx context.Context, kind model.EditKind) (string, error) {
	var rows []model.AITool
	if err := s.selectRows("fitting_ai_tools", &rows, eq("name", string(kind))); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("tool %s: %w", kind, model.ErrNotFound)
	}
	return rows[0].ID, nil
}

// CreateGeneration - pending 상태 레코드 생성
func (s *Store) CreateGeneration(ctx context.Context, rec *model.GenerationRecord) error {
	return s.insert("fitting_generations", rec)
}

// GetGeneration - 레코드 조회
func (s *Store) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	var rows []model.GenerationRecord
	if err := s.selectRows("fitting_generations", &rows, eq("id", id)); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("generation %s: %w", id, model.ErrNotFound)
	}
	return &rows[0], nil
}

// TransitionGeneration - status 가 from 일 때만 to 로 변경 (조건부 업데이트)
func (s *Store) TransitionGeneration(ctx context.Context, id string, from, to model.GenerationStatus, upd model.GenerationUpdate) error {
	log.Debug().Str("generation_id", id).Str("from", string(from)).Str("to", string(to)).Msg("📝 [Store] Updating generation status")

	updateData := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if upd.ErrorMessage != nil {
		updateData["error_message"] = *upd.ErrorMessage
	}
	if upd.OutputSnapshot != nil {
		updateData["output_snapshot"] = upd.OutputSnapshot
	}

	data, _, err := s.supabase.From("fitting_generations").
		Update(updateData, "representation", "").
		Eq("id", id).
		Eq("status", string(from)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update generation status: %w", err)
	}
	if emptyRows(data) {
		return fmt.Errorf("generation %s not in %s: %w", id, from, model.ErrConflict)
	}
	return nil
}

// FailStaleGenerations - processing 상태로 남은 오래된 레코드를 failed 로
func (s *Store) FailStaleGenerations(ctx context.Context, olderThan time.Time, message string) (int, error) {
	data, _, err := s.supabase.From("fitting_generations").
		Update(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		}, "representation", "").
		Eq("status", string(model.StatusProcessing)).
		Lt("updated_at", olderThan.UTC().Format(time.RFC3339Nano)).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale generations: %w", err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("failed to parse reaped rows: %w", err)
	}
	return len(rows), nil
}

// SavePrompt - fitting_prompts insert
func (s *Store) SavePrompt(ctx context.Context, p *model.OptimizedPrompt) error {
	return s.insert("fitting_prompts", p)
}

// SaveResult - fitting_results insert
func (s *Store) SaveResult(ctx context.Context, r *model.GenerationResult) error {
	return s.insert("fitting_results", r)
}

// SaveEditApplication - fitting_edit_applications insert
func (s *Store) SaveEditApplication(ctx context.Context, e *model.EditApplication) error {
	return s.insert("fitting_edit_applications", e)
}

// Balance - 현재 크레딧 조회
func (s *Store) Balance(ctx context.Context, userID string) (int, error) {
	var members []model.Member
	err := s.selectRows("quel_member", &members, eq("quel_member_id", userID))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch user credits: %w", err)
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return members[0].Credit, nil
}

// Debit - 크레딧 차감. 이전 잔액이 그대로일 때만 업데이트 (compare-and-set)
func (s *Store) Debit(ctx context.Context, userID string, amount int) (int, error) {
	for attempt := 1; attempt <= debitAttempts; attempt++ {
		current, err := s.Balance(ctx, userID)
		if err != nil {
			return 0, err
		}
		if current < amount {
			return current, fmt.Errorf("balance %d < %d: %w", current, amount, model.ErrInsufficientBalance)
		}
		newBalance := current - amount

		data, _, err := s.supabase.From("quel_member").
			Update(map[string]interface{}{
				"quel_member_credit": newBalance,
			}, "representation", "").
			Eq("quel_member_id", userID).
			Eq("quel_member_credit", strconv.Itoa(current)).
			Execute()
		if err != nil {
			return 0, fmt.Errorf("failed to deduct credits: %w", err)
		}
		if !emptyRows(data) {
			log.Info().Str("user_id", userID).Int("before", current).Int("after", newBalance).Msg("💰 Credit balance updated")
			return newBalance, nil
		}
		log.Warn().Str("user_id", userID).Int("attempt", attempt).Msg("⚠️  Credit balance changed concurrently, retrying")
	}
	return 0, fmt.Errorf("debit for %s: %w", userID, model.ErrConflict)
}

// AppendEntry - quel_credits insert. generation_id 중복이면 ErrConflict
func (s *Store) AppendEntry(ctx context.Context, tx *model.CreditTransaction) error {
	return s.insert("quel_credits", tx)
}

func (s *Store) insert(table string, row interface{}) error {
	_, _, err := s.supabase.From(table).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", table, model.ErrConflict)
		}
		return fmt.Errorf("failed to insert %s: %w", table, err)
	}
	return nil
}

// isUniqueViolation - postgrest 는 "(23505) duplicate key ..." 형태로 반환
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(strings.ToLower(msg), "duplicate key")
}

func emptyRows(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "[]" || trimmed == "null"
}
