package fitting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/model"
)

const defaultFailureMessage = "generation failed"

// Record - 한 attempt 의 레코드 핸들. Status 는 마지막으로 저장된 상태
type Record struct {
	ID     string
	UserID string
	Status model.GenerationStatus
}

// RecordManager owns the generation state machine. Every write is
// conditional on the status this process last stored.
type RecordManager struct {
	store     RecordStore
	publisher StatusPublisher
	now       func() time.Time
}

func NewRecordManager(store RecordStore, publisher StatusPublisher, now func() time.Time) *RecordManager {
	if now == nil {
		now = time.Now
	}
	return &RecordManager{store: store, publisher: publisher, now: now}
}

// Create - pending 상태 레코드 생성 (입력 스냅샷 포함)
func (m *RecordManager) Create(ctx context.Context, id, userID string, snapshot map[string]interface{}, credits int) (*Record, error) {
	now := m.now().UTC()
	rec := &model.GenerationRecord{
		ID:            id,
		UserID:        userID,
		Status:        model.StatusPending,
		InputSnapshot: snapshot,
		CreditsUsed:   credits,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateGeneration(ctx, rec); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}

	r := &Record{ID: id, UserID: userID, Status: model.StatusPending}
	m.publish(ctx, r, "")
	return r, nil
}

// Begin - pending → processing
func (m *RecordManager) Begin(ctx context.Context, r *Record) error {
	return m.transition(ctx, r, model.StatusProcessing, model.GenerationUpdate{}, "")
}

// Complete - processing → completed (출력 스냅샷 기록)
func (m *RecordManager) Complete(ctx context.Context, r *Record, output map[string]interface{}) error {
	return m.transition(ctx, r, model.StatusCompleted, model.GenerationUpdate{OutputSnapshot: output}, "")
}

// Fail - processing → failed. message 는 항상 비어있지 않음
func (m *RecordManager) Fail(ctx context.Context, r *Record, message string) error {
	if message == "" {
		message = defaultFailureMessage
	}
	return m.transition(ctx, r, model.StatusFailed, model.GenerationUpdate{ErrorMessage: &message}, message)
}

func (m *RecordManager) transition(ctx context.Context, r *Record, to model.GenerationStatus, upd model.GenerationUpdate, errMsg string) error {
	if !model.CanTransition(r.Status, to) {
		return fmt.Errorf("generation %s: illegal transition %s -> %s", r.ID, r.Status, to)
	}
	if err := m.store.TransitionGeneration(ctx, r.ID, r.Status, to, upd); err != nil {
		return fmt.Errorf("generation %s %s -> %s: %w", r.ID, r.Status, to, err)
	}
	log.Debug().Str("generation_id", r.ID).Str("from", string(r.Status)).Str("to", string(to)).Msg("📝 [Record] Status updated")
	r.Status = to
	m.publish(ctx, r, errMsg)
	return nil
}

func (m *RecordManager) publish(ctx context.Context, r *Record, errMsg string) {
	if m.publisher == nil {
		return
	}
	evt := model.StatusEvent{GenerationID: r.ID, UserID: r.UserID, Status: r.Status, Error: errMsg}
	if err := m.publisher.PublishStatus(ctx, evt); err != nil {
		log.Warn().Err(err).Str("generation_id", r.ID).Msg("⚠️  [Record] Status publish failed")
	}
}
