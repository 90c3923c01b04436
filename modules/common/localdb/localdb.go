// Package localdb is the GORM-backed store used with STORE_DRIVER=postgres
// and by tests (in-memory SQLite). It mirrors the table layout of the
// Supabase store so both can serve the same database.
package localdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quel-fitting-server/modules/common/model"
)

// Store implements the reference, record and ledger stores on GORM.
type Store struct {
	db *gorm.DB
}

// Open connects using driver "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates every table the pipeline touches.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Upload{},
		&model.Pose{},
		&model.SavedModel{},
		&model.Customization{},
		&model.FormatPreset{},
		&model.PricingOverride{},
		&model.AITool{},
		&model.GenerationRecord{},
		&model.OptimizedPrompt{},
		&model.GenerationResult{},
		&model.EditApplication{},
		&model.Member{},
		&model.CreditTransaction{},
	)
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for seeding and maintenance.
func (s *Store) DB() *gorm.DB { return s.db }

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func (s *Store) GetUploads(ctx context.Context, ids []string) ([]model.Upload, error) {
	var uploads []model.Upload
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

func (s *Store) GetPose(ctx context.Context, id string) (*model.Pose, error) {
	var p model.Pose
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "pose "+id)
	}
	return &p, nil
}

func (s *Store) GetSavedModel(ctx context.Context, id string) (*model.SavedModel, error) {
	var m model.SavedModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "saved model "+id)
	}
	return &m, nil
}

func (s *Store) GetCustomization(ctx context.Context, userID, uploadID string) (*model.Customization, error) {
	var rows []model.Customization
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND upload_id = ?", userID, uploadID).
		Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) GetFormatPreset(ctx context.Context, aspectRatio string) (*model.FormatPreset, error) {
	var rows []model.FormatPreset
	err := s.db.WithContext(ctx).Where("aspect_ratio = ?", aspectRatio).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) PricingOverrides(ctx context.Context) (map[string]int, error) {
	var rows []model.PricingOverride
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Action] = r.Credits
	}
	return out, nil
}

func (s *Store) GetToolID(ctx context.Context, kind model.EditKind) (string, error) {
	var t model.AITool
	if err := s.db.WithContext(ctx).First(&t, "name = ?", string(kind)).Error; err != nil {
		return "", notFound(err, "tool "+string(kind))
	}
	return t.ID, nil
}

func (s *Store) CreateGeneration(ctx context.Context, rec *model.GenerationRecord) error {
	return s.create(ctx, rec)
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	var rec model.GenerationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "generation "+id)
	}
	return &rec, nil
}

// TransitionGeneration updates only while the row is still in from.
func (s *Store) TransitionGeneration(ctx context.Context, id string, from, to model.GenerationStatus, upd model.GenerationUpdate) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if upd.ErrorMessage != nil {
		updates["error_message"] = *upd.ErrorMessage
	}
	if upd.OutputSnapshot != nil {
		// Updates(map) skips the field serializer
		raw, err := json.Marshal(upd.OutputSnapshot)
		if err != nil {
			return fmt.Errorf("encode output snapshot: %w", err)
		}
		updates["output_snapshot"] = string(raw)
	}

	res := s.db.WithContext(ctx).Model(&model.GenerationRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("generation %s not in %s: %w", id, from, model.ErrConflict)
	}
	return nil
}

func (s *Store) FailStaleGenerations(ctx context.Context, olderThan time.Time, message string) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.GenerationRecord{}).
		Where("status = ? AND updated_at < ?", model.StatusProcessing, olderThan.UTC()).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	return int(res.RowsAffected), res.Error
}

func (s *Store) SavePrompt(ctx context.Context, p *model.OptimizedPrompt) error {
	return s.create(ctx, p)
}

func (s *Store) SaveResult(ctx context.Context, r *model.GenerationResult) error {
	return s.create(ctx, r)
}

func (s *Store) SaveEditApplication(ctx context.Context, e *model.EditApplication) error {
	return s.create(ctx, e)
}

func (s *Store) Balance(ctx context.Context, userID string) (int, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, "quel_member_id = ?", userID).Error; err != nil {
		return 0, notFound(err, "user "+userID)
	}
	return m.Credit, nil
}

// Debit is a single conditional UPDATE; concurrent debits cannot overdraw.
func (s *Store) Debit(ctx context.Context, userID string, amount int) (int, error) {
	var newBalance int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Member{}).
			Where("quel_member_id = ? AND quel_member_credit >= ?", userID, amount).
			UpdateColumn("quel_member_credit", gorm.Expr("quel_member_credit - ?", amount))
		if res.Error != nil {
			return res.Error
		}

		var m model.Member
		if err := tx.First(&m, "quel_member_id = ?", userID).Error; err != nil {
			return notFound(err, "user "+userID)
		}
		newBalance = m.Credit
		if res.RowsAffected == 0 {
			return fmt.Errorf("balance %d < %d: %w", m.Credit, amount, model.ErrInsufficientBalance)
		}
		return nil
	})
	if err != nil {
		return newBalance, err
	}
	log.Info().Str("user_id", userID).Int("amount", amount).Int("after", newBalance).Msg("💰 Credit balance updated")
	return newBalance, nil
}

// AppendEntry rejects a second entry for the same generation.
func (s *Store) AppendEntry(ctx context.Context, entry *model.CreditTransaction) error {
	return s.create(ctx, entry)
}

func (s *Store) create(ctx context.Context, row interface{}) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %v", model.ErrConflict, err)
		}
		return err
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505")
}
