package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"IBT-ASSESS/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// Ledger records the outcome of each submission. IntakeService works
// without one.
type Ledger interface {
	Record(ctx context.Context, rec *models.SubmissionRecord) error
	MarkCompleted(ctx context.Context, id, opportunityID string) error
	MarkRecordFailed(ctx context.Context, id string, cause error) error
}

type SubmissionLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSubmissionLedger(db *gorm.DB, logger *zap.Logger) *SubmissionLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionLedger{db: db, logger: logger}
}

func (l *SubmissionLedger) Record(ctx context.Context, rec *models.SubmissionRecord) error {
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

func (l *SubmissionLedger) MarkCompleted(ctx context.Context, id, opportunityID string) error {
	return l.update(ctx, id, map[string]any{
		"status":         models.SubmissionStatusCompleted,
		"opportunity_id": opportunityID,
		"error":          "",
	})
}

func (l *SubmissionLedger) MarkRecordFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.update(ctx, id, map[string]any{
		"status": models.SubmissionStatusRecordFailed,
		"error":  msg,
	})
}

func (l *SubmissionLedger) Get(ctx context.Context, id string) (*models.SubmissionRecord, error) {
	var rec models.SubmissionRecord
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submission: %w", err)
	}
	return &rec, nil
}

// List returns submissions newest first, optionally filtered by status.
func (l *SubmissionLedger) List(ctx context.Context, status string, limit, offset int) ([]models.SubmissionRecord, int64, error) {
	var records []models.SubmissionRecord
	var total int64

	query := l.db.WithContext(ctx).Model(&models.SubmissionRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch submissions: %w", err)
	}
	return records, total, nil
}

func (l *SubmissionLedger) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	result := l.db.WithContext(ctx).Model(&models.SubmissionRecord{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update submission %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}
