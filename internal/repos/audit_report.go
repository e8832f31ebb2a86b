package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type AuditReportRepo interface {
	Create(ctx context.Context, tx *gorm.DB, report *types.AuditReport) (*types.AuditReport, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AuditReport, error)
	GetLatestByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) (*types.AuditReport, error)
}

type auditReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditReportRepo(db *gorm.DB, baseLog *logger.Logger) AuditReportRepo {
	return &auditReportRepo{
		db:  db,
		log: baseLog.With("repo", "AuditReportRepo"),
	}
}

func (r *auditReportRepo) Create(ctx context.Context, tx *gorm.DB, report *types.AuditReport) (*types.AuditReport, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if report == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

func (r *auditReportRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AuditReport, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var report types.AuditReport
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *auditReportRepo) GetLatestByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) (*types.AuditReport, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if articleID == uuid.Nil {
		return nil, nil
	}
	var report types.AuditReport
	err := transaction.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("created_at DESC").
		Limit(1).
		Find(&report).Error
	if err != nil {
		return nil, err
	}
	if report.ID == uuid.Nil {
		return nil, nil
	}
	return &report, nil
}
