package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

// GormStore is the postgres-backed RecordStore.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "record_store")),
	}
}

func (s *GormStore) CreateRequest(ctx context.Context, req *models.SigningRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		return nil
	})
}

func (s *GormStore) LoadRequest(ctx context.Context, id string) (*models.SigningRequest, error) {
	var req models.SigningRequest
	err := s.db.WithContext(ctx).
		Preload("Levels").
		Preload("Signers").
		Preload("Documents").
		First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *GormStore) SaveRequest(ctx context.Context, req *models.SigningRequest, expectedVersion int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SigningRequest{}).
			Where("id = ? AND version = ?", req.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":         req.Status,
				"sent_date":      req.SentDate,
				"completed_date": req.CompletedDate,
				"expires_at":     req.ExpiresAt,
				"current_level":  req.CurrentLevel,
				"version":        expectedVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return workflow.ErrVersionConflict
		}
		// Upsert so delegation, which adds a new signer record to the
		// aggregate, commits in the same version bump as the original
		// signer's transition.
		for i := range req.Signers {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&req.Signers[i]).Error; err != nil {
				return err
			}
		}
		req.Version = expectedVersion + 1
		return nil
	})
}

func (s *GormStore) DeleteRequest(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&models.Signer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.SigningLevel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.DocumentRef{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.SigningRequest{}, "id = ?", id).Error
	})
}

func (s *GormStore) ListRequests(ctx context.Context, status models.RequestStatus) ([]models.SigningRequest, error) {
	var out []models.SigningRequest
	q := s.db.WithContext(ctx).
		Preload("Levels").
		Preload("Signers").
		Preload("Documents").
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListExpiredRequests(ctx context.Context, now time.Time) ([]models.SigningRequest, error) {
	var out []models.SigningRequest
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status IN ?", now,
			[]models.RequestStatus{models.RequestPending, models.RequestInProgress, models.RequestAwaitingApproval}).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListSignersForLevel(ctx context.Context, requestID string, level int) ([]models.Signer, error) {
	var out []models.Signer
	err := s.db.WithContext(ctx).
		Where("request_id = ? AND level = ?", requestID, level).
		Order("signing_order ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListAudit(ctx context.Context, requestID string) ([]models.AuditLogEntry, error) {
	var out []models.AuditLogEntry
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
