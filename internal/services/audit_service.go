package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/store"
)

// AuditService appends entries to the advisory audit trail. Writes happen
// after the state mutation they describe has committed, and a failed write
// is logged and swallowed: the trail must never block or roll back a
// business operation.
type AuditService struct {
	store  store.RecordStore
	logger *zap.Logger
	clock  Clock
}

func NewAuditService(st store.RecordStore, logger *zap.Logger, clock Clock) *AuditService {
	return &AuditService{
		store:  st,
		logger: logger.With(zap.String("service", "audit_service")),
		clock:  clock,
	}
}

// Record appends one entry. Detail values are JSON-encoded; encoding
// failures are treated the same as write failures.
func (as *AuditService) Record(ctx context.Context, requestID string, signerID *string, action models.AuditAction, actor, fromStatus, toStatus string, detail map[string]any) {
	entry := &models.AuditLogEntry{
		RequestID:  requestID,
		SignerID:   signerID,
		Action:     action,
		Actor:      actor,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		CreatedAt:  as.clock.Now(),
	}
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			as.logger.Warn("audit detail not serializable",
				zap.String("request_id", requestID),
				zap.String("action", string(action)),
				zap.Error(err))
		} else {
			entry.Detail = string(b)
		}
	}

	if err := as.store.AppendAudit(ctx, entry); err != nil {
		as.logger.Warn("audit write failed",
			zap.String("request_id", requestID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (as *AuditService) ListForRequest(ctx context.Context, requestID string) ([]models.AuditLogEntry, error) {
	return as.store.ListAudit(ctx, requestID)
}
