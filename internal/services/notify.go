package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

type NotificationKind string

const (
	NotifySent           NotificationKind = "SENT"
	NotifyReminder       NotificationKind = "REMINDER"
	NotifyLevelActivated NotificationKind = "LEVEL_ACTIVATED"
	NotifyCompleted      NotificationKind = "COMPLETED"
	NotifyDeclined       NotificationKind = "DECLINED"
	NotifyCancelled      NotificationKind = "CANCELLED"
)

// Dispatcher is told whom to notify and why. Delivery is external; a
// dispatcher failure is logged by the implementation and never surfaces as
// a business error, and no state transition depends on it.
type Dispatcher interface {
	Notify(ctx context.Context, kind NotificationKind, req *models.SigningRequest, signer *models.Signer)
}

// LogDispatcher records notification intent in the operational log. It
// stands in for the real email/chat delivery pipeline.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With(zap.String("service", "notification_dispatcher"))}
}

func (d *LogDispatcher) Notify(ctx context.Context, kind NotificationKind, req *models.SigningRequest, signer *models.Signer) {
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("request_id", req.ID),
		zap.String("request_number", req.RequestNumber),
	}
	if signer != nil {
		fields = append(fields,
			zap.String("signer_id", signer.ID),
			zap.String("signer_email", signer.Email))
	}
	d.logger.Info("notification dispatched", fields...)
}

// CollectDispatcher records every notification for assertions in tests.
type CollectDispatcher struct {
	Events []CollectedNotification
}

type CollectedNotification struct {
	Kind     NotificationKind
	SignerID string
}

func (d *CollectDispatcher) Notify(ctx context.Context, kind NotificationKind, req *models.SigningRequest, signer *models.Signer) {
	ev := CollectedNotification{Kind: kind}
	if signer != nil {
		ev.SignerID = signer.ID
	}
	d.Events = append(d.Events, ev)
}
