package models

import (
	"time"
)

type AuditAction string

const (
	AuditRequestCreated   AuditAction = "request.created"
	AuditRequestSent      AuditAction = "request.sent"
	AuditRequestCancelled AuditAction = "request.cancelled"
	AuditRequestDeleted   AuditAction = "request.deleted"
	AuditRequestCompleted AuditAction = "request.completed"
	AuditRequestDeclined  AuditAction = "request.declined"
	AuditRequestExpired   AuditAction = "request.expired"
	AuditSignerSent       AuditAction = "signer.sent"
	AuditSignerDelivered  AuditAction = "signer.delivered"
	AuditSignerViewed     AuditAction = "signer.viewed"
	AuditSignerSigned     AuditAction = "signer.signed"
	AuditSignerDeclined   AuditAction = "signer.declined"
	AuditSignerDelegated  AuditAction = "signer.delegated"
	AuditSignerVoided     AuditAction = "signer.voided"
	AuditSignerReminded   AuditAction = "signer.reminded"
	AuditSignerAuthFailed AuditAction = "signer.auth_failed"
	AuditLevelActivated   AuditAction = "level.activated"
	AuditProviderSynced   AuditAction = "provider.synced"
)

// AuditLogEntry is append-only: entries are created on every transition and
// never updated or deleted. The trail is advisory, not authoritative.
type AuditLogEntry struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  string `gorm:"index;not null"`
	SignerID   *string
	Action     AuditAction `gorm:"not null"`
	Actor      string
	FromStatus string
	ToStatus   string
	Detail     string    `gorm:"type:json"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
