package models

import (
	"time"

	"gorm.io/gorm"
)

type SignerStatus string

const (
	SignerPending              SignerStatus = "PENDING"
	SignerSent                 SignerStatus = "SENT"
	SignerDelivered            SignerStatus = "DELIVERED"
	SignerViewed               SignerStatus = "VIEWED"
	SignerSigned               SignerStatus = "SIGNED"
	SignerDeclined             SignerStatus = "DECLINED"
	SignerDelegated            SignerStatus = "DELEGATED"
	SignerExpired              SignerStatus = "EXPIRED"
	SignerVoided               SignerStatus = "VOIDED"
	SignerAuthenticationFailed SignerStatus = "AUTHENTICATION_FAILED"
)

// Terminal reports whether the status is immutable. Delegated is terminal
// for the original record; the replacement signer carries the obligation on.
func (s SignerStatus) Terminal() bool {
	switch s {
	case SignerSigned, SignerDeclined, SignerDelegated, SignerExpired, SignerVoided:
		return true
	}
	return false
}

// Actionable reports whether the signer may still sign from this status.
func (s SignerStatus) Actionable() bool {
	switch s {
	case SignerSent, SignerDelivered, SignerViewed:
		return true
	}
	return false
}

type SignerRole string

const (
	RoleSigner     SignerRole = "SIGNER"
	RoleApprover   SignerRole = "APPROVER"
	RoleWitness    SignerRole = "WITNESS"
	RoleCarbonCopy SignerRole = "CARBON_COPY"
)

type Signer struct {
	gorm.Model
	ID          string       `gorm:"primaryKey"`
	RequestID   string       `gorm:"index;not null"`
	Email       string       `gorm:"not null"`
	Name        string       `gorm:"not null"`
	UserID      *uint        `gorm:"index"`
	Role        SignerRole   `gorm:"not null;default:'SIGNER'"`
	Status      SignerStatus `gorm:"not null;default:'PENDING'"`
	Level       int          `gorm:"not null"`
	Order       int          `gorm:"column:signing_order;not null"`
	CanDelegate bool         `gorm:"not null;default:false"`
	CanDecline  bool         `gorm:"not null;default:true"`
	// DelegatedByID links a replacement signer back to the record it replaced.
	DelegatedByID    *string
	ReminderCount    int `gorm:"not null;default:0"`
	DeclineReason    string
	SignaturePayload []byte `gorm:"type:bytea"`
	SignedAt         *time.Time
	IPAddress        string
	UserAgent        string
}
