package models

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

type RequestStatus string

const (
	RequestDraft            RequestStatus = "DRAFT"
	RequestPending          RequestStatus = "PENDING"
	RequestInProgress       RequestStatus = "IN_PROGRESS"
	RequestAwaitingApproval RequestStatus = "AWAITING_APPROVAL"
	RequestCompleted        RequestStatus = "COMPLETED"
	RequestCancelled        RequestStatus = "CANCELLED"
	RequestExpired          RequestStatus = "EXPIRED"
	RequestDeclined         RequestStatus = "DECLINED"
	RequestVoided           RequestStatus = "VOIDED"
)

// Terminal reports whether no further accepting operation is legal.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestCompleted, RequestCancelled, RequestExpired, RequestDeclined, RequestVoided:
		return true
	}
	return false
}

type WorkflowType string

const (
	WorkflowSequential       WorkflowType = "SEQUENTIAL"
	WorkflowParallel         WorkflowType = "PARALLEL"
	WorkflowHybrid           WorkflowType = "HYBRID"
	WorkflowFirstSigner      WorkflowType = "FIRST_SIGNER"
	WorkflowApprovalThenSign WorkflowType = "APPROVAL_THEN_SIGN"
	WorkflowCustom           WorkflowType = "CUSTOM"
)

func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowSequential, WorkflowParallel, WorkflowHybrid,
		WorkflowFirstSigner, WorkflowApprovalThenSign, WorkflowCustom:
		return true
	}
	return false
}

type ProviderKind string

const (
	ProviderInternal ProviderKind = "INTERNAL"
	ProviderExternal ProviderKind = "EXTERNAL"
)

type SigningRequest struct {
	gorm.Model
	ID                string        `gorm:"primaryKey"`
	Title             string        `gorm:"not null"`
	RequestNumber     string        `gorm:"unique;not null"`
	Status            RequestStatus `gorm:"not null;default:'DRAFT'"`
	WorkflowType      WorkflowType  `gorm:"not null"`
	Provider          ProviderKind  `gorm:"not null;default:'INTERNAL'"`
	CreatedBy         string
	Message           string
	SentDate          *time.Time
	CompletedDate     *time.Time
	DueDate           *time.Time
	ExpiresAt         *time.Time
	AllowDelegation   bool `gorm:"not null;default:false"`
	AllowDecline      bool `gorm:"not null;default:true"`
	RequireAccessCode bool `gorm:"not null;default:false"`
	RequireComments   bool `gorm:"not null;default:false"`
	AccessCodeHash    string
	CurrentLevel      int `gorm:"not null;default:1"`
	TotalLevels       int `gorm:"not null;default:1"`
	// Version is bumped on every aggregate write; concurrent writers
	// racing on the same request must lose with a conflict, not merge.
	Version int `gorm:"not null;default:1"`

	Levels    []SigningLevel `gorm:"foreignKey:RequestID;references:ID"`
	Signers   []Signer       `gorm:"foreignKey:RequestID;references:ID"`
	Documents []DocumentRef  `gorm:"foreignKey:RequestID;references:ID"`
}

// SigningLevel carries the stored per-level configuration. The level's
// status is always derived from its signers, never persisted.
type SigningLevel struct {
	gorm.Model
	RequestID    string       `gorm:"index;not null"`
	Level        int          `gorm:"not null"`
	WorkflowType WorkflowType `gorm:"not null"`
}

type DocumentRef struct {
	gorm.Model
	RequestID   string `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	URI         string
	ContentHash string
	Position    int `gorm:"not null;default:0"`
}

// SignersAtLevel returns the signers assigned to the given level, in
// ascending order. Delegated records are included; callers that only care
// about live obligations should skip them.
func (r *SigningRequest) SignersAtLevel(level int) []*Signer {
	var out []*Signer
	for i := range r.Signers {
		if r.Signers[i].Level == level {
			out = append(out, &r.Signers[i])
		}
	}
	sortSignersByOrder(out)
	return out
}

// LevelConfig returns the stored configuration for a level, or nil when the
// level does not exist.
func (r *SigningRequest) LevelConfig(level int) *SigningLevel {
	for i := range r.Levels {
		if r.Levels[i].Level == level {
			return &r.Levels[i]
		}
	}
	return nil
}

// LevelWorkflowType resolves the intra-level semantics for a level, falling
// back to the request's workflow type when no override is stored.
func (r *SigningRequest) LevelWorkflowType(level int) WorkflowType {
	if lc := r.LevelConfig(level); lc != nil && lc.WorkflowType != "" {
		return lc.WorkflowType
	}
	return r.WorkflowType
}

// FindSigner locates a signer by ID within the loaded aggregate.
func (r *SigningRequest) FindSigner(signerID string) *Signer {
	for i := range r.Signers {
		if r.Signers[i].ID == signerID {
			return &r.Signers[i]
		}
	}
	return nil
}

func sortSignersByOrder(signers []*Signer) {
	sort.Slice(signers, func(i, j int) bool {
		return signers[i].Order < signers[j].Order
	})
}
