// Package store is the record store boundary: the single source of truth
// for requests, signers and audit entries. Implementations must provide
// optimistic concurrency on the request aggregate so that two writers
// racing on the same chain cannot both advance it.
package store

import (
	"context"
	"time"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

// RecordStore is the persistence contract the workflow engine runs against.
// Every operation re-reads current state; nothing is cached across calls.
type RecordStore interface {
	// CreateRequest persists the request aggregate (request, levels,
	// signers, documents) transactionally.
	CreateRequest(ctx context.Context, req *models.SigningRequest) error

	// LoadRequest returns the aggregate with levels, signers and documents
	// attached, or workflow.ErrNotFound.
	LoadRequest(ctx context.Context, id string) (*models.SigningRequest, error)

	// SaveRequest writes the aggregate back. The write succeeds only if the
	// stored version still equals expectedVersion; otherwise it returns
	// workflow.ErrVersionConflict and the caller must reload and retry.
	// On success the request's Version is bumped to expectedVersion+1.
	SaveRequest(ctx context.Context, req *models.SigningRequest, expectedVersion int) error

	// DeleteRequest hard-deletes the aggregate. Legality (Draft only) is
	// enforced by the lifecycle manager, not here.
	DeleteRequest(ctx context.Context, id string) error

	ListRequests(ctx context.Context, status models.RequestStatus) ([]models.SigningRequest, error)
	ListExpiredRequests(ctx context.Context, now time.Time) ([]models.SigningRequest, error)
	ListSignersForLevel(ctx context.Context, requestID string, level int) ([]models.Signer, error)

	// AppendAudit appends one entry. Entries are never updated or deleted.
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	ListAudit(ctx context.Context, requestID string) ([]models.AuditLogEntry, error)
}
