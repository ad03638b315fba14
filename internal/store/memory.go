package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

var errAuditUnavailable = errors.New("audit sink unavailable")

// MemoryStore is a mutex-guarded in-memory RecordStore with the same
// optimistic-concurrency semantics as the postgres store. It backs the
// test suite and the ephemeral run mode.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.SigningRequest
	audit    []models.AuditLogEntry
	nextID   uint

	// FailAudit makes AppendAudit return failErr, for exercising the
	// advisory-audit path.
	FailAudit bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.SigningRequest)}
}

func cloneRequest(req *models.SigningRequest) *models.SigningRequest {
	cp := *req
	cp.Levels = append([]models.SigningLevel(nil), req.Levels...)
	cp.Signers = append([]models.Signer(nil), req.Signers...)
	cp.Documents = append([]models.DocumentRef(nil), req.Documents...)
	return &cp
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *models.SigningRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) LoadRequest(ctx context.Context, id string) (*models.SigningRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *MemoryStore) SaveRequest(ctx context.Context, req *models.SigningRequest, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	if current.Version != expectedVersion {
		return workflow.ErrVersionConflict
	}
	req.Version = expectedVersion + 1
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return workflow.ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, status models.RequestStatus) ([]models.SigningRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SigningRequest
	for _, req := range s.requests {
		if status == "" || req.Status == status {
			out = append(out, *cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListExpiredRequests(ctx context.Context, now time.Time) ([]models.SigningRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SigningRequest
	for _, req := range s.requests {
		switch req.Status {
		case models.RequestPending, models.RequestInProgress, models.RequestAwaitingApproval:
		default:
			continue
		}
		if req.ExpiresAt != nil && req.ExpiresAt.Before(now) {
			out = append(out, *cloneRequest(req))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSignersForLevel(ctx context.Context, requestID string, level int) ([]models.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	var out []models.Signer
	for _, sg := range req.Signers {
		if sg.Level == level {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAudit {
		return errAuditUnavailable
	}
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, *entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, requestID string) ([]models.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditLogEntry
	for _, e := range s.audit {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}
