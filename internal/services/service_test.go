package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/store"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/pkg/metrics"
)

type testEnv struct {
	store      *store.MemoryStore
	clock      *FixedClock
	dispatcher *CollectDispatcher
	audit      *AuditService
	requests   *RequestService
	signers    *SignerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	logger := zap.NewNop()
	clock := &FixedClock{T: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	dispatcher := &CollectDispatcher{}
	audit := NewAuditService(st, logger, clock)
	requests := NewRequestService(st, audit, dispatcher, NewInternalProvider(logger), clock, logger, metrics.NewMetricsCollector(), 3, 0, 0)
	signers := NewSignerService(requests, logger)
	return &testEnv{
		store:      st,
		clock:      clock,
		dispatcher: dispatcher,
		audit:      audit,
		requests:   requests,
		signers:    signers,
	}
}

func twoLevelInput() CreateRequestInput {
	return CreateRequestInput{
		Title:        "Master Services Agreement",
		WorkflowType: models.WorkflowSequential,
		AllowDecline: true,
		CreatedBy:    "ops@x.com",
		Signers: []workflow.SignerConfig{
			{Email: "a@x.com", Name: "Signer A", Level: 1, Order: 1, CanDecline: true},
			{Email: "b@x.com", Name: "Signer B", Level: 2, Order: 1, CanDecline: true},
		},
	}
}

func signerByEmail(t *testing.T, req *models.SigningRequest, email string) *models.Signer {
	t.Helper()
	for i := range req.Signers {
		if req.Signers[i].Email == email && req.Signers[i].Status != models.SignerDelegated {
			return &req.Signers[i]
		}
	}
	t.Fatalf("signer %s not found", email)
	return nil
}

func countAudit(t *testing.T, env *testEnv, requestID string, action models.AuditAction) int {
	t.Helper()
	entries, err := env.store.ListAudit(context.Background(), requestID)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
