package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/store"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

func TestSequentialTwoLevelEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.requests.CreateRequest(ctx, twoLevelInput())
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != models.RequestDraft {
		t.Fatalf("status after create = %s, want DRAFT", req.Status)
	}
	if req.RequestNumber == "" {
		t.Fatal("request number missing")
	}

	req, err = env.requests.SendForSignature(ctx, req.ID)
	if err != nil {
		t.Fatalf("SendForSignature: %v", err)
	}
	if req.Status != models.RequestInProgress {
		t.Fatalf("status after send = %s, want IN_PROGRESS", req.Status)
	}
	if req.SentDate == nil {
		t.Fatal("sent date missing")
	}
	a := signerByEmail(t, req, "a@x.com")
	b := signerByEmail(t, req, "b@x.com")
	if a.Status != models.SignerSent {
		t.Errorf("signer A = %s, want SENT", a.Status)
	}
	if b.Status != models.SignerPending {
		t.Errorf("signer B = %s, want PENDING", b.Status)
	}

	req, err = env.signers.Sign(ctx, req.ID, a.ID, SignInput{SignatureData: []byte("sig-a")})
	if err != nil {
		t.Fatalf("Sign(A): %v", err)
	}
	if req.Status != models.RequestInProgress {
		t.Errorf("status after first signature = %s, want IN_PROGRESS", req.Status)
	}
	if req.CurrentLevel != 2 {
		t.Errorf("current level = %d, want 2", req.CurrentLevel)
	}
	b = signerByEmail(t, req, "b@x.com")
	if b.Status != models.SignerSent {
		t.Errorf("signer B after level advance = %s, want SENT", b.Status)
	}

	req, err = env.signers.Sign(ctx, req.ID, b.ID, SignInput{SignatureData: []byte("sig-b")})
	if err != nil {
		t.Fatalf("Sign(B): %v", err)
	}
	if req.Status != models.RequestCompleted {
		t.Errorf("final status = %s, want COMPLETED", req.Status)
	}
	if req.CompletedDate == nil {
		t.Error("completed date missing")
	}
}

func TestFirstSignerShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := CreateRequestInput{
		Title:        "Race to sign",
		WorkflowType: models.WorkflowFirstSigner,
		AllowDecline: true,
		Signers: []workflow.SignerConfig{
			{Email: "a@x.com", Level: 1, Order: 1},
			{Email: "b@x.com", Level: 1, Order: 2},
			{Email: "c@x.com", Level: 1, Order: 3},
		},
		SendImmediately: true,
	}
	req, err := env.requests.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	a := signerByEmail(t, req, "a@x.com")
	req, err = env.signers.Sign(ctx, req.ID, a.ID, SignInput{SignatureData: []byte("sig")})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if req.Status != models.RequestCompleted {
		t.Fatalf("status = %s, want COMPLETED on first signature", req.Status)
	}
	for _, email := range []string{"b@x.com", "c@x.com"} {
		if s := signerByEmail(t, req, email); s.Status != models.SignerSent {
			t.Errorf("remaining signer %s = %s, want SENT", email, s.Status)
		}
	}
}

func TestFirstSignerShortCircuitAcrossLevels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The level-1 signature also completes its level; the request must
	// still finish rather than activating level 2.
	in := CreateRequestInput{
		Title:        "Race to sign, two levels",
		WorkflowType: models.WorkflowFirstSigner,
		AllowDecline: true,
		Signers: []workflow.SignerConfig{
			{Email: "a@x.com", Level: 1, Order: 1},
			{Email: "b@x.com", Level: 2, Order: 1},
		},
		SendImmediately: true,
	}
	req, err := env.requests.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	a := signerByEmail(t, req, "a@x.com")
	req, err = env.signers.Sign(ctx, req.ID, a.ID, SignInput{SignatureData: []byte("sig")})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if req.Status != models.RequestCompleted {
		t.Fatalf("status = %s, want COMPLETED on first signature", req.Status)
	}
	if req.CompletedDate == nil {
		t.Error("completed date missing")
	}
	if req.CurrentLevel != 1 {
		t.Errorf("current level = %d, want 1 (chain must not advance)", req.CurrentLevel)
	}
	if got := signerByEmail(t, req, "b@x.com").Status; got != models.SignerPending {
		t.Errorf("later-level signer = %s, want PENDING untouched", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.requests.CreateRequest(ctx, twoLevelInput())
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if _, err := env.requests.SendForSignature(ctx, req.ID); err != nil {
		t.Fatalf("SendForSignature: %v", err)
	}

	req, err = env.requests.CancelRequest(ctx, req.ID, "deal fell through", false)
	if err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if req.Status != models.RequestCancelled {
		t.Fatalf("status = %s, want CANCELLED", req.Status)
	}
	for i := range req.Signers {
		if !req.Signers[i].Status.Terminal() {
			t.Errorf("signer %s left non-terminal: %s", req.Signers[i].Email, req.Signers[i].Status)
		}
	}

	// Second cancel is a no-op, not an error, and writes no extra audit.
	before := countAudit(t, env, req.ID, models.AuditRequestCancelled)
	if _, err := env.requests.CancelRequest(ctx, req.ID, "again", false); err != nil {
		t.Fatalf("second CancelRequest: %v", err)
	}
	if after := countAudit(t, env, req.ID, models.AuditRequestCancelled); after != before {
		t.Errorf("duplicate cancel wrote audit entries: %d -> %d", before, after)
	}
}

func TestCancelCompletedRequestFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, CreateRequestInput{
		Title:        "One signer",
		WorkflowType: models.WorkflowSequential,
		AllowDecline: true,
		Signers: []workflow.SignerConfig{
			{Email: "a@x.com", Level: 1, Order: 1},
		},
		SendImmediately: true,
	})
	a := signerByEmail(t, req, "a@x.com")
	if _, err := env.signers.Sign(ctx, req.ID, a.ID, SignInput{}); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err := env.requests.CancelRequest(ctx, req.ID, "too late", false)
	var transition *workflow.StateTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("err = %v, want StateTransitionError", err)
	}
}

func TestDeleteOnlyDrafts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	if err := env.requests.DeleteRequest(ctx, req.ID); err != nil {
		t.Fatalf("DeleteRequest(draft): %v", err)
	}
	if _, err := env.requests.GetRequest(ctx, req.ID); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("request still loadable after delete: %v", err)
	}

	sent, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	if _, err := env.requests.SendForSignature(ctx, sent.ID); err != nil {
		t.Fatalf("SendForSignature: %v", err)
	}
	err := env.requests.DeleteRequest(ctx, sent.ID)
	var transition *workflow.StateTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("delete of sent request: err = %v, want StateTransitionError", err)
	}
}

func TestSendOnlyFromDraftOrPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	if _, err := env.requests.SendForSignature(ctx, req.ID); err != nil {
		t.Fatalf("SendForSignature: %v", err)
	}

	_, err := env.requests.SendForSignature(ctx, req.ID)
	var transition *workflow.StateTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("second send: err = %v, want StateTransitionError", err)
	}
}

func TestResendBumpsReminderAndRejectsSigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	req, _ = env.requests.SendForSignature(ctx, req.ID)
	a := signerByEmail(t, req, "a@x.com")

	req, err := env.requests.ResendToSigner(ctx, req.ID, a.ID, "please sign")
	if err != nil {
		t.Fatalf("ResendToSigner: %v", err)
	}
	if got := signerByEmail(t, req, "a@x.com").ReminderCount; got != 1 {
		t.Errorf("reminder count = %d, want 1", got)
	}
	if n := countAudit(t, env, req.ID, models.AuditSignerReminded); n != 1 {
		t.Errorf("reminder audit entries = %d, want 1", n)
	}

	if _, err := env.signers.Sign(ctx, req.ID, a.ID, SignInput{}); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, err = env.requests.ResendToSigner(ctx, req.ID, a.ID, "again")
	if !errors.Is(err, workflow.ErrAlreadySigned) {
		t.Fatalf("resend after signing: err = %v, want ErrAlreadySigned", err)
	}
}

func TestReminderCapEnforced(t *testing.T) {
	env := newTestEnv(t)
	env.requests.reminderCap = 1
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	req, _ = env.requests.SendForSignature(ctx, req.ID)
	a := signerByEmail(t, req, "a@x.com")

	if _, err := env.requests.ResendToSigner(ctx, req.ID, a.ID, ""); err != nil {
		t.Fatalf("first resend: %v", err)
	}
	_, err := env.requests.ResendToSigner(ctx, req.ID, a.ID, "")
	var notAllowed *workflow.NotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("second resend: err = %v, want NotAllowedError", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expiry := env.clock.T.Add(24 * time.Hour)
	in := twoLevelInput()
	in.ExpiresAt = &expiry
	req, _ := env.requests.CreateRequest(ctx, in)
	if _, err := env.requests.SendForSignature(ctx, req.ID); err != nil {
		t.Fatalf("SendForSignature: %v", err)
	}

	// Not yet due.
	n, err := env.requests.ExpireOverdue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ExpireOverdue before due = (%d, %v), want (0, nil)", n, err)
	}

	env.clock.T = env.clock.T.Add(48 * time.Hour)
	n, err = env.requests.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count = %d, want 1", n)
	}

	req, _ = env.requests.GetRequest(ctx, req.ID)
	if req.Status != models.RequestExpired {
		t.Errorf("status = %s, want EXPIRED", req.Status)
	}
	a := signerByEmail(t, req, "a@x.com")
	if a.Status != models.SignerExpired {
		t.Errorf("signer A = %s, want EXPIRED", a.Status)
	}
}

// conflictStore injects one version conflict into the first save, modelling
// a writer that lost a race and must retry against fresh state.
type conflictStore struct {
	*store.MemoryStore
	conflicts int
}

func (cs *conflictStore) SaveRequest(ctx context.Context, req *models.SigningRequest, expectedVersion int) error {
	if cs.conflicts > 0 {
		cs.conflicts--
		return workflow.ErrVersionConflict
	}
	return cs.MemoryStore.SaveRequest(ctx, req, expectedVersion)
}

func TestVersionConflictRetriedTransparently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	req, _ = env.requests.SendForSignature(ctx, req.ID)
	a := signerByEmail(t, req, "a@x.com")

	env.requests.store = &conflictStore{MemoryStore: env.store, conflicts: 1}

	req, err := env.signers.Sign(ctx, req.ID, a.ID, SignInput{})
	if err != nil {
		t.Fatalf("Sign with one conflict: %v", err)
	}
	if req.CurrentLevel != 2 {
		t.Errorf("current level = %d, want 2 after retried advancement", req.CurrentLevel)
	}
	if n := countAudit(t, env, req.ID, models.AuditSignerSigned); n != 1 {
		t.Errorf("signed audit entries = %d, want exactly 1", n)
	}
}

func TestVersionConflictSurfacesWhenRetriesExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	req, _ = env.requests.SendForSignature(ctx, req.ID)
	a := signerByEmail(t, req, "a@x.com")

	env.requests.store = &conflictStore{MemoryStore: env.store, conflicts: 100}

	_, err := env.signers.Sign(ctx, req.ID, a.ID, SignInput{})
	if !errors.Is(err, workflow.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict after retries exhausted", err)
	}
}

func TestStaleWriterLosesDirectly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, _ := env.requests.CreateRequest(ctx, twoLevelInput())
	req, _ = env.requests.SendForSignature(ctx, req.ID)

	// Two readers of the same version; the second commit must conflict.
	first, _ := env.store.LoadRequest(ctx, req.ID)
	second, _ := env.store.LoadRequest(ctx, req.ID)

	if err := env.store.SaveRequest(ctx, first, first.Version); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := env.store.SaveRequest(ctx, second, second.Version); !errors.Is(err, workflow.ErrVersionConflict) {
		t.Fatalf("second save: err = %v, want ErrVersionConflict", err)
	}
}

func TestAuditFailureNeverBlocksBusinessOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.FailAudit = true

	req, err := env.requests.CreateRequest(ctx, twoLevelInput())
	if err != nil {
		t.Fatalf("CreateRequest with failing audit sink: %v", err)
	}
	if _, err := env.requests.SendForSignature(ctx, req.ID); err != nil {
		t.Fatalf("SendForSignature with failing audit sink: %v", err)
	}
	req, _ = env.requests.GetRequest(ctx, req.ID)
	if req.Status != models.RequestInProgress {
		t.Errorf("status = %s, want IN_PROGRESS despite audit failures", req.Status)
	}
}

func TestCreateRequestAppliesDefaultExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.requests.defaultExpiry = 30
	ctx := context.Background()

	req, err := env.requests.CreateRequest(ctx, twoLevelInput())
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.ExpiresAt == nil {
		t.Fatal("expiration not defaulted")
	}
	if want := env.clock.T.AddDate(0, 0, 30); !req.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", req.ExpiresAt, want)
	}

	// An explicit expiration wins over the default.
	explicit := env.clock.T.Add(time.Hour)
	in := twoLevelInput()
	in.ExpiresAt = &explicit
	req, err = env.requests.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if !req.ExpiresAt.Equal(explicit) {
		t.Errorf("expires at %v, want explicit %v", req.ExpiresAt, explicit)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := twoLevelInput()
	in.Signers = nil
	_, err := env.requests.CreateRequest(ctx, in)
	var validation *workflow.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("empty signers: err = %v, want ValidationError", err)
	}

	in = twoLevelInput()
	in.RequireAccessCode = true
	_, err = env.requests.CreateRequest(ctx, in)
	if !errors.As(err, &validation) {
		t.Fatalf("missing access code: err = %v, want ValidationError", err)
	}
}
