package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/utils"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

// SignerService handles the per-signer actions: sign, decline, delegate,
// viewed, delivered, plus provider-status synchronization. Each action
// mutates the signer, runs the advancement engine and commits the whole
// aggregate under one version bump, so a racing writer loses cleanly with
// a version conflict instead of double-advancing the chain.
type SignerService struct {
	requests *RequestService
	logger   *zap.Logger
}

func NewSignerService(requests *RequestService, logger *zap.Logger) *SignerService {
	return &SignerService{
		requests: requests,
		logger:   logger.With(zap.String("service", "signer_service")),
	}
}

type SignInput struct {
	SignatureData []byte
	AccessCode    string
	IPAddress     string
	UserAgent     string
	Comment       string
}

// Sign records a signature. Legal only while the signer is actionable
// (Sent, Delivered or Viewed). When the request demands an access code a
// mismatch fails with ErrAuthenticationFailed, leaves the signer status
// untouched and logs the attempt to the audit trail.
func (ss *SignerService) Sign(ctx context.Context, requestID, signerID string, in SignInput) (*models.SigningRequest, error) {
	var fx advanceEffects
	var prev models.SignerStatus

	req, err := ss.requests.mutate(ctx, requestID, func(req *models.SigningRequest) error {
		if req.Status.Terminal() {
			return workflow.InvalidTransition("sign", req.Status)
		}
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if s.Status == models.SignerSigned {
			return workflow.ErrAlreadySigned
		}
		if !s.Status.Actionable() {
			return workflow.InvalidSignerTransition("sign", s.Status)
		}
		if req.RequireAccessCode && !utils.VerifyAccessCode(req.AccessCodeHash, in.AccessCode) {
			return workflow.ErrAuthenticationFailed
		}
		if req.RequireComments && in.Comment == "" {
			return workflow.Validationf("a comment is required on this request")
		}

		prev = s.Status
		now := ss.requests.clock.Now()
		s.Status = models.SignerSigned
		s.SignaturePayload = in.SignatureData
		s.SignedAt = &now
		s.IPAddress = in.IPAddress
		s.UserAgent = in.UserAgent

		fx = applyAdvancement(req, s.Level, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, workflow.ErrAuthenticationFailed) {
			sid := signerID
			ss.requests.audit.Record(ctx, requestID, &sid, models.AuditSignerAuthFailed, signerID, "", "", map[string]any{
				"ip_address": in.IPAddress,
			})
			ss.requests.metrics.IncrementCounter("auth_failures", nil)
		}
		return nil, err
	}

	sid := signerID
	ss.requests.audit.Record(ctx, req.ID, &sid, models.AuditSignerSigned, signerID, string(prev), string(models.SignerSigned), map[string]any{
		"ip_address": in.IPAddress,
		"comment":    in.Comment,
	})
	ss.requests.metrics.IncrementCounter("signatures_recorded", nil)
	ss.requests.finishAdvancement(ctx, req, fx)
	ss.logger.Info("signer signed",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signerID),
		zap.String("request_status", string(req.Status)))
	return req, nil
}

// Decline vetoes the whole request: the owning level derives Declined, the
// request becomes Declined and all later levels are voided.
func (ss *SignerService) Decline(ctx context.Context, requestID, signerID, reason string) (*models.SigningRequest, error) {
	var fx advanceEffects
	var prev models.SignerStatus

	req, err := ss.requests.mutate(ctx, requestID, func(req *models.SigningRequest) error {
		if req.Status.Terminal() {
			return workflow.InvalidTransition("decline", req.Status)
		}
		if !req.AllowDecline {
			return &workflow.NotAllowedError{Op: "decline", Reason: "request does not allow declining"}
		}
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if !s.CanDecline {
			return &workflow.NotAllowedError{Op: "decline", Reason: "signer may not decline"}
		}
		if !s.Status.Actionable() {
			return workflow.InvalidSignerTransition("decline", s.Status)
		}

		prev = s.Status
		s.Status = models.SignerDeclined
		s.DeclineReason = reason

		fx = applyAdvancement(req, s.Level, ss.requests.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	sid := signerID
	ss.requests.audit.Record(ctx, req.ID, &sid, models.AuditSignerDeclined, signerID, string(prev), string(models.SignerDeclined), map[string]any{
		"reason": reason,
	})
	ss.requests.metrics.IncrementCounter("declines_recorded", nil)
	ss.requests.finishAdvancement(ctx, req, fx)
	ss.logger.Info("signer declined",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signerID),
		zap.String("reason", reason))
	return req, nil
}

type DelegateInput struct {
	Email  string
	Name   string
	Reason string
}

// Delegate hands the signer's obligation to a substitute: the original
// record becomes Delegated (terminal, but not satisfying the level) and a
// replacement signer is created at the same position with status Sent.
func (ss *SignerService) Delegate(ctx context.Context, requestID, signerID string, in DelegateInput) (*models.SigningRequest, error) {
	if in.Email == "" {
		return nil, workflow.Validationf("delegate email is required")
	}

	var prev models.SignerStatus
	var replacementID string

	req, err := ss.requests.mutate(ctx, requestID, func(req *models.SigningRequest) error {
		if req.Status.Terminal() {
			return workflow.InvalidTransition("delegate", req.Status)
		}
		if !req.AllowDelegation {
			return &workflow.NotAllowedError{Op: "delegate", Reason: "request does not allow delegation"}
		}
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if !s.CanDelegate {
			return &workflow.NotAllowedError{Op: "delegate", Reason: "signer may not delegate"}
		}
		if !s.Status.Actionable() {
			return workflow.InvalidSignerTransition("delegate", s.Status)
		}

		prev = s.Status
		s.Status = models.SignerDelegated

		origID := s.ID
		replacement := models.Signer{
			ID:            uuid.New().String(),
			RequestID:     req.ID,
			Email:         in.Email,
			Name:          in.Name,
			Role:          s.Role,
			Status:        models.SignerSent,
			Level:         s.Level,
			Order:         s.Order,
			CanDelegate:   s.CanDelegate,
			CanDecline:    s.CanDecline,
			DelegatedByID: &origID,
		}
		replacementID = replacement.ID
		req.Signers = append(req.Signers, replacement)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sid := signerID
	ss.requests.audit.Record(ctx, req.ID, &sid, models.AuditSignerDelegated, signerID, string(prev), string(models.SignerDelegated), map[string]any{
		"delegate_email":     in.Email,
		"delegate_signer_id": replacementID,
		"reason":             in.Reason,
	})
	ss.requests.metrics.IncrementCounter("delegations_recorded", nil)
	if replacement := req.FindSigner(replacementID); replacement != nil {
		ss.requests.dispatcher.Notify(ctx, NotifySent, req, replacement)
	}
	ss.logger.Info("signer delegated",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signerID),
		zap.String("delegate_signer_id", replacementID))
	return req, nil
}

// RecordViewed transitions Sent/Delivered to Viewed. Viewing never affects
// chain advancement.
func (ss *SignerService) RecordViewed(ctx context.Context, requestID, signerID string) (*models.SigningRequest, error) {
	var prev models.SignerStatus
	req, err := ss.requests.mutate(ctx, requestID, func(req *models.SigningRequest) error {
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if s.Status != models.SignerSent && s.Status != models.SignerDelivered {
			return workflow.InvalidSignerTransition("record_viewed", s.Status)
		}
		prev = s.Status
		s.Status = models.SignerViewed
		return nil
	})
	if err != nil {
		return nil, err
	}
	sid := signerID
	ss.requests.audit.Record(ctx, req.ID, &sid, models.AuditSignerViewed, signerID, string(prev), string(models.SignerViewed), nil)
	return req, nil
}

// MarkDelivered transitions Sent to Delivered, typically from a provider
// delivery receipt.
func (ss *SignerService) MarkDelivered(ctx context.Context, requestID, signerID string) (*models.SigningRequest, error) {
	req, err := ss.requests.mutate(ctx, requestID, func(req *models.SigningRequest) error {
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if s.Status != models.SignerSent {
			return workflow.InvalidSignerTransition("mark_delivered", s.Status)
		}
		s.Status = models.SignerDelivered
		return nil
	})
	if err != nil {
		return nil, err
	}
	sid := signerID
	ss.requests.audit.Record(ctx, req.ID, &sid, models.AuditSignerDelivered, signerID, string(models.SignerSent), string(models.SignerDelivered), nil)
	return req, nil
}

// SyncFromProvider applies provider-reported signer statuses. Updates are
// addressed by email; events for signers already at or past the reported
// status are skipped, so redelivered webhooks are harmless.
func (ss *SignerService) SyncFromProvider(ctx context.Context, requestID string, updates []SignerStatusUpdate) (*models.SigningRequest, error) {
	req, err := ss.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, upd := range updates {
		var target *models.Signer
		for i := range req.Signers {
			s := &req.Signers[i]
			if s.Email == upd.Email && !s.Status.Terminal() {
				target = s
				break
			}
		}
		if target == nil {
			continue
		}

		var actionErr error
		switch upd.Status {
		case models.SignerDelivered:
			_, actionErr = ss.MarkDelivered(ctx, requestID, target.ID)
		case models.SignerViewed:
			_, actionErr = ss.RecordViewed(ctx, requestID, target.ID)
		case models.SignerSigned:
			_, actionErr = ss.Sign(ctx, requestID, target.ID, SignInput{AccessCode: ""})
		case models.SignerDeclined:
			_, actionErr = ss.Decline(ctx, requestID, target.ID, upd.Reason)
		default:
			continue
		}
		if actionErr != nil {
			ss.logger.Warn("provider update not applied",
				zap.String("request_id", requestID),
				zap.String("email", upd.Email),
				zap.String("status", string(upd.Status)),
				zap.Error(actionErr))
			continue
		}
		applied++

		// Re-read so later updates in the same batch see the new state.
		req, err = ss.requests.GetRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
	}

	if applied > 0 {
		ss.requests.audit.Record(ctx, requestID, nil, models.AuditProviderSynced, "provider", "", "", map[string]any{
			"updates_applied": applied,
		})
	}
	return req, nil
}
