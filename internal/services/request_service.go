package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/store"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/utils"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/pkg/metrics"
)

// RequestService is the request lifecycle manager. It owns the request
// aggregate and every RequestStatus transition; chain construction and
// advancement decisions are delegated to the workflow package.
type RequestService struct {
	store         store.RecordStore
	audit         *AuditService
	dispatcher    Dispatcher
	provider      ProviderBridge
	clock         Clock
	logger        *zap.Logger
	metrics       *metrics.MetricsCollector
	maxRetries    int
	reminderCap   int
	defaultExpiry int // days; 0 disables the default expiration
}

func NewRequestService(
	st store.RecordStore,
	audit *AuditService,
	dispatcher Dispatcher,
	provider ProviderBridge,
	clock Clock,
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	maxRetries int,
	reminderCap int,
	defaultExpiryDays int,
) *RequestService {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &RequestService{
		store:         st,
		audit:         audit,
		dispatcher:    dispatcher,
		provider:      provider,
		clock:         clock,
		logger:        logger.With(zap.String("service", "request_service")),
		metrics:       metricsCollector,
		maxRetries:    maxRetries,
		reminderCap:   reminderCap,
		defaultExpiry: defaultExpiryDays,
	}
}

type DocumentInput struct {
	Name        string
	URI         string
	ContentHash string
}

type CreateRequestInput struct {
	Title             string
	Message           string
	WorkflowType      models.WorkflowType
	Provider          models.ProviderKind
	Documents         []DocumentInput
	Signers           []workflow.SignerConfig
	AllowDelegation   bool
	AllowDecline      bool
	RequireAccessCode bool
	AccessCode        string
	RequireComments   bool
	DueDate           *time.Time
	ExpiresAt         *time.Time
	SendImmediately   bool
	CreatedBy         string
}

// CreateRequest builds the chain, persists the aggregate atomically and,
// when asked, immediately sends it for signature.
func (rs *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.SigningRequest, error) {
	start := rs.clock.Now()

	if in.Title == "" {
		return nil, workflow.Validationf("title is required")
	}
	if in.RequireAccessCode && in.AccessCode == "" {
		return nil, workflow.Validationf("access code is required when RequireAccessCode is set")
	}

	requestID := uuid.New().String()
	chain, err := workflow.BuildChain(requestID, in.WorkflowType, in.Signers)
	if err != nil {
		return nil, err
	}

	provider := in.Provider
	if provider == "" {
		provider = models.ProviderInternal
	}

	expiresAt := in.ExpiresAt
	if expiresAt == nil && rs.defaultExpiry > 0 {
		t := start.AddDate(0, 0, rs.defaultExpiry)
		expiresAt = &t
	}

	req := &models.SigningRequest{
		ID:                requestID,
		Title:             in.Title,
		Message:           in.Message,
		RequestNumber:     utils.GenerateRequestNumber(start),
		Status:            models.RequestDraft,
		WorkflowType:      in.WorkflowType,
		Provider:          provider,
		CreatedBy:         in.CreatedBy,
		DueDate:           in.DueDate,
		ExpiresAt:         expiresAt,
		AllowDelegation:   in.AllowDelegation,
		AllowDecline:      in.AllowDecline,
		RequireAccessCode: in.RequireAccessCode,
		RequireComments:   in.RequireComments,
		CurrentLevel:      1,
		TotalLevels:       chain.TotalLevels(),
		Version:           1,
		Levels:            chain.Levels,
		Signers:           chain.Signers,
	}
	if in.RequireAccessCode {
		hash, err := utils.HashAccessCode(in.AccessCode)
		if err != nil {
			return nil, err
		}
		req.AccessCodeHash = hash
	}
	for i, doc := range in.Documents {
		req.Documents = append(req.Documents, models.DocumentRef{
			RequestID:   requestID,
			Name:        doc.Name,
			URI:         doc.URI,
			ContentHash: doc.ContentHash,
			Position:    i,
		})
	}

	if err := rs.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	rs.audit.Record(ctx, req.ID, nil, models.AuditRequestCreated, in.CreatedBy, "", string(models.RequestDraft), map[string]any{
		"request_number": req.RequestNumber,
		"workflow_type":  string(req.WorkflowType),
		"total_levels":   req.TotalLevels,
		"signer_count":   len(req.Signers),
	})
	rs.metrics.IncrementCounter("requests_created", nil)
	rs.metrics.ObserveLatency("request_create", rs.clock.Now().Sub(start))
	rs.logger.Info("signing request created",
		zap.String("request_id", req.ID),
		zap.String("request_number", req.RequestNumber),
		zap.Int("levels", req.TotalLevels),
		zap.Int("signers", len(req.Signers)))

	if in.SendImmediately {
		return rs.SendForSignature(ctx, req.ID)
	}
	return req, nil
}

func (rs *RequestService) GetRequest(ctx context.Context, id string) (*models.SigningRequest, error) {
	return rs.store.LoadRequest(ctx, id)
}

func (rs *RequestService) ListRequests(ctx context.Context, status models.RequestStatus) ([]models.SigningRequest, error) {
	return rs.store.ListRequests(ctx, status)
}

// mutate loads the aggregate, applies fn and writes it back under the
// store's version check. Only a version conflict is retried, with a bounded
// budget; business errors surface immediately.
func (rs *RequestService) mutate(ctx context.Context, id string, fn func(req *models.SigningRequest) error) (*models.SigningRequest, error) {
	var lastErr error
	for attempt := 0; attempt < rs.maxRetries; attempt++ {
		req, err := rs.store.LoadRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(req); err != nil {
			return nil, err
		}
		err = rs.store.SaveRequest(ctx, req, req.Version)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, workflow.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		rs.logger.Debug("version conflict, retrying",
			zap.String("request_id", id),
			zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

// SendForSignature moves a Draft/Pending request into progress, activates
// level 1 and notifies its activation set.
func (rs *RequestService) SendForSignature(ctx context.Context, id string) (*models.SigningRequest, error) {
	var activated []*models.Signer
	var prev models.RequestStatus

	req, err := rs.mutate(ctx, id, func(req *models.SigningRequest) error {
		activated = nil
		prev = req.Status
		if prev != models.RequestDraft && prev != models.RequestPending {
			return workflow.InvalidTransition("send_for_signature", prev)
		}
		now := rs.clock.Now()
		req.SentDate = &now
		req.Status = models.RequestInProgress
		req.CurrentLevel = 1
		activated = activateLevel(req, 1)
		refreshActiveStatus(req)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Provider != models.ProviderInternal {
		if err := rs.provider.SendEnvelope(ctx, req, activated); err != nil {
			rs.logger.Error("provider envelope send failed", zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	rs.audit.Record(ctx, req.ID, nil, models.AuditRequestSent, req.CreatedBy, string(prev), string(req.Status), nil)
	for _, s := range activated {
		sid := s.ID
		rs.audit.Record(ctx, req.ID, &sid, models.AuditSignerSent, req.CreatedBy, string(models.SignerPending), string(models.SignerSent), nil)
		rs.dispatcher.Notify(ctx, NotifySent, req, s)
	}
	rs.metrics.IncrementCounter("requests_sent", nil)
	rs.logger.Info("signing request sent",
		zap.String("request_id", req.ID),
		zap.Int("activated_signers", len(activated)))
	return req, nil
}

// ResendToSigner re-dispatches the invitation to a signer that has not yet
// signed, bumping its reminder counter.
func (rs *RequestService) ResendToSigner(ctx context.Context, id, signerID, message string) (*models.SigningRequest, error) {
	var target *models.Signer
	req, err := rs.mutate(ctx, id, func(req *models.SigningRequest) error {
		if req.Status.Terminal() {
			return workflow.InvalidTransition("resend", req.Status)
		}
		s := req.FindSigner(signerID)
		if s == nil {
			return workflow.ErrNotFound
		}
		if s.Status == models.SignerSigned {
			return workflow.ErrAlreadySigned
		}
		if rs.reminderCap > 0 && s.ReminderCount >= rs.reminderCap {
			return &workflow.NotAllowedError{Op: "resend", Reason: "reminder limit reached"}
		}
		s.ReminderCount++
		target = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	sid := target.ID
	rs.audit.Record(ctx, req.ID, &sid, models.AuditSignerReminded, req.CreatedBy, string(target.Status), string(target.Status), map[string]any{
		"reminder_count": target.ReminderCount,
		"message":        message,
	})
	rs.dispatcher.Notify(ctx, NotifyReminder, req, target)
	rs.metrics.IncrementCounter("reminders_sent", nil)
	return req, nil
}

// CancelRequest cancels the request and voids every non-terminal signer.
// Cancelling an already-cancelled request is a no-op so duplicate cancel
// calls tolerate each other.
func (rs *RequestService) CancelRequest(ctx context.Context, id, reason string, notifySigners bool) (*models.SigningRequest, error) {
	var voided []*models.Signer
	var prev models.RequestStatus
	alreadyCancelled := false

	req, err := rs.mutate(ctx, id, func(req *models.SigningRequest) error {
		voided = nil
		alreadyCancelled = false
		prev = req.Status
		if prev == models.RequestCancelled {
			alreadyCancelled = true
			return nil
		}
		if prev == models.RequestCompleted || prev == models.RequestExpired {
			return workflow.InvalidTransition("cancel", prev)
		}
		req.Status = models.RequestCancelled
		voided = voidAllSigners(req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyCancelled {
		return req, nil
	}

	if req.Provider != models.ProviderInternal {
		if err := rs.provider.VoidEnvelope(ctx, req, reason); err != nil {
			rs.logger.Error("provider envelope void failed", zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	rs.audit.Record(ctx, req.ID, nil, models.AuditRequestCancelled, req.CreatedBy, string(prev), string(models.RequestCancelled), map[string]any{
		"reason": reason,
	})
	for _, s := range voided {
		sid := s.ID
		rs.audit.Record(ctx, req.ID, &sid, models.AuditSignerVoided, req.CreatedBy, "", string(models.SignerVoided), nil)
		if notifySigners {
			rs.dispatcher.Notify(ctx, NotifyCancelled, req, s)
		}
	}
	rs.metrics.IncrementCounter("requests_cancelled", nil)
	rs.logger.Info("signing request cancelled",
		zap.String("request_id", req.ID),
		zap.String("reason", reason),
		zap.Int("voided_signers", len(voided)))
	return req, nil
}

// DeleteRequest hard-deletes a request. Only drafts may be deleted; once
// sent, a request is never physically removed.
func (rs *RequestService) DeleteRequest(ctx context.Context, id string) error {
	req, err := rs.store.LoadRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != models.RequestDraft {
		return workflow.InvalidTransition("delete", req.Status)
	}
	if err := rs.store.DeleteRequest(ctx, id); err != nil {
		return err
	}
	rs.audit.Record(ctx, id, nil, models.AuditRequestDeleted, req.CreatedBy, string(models.RequestDraft), "", nil)
	rs.metrics.IncrementCounter("requests_deleted", nil)
	return nil
}

// ExpireOverdue expires every active request whose expiration timestamp has
// passed, expiring its non-terminal signers with it. Driven by the sweep
// ticker in main.
func (rs *RequestService) ExpireOverdue(ctx context.Context) (int, error) {
	now := rs.clock.Now()
	overdue, err := rs.store.ListExpiredRequests(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range overdue {
		var prev models.RequestStatus
		req, err := rs.mutate(ctx, candidate.ID, func(req *models.SigningRequest) error {
			prev = req.Status
			if req.Status.Terminal() {
				return nil
			}
			if req.ExpiresAt == nil || !req.ExpiresAt.Before(now) {
				return nil
			}
			req.Status = models.RequestExpired
			for i := range req.Signers {
				if !req.Signers[i].Status.Terminal() {
					req.Signers[i].Status = models.SignerExpired
				}
			}
			return nil
		})
		if err != nil {
			rs.logger.Error("expiry sweep failed for request",
				zap.String("request_id", candidate.ID), zap.Error(err))
			continue
		}
		if req.Status != models.RequestExpired || prev == models.RequestExpired {
			continue
		}
		expired++
		rs.audit.Record(ctx, req.ID, nil, models.AuditRequestExpired, "system", string(prev), string(models.RequestExpired), nil)
		rs.metrics.IncrementCounter("requests_expired", nil)
	}
	return expired, nil
}

// finishAdvancement emits the audit entries and notifications implied by an
// advancement that has already committed.
func (rs *RequestService) finishAdvancement(ctx context.Context, req *models.SigningRequest, fx advanceEffects) {
	if fx.Declined {
		rs.audit.Record(ctx, req.ID, nil, models.AuditRequestDeclined, "", "", string(models.RequestDeclined), nil)
		for _, s := range fx.Voided {
			sid := s.ID
			rs.audit.Record(ctx, req.ID, &sid, models.AuditSignerVoided, "", "", string(models.SignerVoided), nil)
		}
		rs.dispatcher.Notify(ctx, NotifyDeclined, req, nil)
		rs.metrics.IncrementCounter("requests_declined", nil)
		return
	}
	if fx.Completed {
		rs.audit.Record(ctx, req.ID, nil, models.AuditRequestCompleted, "", "", string(models.RequestCompleted), nil)
		rs.dispatcher.Notify(ctx, NotifyCompleted, req, nil)
		rs.metrics.IncrementCounter("requests_completed", nil)
		return
	}
	if fx.ActivatedLevel > 0 {
		rs.audit.Record(ctx, req.ID, nil, models.AuditLevelActivated, "", "", "", map[string]any{
			"level": fx.ActivatedLevel,
		})
	}
	for _, s := range fx.Activated {
		sid := s.ID
		rs.audit.Record(ctx, req.ID, &sid, models.AuditSignerSent, "", string(models.SignerPending), string(models.SignerSent), nil)
		kind := NotifySent
		if fx.ActivatedLevel > 0 {
			kind = NotifyLevelActivated
		}
		rs.dispatcher.Notify(ctx, kind, req, s)
	}
}
