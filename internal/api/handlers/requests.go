package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/services"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

type RequestHandler struct {
	requestService *services.RequestService
	auditService   *services.AuditService
	logger         *zap.Logger
}

func NewRequestHandler(requestService *services.RequestService, auditService *services.AuditService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		auditService:   auditService,
		logger:         logger.With(zap.String("handler", "request")),
	}
}

type signerPayload struct {
	Email        string `json:"email" binding:"required"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Level        int    `json:"level"`
	Order        int    `json:"order"`
	CanDelegate  bool   `json:"can_delegate"`
	CanDecline   bool   `json:"can_decline"`
	WorkflowType string `json:"workflow_type"`
}

type documentPayload struct {
	Name        string `json:"name" binding:"required"`
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash"`
}

type createRequestPayload struct {
	Title             string            `json:"title" binding:"required"`
	Message           string            `json:"message"`
	WorkflowType      string            `json:"workflow_type" binding:"required"`
	Provider          string            `json:"provider"`
	Documents         []documentPayload `json:"documents"`
	Signers           []signerPayload   `json:"signers"`
	AllowDelegation   bool              `json:"allow_delegation"`
	AllowDecline      *bool             `json:"allow_decline"`
	RequireAccessCode bool              `json:"require_access_code"`
	AccessCode        string            `json:"access_code"`
	RequireComments   bool              `json:"require_comments"`
	DueDate           *time.Time        `json:"due_date"`
	ExpiresAt         *time.Time        `json:"expires_at"`
	SendImmediately   bool              `json:"send_immediately"`
	CreatedBy         string            `json:"created_by"`
}

func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var payload createRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	signers := make([]workflow.SignerConfig, len(payload.Signers))
	for i, s := range payload.Signers {
		signers[i] = workflow.SignerConfig{
			Email:        s.Email,
			Name:         s.Name,
			Role:         models.SignerRole(s.Role),
			Level:        s.Level,
			Order:        s.Order,
			CanDelegate:  s.CanDelegate,
			CanDecline:   s.CanDecline,
			WorkflowType: models.WorkflowType(s.WorkflowType),
		}
	}
	documents := make([]services.DocumentInput, len(payload.Documents))
	for i, d := range payload.Documents {
		documents[i] = services.DocumentInput{Name: d.Name, URI: d.URI, ContentHash: d.ContentHash}
	}

	allowDecline := true
	if payload.AllowDecline != nil {
		allowDecline = *payload.AllowDecline
	}

	req, err := h.requestService.CreateRequest(c.Request.Context(), services.CreateRequestInput{
		Title:             payload.Title,
		Message:           payload.Message,
		WorkflowType:      models.WorkflowType(payload.WorkflowType),
		Provider:          models.ProviderKind(payload.Provider),
		Documents:         documents,
		Signers:           signers,
		AllowDelegation:   payload.AllowDelegation,
		AllowDecline:      allowDecline,
		RequireAccessCode: payload.RequireAccessCode,
		AccessCode:        payload.AccessCode,
		RequireComments:   payload.RequireComments,
		DueDate:           payload.DueDate,
		ExpiresAt:         payload.ExpiresAt,
		SendImmediately:   payload.SendImmediately,
		CreatedBy:         payload.CreatedBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, requestView(req))
}

func (h *RequestHandler) GetRequest(c *gin.Context) {
	req, err := h.requestService.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

func (h *RequestHandler) ListRequests(c *gin.Context) {
	status := models.RequestStatus(c.Query("status"))
	reqs, err := h.requestService.ListRequests(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]gin.H, len(reqs))
	for i := range reqs {
		views[i] = requestView(&reqs[i])
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (h *RequestHandler) SendForSignature(c *gin.Context) {
	req, err := h.requestService.SendForSignature(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

type cancelPayload struct {
	Reason        string `json:"reason"`
	NotifySigners bool   `json:"notify_signers"`
}

func (h *RequestHandler) CancelRequest(c *gin.Context) {
	var payload cancelPayload
	_ = c.ShouldBindJSON(&payload)

	req, err := h.requestService.CancelRequest(c.Request.Context(), c.Param("id"), payload.Reason, payload.NotifySigners)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

func (h *RequestHandler) DeleteRequest(c *gin.Context) {
	if err := h.requestService.DeleteRequest(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RequestHandler) ListAudit(c *gin.Context) {
	entries, err := h.auditService.ListForRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func requestView(req *models.SigningRequest) gin.H {
	signers := make([]gin.H, len(req.Signers))
	for i := range req.Signers {
		s := &req.Signers[i]
		signers[i] = gin.H{
			"id":             s.ID,
			"email":          s.Email,
			"name":           s.Name,
			"role":           s.Role,
			"status":         s.Status,
			"level":          s.Level,
			"order":          s.Order,
			"can_delegate":   s.CanDelegate,
			"can_decline":    s.CanDecline,
			"reminder_count": s.ReminderCount,
			"signed_at":      s.SignedAt,
			"delegated_by":   s.DelegatedByID,
		}
	}
	return gin.H{
		"id":             req.ID,
		"request_number": req.RequestNumber,
		"title":          req.Title,
		"status":         req.Status,
		"workflow_type":  req.WorkflowType,
		"provider":       req.Provider,
		"current_level":  req.CurrentLevel,
		"total_levels":   req.TotalLevels,
		"sent_date":      req.SentDate,
		"completed_date": req.CompletedDate,
		"due_date":       req.DueDate,
		"expires_at":     req.ExpiresAt,
		"signers":        signers,
	}
}
