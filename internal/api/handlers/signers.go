package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/services"
)

type SignerHandler struct {
	signerService  *services.SignerService
	requestService *services.RequestService
	logger         *zap.Logger
}

func NewSignerHandler(signerService *services.SignerService, requestService *services.RequestService, logger *zap.Logger) *SignerHandler {
	return &SignerHandler{
		signerService:  signerService,
		requestService: requestService,
		logger:         logger.With(zap.String("handler", "signer")),
	}
}

type signPayload struct {
	SignatureData string `json:"signature_data"`
	AccessCode    string `json:"access_code"`
	Comment       string `json:"comment"`
}

func (h *SignerHandler) Sign(c *gin.Context) {
	var payload signPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	signature, err := base64.StdEncoding.DecodeString(payload.SignatureData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature_data must be base64"})
		return
	}

	req, err := h.signerService.Sign(c.Request.Context(), c.Param("id"), c.Param("signerID"), services.SignInput{
		SignatureData: signature,
		AccessCode:    payload.AccessCode,
		Comment:       payload.Comment,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

type declinePayload struct {
	Reason string `json:"reason"`
}

func (h *SignerHandler) Decline(c *gin.Context) {
	var payload declinePayload
	_ = c.ShouldBindJSON(&payload)

	req, err := h.signerService.Decline(c.Request.Context(), c.Param("id"), c.Param("signerID"), payload.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

type delegatePayload struct {
	Email  string `json:"email" binding:"required"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (h *SignerHandler) Delegate(c *gin.Context) {
	var payload delegatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.signerService.Delegate(c.Request.Context(), c.Param("id"), c.Param("signerID"), services.DelegateInput{
		Email:  payload.Email,
		Name:   payload.Name,
		Reason: payload.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

func (h *SignerHandler) RecordViewed(c *gin.Context) {
	req, err := h.signerService.RecordViewed(c.Request.Context(), c.Param("id"), c.Param("signerID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

type resendPayload struct {
	Message string `json:"message"`
}

func (h *SignerHandler) Resend(c *gin.Context) {
	var payload resendPayload
	_ = c.ShouldBindJSON(&payload)

	req, err := h.requestService.ResendToSigner(c.Request.Context(), c.Param("id"), c.Param("signerID"), payload.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}
