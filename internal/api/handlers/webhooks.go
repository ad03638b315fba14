package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/services"
)

// WebhookHandler ingests provider status callbacks. Events are mapped onto
// signer actions and replayed events are acknowledged without state change.
type WebhookHandler struct {
	signerService *services.SignerService
	secret        string
	logger        *zap.Logger
}

func NewWebhookHandler(signerService *services.SignerService, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		signerService: signerService,
		secret:        secret,
		logger:        logger.With(zap.String("handler", "webhook")),
	}
}

type webhookEvent struct {
	Email  string `json:"email"`
	Status string `json:"status"` // delivered, viewed, signed, declined
	Reason string `json:"reason"`
}

type webhookPayload struct {
	RequestID string         `json:"request_id"`
	Events    []webhookEvent `json:"events"`
}

var providerStatusMap = map[string]models.SignerStatus{
	"delivered": models.SignerDelivered,
	"viewed":    models.SignerViewed,
	"signed":    models.SignerSigned,
	"declined":  models.SignerDeclined,
}

func (h *WebhookHandler) HandleProviderEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !verifySignature(h.secret, body, c.GetHeader("X-Webhook-Signature")) {
		h.logger.Warn("webhook signature verification failed", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.RequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	updates := make([]services.SignerStatusUpdate, 0, len(payload.Events))
	for _, ev := range payload.Events {
		status, ok := providerStatusMap[strings.ToLower(ev.Status)]
		if !ok {
			h.logger.Warn("unknown provider status", zap.String("status", ev.Status))
			continue
		}
		updates = append(updates, services.SignerStatusUpdate{
			Email:  ev.Email,
			Status: status,
			Reason: ev.Reason,
		})
	}

	req, err := h.signerService.SyncFromProvider(c.Request.Context(), payload.RequestID, updates)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(req.Status)})
}

func verifySignature(secret string, body []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignBody computes the signature header value a caller must send; shared
// with tests and provider simulators.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
