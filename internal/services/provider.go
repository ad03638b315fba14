package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

// SignerStatusUpdate is one provider-reported change for a signer,
// addressed by email since providers do not know internal signer IDs.
type SignerStatusUpdate struct {
	Email  string
	Status models.SignerStatus
	Reason string
}

// ProviderBridge connects a request to an external e-signature provider.
// Status updates coming back through SyncStatus or the provider webhook are
// just another source of terminal signer events for the advancement engine.
type ProviderBridge interface {
	SendEnvelope(ctx context.Context, req *models.SigningRequest, signers []*models.Signer) error
	VoidEnvelope(ctx context.Context, req *models.SigningRequest, reason string) error
	SyncStatus(ctx context.Context, req *models.SigningRequest) ([]SignerStatusUpdate, error)
}

// InternalProvider is the in-house signing path: there is no external
// envelope, so every call is a logged no-op.
type InternalProvider struct {
	logger *zap.Logger
}

func NewInternalProvider(logger *zap.Logger) *InternalProvider {
	return &InternalProvider{logger: logger.With(zap.String("service", "provider_bridge"))}
}

func (p *InternalProvider) SendEnvelope(ctx context.Context, req *models.SigningRequest, signers []*models.Signer) error {
	p.logger.Debug("internal provider: no envelope to send", zap.String("request_id", req.ID))
	return nil
}

func (p *InternalProvider) VoidEnvelope(ctx context.Context, req *models.SigningRequest, reason string) error {
	p.logger.Debug("internal provider: no envelope to void", zap.String("request_id", req.ID))
	return nil
}

func (p *InternalProvider) SyncStatus(ctx context.Context, req *models.SigningRequest) ([]SignerStatusUpdate, error) {
	return nil, nil
}
