package services

import (
	"time"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

// advanceEffects describes the state changes applyAdvancement made to the
// in-memory aggregate, so the caller can emit audit entries and
// notifications after the aggregate has committed.
type advanceEffects struct {
	Outcome        workflow.Outcome
	Activated      []*models.Signer
	Voided         []*models.Signer
	ActivatedLevel int
	Completed      bool
	Declined       bool
}

// applyAdvancement runs the advancement engine for the given level and
// applies the outcome to the aggregate in memory. It is a no-op when the
// request is already terminal (a cancel may have landed since the trigger
// was read) or when the triggering level was already advanced past, which
// makes redelivered events harmless.
func applyAdvancement(req *models.SigningRequest, level int, now time.Time) advanceEffects {
	var fx advanceEffects
	if req.Status.Terminal() {
		fx.Outcome = workflow.Outcome{Action: workflow.ActionHold}
		return fx
	}
	if level < req.CurrentLevel {
		fx.Outcome = workflow.Outcome{Action: workflow.ActionHold}
		return fx
	}

	fx.Outcome = workflow.Evaluate(req, level)

	switch fx.Outcome.Action {
	case workflow.ActionDeclineRequest:
		req.Status = models.RequestDeclined
		fx.Declined = true
		fx.Voided = voidLaterLevels(req, level)

	case workflow.ActionCompleteRequest:
		req.Status = models.RequestCompleted
		completed := now
		req.CompletedDate = &completed
		fx.Completed = true

	case workflow.ActionAdvanceLevel:
		next := fx.Outcome.NextLevel
		req.CurrentLevel = next
		fx.ActivatedLevel = next
		fx.Activated = activateLevel(req, next)
		refreshActiveStatus(req)

	case workflow.ActionHold:
		// A signature inside a Sequential level unlocks the next signer
		// in line even though the level itself is not done.
		if next := workflow.NextSequentialSigner(req, level); next != nil {
			next.Status = models.SignerSent
			fx.Activated = append(fx.Activated, next)
		}
		refreshActiveStatus(req)
	}

	return fx
}

// activateLevel transitions the level's activation set to Sent and returns
// the signers that changed.
func activateLevel(req *models.SigningRequest, level int) []*models.Signer {
	set := workflow.ActivationSet(req, level)
	for _, s := range set {
		s.Status = models.SignerSent
	}
	return set
}

// voidLaterLevels voids every non-terminal signer in levels strictly after
// the given one. Already-signed signers keep their terminal data.
func voidLaterLevels(req *models.SigningRequest, level int) []*models.Signer {
	var voided []*models.Signer
	for i := range req.Signers {
		s := &req.Signers[i]
		if s.Level > level && !s.Status.Terminal() {
			s.Status = models.SignerVoided
			voided = append(voided, s)
		}
	}
	return voided
}

// voidAllSigners voids every non-terminal signer, for cancellation and
// request-level voiding.
func voidAllSigners(req *models.SigningRequest) []*models.Signer {
	var voided []*models.Signer
	for i := range req.Signers {
		s := &req.Signers[i]
		if !s.Status.Terminal() {
			s.Status = models.SignerVoided
			voided = append(voided, s)
		}
	}
	return voided
}

// refreshActiveStatus keeps the request status consistent with the
// composition of the active level: a level made up entirely of approvers
// surfaces as AwaitingApproval.
func refreshActiveStatus(req *models.SigningRequest) {
	switch req.Status {
	case models.RequestInProgress, models.RequestAwaitingApproval:
		if workflow.AwaitingApproval(req, req.CurrentLevel) {
			req.Status = models.RequestAwaitingApproval
		} else {
			req.Status = models.RequestInProgress
		}
	}
}
