package workflow

import (
	"sort"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

type LevelStatus string

const (
	LevelPending    LevelStatus = "PENDING"
	LevelInProgress LevelStatus = "IN_PROGRESS"
	LevelCompleted  LevelStatus = "COMPLETED"
	LevelDeclined   LevelStatus = "DECLINED"
)

type Action string

const (
	ActionHold            Action = "HOLD"
	ActionAdvanceLevel    Action = "ADVANCE_LEVEL"
	ActionCompleteRequest Action = "COMPLETE_REQUEST"
	ActionDeclineRequest  Action = "DECLINE_REQUEST"
)

// Outcome is the engine's decision for one evaluation. NextLevel is set
// only for ActionAdvanceLevel.
type Outcome struct {
	LevelStatus LevelStatus
	Action      Action
	NextLevel   int
}

// DeriveLevelStatus computes a level's status from its signers. A Delegated
// record has handed its obligation to a replacement and is ignored; the
// replacement signer at the same position is evaluated instead.
//
// Declined anywhere in the level wins over everything (veto semantics).
// Completed requires every live signer to be Signed.
func DeriveLevelStatus(signers []*models.Signer) LevelStatus {
	live := 0
	signed := 0
	touched := false
	for _, s := range signers {
		switch s.Status {
		case models.SignerDeclined:
			return LevelDeclined
		case models.SignerDelegated:
			touched = true
			continue
		case models.SignerSigned:
			signed++
		case models.SignerPending:
		default:
			touched = true
		}
		live++
	}
	if live > 0 && signed == live {
		return LevelCompleted
	}
	if signed > 0 || touched {
		return LevelInProgress
	}
	return LevelPending
}

// Evaluate decides what should happen to the request after a signer at the
// given level reached a terminal status. It is pure: the caller applies the
// returned outcome and owns idempotency and cancellation guards.
func Evaluate(req *models.SigningRequest, level int) Outcome {
	signers := req.SignersAtLevel(level)
	status := DeriveLevelStatus(signers)

	if status == LevelDeclined {
		return Outcome{LevelStatus: status, Action: ActionDeclineRequest}
	}

	// FirstSigner short-circuits: the first signature anywhere completes
	// the request regardless of remaining signers at this level or later
	// levels, so it must be decided before level completion can advance
	// the chain.
	if req.WorkflowType == models.WorkflowFirstSigner {
		for _, s := range signers {
			if s.Status == models.SignerSigned {
				return Outcome{LevelStatus: status, Action: ActionCompleteRequest}
			}
		}
	}

	if status == LevelCompleted {
		if level < req.TotalLevels {
			return Outcome{LevelStatus: status, Action: ActionAdvanceLevel, NextLevel: level + 1}
		}
		return Outcome{LevelStatus: status, Action: ActionCompleteRequest}
	}

	return Outcome{LevelStatus: status, Action: ActionHold}
}

// ActivationSet returns the signers that should transition to Sent when a
// level becomes active. Parallel levels activate every pending signer at
// once; Sequential levels activate only the lowest-order pending signer,
// holding the rest until their predecessor signs.
func ActivationSet(req *models.SigningRequest, level int) []*models.Signer {
	var pending []*models.Signer
	for _, s := range req.SignersAtLevel(level) {
		if s.Status == models.SignerPending {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if req.LevelWorkflowType(level) != models.WorkflowSequential {
		return pending
	}
	if next := NextSequentialSigner(req, level); next != nil {
		return []*models.Signer{next}
	}
	return nil
}

// NextSequentialSigner returns the pending signer whose turn it is in a
// Sequential level: the lowest-order live signer that is not yet satisfied,
// provided every live signer before it has signed. A delegated slot blocks
// its successors until the replacement signs. Returns nil when the level is
// not Sequential or the first unsatisfied signer is already active.
func NextSequentialSigner(req *models.SigningRequest, level int) *models.Signer {
	if req.LevelWorkflowType(level) != models.WorkflowSequential {
		return nil
	}
	signers := req.SignersAtLevel(level)
	sort.Slice(signers, func(i, j int) bool { return signers[i].Order < signers[j].Order })
	for _, s := range signers {
		switch s.Status {
		case models.SignerDelegated, models.SignerSigned:
			continue
		case models.SignerPending:
			return s
		default:
			return nil
		}
	}
	return nil
}

// AwaitingApproval reports whether the active level consists solely of
// approvers, which surfaces as an AWAITING_APPROVAL request status.
func AwaitingApproval(req *models.SigningRequest, level int) bool {
	signers := req.SignersAtLevel(level)
	if len(signers) == 0 {
		return false
	}
	for _, s := range signers {
		if s.Status == models.SignerDelegated {
			continue
		}
		if s.Role != models.RoleApprover {
			return false
		}
	}
	return true
}
