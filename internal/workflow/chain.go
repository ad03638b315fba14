// Package workflow holds the pure signing-chain logic: building a chain
// from a flat signer configuration and deciding how a request advances when
// a signer reaches a terminal status. Nothing in this package touches the
// database or the network.
package workflow

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db/models"
)

// SignerConfig is one entry of the flat signer list a request is created
// with. Level numbers may be sparse or start anywhere; the builder
// renumbers them.
type SignerConfig struct {
	Email        string
	Name         string
	UserID       *uint
	Role         models.SignerRole
	Level        int
	Order        int
	CanDelegate  bool
	CanDecline   bool
	WorkflowType models.WorkflowType // optional per-level override
}

// Chain is the built, contiguous chain ready to be persisted.
type Chain struct {
	Levels  []models.SigningLevel
	Signers []models.Signer
}

// TotalLevels returns the number of levels in the chain.
func (c Chain) TotalLevels() int { return len(c.Levels) }

// BuildChain partitions the signer configs into levels numbered 1..N
// contiguously, preserving the relative order of the declared levels and
// sorting signers within a level by ascending order. Each level inherits
// the request's workflow type unless a config at that level carries an
// override.
func BuildChain(requestID string, workflowType models.WorkflowType, configs []SignerConfig) (Chain, error) {
	if len(configs) == 0 {
		return Chain{}, Validationf("at least one signer is required")
	}
	if !workflowType.Valid() {
		return Chain{}, Validationf("unknown workflow type %q", workflowType)
	}

	seen := make(map[[2]int]bool, len(configs))
	for _, cfg := range configs {
		if strings.TrimSpace(cfg.Email) == "" {
			return Chain{}, Validationf("signer email is required")
		}
		key := [2]int{cfg.Level, cfg.Order}
		if seen[key] {
			return Chain{}, Validationf("duplicate signer position (level %d, order %d)", cfg.Level, cfg.Order)
		}
		seen[key] = true
	}

	declared := make([]int, 0, len(configs))
	byLevel := make(map[int][]SignerConfig)
	for _, cfg := range configs {
		if _, ok := byLevel[cfg.Level]; !ok {
			declared = append(declared, cfg.Level)
		}
		byLevel[cfg.Level] = append(byLevel[cfg.Level], cfg)
	}
	sort.Ints(declared)

	var chain Chain
	for idx, declaredLevel := range declared {
		level := idx + 1
		group := byLevel[declaredLevel]
		sort.Slice(group, func(i, j int) bool { return group[i].Order < group[j].Order })

		levelType := workflowType
		for _, cfg := range group {
			if cfg.WorkflowType != "" {
				levelType = cfg.WorkflowType
				break
			}
		}
		if !levelType.Valid() {
			return Chain{}, Validationf("unknown workflow type %q at level %d", levelType, declaredLevel)
		}

		chain.Levels = append(chain.Levels, models.SigningLevel{
			RequestID:    requestID,
			Level:        level,
			WorkflowType: levelType,
		})

		for i, cfg := range group {
			role := cfg.Role
			if role == "" {
				role = models.RoleSigner
			}
			chain.Signers = append(chain.Signers, models.Signer{
				ID:          uuid.New().String(),
				RequestID:   requestID,
				Email:       cfg.Email,
				Name:        cfg.Name,
				UserID:      cfg.UserID,
				Role:        role,
				Status:      models.SignerPending,
				Level:       level,
				Order:       i + 1,
				CanDelegate: cfg.CanDelegate,
				CanDecline:  cfg.CanDecline,
			})
		}
	}

	return chain, nil
}
