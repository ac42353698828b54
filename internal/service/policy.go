package service

import (
	"context"
	"strings"
)

// RewardPolicy decides how rewards earned by a user are applied
type RewardPolicy interface {
	Name() string
	Award(ctx context.Context, req AwardRequest) (*AwardResult, error)
	CanReset() bool
}

// StandardPolicy applies rewards through the ledger
type StandardPolicy struct {
	ledger *LedgerService
}

// NewStandardPolicy creates the policy used for real accounts
func NewStandardPolicy(ledger *LedgerService) *StandardPolicy {
	return &StandardPolicy{ledger: ledger}
}

func (p *StandardPolicy) Name() string { return "standard" }

func (p *StandardPolicy) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	return p.ledger.AwardXP(ctx, req)
}

func (p *StandardPolicy) CanReset() bool { return false }

// FixedStatePolicy serves demo accounts: awards are reported against a fixed
// XP total and nothing is written to the ledger, so the account looks the
// same after every reset.
type FixedStatePolicy struct {
	TotalXP int
}

func (p *FixedStatePolicy) Name() string { return "fixed_state" }

func (p *FixedStatePolicy) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	level := LevelForXP(p.TotalXP)
	return &AwardResult{
		Success:      true,
		NewTotalXP:   p.TotalXP,
		NewCurrentXP: p.TotalXP - LevelThreshold(level),
		NewLevel:     level,
		AwardedXP:    req.Amount,
	}, nil
}

func (p *FixedStatePolicy) CanReset() bool { return true }

// PolicySet picks the fixed-state policy for configured guest ids and the
// standard policy for everyone else
type PolicySet struct {
	standard RewardPolicy
	guest    RewardPolicy
	guests   map[string]bool
}

// NewPolicySet creates a resolver over the given guest ids
func NewPolicySet(standard, guest RewardPolicy, guestIDs []string) *PolicySet {
	guests := make(map[string]bool, len(guestIDs))
	for _, id := range guestIDs {
		if id = strings.TrimSpace(id); id != "" {
			guests[id] = true
		}
	}
	return &PolicySet{standard: standard, guest: guest, guests: guests}
}

// For returns the policy governing userID
func (s *PolicySet) For(userID string) RewardPolicy {
	if s.guests[userID] {
		return s.guest
	}
	return s.standard
}

// IsGuest reports whether userID is a demo account
func (s *PolicySet) IsGuest(userID string) bool {
	return s.guests[userID]
}
