package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pkg.purge.dev/purge-engine/types"
)

// Position is one participant's stake in one tier. Records are kept after death or
// extraction (with Alive/Extracted flipped) so past outcomes stay queryable; a new entry
// by the same owner replaces the old record.
type Position struct {
	Owner  common.Address
	Tier   types.TierID
	Amount *uint256.Int
	// RewardDebt snapshots amount*AccPerShare/1e18 at the last settlement.
	RewardDebt *uint256.Int
	EnteredAt  uint64
	// RoundsAtEntry is the tier's CompletedRounds at entry time.
	RoundsAtEntry uint64
	Alive         bool
	Extracted     bool
}

// SurvivedRounds is the position's consecutive-survival count: every scan the tier has
// completed since entry that the position lived through. Only meaningful while alive.
func (p *Position) SurvivedRounds(ts *TierState) uint64 {
	if !p.Alive || ts.CompletedRounds < p.RoundsAtEntry {
		return 0
	}
	return ts.CompletedRounds - p.RoundsAtEntry
}

// Active reports whether the position currently holds stake: alive and not extracted.
func (p *Position) Active() bool {
	return p.Alive && !p.Extracted
}
