package ledger

import (
	"github.com/holiman/uint256"

	"pkg.purge.dev/purge-engine/types"
)

// TierConfig is the static shape of one risk tier.
type TierConfig struct {
	ID types.TierID
	// Upstream is the tier that receives the upstream cascade share. types.NoTier marks
	// the top of the ladder.
	Upstream types.TierID
	// MinStake is the smallest amount accepted on entry.
	MinStake *uint256.Int
	// RateBps is the per-scan elimination rate in basis points.
	RateBps uint16
	// ScanInterval is the number of ticks between a scan finalizing and the next one
	// becoming due.
	ScanInterval uint64
	// LockWindow is the number of ticks before a due scan during which exits are
	// refused. It must cover the entropy source's predictability window, otherwise a
	// participant who can anticipate the seed could slip out just before dying.
	LockWindow uint64
}

// TierState is the live accounting state of one tier. It is owned jointly by the ledger
// and the scan engine; nothing else mutates it.
type TierState struct {
	Config TierConfig

	// TotalStaked equals the sum of alive, non-extracted positions' amounts.
	TotalStaked *uint256.Int
	AliveCount  uint64

	// AccPerShare is the monotonically non-decreasing reward accumulator, scaled by
	// 1e18. A position's claim is amount*AccPerShare/1e18 minus its reward debt.
	AccPerShare *uint256.Int

	// PendingInflow holds reward credited while the tier had no stake. It is flushed
	// into AccPerShare by the next entrant instead of being divided by zero.
	PendingInflow *uint256.Int

	// NextScanAt is the earliest tick at which a new scan may be requested.
	NextScanAt uint64
	// ActiveRound is the in-flight scan's round id, or zero when none.
	ActiveRound types.RoundID
	// CompletedRounds counts finalized scans. Positions record this value on entry, so
	// a position's consecutive-survival count is derived in O(1) as the difference.
	CompletedRounds uint64
}

func newTierState(cfg TierConfig) *TierState {
	return &TierState{
		Config:        cfg,
		TotalStaked:   uint256.NewInt(0),
		AccPerShare:   uint256.NewInt(0),
		PendingInflow: uint256.NewInt(0),
	}
}

// HasUpstream reports whether the tier forwards its upstream cascade share anywhere.
func (ts *TierState) HasUpstream() bool {
	return ts.Config.Upstream != types.NoTier
}
