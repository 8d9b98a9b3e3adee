// Package events carries the engine's append-only event stream out to subscribers. The
// projection service reconstructs every derived view from this stream, so it must be
// complete and delivered in operation order.
package events

import (
	"github.com/ethereum/go-ethereum/common"

	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/types"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindPositionEntered      Kind = "position-entered"
	KindStakeAdded           Kind = "stake-added"
	KindPositionExited       Kind = "position-exited"
	KindRewardClaimed        Kind = "reward-claimed"
	KindScanRequested        Kind = "scan-requested"
	KindScanRevealed         Kind = "scan-revealed"
	KindIdentitiesEliminated Kind = "identities-eliminated"
	KindScanFinalized        Kind = "scan-finalized"
	KindScanAborted          Kind = "scan-aborted"
)

// Amounts cross the wire as decimal strings; they are 256-bit values and JSON numbers
// cannot hold them.

type PositionEntered struct {
	Kind   Kind           `json:"kind"`
	Tick   uint64         `json:"tick"`
	Owner  common.Address `json:"owner"`
	Tier   types.TierID   `json:"tier"`
	Amount string         `json:"amount"`
}

type StakeAdded struct {
	Kind   Kind           `json:"kind"`
	Tick   uint64         `json:"tick"`
	Owner  common.Address `json:"owner"`
	Tier   types.TierID   `json:"tier"`
	Added  string         `json:"added"`
	Reward string         `json:"reward"`
}

type PositionExited struct {
	Kind      Kind           `json:"kind"`
	Tick      uint64         `json:"tick"`
	Owner     common.Address `json:"owner"`
	Tier      types.TierID   `json:"tier"`
	Principal string         `json:"principal"`
	Reward    string         `json:"reward"`
}

type RewardClaimed struct {
	Kind   Kind           `json:"kind"`
	Tick   uint64         `json:"tick"`
	Owner  common.Address `json:"owner"`
	Tier   types.TierID   `json:"tier"`
	Reward string         `json:"reward"`
}

type ScanRequested struct {
	Kind         Kind          `json:"kind"`
	Tick         uint64        `json:"tick"`
	Tier         types.TierID  `json:"tier"`
	Round        types.RoundID `json:"round"`
	SnapshotTick uint64        `json:"snapshotTick"`
}

type ScanRevealed struct {
	Kind           Kind          `json:"kind"`
	Tick           uint64        `json:"tick"`
	Tier           types.TierID  `json:"tier"`
	Round          types.RoundID `json:"round"`
	Seed           common.Hash   `json:"seed"`
	RateBps        uint16        `json:"rateBps"`
	ReportDeadline uint64        `json:"reportDeadline"`
}

type IdentitiesEliminated struct {
	Kind      Kind             `json:"kind"`
	Tick      uint64           `json:"tick"`
	Tier      types.TierID     `json:"tier"`
	Round     types.RoundID    `json:"round"`
	Victims   []common.Address `json:"victims"`
	Forfeited string           `json:"forfeited"`
}

// ScanFinalized reports the closed round with its eliminated total and the per-bucket
// cascade amounts, so projections can track sinks without replaying the split.
type ScanFinalized struct {
	Kind       Kind          `json:"kind"`
	Tick       uint64        `json:"tick"`
	Tier       types.TierID  `json:"tier"`
	Round      types.RoundID `json:"round"`
	Deaths     uint64        `json:"deaths"`
	Eliminated string        `json:"eliminated"`
	SameTier   string        `json:"sameTier"`
	Upstream   string        `json:"upstream"`
	Burned     string        `json:"burned"`
	Ops        string        `json:"ops"`
	NextScanAt uint64        `json:"nextScanAt"`
}

type ScanAborted struct {
	Kind  Kind          `json:"kind"`
	Tick  uint64        `json:"tick"`
	Tier  types.TierID  `json:"tier"`
	Round types.RoundID `json:"round"`
}

// NewScanFinalized flattens a cascade split into its event form.
func NewScanFinalized(tick uint64, tier types.TierID, round types.RoundID, deaths uint64, eliminated string, split cascade.Split, nextScanAt uint64) ScanFinalized {
	return ScanFinalized{
		Kind:       KindScanFinalized,
		Tick:       tick,
		Tier:       tier,
		Round:      round,
		Deaths:     deaths,
		Eliminated: eliminated,
		SameTier:   split.SameTier.Dec(),
		Upstream:   split.Upstream.Dec(),
		Burned:     split.Burn.Dec(),
		Ops:        split.Ops.Dec(),
		NextScanAt: nextScanAt,
	}
}
