package purge

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/scan"
	"pkg.purge.dev/purge-engine/types"
)

// The pure view surface. Everything else about engine state is reconstructed by
// consumers from the event stream.

// TierView is a read-only projection of one tier's accounting state.
type TierView struct {
	ID              types.TierID  `json:"id"`
	Upstream        types.TierID  `json:"upstream"`
	RateBps         uint16        `json:"rateBps"`
	MinStake        string        `json:"minStake"`
	TotalStaked     string        `json:"totalStaked"`
	AliveCount      uint64        `json:"aliveCount"`
	AccPerShare     string        `json:"accPerShare"`
	PendingInflow   string        `json:"pendingInflow"`
	NextScanAt      uint64        `json:"nextScanAt"`
	ActiveRound     types.RoundID `json:"activeRound"`
	CompletedRounds uint64        `json:"completedRounds"`
}

// ScanStatusView is a read-only projection of a tier's scan machinery.
type ScanStatusView struct {
	Tier           types.TierID  `json:"tier"`
	Status         string        `json:"status"`
	Round          types.RoundID `json:"round,omitempty"`
	Seed           common.Hash   `json:"seed,omitempty"`
	RateBps        uint16        `json:"rateBps,omitempty"`
	ReportDeadline uint64        `json:"reportDeadline,omitempty"`
	DeathCount     uint64        `json:"deathCount,omitempty"`
	Eliminated     string        `json:"eliminated,omitempty"`
}

// TierState projects one tier.
func (e *Engine) TierState(tier types.TierID) (TierView, error) {
	ts, err := e.ledger.Tier(tier)
	if err != nil {
		return TierView{}, err
	}
	return TierView{
		ID:              ts.Config.ID,
		Upstream:        ts.Config.Upstream,
		RateBps:         ts.Config.RateBps,
		MinStake:        ts.Config.MinStake.Dec(),
		TotalStaked:     ts.TotalStaked.Dec(),
		AliveCount:      ts.AliveCount,
		AccPerShare:     ts.AccPerShare.Dec(),
		PendingInflow:   ts.PendingInflow.Dec(),
		NextScanAt:      ts.NextScanAt,
		ActiveRound:     ts.ActiveRound,
		CompletedRounds: ts.CompletedRounds,
	}, nil
}

// ScanStatus projects a tier's current (or most recent) scan.
func (e *Engine) ScanStatus(tier types.TierID) (ScanStatusView, error) {
	if _, err := e.ledger.Tier(tier); err != nil {
		return ScanStatusView{}, err
	}
	view := ScanStatusView{
		Tier:   tier,
		Status: e.scans.StatusOf(tier).String(),
	}
	s, ok := e.scans.Current(tier)
	if !ok {
		s, ok = e.scans.LastFinalized(tier)
	}
	if ok {
		view.Round = s.Round
		view.Seed = s.Seed
		view.RateBps = s.RateBps
		view.ReportDeadline = s.ReportDeadline
		view.DeathCount = s.DeathCount
		view.Eliminated = s.Eliminated.Dec()
	}
	return view, nil
}

// PendingReward computes the identity's unsettled reward.
func (e *Engine) PendingReward(owner common.Address) (*uint256.Int, error) {
	return e.ledger.PendingReward(owner)
}

// IsEliminated evaluates the elimination predicate for an identity under the tier's
// currently revealed scan. With no active revealed scan it reports false.
func (e *Engine) IsEliminated(tier types.TierID, owner common.Address) bool {
	s, ok := e.scans.Current(tier)
	if !ok || !s.Revealed {
		return false
	}
	return randgate.IsEliminated(s.Seed, owner, s.RateBps)
}

// ScanStatusOf exposes the raw status enum for programmatic callers.
func (e *Engine) ScanStatusOf(tier types.TierID) scan.Status {
	return e.scans.StatusOf(tier)
}
