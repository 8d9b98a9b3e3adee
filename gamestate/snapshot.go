// Package gamestate persists the engine's full state to redis so a restarted process
// resumes exactly where it stopped, including mid-round. The snapshot format is plain
// JSON records; 256-bit amounts travel as decimal strings.
package gamestate

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rotisserie/eris"

	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/scan"
	"pkg.purge.dev/purge-engine/types"
)

type PositionRecord struct {
	Owner         common.Address `json:"owner"`
	Tier          types.TierID   `json:"tier"`
	Amount        string         `json:"amount"`
	RewardDebt    string         `json:"rewardDebt"`
	EnteredAt     uint64         `json:"enteredAt"`
	RoundsAtEntry uint64         `json:"roundsAtEntry"`
	Alive         bool           `json:"alive"`
	Extracted     bool           `json:"extracted"`
}

type TierRecord struct {
	ID              types.TierID  `json:"id"`
	TotalStaked     string        `json:"totalStaked"`
	AliveCount      uint64        `json:"aliveCount"`
	AccPerShare     string        `json:"accPerShare"`
	PendingInflow   string        `json:"pendingInflow"`
	NextScanAt      uint64        `json:"nextScanAt"`
	ActiveRound     types.RoundID `json:"activeRound"`
	CompletedRounds uint64        `json:"completedRounds"`
}

type ScanRecord struct {
	Tier           types.TierID     `json:"tier"`
	Round          types.RoundID    `json:"round"`
	RequestedAt    uint64           `json:"requestedAt"`
	RateBps        uint16           `json:"rateBps"`
	Seed           common.Hash      `json:"seed"`
	Revealed       bool             `json:"revealed"`
	RevealedAt     uint64           `json:"revealedAt"`
	ReportDeadline uint64           `json:"reportDeadline"`
	AliveAtStart   uint64           `json:"aliveAtStart"`
	DeathCount     uint64           `json:"deathCount"`
	Victims        []common.Address `json:"victims"`
	Eliminated     string           `json:"eliminated"`
}

// Snapshot is one complete, self-consistent capture of engine state.
type Snapshot struct {
	Tick      uint64               `json:"tick"`
	NextRound types.RoundID        `json:"nextRound"`
	Burned    string               `json:"burned"`
	Ops       string               `json:"ops"`
	Tiers     []TierRecord         `json:"tiers"`
	Positions []PositionRecord     `json:"positions"`
	Seeds     []randgate.RoundSeed `json:"seeds"`
	Scans     []ScanRecord         `json:"scans"`
}

// Capture assembles a snapshot of everything the engine would need to resume.
func Capture(
	tick uint64,
	l *ledger.Ledger,
	gate *randgate.Gate,
	scans *scan.Engine,
	dist *cascade.Distributor,
) *Snapshot {
	snap := &Snapshot{
		Tick:      tick,
		NextRound: scans.NextRound(),
		Burned:    dist.TotalBurned().Dec(),
		Ops:       dist.OpsBalance().Dec(),
		Seeds:     gate.Export(),
	}
	for _, ts := range l.Tiers() {
		snap.Tiers = append(snap.Tiers, TierRecord{
			ID:              ts.Config.ID,
			TotalStaked:     ts.TotalStaked.Dec(),
			AliveCount:      ts.AliveCount,
			AccPerShare:     ts.AccPerShare.Dec(),
			PendingInflow:   ts.PendingInflow.Dec(),
			NextScanAt:      ts.NextScanAt,
			ActiveRound:     ts.ActiveRound,
			CompletedRounds: ts.CompletedRounds,
		})
	}
	l.ForEachPosition(func(p *ledger.Position) {
		snap.Positions = append(snap.Positions, PositionRecord{
			Owner:         p.Owner,
			Tier:          p.Tier,
			Amount:        p.Amount.Dec(),
			RewardDebt:    p.RewardDebt.Dec(),
			EnteredAt:     p.EnteredAt,
			RoundsAtEntry: p.RoundsAtEntry,
			Alive:         p.Alive,
			Extracted:     p.Extracted,
		})
	})
	for _, s := range scans.InFlight() {
		snap.Scans = append(snap.Scans, ScanRecord{
			Tier:           s.Tier,
			Round:          s.Round,
			RequestedAt:    s.RequestedAt,
			RateBps:        s.RateBps,
			Seed:           s.Seed,
			Revealed:       s.Revealed,
			RevealedAt:     s.RevealedAt,
			ReportDeadline: s.ReportDeadline,
			AliveAtStart:   s.AliveAtStart,
			DeathCount:     s.DeathCount,
			Victims:        s.Victims,
			Eliminated:     s.Eliminated.Dec(),
		})
	}
	return snap
}

// Apply loads a snapshot into freshly constructed components. Tier configs are not part
// of the snapshot; the target ledger must already be configured with the same tiers.
func Apply(
	snap *Snapshot,
	l *ledger.Ledger,
	gate *randgate.Gate,
	scans *scan.Engine,
	dist *cascade.Distributor,
) error {
	for _, tr := range snap.Tiers {
		ts, err := l.Tier(tr.ID)
		if err != nil {
			return err
		}
		if ts.TotalStaked, err = parseAmount(tr.TotalStaked); err != nil {
			return err
		}
		if ts.AccPerShare, err = parseAmount(tr.AccPerShare); err != nil {
			return err
		}
		if ts.PendingInflow, err = parseAmount(tr.PendingInflow); err != nil {
			return err
		}
		ts.AliveCount = tr.AliveCount
		ts.NextScanAt = tr.NextScanAt
		ts.ActiveRound = tr.ActiveRound
		ts.CompletedRounds = tr.CompletedRounds
	}
	for _, pr := range snap.Positions {
		amount, err := parseAmount(pr.Amount)
		if err != nil {
			return err
		}
		debt, err := parseAmount(pr.RewardDebt)
		if err != nil {
			return err
		}
		l.RestorePosition(&ledger.Position{
			Owner:         pr.Owner,
			Tier:          pr.Tier,
			Amount:        amount,
			RewardDebt:    debt,
			EnteredAt:     pr.EnteredAt,
			RoundsAtEntry: pr.RoundsAtEntry,
			Alive:         pr.Alive,
			Extracted:     pr.Extracted,
		})
	}
	gate.Restore(snap.Seeds)
	for _, sr := range snap.Scans {
		eliminated, err := parseAmount(sr.Eliminated)
		if err != nil {
			return err
		}
		scans.RestoreScan(&scan.Scan{
			Tier:           sr.Tier,
			Round:          sr.Round,
			RequestedAt:    sr.RequestedAt,
			RateBps:        sr.RateBps,
			Seed:           sr.Seed,
			Revealed:       sr.Revealed,
			RevealedAt:     sr.RevealedAt,
			ReportDeadline: sr.ReportDeadline,
			AliveAtStart:   sr.AliveAtStart,
			DeathCount:     sr.DeathCount,
			Victims:        sr.Victims,
			Eliminated:     eliminated,
		})
	}
	scans.RestoreRounds(snap.NextRound)

	burned, err := parseAmount(snap.Burned)
	if err != nil {
		return err
	}
	ops, err := parseAmount(snap.Ops)
	if err != nil {
		return err
	}
	dist.RestoreSinks(burned, ops)
	return nil
}

func parseAmount(dec string) (*uint256.Int, error) {
	if dec == "" {
		return uint256.NewInt(0), nil
	}
	out, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, eris.Wrapf(err, "bad amount %q", dec)
	}
	return out, nil
}
