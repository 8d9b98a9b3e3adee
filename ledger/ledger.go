// Package ledger tracks per-participant stake and rewards with the accumulated
// rewards-per-share technique: settling a position is O(1) no matter how many positions
// exist, which is what lets the engine's operations stay bounded by their own inputs.
package ledger

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/types"
)

var (
	ErrTierUnknown    = errors.New("tier is not registered")
	ErrTierDuplicate  = errors.New("tier id registered twice")
	ErrZeroAmount     = errors.New("amount must be positive")
	ErrBelowMinimum   = errors.New("amount is below the tier minimum stake")
	ErrPositionExists = errors.New("identity already holds a live position")
	ErrNoPosition     = errors.New("identity holds no live position")
	ErrPositionDead   = errors.New("position was eliminated")
	ErrExitLocked     = errors.New("exit refused inside the scan lock window")
)

// precision is the fixed-point scale of AccPerShare.
var precision = uint256.NewInt(1_000_000_000_000_000_000)

type Ledger struct {
	tiers     map[types.TierID]*TierState
	positions map[common.Address]*Position
	logger    zerolog.Logger
}

func New(logger zerolog.Logger, cfgs ...TierConfig) (*Ledger, error) {
	l := &Ledger{
		tiers:     map[types.TierID]*TierState{},
		positions: map[common.Address]*Position{},
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
	for _, cfg := range cfgs {
		if cfg.ID == types.NoTier {
			return nil, eris.New("tier id cannot be zero")
		}
		if _, ok := l.tiers[cfg.ID]; ok {
			return nil, eris.Wrapf(ErrTierDuplicate, "tier %s", cfg.ID)
		}
		if cfg.MinStake == nil {
			cfg.MinStake = uint256.NewInt(0)
		}
		l.tiers[cfg.ID] = newTierState(cfg)
	}
	for _, ts := range l.tiers {
		up := ts.Config.Upstream
		if up == types.NoTier {
			continue
		}
		if _, ok := l.tiers[up]; !ok {
			return nil, eris.Wrapf(ErrTierUnknown, "tier %s upstream %s", ts.Config.ID, up)
		}
	}
	return l, nil
}

// Tier returns the live state for a tier id. The scan engine mutates scan-related
// fields through this reference; no one else may.
func (l *Ledger) Tier(id types.TierID) (*TierState, error) {
	ts, ok := l.tiers[id]
	if !ok {
		return nil, eris.Wrapf(ErrTierUnknown, "tier %s", id)
	}
	return ts, nil
}

// Tiers returns every tier state ordered by id.
func (l *Ledger) Tiers() []*TierState {
	out := make([]*TierState, 0, len(l.tiers))
	for _, ts := range l.tiers {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// Position returns the identity's position record, live or not.
func (l *Ledger) Position(owner common.Address) (*Position, bool) {
	p, ok := l.positions[owner]
	return p, ok
}

// ForEachPosition visits every position record in owner order. Used by state snapshots,
// never by engine operations.
func (l *Ledger) ForEachPosition(fn func(*Position)) {
	owners := make([]common.Address, 0, len(l.positions))
	for owner := range l.positions {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return owners[i].Hex() < owners[j].Hex()
	})
	for _, owner := range owners {
		fn(l.positions[owner])
	}
}

// Enter creates a position for the identity. Any reward held pending while the tier was
// empty is flushed into the accumulator after the entrant's debt is set, so the entrant
// absorbs it in full.
func (l *Ledger) Enter(owner common.Address, tier types.TierID, amount *uint256.Int, tick uint64) error {
	ts, err := l.Tier(tier)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return eris.Wrap(ErrZeroAmount, "enter")
	}
	if amount.Lt(ts.Config.MinStake) {
		return eris.Wrapf(ErrBelowMinimum, "enter %s < %s", amount.Dec(), ts.Config.MinStake.Dec())
	}
	if prev, ok := l.positions[owner]; ok && prev.Active() {
		return eris.Wrapf(ErrPositionExists, "owner %s", owner.Hex())
	}

	amount = amount.Clone()
	l.positions[owner] = &Position{
		Owner:         owner,
		Tier:          tier,
		Amount:        amount,
		RewardDebt:    scaleDown(amount, ts.AccPerShare),
		EnteredAt:     tick,
		RoundsAtEntry: ts.CompletedRounds,
		Alive:         true,
	}
	ts.TotalStaked.Add(ts.TotalStaked, amount)
	ts.AliveCount++

	if !ts.PendingInflow.IsZero() {
		inflow := ts.PendingInflow.Clone()
		ts.PendingInflow.Clear()
		l.credit(ts, inflow)
	}

	l.logger.Debug().
		Str("owner", owner.Hex()).
		Str("tier", tier.String()).
		Str("amount", amount.Dec()).
		Msg("position entered")
	return nil
}

// AddStake tops up a live position. The accrued reward is settled and returned to the
// caller for payout.
func (l *Ledger) AddStake(owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, eris.Wrap(ErrZeroAmount, "add stake")
	}
	pos, ts, err := l.activePosition(owner)
	if err != nil {
		return nil, err
	}
	reward := l.pending(pos, ts)
	pos.Amount.Add(pos.Amount, amount)
	pos.RewardDebt = scaleDown(pos.Amount, ts.AccPerShare)
	ts.TotalStaked.Add(ts.TotalStaked, amount)
	return reward, nil
}

// Claim settles and zeroes the position's accrued reward, leaving principal untouched.
func (l *Ledger) Claim(owner common.Address) (*uint256.Int, error) {
	pos, ts, err := l.activePosition(owner)
	if err != nil {
		return nil, err
	}
	reward := l.pending(pos, ts)
	pos.RewardDebt = scaleDown(pos.Amount, ts.AccPerShare)
	return reward, nil
}

// Exit settles a live position and removes it from the pool, returning principal and
// reward separately. Exits are refused inside the tier's lock window and whenever a
// scan is in flight: between a seed reveal and finalization the elimination outcome is
// already knowable, and the lock is what stops informed escapes.
func (l *Ledger) Exit(owner common.Address, tick uint64) (principal, reward *uint256.Int, err error) {
	pos, ts, err := l.activePosition(owner)
	if err != nil {
		return nil, nil, err
	}
	if ts.ActiveRound != 0 {
		return nil, nil, eris.Wrapf(ErrExitLocked, "round %s in flight", ts.ActiveRound)
	}
	if ts.NextScanAt > 0 && tick+ts.Config.LockWindow >= ts.NextScanAt {
		return nil, nil, eris.Wrapf(ErrExitLocked, "next scan at tick %d", ts.NextScanAt)
	}

	reward = l.pending(pos, ts)
	principal = pos.Amount.Clone()
	ts.TotalStaked.Sub(ts.TotalStaked, pos.Amount)
	ts.AliveCount--
	pos.Amount.Clear()
	pos.RewardDebt.Clear()
	pos.Extracted = true

	l.logger.Debug().
		Str("owner", owner.Hex()).
		Str("principal", principal.Dec()).
		Str("reward", reward.Dec()).
		Msg("position exited")
	return principal, reward, nil
}

// MarkEliminated forfeits a live position: principal and any unsettled reward are both
// stripped and returned to the caller for cascade processing. Returning the unsettled
// reward too is what keeps the tier's books exact; leaving it behind would strand value
// that no surviving position could ever claim.
func (l *Ledger) MarkEliminated(owner common.Address) (*uint256.Int, error) {
	pos, ts, err := l.activePosition(owner)
	if err != nil {
		return nil, err
	}
	forfeited := l.pending(pos, ts)
	forfeited.Add(forfeited, pos.Amount)
	ts.TotalStaked.Sub(ts.TotalStaked, pos.Amount)
	ts.AliveCount--
	pos.Amount.Clear()
	pos.RewardDebt.Clear()
	pos.Alive = false
	return forfeited, nil
}

// CreditReward adds reward inflow to a tier's accumulator. Inflow to an empty tier is
// held pending; the next entrant absorbs it.
func (l *Ledger) CreditReward(tier types.TierID, amount *uint256.Int) error {
	ts, err := l.Tier(tier)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if ts.TotalStaked.IsZero() {
		ts.PendingInflow.Add(ts.PendingInflow, amount)
		l.logger.Debug().
			Str("tier", tier.String()).
			Str("amount", amount.Dec()).
			Msg("reward held pending on empty tier")
		return nil
	}
	l.credit(ts, amount)
	return nil
}

// PendingReward computes the position's unsettled reward without mutating anything.
func (l *Ledger) PendingReward(owner common.Address) (*uint256.Int, error) {
	pos, ok := l.positions[owner]
	if !ok || !pos.Active() {
		return uint256.NewInt(0), nil
	}
	ts, err := l.Tier(pos.Tier)
	if err != nil {
		return nil, err
	}
	return l.pending(pos, ts), nil
}

// RestorePosition reinstates a position record from a snapshot. Tier totals are
// restored separately from the tier records; this does not touch them.
func (l *Ledger) RestorePosition(p *Position) {
	l.positions[p.Owner] = p
}

func (l *Ledger) activePosition(owner common.Address) (*Position, *TierState, error) {
	pos, ok := l.positions[owner]
	if !ok || pos.Extracted {
		return nil, nil, eris.Wrapf(ErrNoPosition, "owner %s", owner.Hex())
	}
	if !pos.Alive {
		return nil, nil, eris.Wrapf(ErrPositionDead, "owner %s", owner.Hex())
	}
	ts, err := l.Tier(pos.Tier)
	if err != nil {
		return nil, nil, err
	}
	return pos, ts, nil
}

func (l *Ledger) pending(pos *Position, ts *TierState) *uint256.Int {
	accrued := scaleDown(pos.Amount, ts.AccPerShare)
	return accrued.Sub(accrued, pos.RewardDebt)
}

// credit folds an inflow into AccPerShare. Caller guarantees TotalStaked is non-zero.
func (l *Ledger) credit(ts *TierState, amount *uint256.Int) {
	delta := new(uint256.Int).Mul(amount, precision)
	delta.Div(delta, ts.TotalStaked)
	ts.AccPerShare.Add(ts.AccPerShare, delta)
}

// scaleDown computes amount*acc/1e18 into a fresh value.
func scaleDown(amount, acc *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(amount, acc)
	return out.Div(out, precision)
}
