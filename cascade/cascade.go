// Package cascade splits a finalized scan's eliminated capital four ways: back into the
// same tier, up to the next tier, into the burn sink, and into the operations sink. The
// split is pure integer arithmetic that always conserves the input exactly.
package cascade

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/types"
)

// BpsDenominator is the basis-point scale of the bucket weights.
const BpsDenominator = 10000

var ErrBadWeights = errors.New("cascade weights must sum to 10000 bps")

// Weights are the four bucket shares in basis points. They must sum to exactly
// BpsDenominator.
type Weights struct {
	SameTierBps uint16 `json:"sameTierBps"`
	UpstreamBps uint16 `json:"upstreamBps"`
	BurnBps     uint16 `json:"burnBps"`
	OpsBps      uint16 `json:"opsBps"`
}

// DefaultWeights is the 30/30/30/10 split.
var DefaultWeights = Weights{
	SameTierBps: 3000,
	UpstreamBps: 3000,
	BurnBps:     3000,
	OpsBps:      1000,
}

func (w Weights) Validate() error {
	sum := int(w.SameTierBps) + int(w.UpstreamBps) + int(w.BurnBps) + int(w.OpsBps)
	if sum != BpsDenominator {
		return eris.Wrapf(ErrBadWeights, "got %d", sum)
	}
	return nil
}

// Split is the outcome of one distribution. The four buckets always sum exactly to the
// input total; integer-division dust lands in Burn.
type Split struct {
	SameTier *uint256.Int
	Upstream *uint256.Int
	Burn     *uint256.Int
	Ops      *uint256.Int
}

// Total re-adds the four buckets, for verification.
func (s Split) Total() *uint256.Int {
	out := new(uint256.Int).Add(s.SameTier, s.Upstream)
	out.Add(out, s.Burn)
	return out.Add(out, s.Ops)
}

// split carves total into the weighted buckets. SameTier, Upstream and Ops each take
// floor(total * bps / 10000); Burn takes everything left, which covers its own weight
// plus the rounding dust.
func (w Weights) split(total *uint256.Int) Split {
	part := func(bps uint16) *uint256.Int {
		out := new(uint256.Int).Mul(total, uint256.NewInt(uint64(bps)))
		return out.Div(out, uint256.NewInt(BpsDenominator))
	}
	s := Split{
		SameTier: part(w.SameTierBps),
		Upstream: part(w.UpstreamBps),
		Ops:      part(w.OpsBps),
	}
	burn := new(uint256.Int).Sub(total, s.SameTier)
	burn.Sub(burn, s.Upstream)
	burn.Sub(burn, s.Ops)
	s.Burn = burn
	return s
}

// Distributor applies splits against the ledger and owns the two sinks. It never touches
// tier accumulators directly; same-tier and upstream shares go through the ledger's
// credit operation, which holds inflow pending when a tier has emptied.
type Distributor struct {
	weights  Weights
	ledger   *ledger.Ledger
	burned   *uint256.Int
	opsVault *uint256.Int
	logger   zerolog.Logger
}

func New(l *ledger.Ledger, weights Weights, logger zerolog.Logger) (*Distributor, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		weights:  weights,
		ledger:   l,
		burned:   uint256.NewInt(0),
		opsVault: uint256.NewInt(0),
		logger:   logger.With().Str("component", "cascade").Logger(),
	}, nil
}

// Distribute splits the eliminated total for a scan at the given tier and applies every
// bucket. At the top of the ladder there is no upstream tier; that share is burned
// rather than silently dropped, and the returned Split reflects the redirect.
func (d *Distributor) Distribute(tier types.TierID, total *uint256.Int) (Split, error) {
	ts, err := d.ledger.Tier(tier)
	if err != nil {
		return Split{}, err
	}
	s := d.weights.split(total)

	if !ts.HasUpstream() && !s.Upstream.IsZero() {
		s.Burn.Add(s.Burn, s.Upstream)
		s.Upstream = uint256.NewInt(0)
	}

	if err := d.ledger.CreditReward(tier, s.SameTier); err != nil {
		return Split{}, err
	}
	if !s.Upstream.IsZero() {
		if err := d.ledger.CreditReward(ts.Config.Upstream, s.Upstream); err != nil {
			return Split{}, err
		}
	}
	d.burned.Add(d.burned, s.Burn)
	d.opsVault.Add(d.opsVault, s.Ops)

	d.logger.Info().
		Str("tier", tier.String()).
		Str("total", total.Dec()).
		Str("same_tier", s.SameTier.Dec()).
		Str("upstream", s.Upstream.Dec()).
		Str("burn", s.Burn.Dec()).
		Str("ops", s.Ops.Dec()).
		Msg("cascade distributed")
	return s, nil
}

// TotalBurned is the cumulative burn sink balance. Burned value is irrecoverable.
func (d *Distributor) TotalBurned() *uint256.Int {
	return d.burned.Clone()
}

// OpsBalance is the cumulative operations sink balance.
func (d *Distributor) OpsBalance() *uint256.Int {
	return d.opsVault.Clone()
}

// RestoreSinks reloads sink balances from a snapshot.
func (d *Distributor) RestoreSinks(burned, ops *uint256.Int) {
	d.burned = burned.Clone()
	d.opsVault = ops.Clone()
}
