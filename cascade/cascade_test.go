package cascade_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/assert"
	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/types"
)

const (
	lowTier = types.TierID(1)
	topTier = types.TierID(2)
)

func newFixture(t *testing.T) (*ledger.Ledger, *cascade.Distributor) {
	t.Helper()
	l, err := ledger.New(zerolog.Nop(),
		ledger.TierConfig{ID: lowTier, Upstream: topTier},
		ledger.TierConfig{ID: topTier},
	)
	assert.NilError(t, err)
	d, err := cascade.New(l, cascade.DefaultWeights, zerolog.Nop())
	assert.NilError(t, err)
	return l, d
}

func TestWeightsValidate(t *testing.T) {
	assert.NilError(t, cascade.DefaultWeights.Validate())
	bad := cascade.Weights{SameTierBps: 5000, UpstreamBps: 5000, BurnBps: 1}
	assert.ErrorIs(t, bad.Validate(), cascade.ErrBadWeights)

	_, err := cascade.New(nil, bad, zerolog.Nop())
	assert.ErrorIs(t, err, cascade.ErrBadWeights)
}

func TestSplitSumsExactly(t *testing.T) {
	l, d := newFixture(t)
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{1}), lowTier, uint256.NewInt(1000), 0))
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{2}), topTier, uint256.NewInt(1000), 0))

	// Totals picked to exercise zero, clean division, and stubborn remainders.
	for _, total := range []uint64{0, 1, 3, 7, 10, 33, 9999, 10000, 12345, 1<<53 + 1} {
		s, err := d.Distribute(lowTier, uint256.NewInt(total))
		assert.NilError(t, err)
		assert.Equal(t, uint256.NewInt(total).Dec(), s.Total().Dec(), "total %d", total)
	}
}

func TestDistributeCreditsBuckets(t *testing.T) {
	l, d := newFixture(t)
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{1}), lowTier, uint256.NewInt(1000), 0))
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{2}), topTier, uint256.NewInt(1000), 0))

	s, err := d.Distribute(lowTier, uint256.NewInt(10000))
	assert.NilError(t, err)
	assert.Equal(t, "3000", s.SameTier.Dec())
	assert.Equal(t, "3000", s.Upstream.Dec())
	assert.Equal(t, "3000", s.Burn.Dec())
	assert.Equal(t, "1000", s.Ops.Dec())

	low, err := l.Tier(lowTier)
	assert.NilError(t, err)
	top, err := l.Tier(topTier)
	assert.NilError(t, err)
	assert.False(t, low.AccPerShare.IsZero())
	assert.False(t, top.AccPerShare.IsZero())
	assert.Equal(t, "3000", d.TotalBurned().Dec())
	assert.Equal(t, "1000", d.OpsBalance().Dec())
}

func TestRemainderGoesToBurn(t *testing.T) {
	l, d := newFixture(t)
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{1}), lowTier, uint256.NewInt(1000), 0))
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{2}), topTier, uint256.NewInt(1000), 0))

	// 7: each 3000bps bucket floors to 2, ops floors to 0; burn takes 7-2-2-0 = 3.
	s, err := d.Distribute(lowTier, uint256.NewInt(7))
	assert.NilError(t, err)
	assert.Equal(t, "2", s.SameTier.Dec())
	assert.Equal(t, "2", s.Upstream.Dec())
	assert.Equal(t, "3", s.Burn.Dec())
	assert.Equal(t, "0", s.Ops.Dec())
}

func TestTopTierUpstreamShareIsBurned(t *testing.T) {
	l, d := newFixture(t)
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{2}), topTier, uint256.NewInt(1000), 0))

	s, err := d.Distribute(topTier, uint256.NewInt(10000))
	assert.NilError(t, err)
	assert.Equal(t, "0", s.Upstream.Dec())
	assert.Equal(t, "6000", s.Burn.Dec())
	assert.Equal(t, "10000", s.Total().Dec())
	assert.Equal(t, "6000", d.TotalBurned().Dec())
}

func TestDistributeToEmptiedTierHoldsPending(t *testing.T) {
	l, d := newFixture(t)
	owner := common.BytesToAddress([]byte{1})
	assert.NilError(t, l.Enter(owner, lowTier, uint256.NewInt(1000), 0))
	forfeited, err := l.MarkEliminated(owner)
	assert.NilError(t, err)

	// The tier emptied mid-round: the same-tier share must be held, not divided by zero,
	// and the upstream tier is empty too so its share is held there as well.
	s, err := d.Distribute(lowTier, forfeited)
	assert.NilError(t, err)

	low, err := l.Tier(lowTier)
	assert.NilError(t, err)
	assert.Equal(t, s.SameTier.Dec(), low.PendingInflow.Dec())
	assert.True(t, low.AccPerShare.IsZero())

	// The next entrant absorbs the held share in full.
	assert.NilError(t, l.Enter(common.BytesToAddress([]byte{9}), lowTier, uint256.NewInt(500), 0))
	pending, err := l.PendingReward(common.BytesToAddress([]byte{9}))
	assert.NilError(t, err)
	assert.Equal(t, s.SameTier.Dec(), pending.Dec())
}
