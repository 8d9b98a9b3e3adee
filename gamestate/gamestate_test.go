package gamestate_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/assert"
	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/enginetest"
	"pkg.purge.dev/purge-engine/gamestate"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/scan"
	"pkg.purge.dev/purge-engine/types"
)

const (
	lowTier = types.TierID(1)
	topTier = types.TierID(2)
)

type world struct {
	env    *enginetest.Env
	ledger *ledger.Ledger
	gate   *randgate.Gate
	scans  *scan.Engine
	dist   *cascade.Distributor
}

func newWorld(t *testing.T, env *enginetest.Env) *world {
	t.Helper()
	l, err := ledger.New(zerolog.Nop(),
		ledger.TierConfig{ID: lowTier, Upstream: topTier, RateBps: 5000, ScanInterval: 100, LockWindow: 10},
		ledger.TierConfig{ID: topTier, RateBps: 2000, ScanInterval: 200, LockWindow: 10},
	)
	assert.NilError(t, err)
	dist, err := cascade.New(l, cascade.DefaultWeights, zerolog.Nop())
	assert.NilError(t, err)
	gate := randgate.New(env)
	return &world{
		env:    env,
		ledger: l,
		gate:   gate,
		scans:  scan.NewEngine(env, gate, l, dist, zerolog.Nop()),
		dist:   dist,
	}
}

func testClient(t *testing.T) redis.Cmdable {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestLoadMissingSnapshot(t *testing.T) {
	storage := gamestate.NewStorage(testClient(t), "test")
	_, found, err := storage.LoadSnapshot(context.Background())
	assert.NilError(t, err)
	assert.False(t, found)
}

// Capture mid-round, persist through miniredis, restore into a fresh world, and check
// that accounting, duplicate tracking and the round sequence all carry over.
func TestSnapshotRoundTripMidRound(t *testing.T) {
	ctx := context.Background()
	env := enginetest.NewEnv()
	w := newWorld(t, env)

	var owners []common.Address
	for n := byte(1); n <= 10; n++ {
		owner := common.BytesToAddress([]byte{n})
		owners = append(owners, owner)
		assert.NilError(t, w.ledger.Enter(owner, lowTier, uint256.NewInt(1000), env.CurrentTick()))
	}
	_, err := w.scans.Request(lowTier)
	assert.NilError(t, err)
	env.Advance(randgate.DefaultSnapshotDelay + 1)
	s, err := w.scans.Begin(lowTier)
	assert.NilError(t, err)
	rep, err := w.scans.Report(lowTier, owners[:5])
	assert.NilError(t, err)

	storage := gamestate.NewStorage(testClient(t), "test")
	snap := gamestate.Capture(env.CurrentTick(), w.ledger, w.gate, w.scans, w.dist)
	assert.NilError(t, storage.SaveSnapshot(ctx, snap))

	loaded, found, err := storage.LoadSnapshot(ctx)
	assert.NilError(t, err)
	assert.True(t, found)
	assert.Equal(t, snap.Tick, loaded.Tick)

	// Fresh world, same tier configs, same environment.
	restored := newWorld(t, env)
	assert.NilError(t, gamestate.Apply(loaded, restored.ledger, restored.gate, restored.scans, restored.dist))

	// Ledger state carried over.
	origTS, err := w.ledger.Tier(lowTier)
	assert.NilError(t, err)
	newTS, err := restored.ledger.Tier(lowTier)
	assert.NilError(t, err)
	assert.Equal(t, origTS.TotalStaked.Dec(), newTS.TotalStaked.Dec())
	assert.Equal(t, origTS.AliveCount, newTS.AliveCount)
	assert.Equal(t, origTS.ActiveRound, newTS.ActiveRound)

	// The in-flight scan resumed with its seed and duplicate index intact.
	cur, ok := restored.scans.Current(lowTier)
	assert.True(t, ok)
	assert.Equal(t, s.Seed, cur.Seed)
	assert.Equal(t, s.Round, cur.Round)

	again, err := restored.scans.Report(lowTier, owners[:5])
	assert.NilError(t, err)
	assert.Len(t, again.Applied, 0, "already-processed identities must not re-apply")

	// The rest of the report window and finalization behave identically.
	rep2, err := restored.scans.Report(lowTier, owners[5:])
	assert.NilError(t, err)
	env.Advance(scan.DefaultReportWindow + 1)
	res, err := restored.scans.Finalize(lowTier)
	assert.NilError(t, err)
	assert.Equal(t, uint64(len(rep.Applied)+len(rep2.Applied)), res.Scan.DeathCount)
	assert.Equal(t, restored.scans.NextRound(), s.Round+1)
}

func TestSnapshotPreservesSinks(t *testing.T) {
	ctx := context.Background()
	env := enginetest.NewEnv()
	w := newWorld(t, env)

	assert.NilError(t, w.ledger.Enter(common.BytesToAddress([]byte{1}), lowTier, uint256.NewInt(1000), 0))
	assert.NilError(t, w.ledger.Enter(common.BytesToAddress([]byte{2}), topTier, uint256.NewInt(1000), 0))
	_, err := w.dist.Distribute(lowTier, uint256.NewInt(10000))
	assert.NilError(t, err)

	storage := gamestate.NewStorage(testClient(t), "test")
	assert.NilError(t, storage.SaveSnapshot(ctx, gamestate.Capture(env.CurrentTick(), w.ledger, w.gate, w.scans, w.dist)))
	loaded, _, err := storage.LoadSnapshot(ctx)
	assert.NilError(t, err)

	restored := newWorld(t, env)
	assert.NilError(t, gamestate.Apply(loaded, restored.ledger, restored.gate, restored.scans, restored.dist))
	assert.Equal(t, "3000", restored.dist.TotalBurned().Dec())
	assert.Equal(t, "1000", restored.dist.OpsBalance().Dec())
}
