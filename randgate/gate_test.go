package randgate_test

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"pkg.purge.dev/purge-engine/assert"
	"pkg.purge.dev/purge-engine/enginetest"
	"pkg.purge.dev/purge-engine/randgate"
)

var consumer = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestCommitRejectsZeroRound(t *testing.T) {
	gate := randgate.New(enginetest.NewEnv())
	assert.ErrorIs(t, gate.Commit(consumer, 0), randgate.ErrZeroRound)
}

func TestCommitRejectsDuplicateRound(t *testing.T) {
	gate := randgate.New(enginetest.NewEnv())
	assert.NilError(t, gate.Commit(consumer, 1))
	assert.ErrorIs(t, gate.Commit(consumer, 1), randgate.ErrAlreadyCommitted)
}

func TestRevealRequiresCommit(t *testing.T) {
	gate := randgate.New(enginetest.NewEnv())
	_, err := gate.Reveal(consumer, 7)
	assert.ErrorIs(t, err, randgate.ErrNotCommitted)
}

func TestSnapshotDelayIsClamped(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env, randgate.WithSnapshotDelay(1))
	assert.NilError(t, gate.Commit(consumer, 1))

	rs, ok := gate.Status(consumer, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(randgate.MinSnapshotDelay), rs.SnapshotTick-rs.CommitTick)
}

// The not-ready and expired windows must share an exact boundary: not-ready strictly
// before the snapshot has passed, expired strictly after the primary window, with every
// tick in between revealable.
func TestRevealWindowHasNoGapOrOverlap(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env)
	assert.NilError(t, gate.Commit(consumer, 1))
	rs, _ := gate.Status(consumer, 1)

	env.AdvanceTo(rs.SnapshotTick)
	_, err := gate.Reveal(consumer, 1)
	assert.ErrorIs(t, err, randgate.ErrSeedNotReady, "at the snapshot tick the value is not yet final")

	// Check the first revealable tick and the last one on a fresh gate each time, since
	// a successful reveal is cached.
	for _, tick := range []uint64{rs.SnapshotTick + 1, rs.RevealDeadline} {
		freshEnv := enginetest.NewEnv()
		freshGate := randgate.New(freshEnv)
		assert.NilError(t, freshGate.Commit(consumer, 1))
		freshEnv.AdvanceTo(tick)
		_, err := freshGate.Reveal(consumer, 1)
		assert.NilError(t, err)
	}

	env.AdvanceTo(rs.RevealDeadline + 1)
	_, err = gate.Reveal(consumer, 1)
	assert.ErrorIs(t, err, randgate.ErrSeedExpired)
	assert.True(t, gate.Expired(consumer, 1))
}

func TestRevealIsIdempotent(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env)
	assert.NilError(t, gate.Commit(consumer, 1))
	env.Advance(randgate.DefaultSnapshotDelay + 1)

	first, err := gate.Reveal(consumer, 1)
	assert.NilError(t, err)
	for i := 0; i < 3; i++ {
		again, err := gate.Reveal(consumer, 1)
		assert.NilError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRevealedSeedSurvivesWindowExpiry(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env)
	assert.NilError(t, gate.Commit(consumer, 1))
	env.Advance(randgate.DefaultSnapshotDelay + 1)

	first, err := gate.Reveal(consumer, 1)
	assert.NilError(t, err)

	env.Advance(randgate.ExtendedWindow * 2)
	again, err := gate.Reveal(consumer, 1)
	assert.NilError(t, err)
	assert.Equal(t, first, again)
	assert.False(t, gate.Expired(consumer, 1))
}

func TestSeedsDifferPerConsumerAndRound(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env)
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	assert.NilError(t, gate.Commit(consumer, 1))
	assert.NilError(t, gate.Commit(consumer, 2))
	assert.NilError(t, gate.Commit(other, 1))
	env.Advance(randgate.DefaultSnapshotDelay + 1)

	s1, err := gate.Reveal(consumer, 1)
	assert.NilError(t, err)
	s2, err := gate.Reveal(consumer, 2)
	assert.NilError(t, err)
	s3, err := gate.Reveal(other, 1)
	assert.NilError(t, err)

	assert.Assert(t, s1 != s2)
	assert.Assert(t, s1 != s3)
	assert.Assert(t, s2 != s3)
}

func TestExtendedSourceCoversLapsedPrimaryWindow(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env, randgate.WithExtendedSource(&enginetest.Extended{Env: env}))
	assert.NilError(t, gate.Commit(consumer, 1))
	rs, _ := gate.Status(consumer, 1)

	env.AdvanceTo(rs.RevealDeadline + 100)
	assert.False(t, gate.Expired(consumer, 1), "extended window still open")

	seed, err := gate.Reveal(consumer, 1)
	assert.NilError(t, err)

	// The seed must match one derived from the extended source's own value.
	want, ok := (&enginetest.Extended{Env: env}).LookupEntropy(rs.SnapshotTick)
	assert.True(t, ok)
	assert.Equal(t, gateDerive(want, consumer, 1), seed)
}

func TestExtendedWindowExpires(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env, randgate.WithExtendedSource(&enginetest.Extended{Env: env}))
	assert.NilError(t, gate.Commit(consumer, 1))
	rs, _ := gate.Status(consumer, 1)

	env.AdvanceTo(rs.ExtendedDeadline + 1)
	_, err := gate.Reveal(consumer, 1)
	assert.ErrorIs(t, err, randgate.ErrSeedExpired)
	assert.True(t, gate.Expired(consumer, 1))
}

func TestNativeMissFallsBackWithinPrimaryWindow(t *testing.T) {
	env := enginetest.NewEnv()
	gate := randgate.New(env, randgate.WithExtendedSource(&enginetest.Extended{Env: env}))
	assert.NilError(t, gate.Commit(consumer, 1))
	rs, _ := gate.Status(consumer, 1)

	env.AdvanceTo(rs.SnapshotTick + 1)
	env.DropEntropy(rs.SnapshotTick)

	// Dropped on both sources: deterministic failure, not a zero seed.
	_, err := gate.Reveal(consumer, 1)
	assert.ErrorIs(t, err, randgate.ErrEntropyUnavailable)
}

// gateDerive mirrors the gate's seed derivation for verification in tests.
func gateDerive(entropy common.Hash, consumer common.Address, round uint64) common.Hash {
	roundBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(roundBytes, round)
	return crypto.Keccak256Hash(entropy.Bytes(), consumer.Bytes(), roundBytes)
}
