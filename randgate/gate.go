// Package randgate implements a commit/reveal gate over delayed, externally supplied
// entropy. A consumer commits to a future snapshot tick, and can only learn the derived
// seed once that tick has passed. Because the snapshot tick is fixed at commit time and
// lies strictly in the future, no party can pick which entropy value applies by choosing
// when to commit.
package randgate

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rotisserie/eris"

	"pkg.purge.dev/purge-engine/types"
)

var (
	ErrZeroRound          = errors.New("round id cannot be zero")
	ErrAlreadyCommitted   = errors.New("round has already been committed")
	ErrNotCommitted       = errors.New("round has not been committed")
	ErrSeedNotReady       = errors.New("snapshot tick has not passed yet")
	ErrSeedExpired        = errors.New("seed expired; snapshot is beyond every reveal window")
	ErrEntropyUnavailable = errors.New("no entropy source can produce the snapshot tick")
)

const (
	// DefaultSnapshotDelay is the number of ticks between a commit and its entropy
	// snapshot.
	DefaultSnapshotDelay = 10
	// MinSnapshotDelay is a floor on the snapshot delay. Anything shorter would let a
	// committer observe the snapshot entropy before committing.
	MinSnapshotDelay = 5
	// PrimaryWindow is how many ticks past the snapshot the native entropy source keeps
	// history for.
	PrimaryWindow = 256
	// ExtendedWindow is how many ticks the fallback extended-history source covers.
	ExtendedWindow = 8191
)

// EnvSource is the engine's read-only view of the execution environment: a monotonically
// increasing tick counter and a per-tick opaque entropy value. EntropyAt reports false
// for ticks the environment no longer retains (older than PrimaryWindow) or has not yet
// produced.
type EnvSource interface {
	CurrentTick() uint64
	EntropyAt(tick uint64) (common.Hash, bool)
}

// ExtendedSource is the optional extended-history collaborator. Lookups are valid up to
// ExtendedWindow ticks in the past; misses are reported explicitly, never as a zero
// sentinel.
type ExtendedSource interface {
	LookupEntropy(tick uint64) (common.Hash, bool)
}

// RoundSeed tracks one (consumer, round) commitment. It is owned exclusively by the
// Gate; callers get copies.
type RoundSeed struct {
	Consumer         common.Address
	Round            types.RoundID
	CommitTick       uint64
	SnapshotTick     uint64
	RevealDeadline   uint64
	ExtendedDeadline uint64
	Revealed         bool
	Seed             common.Hash
}

type seedKey struct {
	consumer common.Address
	round    types.RoundID
}

// Gate hands out verifiable seeds derived from delayed environment entropy.
type Gate struct {
	env   EnvSource
	ext   ExtendedSource
	delay uint64
	seeds map[seedKey]*RoundSeed
}

type Option func(*Gate)

// WithExtendedSource attaches the fallback extended-history entropy source. Without it,
// reveals are only possible within the primary window.
func WithExtendedSource(ext ExtendedSource) Option {
	return func(g *Gate) {
		g.ext = ext
	}
}

// WithSnapshotDelay overrides the commit-to-snapshot delay. Values below
// MinSnapshotDelay are clamped up to it.
func WithSnapshotDelay(ticks uint64) Option {
	return func(g *Gate) {
		if ticks < MinSnapshotDelay {
			ticks = MinSnapshotDelay
		}
		g.delay = ticks
	}
}

func New(env EnvSource, opts ...Option) *Gate {
	g := &Gate{
		env:   env,
		delay: DefaultSnapshotDelay,
		seeds: map[seedKey]*RoundSeed{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Commit records an entropy snapshot point for the given consumer and round: the current
// tick plus the configured delay. Committing the same (consumer, round) twice fails.
func (g *Gate) Commit(consumer common.Address, round types.RoundID) error {
	if round == 0 {
		return eris.Wrap(ErrZeroRound, "commit")
	}
	key := seedKey{consumer: consumer, round: round}
	if _, ok := g.seeds[key]; ok {
		return eris.Wrapf(ErrAlreadyCommitted, "commit round %d", round)
	}
	now := g.env.CurrentTick()
	snapshot := now + g.delay
	g.seeds[key] = &RoundSeed{
		Consumer:         consumer,
		Round:            round,
		CommitTick:       now,
		SnapshotTick:     snapshot,
		RevealDeadline:   snapshot + PrimaryWindow,
		ExtendedDeadline: snapshot + ExtendedWindow,
	}
	return nil
}

// Reveal derives the seed for a committed round: Keccak256 over the snapshot entropy,
// the consumer identity and the round id. The first successful reveal caches the seed
// and every later call returns the identical value.
//
// Before the snapshot tick has passed the error is ErrSeedNotReady (retry later). Once
// the snapshot is beyond the primary window and no extended source can serve it, the
// error is ErrSeedExpired (permanently stuck); the two are distinct so callers can tell
// retry-later from unrecoverable.
func (g *Gate) Reveal(consumer common.Address, round types.RoundID) (common.Hash, error) {
	key := seedKey{consumer: consumer, round: round}
	rs, ok := g.seeds[key]
	if !ok {
		return common.Hash{}, eris.Wrapf(ErrNotCommitted, "reveal round %d", round)
	}
	if rs.Revealed {
		return rs.Seed, nil
	}
	now := g.env.CurrentTick()
	if now <= rs.SnapshotTick {
		return common.Hash{}, eris.Wrapf(ErrSeedNotReady, "snapshot at tick %d, now %d", rs.SnapshotTick, now)
	}
	entropy, err := g.snapshotEntropy(rs, now)
	if err != nil {
		return common.Hash{}, err
	}
	rs.Seed = deriveSeed(entropy, consumer, round)
	rs.Revealed = true
	return rs.Seed, nil
}

// snapshotEntropy resolves the entropy value at the round's snapshot tick. The native
// source is always tried first; the extended source is consulted only on a native miss
// and only while the extended window is still open. A miss from both sources is an
// explicit failure, never a zero value.
func (g *Gate) snapshotEntropy(rs *RoundSeed, now uint64) (common.Hash, error) {
	withinPrimary := now <= rs.RevealDeadline
	withinExtended := now <= rs.ExtendedDeadline

	if withinPrimary {
		if entropy, ok := g.env.EntropyAt(rs.SnapshotTick); ok {
			return entropy, nil
		}
	}
	if g.ext != nil && withinExtended {
		if entropy, ok := g.ext.LookupEntropy(rs.SnapshotTick); ok {
			return entropy, nil
		}
	}
	if !withinPrimary && (g.ext == nil || !withinExtended) {
		return common.Hash{}, eris.Wrapf(ErrSeedExpired, "snapshot at tick %d, now %d", rs.SnapshotTick, now)
	}
	return common.Hash{}, eris.Wrapf(ErrEntropyUnavailable, "snapshot at tick %d", rs.SnapshotTick)
}

// Status returns a copy of the round's commitment state, and whether it exists.
func (g *Gate) Status(consumer common.Address, round types.RoundID) (RoundSeed, bool) {
	rs, ok := g.seeds[seedKey{consumer: consumer, round: round}]
	if !ok {
		return RoundSeed{}, false
	}
	return *rs, true
}

// Expired reports whether a committed, unrevealed round can no longer be revealed by any
// source. Revealed rounds are never expired.
func (g *Gate) Expired(consumer common.Address, round types.RoundID) bool {
	rs, ok := g.seeds[seedKey{consumer: consumer, round: round}]
	if !ok || rs.Revealed {
		return false
	}
	now := g.env.CurrentTick()
	if now <= rs.RevealDeadline {
		return false
	}
	return g.ext == nil || now > rs.ExtendedDeadline
}

// Export returns every tracked commitment in a stable (consumer, round) order, for
// state snapshots.
func (g *Gate) Export() []RoundSeed {
	out := make([]RoundSeed, 0, len(g.seeds))
	for _, rs := range g.seeds {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Consumer != out[j].Consumer {
			return out[i].Consumer.Hex() < out[j].Consumer.Hex()
		}
		return out[i].Round < out[j].Round
	})
	return out
}

// Restore reloads commitments from a snapshot, replacing any existing entry for the
// same (consumer, round).
func (g *Gate) Restore(seeds []RoundSeed) {
	for _, rs := range seeds {
		copied := rs
		g.seeds[seedKey{consumer: rs.Consumer, round: rs.Round}] = &copied
	}
}

func deriveSeed(entropy common.Hash, consumer common.Address, round types.RoundID) common.Hash {
	return crypto.Keccak256Hash(entropy.Bytes(), consumer.Bytes(), uint64ToBytes(uint64(round)))
}
