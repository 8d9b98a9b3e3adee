// Package enginetest provides deterministic stand-ins for the execution environment so
// engine tests can script ticks and entropy exactly.
package enginetest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"pkg.purge.dev/purge-engine/randgate"
)

// Env is a scripted randgate.EnvSource. Entropy for a tick defaults to a keccak of the
// tick number, which keeps values distinct and reproducible; individual ticks can be
// overridden or dropped to simulate environment misses.
type Env struct {
	tick      uint64
	overrides map[uint64]common.Hash
	dropped   map[uint64]bool
}

var _ randgate.EnvSource = (*Env)(nil)

func NewEnv() *Env {
	return &Env{
		overrides: map[uint64]common.Hash{},
		dropped:   map[uint64]bool{},
	}
}

func (e *Env) CurrentTick() uint64 { return e.tick }

// Advance moves the tick counter forward by n.
func (e *Env) Advance(n uint64) { e.tick += n }

// AdvanceTo moves the tick counter to exactly t. Panics on rewinds, because the real
// environment's counter is monotone.
func (e *Env) AdvanceTo(t uint64) {
	if t < e.tick {
		panic("enginetest: tick counter cannot rewind")
	}
	e.tick = t
}

// SetEntropy pins the entropy value for one tick.
func (e *Env) SetEntropy(tick uint64, value common.Hash) {
	e.overrides[tick] = value
}

// DropEntropy makes the environment report a miss for one tick, as if the value was
// never retained.
func (e *Env) DropEntropy(tick uint64) {
	e.dropped[tick] = true
}

// EntropyAt serves entropy only for past ticks within the primary window, matching the
// real environment's bounded history.
func (e *Env) EntropyAt(tick uint64) (common.Hash, bool) {
	if tick >= e.tick || e.tick-tick > randgate.PrimaryWindow {
		return common.Hash{}, false
	}
	return e.entropy(tick)
}

func (e *Env) entropy(tick uint64) (common.Hash, bool) {
	if e.dropped[tick] {
		return common.Hash{}, false
	}
	if v, ok := e.overrides[tick]; ok {
		return v, true
	}
	return crypto.Keccak256Hash([]byte{byte(tick), byte(tick >> 8), byte(tick >> 16)}), true
}

// Extended wraps an Env as the extended-history collaborator, covering the fallback
// window instead of the primary one.
type Extended struct {
	Env *Env
}

var _ randgate.ExtendedSource = (*Extended)(nil)

func (x *Extended) LookupEntropy(tick uint64) (common.Hash, bool) {
	if tick >= x.Env.tick || x.Env.tick-tick > randgate.ExtendedWindow {
		return common.Hash{}, false
	}
	return x.Env.entropy(tick)
}
