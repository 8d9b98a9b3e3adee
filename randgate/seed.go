package randgate

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// BpsMax is the basis-point denominator: 10000 bps == 100%.
const BpsMax = 10000

// SubSeed derives a domain-separated child seed from a parent seed. Independent random
// decisions within one round should each use their own (index, tag) pair so the
// outcomes do not correlate.
func SubSeed(seed common.Hash, index uint64, tag string) common.Hash {
	return crypto.Keccak256Hash(seed.Bytes(), uint64ToBytes(index), []byte(tag))
}

// ToRange maps a seed to a uniform value in [0, max). A max of 0 returns 0 rather than
// failing. The full 256-bit seed is reduced mod max, so the bias for any realistic max
// is negligible.
func ToRange(seed common.Hash, max uint64) uint64 {
	if max == 0 {
		return 0
	}
	n := new(uint256.Int).SetBytes(seed.Bytes())
	return n.Mod(n, uint256.NewInt(max)).Uint64()
}

// ToRangeInclusive maps a seed to a uniform value in [min, max]. When max < min it
// returns min rather than failing.
func ToRangeInclusive(seed common.Hash, min, max uint64) uint64 {
	if max < min {
		return min
	}
	return min + ToRange(seed, max-min+1)
}

// ToBool maps a seed to true with the given basis-point probability. 0 bps is always
// false and 10000 bps (or more) is always true. For a fixed seed the underlying roll is
// fixed, so the result is monotonic in probabilityBps.
func ToBool(seed common.Hash, probabilityBps uint16) bool {
	if probabilityBps == 0 {
		return false
	}
	if probabilityBps >= BpsMax {
		return true
	}
	return ToRange(seed, BpsMax) < uint64(probabilityBps)
}

// IsEliminated is the pure elimination predicate: whether the given identity dies this
// round under the revealed seed and elimination rate. It needs no participant list, so
// any party can evaluate and verify it.
func IsEliminated(seed common.Hash, identity common.Address, rateBps uint16) bool {
	return ToBool(crypto.Keccak256Hash(seed.Bytes(), identity.Bytes()), rateBps)
}

func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
