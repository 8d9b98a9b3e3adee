// Package types holds the identifiers shared by every engine package. They live here so
// that ledger, scan and cascade can reference each other's keys without import cycles.
package types

import "strconv"

// TierID identifies one risk tier. Tier ids start at 1; 0 is reserved to mean
// "no tier" (e.g. the upstream reference of the top-most tier).
type TierID uint8

// NoTier is the zero TierID, used where a tier reference is intentionally absent.
const NoTier = TierID(0)

func (t TierID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// RoundID identifies one elimination round. Round ids are allocated from a single
// engine-wide sequence starting at 1, which makes them strictly increasing per tier and
// globally unique at the same time. Duplicate-report tracking keys on (RoundID, identity)
// and relies on ids never being reused.
type RoundID uint64

func (r RoundID) String() string {
	return strconv.FormatUint(uint64(r), 10)
}
