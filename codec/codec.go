// Package codec is the engine's single JSON boundary; snapshots and queries all encode
// through here so the wire format is decided in one place.
package codec

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

func Decode[T any](bz []byte) (T, error) {
	out := new(T)
	if err := json.Unmarshal(bz, out); err != nil {
		return *out, eris.Wrap(err, "")
	}
	return *out, nil
}

func Encode(value any) ([]byte, error) {
	bz, err := json.Marshal(value)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}

// MustEncode encodes a value the caller knows is serializable; it panics otherwise.
// Reserved for engine-owned types whose serializability is covered by tests.
func MustEncode(value any) []byte {
	bz, err := Encode(value)
	if err != nil {
		panic(err)
	}
	return bz
}
