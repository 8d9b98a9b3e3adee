package receipt

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"pkg.purge.dev/purge-engine/assert"
)

func opHash(t *testing.T) OpHash {
	id, err := uuid.NewUUID()
	assert.NilError(t, err)
	return crypto.Keccak256Hash([]byte(id.String()))
}

func TestCanSaveAndGetAnError(t *testing.T) {
	h := NewHistory(100, 10)
	hash := opHash(t)
	wantError := errors.New("some error")

	h.AddError(hash, wantError)

	rec, ok := h.GetReceipt(hash)
	assert.Check(t, ok)
	assert.Equal(t, 1, len(rec.Errs))
	assert.ErrorIs(t, wantError, rec.Errs[0])
	assert.Equal(t, nil, rec.Result)
}

func TestResultAndErrorsCoexist(t *testing.T) {
	type result struct {
		Round uint64
		Dead  int
	}
	h := NewHistory(99, 5)
	hash := opHash(t)

	h.SetResult(hash, result{Round: 4, Dead: 2})
	h.AddError(hash, errors.New("partial batch"))

	rec, ok := h.GetReceipt(hash)
	assert.Check(t, ok)
	assert.Equal(t, result{Round: 4, Dead: 2}, rec.Result)
	assert.Equal(t, 1, len(rec.Errs))
}

func TestOldTicksAreReadableUntilDiscarded(t *testing.T) {
	startTick := uint64(100)
	keep := 3
	h := NewHistory(startTick, keep)
	hash := opHash(t)
	h.SetResult(hash, "done")

	// The current tick cannot be read back yet.
	_, err := h.GetReceiptsForTick(startTick)
	assert.ErrorIs(t, err, ErrTickInProgress)

	h.NextTick()
	recs, err := h.GetReceiptsForTick(startTick)
	assert.NilError(t, err)
	assert.Equal(t, 1, len(recs))
	assert.Equal(t, "done", recs[0].Result)

	for i := 0; i < keep; i++ {
		h.NextTick()
	}
	_, err = h.GetReceiptsForTick(startTick)
	assert.ErrorIs(t, err, ErrTickDiscarded)
}

func TestNextTickReclaimsSlot(t *testing.T) {
	h := NewHistory(0, 1)
	hash := opHash(t)
	h.SetResult(hash, "first")

	for i := uint64(1); i <= h.Size(); i++ {
		h.NextTick()
	}
	_, ok := h.GetReceipt(hash)
	assert.Check(t, !ok)
}
