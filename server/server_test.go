package server_test

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	purge "pkg.purge.dev/purge-engine"
	"pkg.purge.dev/purge-engine/assert"
	"pkg.purge.dev/purge-engine/codec"
	"pkg.purge.dev/purge-engine/enginetest"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/server"
)

func newTestServer(t *testing.T) (*server.Server, *purge.Engine, *enginetest.Env) {
	t.Helper()
	env := enginetest.NewEnv()
	eng, err := purge.New(env,
		purge.WithTiers(ledger.TierConfig{
			ID:           1,
			MinStake:     uint256.NewInt(100),
			RateBps:      1000,
			ScanInterval: 50,
			LockWindow:   10,
		}),
	)
	assert.NilError(t, err)
	return server.New(eng, zerolog.Nop()), eng, env
}

func post(t *testing.T, srv *server.Server, path string, body any) ([]byte, int) {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader(codec.MustEncode(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	assert.NilError(t, err)
	defer resp.Body.Close()
	bz, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	return bz, resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := srv.App().Test(req)
	assert.NilError(t, err)
	assert.Equal(t, resp.StatusCode, 200)
}

func TestQueryTierState(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	alice := common.HexToAddress("0xaa01")
	_, err := eng.Enter(alice, 1, uint256.NewInt(500))
	assert.NilError(t, err)

	bz, status := post(t, srv, "/query/tier-state", map[string]any{"tier": 1})
	assert.Equal(t, status, 200)
	view, err := codec.Decode[map[string]any](bz)
	assert.NilError(t, err)
	assert.Equal(t, view["totalStaked"], "500")
	assert.Equal(t, view["aliveCount"], float64(1))

	_, status = post(t, srv, "/query/tier-state", map[string]any{"tier": 9})
	assert.Equal(t, status, 404)
}

func TestQueryScanStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	bz, status := post(t, srv, "/query/scan-status", map[string]any{"tier": 1})
	assert.Equal(t, status, 200)
	view, err := codec.Decode[map[string]any](bz)
	assert.NilError(t, err)
	assert.Equal(t, view["status"], "none")
}

func TestQueryPendingReward(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	alice := common.HexToAddress("0xaa01")
	_, err := eng.Enter(alice, 1, uint256.NewInt(500))
	assert.NilError(t, err)

	bz, status := post(t, srv, "/query/pending-reward", map[string]any{"owner": alice})
	assert.Equal(t, status, 200)
	view, err := codec.Decode[map[string]any](bz)
	assert.NilError(t, err)
	assert.Equal(t, view["pending"], "0")

	// An identity with no position pends nothing rather than erroring; the read
	// surface stays total over addresses.
	bz, status = post(t, srv, "/query/pending-reward",
		map[string]any{"owner": common.HexToAddress("0xdead")})
	assert.Equal(t, status, 200)
	view, err = codec.Decode[map[string]any](bz)
	assert.NilError(t, err)
	assert.Equal(t, view["pending"], "0")
}

func TestQueryIsEliminatedWithoutScan(t *testing.T) {
	srv, _, _ := newTestServer(t)
	bz, status := post(t, srv, "/query/is-eliminated",
		map[string]any{"tier": 1, "owner": common.HexToAddress("0xaa01")})
	assert.Equal(t, status, 200)
	view, err := codec.Decode[map[string]any](bz)
	assert.NilError(t, err)
	assert.Equal(t, view["eliminated"], false)
}

func TestBadRequestBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/query/tier-state", bytes.NewReader([]byte("{not json")))
	resp, err := srv.App().Test(req)
	assert.NilError(t, err)
	assert.Equal(t, resp.StatusCode, 400)
}
