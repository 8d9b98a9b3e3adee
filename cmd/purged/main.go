// The purged daemon runs the engine in local mode: ticks come from a wall-clock
// ticker and entropy is derived by hashing the tick chain. Production deployments
// embed the engine instead and drive it from their own execution environment; this
// binary exists for the read surface, the event stream and snapshot round-trips.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	purge "pkg.purge.dev/purge-engine"
	"pkg.purge.dev/purge-engine/events"
	"pkg.purge.dev/purge-engine/gamestate"
	"pkg.purge.dev/purge-engine/ledger"
	purgelog "pkg.purge.dev/purge-engine/log"
	"pkg.purge.dev/purge-engine/server"
	"pkg.purge.dev/purge-engine/statsd"
)

const (
	tickInterval  = time.Second
	entropyWindow = 256
)

// clockEnv is the local-mode execution environment. Each tick's entropy is the hash
// of the previous tick's entropy, kept for the trailing window like a chain would.
type clockEnv struct {
	mu      sync.RWMutex
	tick    uint64
	last    common.Hash
	entropy map[uint64]common.Hash
}

func newClockEnv(startTick uint64) *clockEnv {
	return &clockEnv{
		tick:    startTick,
		last:    crypto.Keccak256Hash([]byte("purged.genesis")),
		entropy: make(map[uint64]common.Hash),
	}
}

func (e *clockEnv) CurrentTick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

func (e *clockEnv) EntropyAt(tick uint64) (common.Hash, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if tick >= e.tick || e.tick-tick > entropyWindow {
		return common.Hash{}, false
	}
	h, ok := e.entropy[tick]
	return h, ok
}

func (e *clockEnv) advance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = crypto.Keccak256Hash(e.last.Bytes())
	e.entropy[e.tick] = e.last
	if e.tick > entropyWindow {
		delete(e.entropy, e.tick-entropyWindow-1)
	}
	e.tick++
}

func defaultTiers() []ledger.TierConfig {
	return []ledger.TierConfig{
		{ID: 3, MinStake: uint256.NewInt(10_000), RateBps: 100, ScanInterval: 3600, LockWindow: 300},
		{ID: 2, Upstream: 3, MinStake: uint256.NewInt(1_000), RateBps: 500, ScanInterval: 900, LockWindow: 120},
		{ID: 1, Upstream: 2, MinStake: uint256.NewInt(100), RateBps: 2000, ScanInterval: 300, LockWindow: 60},
	}
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := purge.LoadConfig()

	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, []string{"service:purged"}); err != nil {
			logger.Warn().Err(err).Msg("statsd disabled")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("address", cfg.RedisAddress).Msg("redis unreachable")
	}
	storage := gamestate.NewStorage(client, cfg.Namespace)

	hub := events.NewHub()
	opts := []purge.Option{
		purge.WithTiers(defaultTiers()...),
		purge.WithEventHub(hub),
		purge.WithLogger(logger),
	}

	var (
		eng *purge.Engine
		env *clockEnv
		err error
	)
	snap, found, err := storage.LoadSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load snapshot")
	}
	if found {
		env = newClockEnv(snap.Tick + 1)
		eng, err = purge.Restore(env, snap, opts...)
		logger.Info().Uint64("tick", snap.Tick).Msg("resumed from snapshot")
	} else {
		env = newClockEnv(1)
		eng, err = purge.New(env, opts...)
		logger.Info().Msg("starting fresh world")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	purgelog.Tiers(&logger, eng, zerolog.InfoLevel)
	srv := server.New(eng, logger, server.WithPort(cfg.Port))

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				env.advance()
			}
		}
	}()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		close(done)
		if err := storage.SaveSnapshot(ctx, eng.Snapshot()); err != nil {
			logger.Error().Err(err).Msg("failed to save snapshot")
		} else {
			logger.Info().Uint64("tick", env.CurrentTick()).Msg("snapshot saved")
		}
		hub.Shutdown()
		if err := srv.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	if err := srv.Serve(); err != nil {
		logger.Error().Err(err).Msg("server exited")
	}
}
