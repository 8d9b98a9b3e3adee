// Package log holds zerolog helpers for dumping engine structure and following a
// single scan or position through the logs.
package log

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/types"
)

// Loggable is the part of the engine the helpers inspect.
type Loggable interface {
	RegisteredTiers() []*ledger.TierState
}

func loadTierIntoArrayLogger(ts *ledger.TierState, arrayLogger *zerolog.Array) *zerolog.Array {
	dictLogger := zerolog.Dict()
	dictLogger = dictLogger.Int("tier_id", int(ts.Config.ID))
	dictLogger = dictLogger.Uint16("rate_bps", ts.Config.RateBps)
	dictLogger = dictLogger.Uint64("alive", ts.AliveCount)
	dictLogger = dictLogger.Str("total_staked", ts.TotalStaked.Dec())
	return arrayLogger.Dict(dictLogger)
}

func loadTiersToEvent(zeroLoggerEvent *zerolog.Event, target Loggable) *zerolog.Event {
	tiers := target.RegisteredTiers()
	zeroLoggerEvent.Int("total_tiers", len(tiers))
	arrayLogger := zerolog.Arr()
	for _, ts := range tiers {
		arrayLogger = loadTierIntoArrayLogger(ts, arrayLogger)
	}
	return zeroLoggerEvent.Array("tiers", arrayLogger)
}

// Tiers logs every registered tier's live accounting state.
func Tiers(logger *zerolog.Logger, target Loggable, level zerolog.Level) {
	zeroLoggerEvent := logger.WithLevel(level)
	zeroLoggerEvent = loadTiersToEvent(zeroLoggerEvent, target)
	zeroLoggerEvent.Send()
}

// CreateScanLogger creates a sub logger scoped to one tier's round, so every line of a
// round shares the same tier/round fields.
func CreateScanLogger(logger *zerolog.Logger, tier types.TierID, round types.RoundID) *zerolog.Logger {
	newLogger := logger.With().
		Str("tier", tier.String()).
		Str("round", round.String()).
		Logger()
	return &newLogger
}

// CreatePositionLogger creates a sub logger scoped to one participant.
func CreatePositionLogger(logger *zerolog.Logger, owner common.Address) *zerolog.Logger {
	newLogger := logger.With().Str("owner", owner.Hex()).Logger()
	return &newLogger
}

// CreateTraceLogger creates a trace logger. Using a single id you can follow one
// submission's data path across components.
func CreateTraceLogger(logger *zerolog.Logger, traceID string) *zerolog.Logger {
	newLogger := logger.With().Str("trace_id", traceID).Logger()
	return &newLogger
}
