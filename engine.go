// Package purge is the core simulation engine of the periodic elimination game:
// participants lock stake into risk tiers, recurring scans eliminate a random,
// verifiable fraction of each tier, and the eliminated capital cascades back to
// survivors, the tier above, the burn sink and the operations sink.
//
// The engine assumes a single, already-ordered stream of operations. Every method is
// synchronous, applies atomically, and runs in time bounded by its own inputs, never by
// the number of open positions.
package purge

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/events"
	"pkg.purge.dev/purge-engine/gamestate"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/log"
	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/receipt"
	"pkg.purge.dev/purge-engine/scan"
	"pkg.purge.dev/purge-engine/statsd"
	"pkg.purge.dev/purge-engine/types"
)

// Engine wires the four core components together and owns the outward surfaces: the
// event stream and the receipt history.
type Engine struct {
	env      randgate.EnvSource
	gate     *randgate.Gate
	ledger   *ledger.Ledger
	scans    *scan.Engine
	dist     *cascade.Distributor
	hub      *events.Hub
	receipts *receipt.History
	logger   zerolog.Logger

	lastSeenTick uint64
	opSeq        uint64
}

func New(env randgate.EnvSource, opts ...Option) (*Engine, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.tiers) == 0 {
		return nil, eris.New("at least one tier must be configured")
	}

	l, err := ledger.New(cfg.logger, cfg.tiers...)
	if err != nil {
		return nil, err
	}
	dist, err := cascade.New(l, cfg.weights, cfg.logger)
	if err != nil {
		return nil, err
	}
	gate := randgate.New(env, cfg.gateOpts...)
	now := env.CurrentTick()

	e := &Engine{
		env:          env,
		gate:         gate,
		ledger:       l,
		scans:        scan.NewEngine(env, gate, l, dist, cfg.logger, cfg.scanOpts...),
		dist:         dist,
		hub:          cfg.hub,
		receipts:     receipt.NewHistory(now, cfg.receiptTicks),
		logger:       cfg.logger.With().Str("component", "engine").Logger(),
		lastSeenTick: now,
	}

	// Schedule the first scan of every tier one interval out, so the lock window has a
	// scan time to measure against from the start.
	for _, ts := range l.Tiers() {
		ts.NextScanAt = now + ts.Config.ScanInterval
	}
	log.Tiers(&e.logger, e, zerolog.DebugLevel)
	return e, nil
}

// Restore builds an engine and loads a snapshot into it before anything else runs. The
// options must configure the same tiers the snapshot was captured with.
func Restore(env randgate.EnvSource, snap *gamestate.Snapshot, opts ...Option) (*Engine, error) {
	e, err := New(env, opts...)
	if err != nil {
		return nil, err
	}
	if err := gamestate.Apply(snap, e.ledger, e.gate, e.scans, e.dist); err != nil {
		return nil, err
	}
	e.receipts.SetTick(env.CurrentTick())
	return e, nil
}

// Snapshot captures the engine's complete state for persistence.
func (e *Engine) Snapshot() *gamestate.Snapshot {
	return gamestate.Capture(e.env.CurrentTick(), e.ledger, e.gate, e.scans, e.dist)
}

// RegisteredTiers exposes tier states for the log helpers.
func (e *Engine) RegisteredTiers() []*ledger.TierState {
	return e.ledger.Tiers()
}

// EventHub returns the hub subscribers attach to, or nil when the engine runs
// headless.
func (e *Engine) EventHub() *events.Hub {
	return e.hub
}

// Receipts exposes the operation receipt history.
func (e *Engine) Receipts() *receipt.History {
	return e.receipts
}

// CurrentTick reads the environment's tick counter.
func (e *Engine) CurrentTick() uint64 {
	return e.env.CurrentTick()
}

// Enter locks stake into a tier for the identity.
func (e *Engine) Enter(owner common.Address, tier types.TierID, amount *uint256.Int) (receipt.OpHash, error) {
	op := e.beginOp("enter")
	tick := e.env.CurrentTick()
	if err := e.ledger.Enter(owner, tier, amount, tick); err != nil {
		return e.failOp(op, err)
	}
	e.emit(events.PositionEntered{
		Kind:   events.KindPositionEntered,
		Tick:   tick,
		Owner:  owner,
		Tier:   tier,
		Amount: amount.Dec(),
	})
	return e.finishOp(op, map[string]any{"owner": owner.Hex(), "tier": tier.String()})
}

// AddStake tops up the identity's live position; any accrued reward settles as part of
// the same operation.
func (e *Engine) AddStake(owner common.Address, amount *uint256.Int) (receipt.OpHash, error) {
	op := e.beginOp("add-stake")
	reward, err := e.ledger.AddStake(owner, amount)
	if err != nil {
		return e.failOp(op, err)
	}
	pos, _ := e.ledger.Position(owner)
	e.emit(events.StakeAdded{
		Kind:   events.KindStakeAdded,
		Tick:   e.env.CurrentTick(),
		Owner:  owner,
		Tier:   pos.Tier,
		Added:  amount.Dec(),
		Reward: reward.Dec(),
	})
	return e.finishOp(op, map[string]any{"reward": reward.Dec()})
}

// Claim settles the identity's accrued reward without touching principal.
func (e *Engine) Claim(owner common.Address) (receipt.OpHash, error) {
	op := e.beginOp("claim")
	reward, err := e.ledger.Claim(owner)
	if err != nil {
		return e.failOp(op, err)
	}
	pos, _ := e.ledger.Position(owner)
	e.emit(events.RewardClaimed{
		Kind:   events.KindRewardClaimed,
		Tick:   e.env.CurrentTick(),
		Owner:  owner,
		Tier:   pos.Tier,
		Reward: reward.Dec(),
	})
	return e.finishOp(op, map[string]any{"reward": reward.Dec()})
}

// Exit settles and withdraws the identity's position, outside the lock window.
func (e *Engine) Exit(owner common.Address) (receipt.OpHash, error) {
	op := e.beginOp("exit")
	pos, _ := e.ledger.Position(owner)
	principal, reward, err := e.ledger.Exit(owner, e.env.CurrentTick())
	if err != nil {
		return e.failOp(op, err)
	}
	e.emit(events.PositionExited{
		Kind:      events.KindPositionExited,
		Tick:      e.env.CurrentTick(),
		Owner:     owner,
		Tier:      pos.Tier,
		Principal: principal.Dec(),
		Reward:    reward.Dec(),
	})
	return e.finishOp(op, map[string]any{"principal": principal.Dec(), "reward": reward.Dec()})
}

// RequestScan opens a tier's next elimination round and commits its entropy snapshot.
func (e *Engine) RequestScan(tier types.TierID) (receipt.OpHash, error) {
	op := e.beginOp("request-scan")
	s, err := e.scans.Request(tier)
	if err != nil {
		return e.failOp(op, err)
	}
	rs, _ := e.gate.Status(scan.Consumer(tier), s.Round)
	e.emit(events.ScanRequested{
		Kind:         events.KindScanRequested,
		Tick:         e.env.CurrentTick(),
		Tier:         tier,
		Round:        s.Round,
		SnapshotTick: rs.SnapshotTick,
	})
	return e.finishOp(op, map[string]any{"round": s.Round.String()})
}

// BeginScan reveals the round's seed and opens the report window.
func (e *Engine) BeginScan(tier types.TierID) (receipt.OpHash, error) {
	op := e.beginOp("begin-scan")
	s, err := e.scans.Begin(tier)
	if err != nil {
		return e.failOp(op, err)
	}
	e.emit(events.ScanRevealed{
		Kind:           events.KindScanRevealed,
		Tick:           e.env.CurrentTick(),
		Tier:           tier,
		Round:          s.Round,
		Seed:           s.Seed,
		RateBps:        s.RateBps,
		ReportDeadline: s.ReportDeadline,
	})
	return e.finishOp(op, map[string]any{"round": s.Round.String(), "seed": s.Seed.Hex()})
}

// ReportEliminated applies a batch of claimed eliminations against the round's
// predicate. Unverifiable entries are skipped, not fatal.
func (e *Engine) ReportEliminated(tier types.TierID, identities []common.Address) (receipt.OpHash, error) {
	op := e.beginOp("report-eliminated")
	rep, err := e.scans.Report(tier, identities)
	if err != nil {
		return e.failOp(op, err)
	}
	if len(rep.Applied) > 0 {
		e.emit(events.IdentitiesEliminated{
			Kind:      events.KindIdentitiesEliminated,
			Tick:      e.env.CurrentTick(),
			Tier:      tier,
			Round:     rep.Round,
			Victims:   rep.Applied,
			Forfeited: rep.Forfeited.Dec(),
		})
	}
	return e.finishOp(op, map[string]any{
		"applied": len(rep.Applied),
		"skipped": rep.Skipped,
	})
}

// FinalizeScan closes the round and runs the cascade exactly once.
func (e *Engine) FinalizeScan(tier types.TierID) (receipt.OpHash, error) {
	op := e.beginOp("finalize-scan")
	res, err := e.scans.Finalize(tier)
	if err != nil {
		return e.failOp(op, err)
	}
	ts, terr := e.ledger.Tier(tier)
	if terr != nil {
		return e.failOp(op, terr)
	}
	e.emit(events.NewScanFinalized(
		e.env.CurrentTick(),
		tier,
		res.Scan.Round,
		res.Scan.DeathCount,
		res.Scan.Eliminated.Dec(),
		res.Split,
		ts.NextScanAt,
	))
	statsd.EmitEliminations(tier.String(), res.Scan.DeathCount)
	return e.finishOp(op, map[string]any{
		"round":  res.Scan.Round.String(),
		"deaths": res.Scan.DeathCount,
	})
}

// AbortExpiredScan clears a permanently stuck round so the tier can requeue.
func (e *Engine) AbortExpiredScan(tier types.TierID) (receipt.OpHash, error) {
	op := e.beginOp("abort-expired-scan")
	s, err := e.scans.AbortExpired(tier)
	if err != nil {
		return e.failOp(op, err)
	}
	e.emit(events.ScanAborted{
		Kind:  events.KindScanAborted,
		Tick:  e.env.CurrentTick(),
		Tier:  tier,
		Round: s.Round,
	})
	return e.finishOp(op, map[string]any{"round": s.Round.String()})
}

// opState carries one operation through its receipt bookkeeping.
type opState struct {
	hash  receipt.OpHash
	name  string
	start time.Time
}

// beginOp assigns the operation its hash and rolls the receipt ring forward when the
// environment tick has moved since the last operation.
func (e *Engine) beginOp(name string) opState {
	now := e.env.CurrentTick()
	for e.lastSeenTick < now {
		e.receipts.NextTick()
		e.lastSeenTick++
	}
	e.opSeq++
	hash := crypto.Keccak256Hash(
		[]byte(name),
		[]byte(strconv.FormatUint(now, 10)),
		[]byte(strconv.FormatUint(e.opSeq, 10)),
	)
	return opState{hash: hash, name: name, start: time.Now()}
}

func (e *Engine) failOp(op opState, err error) (receipt.OpHash, error) {
	e.receipts.AddError(op.hash, err)
	e.logger.Debug().Str("op", op.name).Err(err).Msg("operation rejected")
	statsd.EmitOpStat(op.start, op.name)
	return op.hash, err
}

func (e *Engine) finishOp(op opState, result any) (receipt.OpHash, error) {
	e.receipts.SetResult(op.hash, result)
	e.flush()
	statsd.EmitOpStat(op.start, op.name)
	return op.hash, nil
}

func (e *Engine) emit(event any) {
	if e.hub == nil {
		return
	}
	if err := e.hub.Emit(event); err != nil {
		e.logger.Error().Err(err).Msg("event emission failed")
	}
}

// flush pushes the operation's queued events to subscribers, keeping the stream's
// ordering aligned with operation boundaries.
func (e *Engine) flush() {
	if e.hub == nil {
		return
	}
	e.hub.Flush()
}
