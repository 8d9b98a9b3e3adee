// Package scan runs the per-tier elimination state machine. A scan moves through
// PENDING (entropy committed) and ACTIVE (seed revealed, reports accepted) before
// FINALIZED hands the eliminated capital to the cascade exactly once. Elimination is a
// lazily evaluated predicate over the revealed seed, so no operation ever enumerates
// the participant set.
package scan

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/types"
)

var (
	ErrScanInFlight     = errors.New("tier already has a scan in flight")
	ErrScanNotDue       = errors.New("tier's next scan is not due yet")
	ErrNoScan           = errors.New("tier has no scan in flight")
	ErrScanNotActive    = errors.New("scan seed has not been revealed")
	ErrScanFinalized    = errors.New("scan is already finalized")
	ErrReportClosed     = errors.New("report window has closed")
	ErrReportWindowOpen = errors.New("report window is still open")
	ErrScanNotExpired   = errors.New("scan is not in the expired state")
)

// DefaultReportWindow is how many ticks elimination reports are accepted after a
// reveal.
const DefaultReportWindow = 64

// Status is the observable state of a tier's scan machinery.
type Status uint8

const (
	// StatusNone means no scan is in flight and none has finalized yet.
	StatusNone Status = iota
	// StatusPending means entropy is committed but the seed is not yet revealed.
	StatusPending
	// StatusActive means the seed is revealed and elimination reports are accepted.
	StatusActive
	// StatusFinalized means the most recent scan has run its cascade.
	StatusFinalized
	// StatusExpired means the pending scan's entropy can no longer be revealed by any
	// source. It is permanently stuck; the only way forward is AbortExpired.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusFinalized:
		return "finalized"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Scan is one elimination round for one tier.
type Scan struct {
	Tier           types.TierID
	Round          types.RoundID
	RequestedAt    uint64
	RateBps        uint16
	Seed           common.Hash
	Revealed       bool
	RevealedAt     uint64
	ReportDeadline uint64
	AliveAtStart   uint64
	DeathCount     uint64
	// Victims lists the identities eliminated this round, in processing order. It is
	// bounded by the round's death count and lets a snapshot rebuild the duplicate-
	// report index for an in-flight round.
	Victims    []common.Address
	Eliminated *uint256.Int
	Finalized  bool
}

// Report is the outcome of one elimination report batch.
type Report struct {
	Round types.RoundID
	// Applied lists the identities actually eliminated by this batch, in input order.
	Applied []common.Address
	// Skipped counts entries rejected by verification: already processed this round,
	// not a live position in this tier, or simply not eliminated by the predicate.
	Skipped int
	// Forfeited is the capital stripped by this batch.
	Forfeited *uint256.Int
}

// Result is the outcome of a finalization: the closed scan and its cascade split.
type Result struct {
	Scan  *Scan
	Split cascade.Split
}

type reportKey struct {
	round types.RoundID
	owner common.Address
}

// Engine drives scans for every tier. Round ids come from a single engine-wide
// sequence, so the (round, identity) duplicate-tracking keys never collide across tiers
// and stale entries simply become unreachable once a round finalizes.
type Engine struct {
	env          randgate.EnvSource
	gate         *randgate.Gate
	ledger       *ledger.Ledger
	dist         *cascade.Distributor
	reportWindow uint64
	logger       zerolog.Logger

	scans     map[types.TierID]*Scan
	lastFinal map[types.TierID]*Scan
	processed map[reportKey]struct{}
	nextRound types.RoundID
}

type Option func(*Engine)

// WithReportWindow overrides how long reports stay open after a reveal.
func WithReportWindow(ticks uint64) Option {
	return func(e *Engine) {
		e.reportWindow = ticks
	}
}

func NewEngine(
	env randgate.EnvSource,
	gate *randgate.Gate,
	l *ledger.Ledger,
	dist *cascade.Distributor,
	logger zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		env:          env,
		gate:         gate,
		ledger:       l,
		dist:         dist,
		reportWindow: DefaultReportWindow,
		logger:       logger.With().Str("component", "scan").Logger(),
		scans:        map[types.TierID]*Scan{},
		lastFinal:    map[types.TierID]*Scan{},
		processed:    map[reportKey]struct{}{},
		nextRound:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Consumer derives the gate consumer identity for a tier. Keeping consumers distinct
// per tier domain-separates seeds even if two tiers ever shared a round id.
func Consumer(tier types.TierID) common.Address {
	h := crypto.Keccak256([]byte("purge.scan.tier"), []byte{byte(tier)})
	return common.BytesToAddress(h[12:])
}

// Request opens a new scan for the tier: allocates the round id, commits entropy, and
// marks the round in flight so exits lock and no second scan can start.
func (e *Engine) Request(tier types.TierID) (*Scan, error) {
	ts, err := e.ledger.Tier(tier)
	if err != nil {
		return nil, err
	}
	if ts.ActiveRound != 0 {
		return nil, eris.Wrapf(ErrScanInFlight, "tier %s round %s", tier, ts.ActiveRound)
	}
	now := e.env.CurrentTick()
	if now < ts.NextScanAt {
		return nil, eris.Wrapf(ErrScanNotDue, "tier %s due at tick %d, now %d", tier, ts.NextScanAt, now)
	}

	round := e.nextRound
	if err := e.gate.Commit(Consumer(tier), round); err != nil {
		return nil, err
	}
	e.nextRound++

	s := &Scan{
		Tier:        tier,
		Round:       round,
		RequestedAt: now,
		RateBps:     ts.Config.RateBps,
		Eliminated:  uint256.NewInt(0),
	}
	e.scans[tier] = s
	ts.ActiveRound = round

	e.logger.Info().
		Str("tier", tier.String()).
		Str("round", round.String()).
		Uint64("tick", now).
		Msg("scan requested")
	return s, nil
}

// Begin reveals the committed seed and opens the report window. Nothing else is
// computed here; per-identity elimination is evaluated lazily by Report.
func (e *Engine) Begin(tier types.TierID) (*Scan, error) {
	s, ok := e.scans[tier]
	if !ok {
		return nil, eris.Wrapf(ErrNoScan, "tier %s", tier)
	}
	if s.Revealed {
		return s, nil
	}
	seed, err := e.gate.Reveal(Consumer(tier), s.Round)
	if err != nil {
		return nil, err
	}
	ts, err := e.ledger.Tier(tier)
	if err != nil {
		return nil, err
	}
	now := e.env.CurrentTick()
	s.Seed = seed
	s.Revealed = true
	s.RevealedAt = now
	s.ReportDeadline = now + e.reportWindow
	s.AliveAtStart = ts.AliveCount

	e.logger.Info().
		Str("tier", tier.String()).
		Str("round", s.Round.String()).
		Str("seed", seed.Hex()).
		Uint64("report_deadline", s.ReportDeadline).
		Msg("scan seed revealed")
	return s, nil
}

// Report applies a batch of claimed eliminations. Any party may submit; every entry is
// verified against the predicate before it touches the ledger. Entries that fail
// verification or were already processed this round are skipped, never fatal: the rest
// of the batch still applies.
func (e *Engine) Report(tier types.TierID, identities []common.Address) (*Report, error) {
	s, ok := e.scans[tier]
	if !ok {
		return nil, eris.Wrapf(ErrNoScan, "tier %s", tier)
	}
	if s.Finalized {
		return nil, eris.Wrapf(ErrScanFinalized, "round %s", s.Round)
	}
	if !s.Revealed {
		return nil, eris.Wrapf(ErrScanNotActive, "round %s", s.Round)
	}
	if e.env.CurrentTick() > s.ReportDeadline {
		return nil, eris.Wrapf(ErrReportClosed, "round %s deadline %d", s.Round, s.ReportDeadline)
	}

	rep := &Report{Round: s.Round, Forfeited: uint256.NewInt(0)}
	for _, id := range identities {
		key := reportKey{round: s.Round, owner: id}
		if _, done := e.processed[key]; done {
			rep.Skipped++
			continue
		}
		pos, ok := e.ledger.Position(id)
		if !ok || !pos.Active() || pos.Tier != tier {
			rep.Skipped++
			continue
		}
		if !randgate.IsEliminated(s.Seed, id, s.RateBps) {
			rep.Skipped++
			continue
		}
		forfeited, err := e.ledger.MarkEliminated(id)
		if err != nil {
			return nil, err
		}
		e.processed[key] = struct{}{}
		s.DeathCount++
		s.Victims = append(s.Victims, id)
		s.Eliminated.Add(s.Eliminated, forfeited)
		rep.Applied = append(rep.Applied, id)
		rep.Forfeited.Add(rep.Forfeited, forfeited)
	}
	return rep, nil
}

// Finalize closes the scan and runs the cascade exactly once. It is refused while the
// report window is open, unless every position alive at reveal time has already been
// eliminated and there is nothing left to report.
func (e *Engine) Finalize(tier types.TierID) (*Result, error) {
	s, ok := e.scans[tier]
	if !ok {
		return nil, eris.Wrapf(ErrNoScan, "tier %s", tier)
	}
	if s.Finalized {
		return nil, eris.Wrapf(ErrScanFinalized, "round %s", s.Round)
	}
	if !s.Revealed {
		return nil, eris.Wrapf(ErrScanNotActive, "round %s", s.Round)
	}
	now := e.env.CurrentTick()
	if now <= s.ReportDeadline && s.DeathCount < s.AliveAtStart {
		return nil, eris.Wrapf(ErrReportWindowOpen, "round %s open until tick %d", s.Round, s.ReportDeadline)
	}

	split, err := e.dist.Distribute(tier, s.Eliminated)
	if err != nil {
		return nil, err
	}
	s.Finalized = true
	delete(e.scans, tier)
	e.lastFinal[tier] = s

	ts, err := e.ledger.Tier(tier)
	if err != nil {
		return nil, err
	}
	ts.ActiveRound = 0
	ts.CompletedRounds++
	ts.NextScanAt = now + ts.Config.ScanInterval

	e.logger.Info().
		Str("tier", tier.String()).
		Str("round", s.Round.String()).
		Uint64("deaths", s.DeathCount).
		Str("eliminated", s.Eliminated.Dec()).
		Uint64("next_scan_at", ts.NextScanAt).
		Msg("scan finalized")
	return &Result{Scan: s, Split: split}, nil
}

// AbortExpired clears a scan whose entropy window lapsed unrevealed. The round id is
// abandoned (never reused) and the tier may immediately request a fresh scan. Only
// scans in the expired state can be aborted; anything else is still live.
func (e *Engine) AbortExpired(tier types.TierID) (*Scan, error) {
	s, ok := e.scans[tier]
	if !ok {
		return nil, eris.Wrapf(ErrNoScan, "tier %s", tier)
	}
	if e.StatusOf(tier) != StatusExpired {
		return nil, eris.Wrapf(ErrScanNotExpired, "round %s is %s", s.Round, e.StatusOf(tier))
	}
	delete(e.scans, tier)
	ts, err := e.ledger.Tier(tier)
	if err != nil {
		return nil, err
	}
	ts.ActiveRound = 0

	e.logger.Warn().
		Str("tier", tier.String()).
		Str("round", s.Round.String()).
		Msg("expired scan aborted")
	return s, nil
}

// StatusOf reports the tier's observable scan state. Expiry is detected here rather
// than stored, so a stalled scan surfaces as EXPIRED the moment its last window lapses.
func (e *Engine) StatusOf(tier types.TierID) Status {
	if s, ok := e.scans[tier]; ok {
		if s.Revealed {
			return StatusActive
		}
		if e.gate.Expired(Consumer(tier), s.Round) {
			return StatusExpired
		}
		return StatusPending
	}
	if _, ok := e.lastFinal[tier]; ok {
		return StatusFinalized
	}
	return StatusNone
}

// Current returns the in-flight scan for a tier, if any.
func (e *Engine) Current(tier types.TierID) (*Scan, bool) {
	s, ok := e.scans[tier]
	return s, ok
}

// LastFinalized returns the most recently finalized scan for a tier, if any.
func (e *Engine) LastFinalized(tier types.TierID) (*Scan, bool) {
	s, ok := e.lastFinal[tier]
	return s, ok
}

// InFlight returns every unfinalized scan ordered by tier, for state snapshots.
func (e *Engine) InFlight() []*Scan {
	out := make([]*Scan, 0, len(e.scans))
	for _, ts := range e.ledger.Tiers() {
		if s, ok := e.scans[ts.Config.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// RestoreScan re-registers an in-flight scan from a snapshot, rebuilding the
// duplicate-report index from its victim list.
func (e *Engine) RestoreScan(s *Scan) {
	e.scans[s.Tier] = s
	for _, id := range s.Victims {
		e.processed[reportKey{round: s.Round, owner: id}] = struct{}{}
	}
	if s.Round >= e.nextRound {
		e.nextRound = s.Round + 1
	}
}

// NextRound exposes the round sequence head, for state snapshots.
func (e *Engine) NextRound() types.RoundID {
	return e.nextRound
}

// RestoreRounds reloads the round sequence head from a snapshot.
func (e *Engine) RestoreRounds(next types.RoundID) {
	if next > e.nextRound {
		e.nextRound = next
	}
}
