package purge

import (
	"github.com/rs/zerolog"

	"pkg.purge.dev/purge-engine/cascade"
	"pkg.purge.dev/purge-engine/events"
	"pkg.purge.dev/purge-engine/ledger"
	"pkg.purge.dev/purge-engine/randgate"
	"pkg.purge.dev/purge-engine/scan"
)

type engineOptions struct {
	tiers        []ledger.TierConfig
	weights      cascade.Weights
	hub          *events.Hub
	logger       zerolog.Logger
	receiptTicks int
	gateOpts     []randgate.Option
	scanOpts     []scan.Option
}

func defaultOptions() engineOptions {
	return engineOptions{
		weights:      cascade.DefaultWeights,
		logger:       zerolog.Nop(),
		receiptTicks: 64,
	}
}

type Option func(*engineOptions)

// WithTiers registers the engine's risk tiers.
func WithTiers(cfgs ...ledger.TierConfig) Option {
	return func(o *engineOptions) {
		o.tiers = append(o.tiers, cfgs...)
	}
}

// WithCascadeWeights overrides the default 30/30/30/10 cascade split.
func WithCascadeWeights(w cascade.Weights) Option {
	return func(o *engineOptions) {
		o.weights = w
	}
}

// WithEventHub attaches the event stream hub. Without one the engine runs headless and
// emits nothing.
func WithEventHub(hub *events.Hub) Option {
	return func(o *engineOptions) {
		o.hub = hub
	}
}

// WithLogger sets the structured logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithReceiptHistorySize sets how many past ticks of operation receipts are retained.
func WithReceiptHistorySize(ticks int) Option {
	return func(o *engineOptions) {
		o.receiptTicks = ticks
	}
}

// WithSnapshotDelay overrides the entropy commit-to-snapshot delay.
func WithSnapshotDelay(ticks uint64) Option {
	return func(o *engineOptions) {
		o.gateOpts = append(o.gateOpts, randgate.WithSnapshotDelay(ticks))
	}
}

// WithExtendedEntropySource attaches the fallback extended-history entropy source.
func WithExtendedEntropySource(ext randgate.ExtendedSource) Option {
	return func(o *engineOptions) {
		o.gateOpts = append(o.gateOpts, randgate.WithExtendedSource(ext))
	}
}

// WithReportWindow overrides how many ticks elimination reports stay open after a
// reveal.
func WithReportWindow(ticks uint64) Option {
	return func(o *engineOptions) {
		o.scanOpts = append(o.scanOpts, scan.WithReportWindow(ticks))
	}
}
