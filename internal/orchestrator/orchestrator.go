// Package orchestrator sequences one analytics cycle: resolution tracking,
// profile building, P&L settlement, risk metrics, scoring, index rebalancing,
// then the scanners and alert dispatch. The scoring chain is strict (a failed
// step aborts the cycle); scanner failures are logged and skipped so one bad
// query never silences the others.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psilabs/psi-engine/internal/alerting"
	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/index"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// counter is a pipeline step that reports how many rows it touched.
type counter interface {
	Run(ctx context.Context) (int, error)
}

// profileBuilder rebuilds wallet profiles from raw trades.
type profileBuilder interface {
	BuildProfiles(ctx context.Context) (int, error)
}

// sharpeRunner computes per-wallet risk metrics.
type sharpeRunner interface {
	Run(ctx context.Context) ([]domain.WalletSharpe, error)
}

// scoreRunner scores and ranks every profiled wallet.
type scoreRunner interface {
	Run(ctx context.Context) ([]domain.WalletScore, error)
}

// mixer reports each wallet's category volume mix.
type mixer interface {
	Mix(ctx context.Context) (map[string]map[domain.MarketCategory]float64, error)
}

// rebalancer rebuilds the configured indices.
type rebalancer interface {
	Rebalance(ctx context.Context, u index.Universe) ([]domain.Index, error)
}

// scanner produces alerts from the freshly scored data.
type scanner interface {
	Scan(ctx context.Context) ([]domain.Alert, error)
}

// gemScanner consumes the in-flight cycle output directly.
type gemScanner interface {
	Scan(ctx context.Context, scores []domain.WalletScore,
		profiles map[string]domain.WalletProfile,
		sharpes map[string]domain.WalletSharpe) ([]domain.Alert, error)
}

// dispatcher fans alerts out to the configured sinks.
type dispatcher interface {
	Dispatch(ctx context.Context, alerts []domain.Alert) alerting.Stats
}

// Orchestrator wires the pipeline steps together.
type Orchestrator struct {
	store       store.Store
	resolutions counter
	classifier  counter
	features    profileBuilder
	pnl         counter
	sharpe      sharpeRunner
	scorer      scoreRunner
	profiler    mixer
	indices     rebalancer
	consensus   scanner
	decay       scanner
	anomaly     scanner
	gems        gemScanner
	alerts      dispatcher

	log zerolog.Logger
}

// Deps lists everything a cycle needs. All fields are required except Gems.
type Deps struct {
	Store       store.Store
	Resolutions counter
	Classifier  counter
	Features    profileBuilder
	PnL         counter
	Sharpe      sharpeRunner
	Scorer      scoreRunner
	Profiler    mixer
	Indices     rebalancer
	Consensus   scanner
	Decay       scanner
	Anomaly     scanner
	Gems        gemScanner
	Alerts      dispatcher
}

func New(deps Deps, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       deps.Store,
		resolutions: deps.Resolutions,
		classifier:  deps.Classifier,
		features:    deps.Features,
		pnl:         deps.PnL,
		sharpe:      deps.Sharpe,
		scorer:      deps.Scorer,
		profiler:    deps.Profiler,
		indices:     deps.Indices,
		consensus:   deps.Consensus,
		decay:       deps.Decay,
		anomaly:     deps.Anomaly,
		gems:        deps.Gems,
		alerts:      deps.Alerts,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// step runs one strict pipeline stage and logs its duration.
func (o *Orchestrator) step(log zerolog.Logger, name string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info().Str("step", name).Dur("took", time.Since(start)).Msg("Step complete")
	return nil
}

// RunCycle executes one full analytics cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	log := o.log.With().Str("cycle", cycleID).Logger()
	start := time.Now()
	log.Info().Msg("Cycle started")

	if err := o.step(log, "resolutions", func() error {
		_, err := o.resolutions.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := o.step(log, "classifier", func() error {
		_, err := o.classifier.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := o.step(log, "profiles", func() error {
		_, err := o.features.BuildProfiles(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := o.step(log, "pnl", func() error {
		_, err := o.pnl.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	var sharpes []domain.WalletSharpe
	if err := o.step(log, "sharpe", func() error {
		var err error
		sharpes, err = o.sharpe.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	var scores []domain.WalletScore
	if err := o.step(log, "scores", func() error {
		var err error
		scores, err = o.scorer.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	profiles, err := o.profiles(ctx)
	if err != nil {
		return fmt.Errorf("profiles reload: %w", err)
	}
	sharpeByWallet := make(map[string]domain.WalletSharpe, len(sharpes))
	for _, s := range sharpes {
		sharpeByWallet[s.WalletID] = s
	}

	if err := o.step(log, "indices", func() error {
		mix, err := o.profiler.Mix(ctx)
		if err != nil {
			return err
		}
		_, err = o.indices.Rebalance(ctx, index.Universe{
			Scores:   scores,
			Profiles: profiles,
			Sharpes:  sharpeByWallet,
			Mix:      mix,
		})
		return err
	}); err != nil {
		return err
	}

	alerts := o.runScanners(ctx, log, scores, profiles, sharpeByWallet)
	o.alerts.Dispatch(ctx, alerts)

	log.Info().Dur("took", time.Since(start)).Int("alerts", len(alerts)).Msg("Cycle complete")
	return nil
}

func (o *Orchestrator) profiles(ctx context.Context) (map[string]domain.WalletProfile, error) {
	var rows []domain.WalletProfile
	if err := o.store.Select(ctx, &rows, `SELECT * FROM trader_profiles FINAL`); err != nil {
		return nil, err
	}
	out := make(map[string]domain.WalletProfile, len(rows))
	for _, p := range rows {
		out[p.WalletID] = p
	}
	return out, nil
}

// runScanners runs every scanner, tolerating individual failures.
func (o *Orchestrator) runScanners(
	ctx context.Context,
	log zerolog.Logger,
	scores []domain.WalletScore,
	profiles map[string]domain.WalletProfile,
	sharpes map[string]domain.WalletSharpe,
) []domain.Alert {
	var alerts []domain.Alert
	scan := func(name string, fn func(context.Context) ([]domain.Alert, error)) {
		start := time.Now()
		found, err := fn(ctx)
		if err != nil {
			log.Error().Err(err).Str("scanner", name).Msg("Scanner failed")
			return
		}
		log.Info().Str("scanner", name).Int("alerts", len(found)).Dur("took", time.Since(start)).Msg("Scanner complete")
		alerts = append(alerts, found...)
	}

	if o.gems != nil {
		scan("gems", func(ctx context.Context) ([]domain.Alert, error) {
			return o.gems.Scan(ctx, scores, profiles, sharpes)
		})
	}
	scan("consensus", o.consensus.Scan)
	scan("decay", o.decay.Scan)
	scan("anomaly", o.anomaly.Scan)
	return alerts
}
