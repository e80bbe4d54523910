package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/scalexfi/lending-keeper-go/addressbook"
	"github.com/scalexfi/lending-keeper-go/convergence"
	"github.com/scalexfi/lending-keeper-go/protocols/lendingmanager"
	"github.com/scalexfi/lending-keeper-go/protocols/router"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateReader reads one pool's snapshot from the remote protocol.
type StateReader interface {
	ReadState(ctx context.Context, asset common.Address) (lendingmanager.PoolState, error)
}

// BorrowExecutor submits one borrow instruction against the remote
// protocol.
type BorrowExecutor interface {
	ExecuteBorrow(ctx context.Context, asset common.Address, amountRaw *big.Int) (router.Receipt, error)
}

// Config holds the configuration for the keeper.
type Config struct {
	Targets  []AssetTarget
	Book     *addressbook.Book
	Reader   StateReader
	Executor BorrowExecutor
	Logger   Logger
	Registry prometheus.Registerer

	// Workers bounds parallelism across assets; values below 2 mean
	// fully sequential processing.
	Workers int
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if len(c.Targets) == 0 {
		return errors.New("config: Targets is required")
	}
	if c.Book == nil {
		return errors.New("config: Book is required")
	}
	if c.Reader == nil {
		return errors.New("config: Reader is required")
	}
	if c.Executor == nil {
		return errors.New("config: Executor is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	return nil
}

// Keeper drives each configured pool toward its target utilization.
//
// Assets are fully independent: the address book and target list are
// shared read-only, every asset writes only its own outcome slot, and
// any per-asset failure is converted into an Outcome at this boundary
// so the run always continues to the next asset.
type Keeper struct {
	targets  []AssetTarget
	book     *addressbook.Book
	reader   StateReader
	executor BorrowExecutor
	logger   Logger
	metrics  *Metrics
	workers  int
}

// New creates a Keeper from a validated configuration.
func New(cfg Config) (*Keeper, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Keeper{
		targets:  cfg.Targets,
		book:     cfg.Book,
		reader:   cfg.Reader,
		executor: cfg.Executor,
		logger:   cfg.Logger,
		metrics:  NewMetrics(cfg.Registry),
		workers:  cfg.Workers,
	}, nil
}

// Run processes every configured asset exactly once and returns one
// Outcome per asset in configured order, regardless of execution
// order. Only configuration errors abort a run; everything per-asset
// ends up in its Outcome.
func (k *Keeper) Run(ctx context.Context) []Outcome {
	k.metrics.runsTotal.Inc()

	outcomes := make([]Outcome, len(k.targets))

	if k.workers < 2 {
		for i, target := range k.targets {
			outcomes[i] = k.processAsset(ctx, target)
		}
		return outcomes
	}

	workers := k.workers
	if workers > len(k.targets) {
		workers = len(k.targets)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				// Slot reserved by asset identity, never by
				// completion order.
				outcomes[i] = k.processAsset(ctx, k.targets[i])
			}
		}()
	}
	for i := range k.targets {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return outcomes
}

// processAsset walks one asset through its terminal-state machine:
// Skipped(PreAchieved) | Skipped(Unresolved) | NoActionNeeded |
// Success | Failed | Error.
func (k *Keeper) processAsset(ctx context.Context, target AssetTarget) Outcome {
	outcome := Outcome{
		Symbol:     target.Symbol,
		TargetPct:  target.TargetPct,
		CurrentPct: decimal.Zero,
		Amount:     decimal.Zero,
	}

	if target.Status == TargetAchieved {
		k.logger.Info("Target pre-marked as achieved, skipping", "asset", target.Symbol)
		return k.finish(outcome, StatusSkippedPreAchieved, "")
	}

	asset, ok := k.book.Resolve(target.Symbol)
	if !ok {
		k.logger.Warn("Asset not found in deployment metadata, skipping", "asset", target.Symbol)
		return k.finish(outcome, StatusSkippedUnresolved, "not found in deployments")
	}

	readStart := time.Now()
	state, err := k.reader.ReadState(ctx, asset)
	k.metrics.stateReadDuration.WithLabelValues(target.Symbol).Observe(time.Since(readStart).Seconds())
	if err != nil {
		k.logger.Error("Failed to read pool state", "asset", target.Symbol, "error", err)
		return k.finish(outcome, StatusError, err.Error())
	}

	plan, err := convergence.ComputePlan(target.Symbol, state.TotalLiquidity, state.TotalBorrowed, target.TargetPct, target.Decimals)
	if err != nil {
		// InvalidInputError here means a config or programming
		// defect; it must be loud, not a quiet skip.
		k.logger.Error("Convergence plan rejected inputs", "asset", target.Symbol, "error", err)
		return k.finish(outcome, StatusError, err.Error())
	}

	outcome.CurrentPct = plan.CurrentPct
	k.logger.Info("Pool state",
		"asset", target.Symbol,
		"block", state.BlockNumber,
		"total_liquidity", state.TotalLiquidity.String(),
		"total_borrowed", state.TotalBorrowed.String(),
		"current_utilization_pct", plan.CurrentPct.StringFixed(2),
		"target_utilization_pct", target.TargetPct.StringFixed(2),
	)

	if plan.NoActionNeeded() {
		k.logger.Info("Already at target utilization", "asset", target.Symbol)
		return k.finish(outcome, StatusNoActionNeeded, "")
	}

	outcome.Amount = plan.AdditionalBorrow()
	k.logger.Info("Executing borrow",
		"asset", target.Symbol,
		"amount_raw", plan.AdditionalBorrowRaw.String(),
		"amount", outcome.Amount.String(),
	)

	borrowStart := time.Now()
	receipt, err := k.executor.ExecuteBorrow(ctx, asset, plan.AdditionalBorrowRaw)
	k.metrics.borrowDuration.WithLabelValues(target.Symbol).Observe(time.Since(borrowStart).Seconds())
	if err != nil {
		var action *router.ActionError
		if errors.As(err, &action) {
			k.logger.Error("Borrow failed", "asset", target.Symbol, "stage", action.Stage, "diagnostic", action.Diagnostic)
			return k.finish(outcome, StatusFailed, action.Diagnostic)
		}
		k.logger.Error("Borrow failed", "asset", target.Symbol, "error", err)
		return k.finish(outcome, StatusFailed, err.Error())
	}

	outcome.Receipt = receipt
	k.logger.Info("Borrow successful",
		"asset", target.Symbol,
		"tx_hash", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	return k.finish(outcome, StatusSuccess, "")
}

func (k *Keeper) finish(outcome Outcome, status OutcomeStatus, reason string) Outcome {
	outcome.Status = status
	outcome.Reason = reason
	k.metrics.assetOutcomesTotal.WithLabelValues(outcome.Symbol, string(status)).Inc()
	return outcome
}
