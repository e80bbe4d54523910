package keeper

import (
	"github.com/shopspring/decimal"

	"github.com/scalexfi/lending-keeper-go/protocols/router"
)

// TargetStatus is the administrator-set state of an asset target.
type TargetStatus string

const (
	TargetPending  TargetStatus = "pending"
	TargetAchieved TargetStatus = "achieved"
)

// AssetTarget is the immutable per-asset configuration: which pool to
// drive, to what utilization, and at which smallest-unit scale.
type AssetTarget struct {
	Symbol    string
	TargetPct decimal.Decimal
	Decimals  int32
	Status    TargetStatus
}

// OutcomeStatus is the terminal state of one asset's processing.
type OutcomeStatus string

const (
	StatusSkippedPreAchieved OutcomeStatus = "skipped_pre_achieved"
	StatusSkippedUnresolved  OutcomeStatus = "skipped_unresolved"
	StatusNoActionNeeded     OutcomeStatus = "no_action_needed"
	StatusSuccess            OutcomeStatus = "success"
	StatusFailed             OutcomeStatus = "failed"
	StatusError              OutcomeStatus = "error"
)

// OK reports whether the status counts as a clean terminal state for
// exit-code purposes.
func (s OutcomeStatus) OK() bool {
	return s != StatusFailed && s != StatusError
}

// Outcome is the run-scoped record of one asset's processing. Every
// configured asset produces exactly one Outcome; none is ever
// silently dropped.
type Outcome struct {
	Symbol     string
	Status     OutcomeStatus
	Amount     decimal.Decimal
	CurrentPct decimal.Decimal
	TargetPct  decimal.Decimal
	Receipt    router.Receipt
	Reason     string
}

// AllOK reports whether no outcome ended in Failed or Error.
func AllOK(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Status.OK() {
			return false
		}
	}
	return true
}
