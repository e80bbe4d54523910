package convergence

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
)

// InvalidInputError reports a calculator precondition violation.
//
// It signals a programming or configuration defect (negative amounts,
// a target outside [0, 100], negative decimals) rather than a remote
// failure, and is never produced by legitimate pool state.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("convergence: invalid input %q: %s", e.Field, e.Reason)
}

// Plan is the corrective action computed for a single pool.
//
// AdditionalBorrowRaw is expressed in the asset's smallest unit and is
// always non-negative; zero means the pool is already at or above its
// target and no action is required. Plans are derived fresh each run
// and never persisted.
type Plan struct {
	Symbol              string
	AdditionalBorrowRaw *big.Int
	CurrentPct          decimal.Decimal
	TargetPct           decimal.Decimal
	Decimals            int32
}

// NoActionNeeded reports whether the pool is already converged.
func (p Plan) NoActionNeeded() bool {
	return p.AdditionalBorrowRaw.Sign() == 0
}

// AdditionalBorrow returns the planned borrow in display units
// (raw amount scaled down by 10^decimals).
func (p Plan) AdditionalBorrow() decimal.Decimal {
	return decimal.NewFromBigInt(p.AdditionalBorrowRaw, -p.Decimals)
}

// ComputePlan maps a pool snapshot and a target utilization onto the
// incremental borrow needed to converge.
//
// All arithmetic is exact: the target borrow is computed directly in
// raw units as floor(totalLiquidity * targetPct / 100), so the result
// cannot oscillate across runs the way binary floating point can.
// Convergence is borrow-only; a pool at or above target (including
// utilization > 100%) yields a zero plan, never a repay.
//
// A zero totalLiquidity is defined as 0% utilization and a zero plan,
// not an error.
func ComputePlan(symbol string, totalLiquidity, totalBorrowed *big.Int, targetPct decimal.Decimal, decimals int32) (Plan, error) {
	if totalLiquidity == nil || totalLiquidity.Sign() < 0 {
		return Plan{}, &InvalidInputError{Field: "total_liquidity", Reason: "must be a non-negative integer"}
	}
	if totalBorrowed == nil || totalBorrowed.Sign() < 0 {
		return Plan{}, &InvalidInputError{Field: "total_borrowed", Reason: "must be a non-negative integer"}
	}
	if targetPct.IsNegative() || targetPct.GreaterThan(hundred) {
		return Plan{}, &InvalidInputError{Field: "target_utilization_pct", Reason: "must be within [0, 100]"}
	}
	if decimals < 0 {
		return Plan{}, &InvalidInputError{Field: "decimals", Reason: "must be non-negative"}
	}

	liq := decimal.NewFromBigInt(totalLiquidity, 0)
	borr := decimal.NewFromBigInt(totalBorrowed, 0)

	currentPct := decimal.Zero
	if totalLiquidity.Sign() > 0 {
		currentPct = borr.Div(liq).Mul(hundred)
	}

	// targetBorrowedRaw = liquidity * targetPct / 100, exact: the
	// division by 100 is a pure exponent shift in decimal.
	targetBorrowedRaw := liq.Mul(targetPct).Shift(-2)

	additional := targetBorrowedRaw.Sub(borr)
	additionalRaw := additional.Floor().BigInt()
	if additionalRaw.Sign() < 0 {
		additionalRaw = new(big.Int)
	}

	return Plan{
		Symbol:              symbol,
		AdditionalBorrowRaw: additionalRaw,
		CurrentPct:          currentPct,
		TargetPct:           targetPct,
		Decimals:            decimals,
	}, nil
}
