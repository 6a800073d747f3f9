// Package health evaluates the solvency ratio of a position. The check is
// a purely local gate run before requesting a proof; the real enforcement
// lives in the circuit and the ledger verifier.
package health

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Smallest-unit scales of the pool assets: collateral is held in 1e-8
// units (sats), debt in 1e-6 units.
const (
	CollateralDecimals = 8
	DebtDecimals       = 6
)

// Ratio is an evaluated health factor. A position with no debt is
// trivially healthy and reported as unbounded.
type Ratio struct {
	Value     decimal.Decimal
	Unbounded bool
}

// Evaluate computes collateralValue / debtValue from smallest-unit amounts
// and unit prices. Prices are quoted per whole asset unit.
func Evaluate(collateral, debt *big.Int, btcPrice, usdcPrice decimal.Decimal) Ratio {
	if debt == nil || debt.Sign() == 0 {
		return Ratio{Unbounded: true}
	}

	collateralUnits := decimal.NewFromBigInt(collateral, -CollateralDecimals)
	debtUnits := decimal.NewFromBigInt(debt, -DebtDecimals)

	collateralUSD := collateralUnits.Mul(btcPrice)
	debtUSD := debtUnits.Mul(usdcPrice)
	if debtUSD.Sign() == 0 {
		return Ratio{Unbounded: true}
	}

	return Ratio{Value: collateralUSD.Div(debtUSD)}
}

// Meets reports whether the ratio satisfies the given minimum.
func (r Ratio) Meets(min decimal.Decimal) bool {
	if r.Unbounded {
		return true
	}
	return r.Value.GreaterThanOrEqual(min)
}

// String renders the ratio for logs and API responses.
func (r Ratio) String() string {
	if r.Unbounded {
		return "unbounded"
	}
	return r.Value.StringFixed(4)
}

// FromPercent converts an integer percentage threshold (e.g. 110) into a
// ratio minimum (1.10).
func FromPercent(pct int64) decimal.Decimal {
	return decimal.NewFromInt(pct).Div(decimal.NewFromInt(100))
}
