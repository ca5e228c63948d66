// Package curve implements the Pythagorean bonding curve that prices binary
// outcome markets:
//
//	R = √(YES² + NO²)
//
// where R is the collateral reserve and YES/NO are the outcome token
// supplies. Instantaneous prices fall out of the invariant directly
// (price = supply / R), so quotes need no order book.
//
// All stored quantities are uint64 in the smallest collateral unit. Squares
// are computed exactly with math/big, so precision never leaks; results are
// rejected with ErrArithmeticOverflow when they leave the uint64 domain.
//
// Rounding policy: token mint amounts round down and post-sell reserves round
// up, so YES² + NO² never drifts above R². Repeated trades can therefore
// never manufacture collateral out of rounding residue.
package curve

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidReserves is returned when reserves or the deposit are zero.
	ErrInvalidReserves = errors.New("curve: reserves and deposit must be positive")

	// ErrArithmeticOverflow is returned when an intermediate value leaves
	// the uint64 domain.
	ErrArithmeticOverflow = errors.New("curve: arithmetic overflow")

	// ErrSlippageExceeded is returned when a quote falls short of the
	// caller-supplied minimum output.
	ErrSlippageExceeded = errors.New("curve: slippage tolerance exceeded")

	// ErrInsufficientTokens is returned when a sell burns more tokens than
	// the outstanding supply.
	ErrInsufficientTokens = errors.New("curve: cannot burn more tokens than supply")

	// ErrNoTokensToMint is returned when a deposit is too small to mint a
	// single token after rounding down.
	ErrNoTokensToMint = errors.New("curve: deposit too small to mint tokens")
)

// PriceScale is the number of decimal places for quoted prices.
const PriceScale int32 = 4

// TokensToMint computes the tokens minted when collateralIn is deposited on
// the side whose current supply is targetSupply:
//
//	newR   = R + collateralIn
//	newA   = ⌊√(newR² − B²)⌋
//	minted = newA − A
//
// The floor keeps newA² + B² ≤ newR², preserving the invariant.
func TokensToMint(reserves, targetSupply, otherSupply, collateralIn uint64) (uint64, error) {
	if reserves == 0 || collateralIn == 0 {
		return 0, ErrInvalidReserves
	}
	if collateralIn > math.MaxUint64-reserves {
		return 0, ErrArithmeticOverflow
	}
	newR := reserves + collateralIn

	newRSq := squareU64(newR)
	bSq := squareU64(otherSupply)
	if newRSq.Cmp(bSq) < 0 {
		return 0, ErrArithmeticOverflow
	}

	newA := new(big.Int).Sqrt(new(big.Int).Sub(newRSq, bSq))
	if !newA.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	minted := newA.Uint64()
	if minted <= targetSupply {
		return 0, ErrNoTokensToMint
	}
	return minted - targetSupply, nil
}

// QuoteBuy is TokensToMint with slippage protection: it fails with
// ErrSlippageExceeded when the minted amount falls below minTokensOut.
func QuoteBuy(reserves, targetSupply, otherSupply, collateralIn, minTokensOut uint64) (uint64, error) {
	minted, err := TokensToMint(reserves, targetSupply, otherSupply, collateralIn)
	if err != nil {
		return 0, err
	}
	if minted < minTokensOut {
		return 0, ErrSlippageExceeded
	}
	return minted, nil
}

// ReserveToRelease computes the collateral released when tokensToBurn are
// burned from the side whose current supply is targetSupply:
//
//	newA     = A − tokensToBurn
//	newR     = ⌈√(newA² + B²)⌉
//	released = R − newR
//
// The ceiling keeps newA² + B² ≤ newR² after the sell. Sells that would
// exhaust the supply or the reserves are rejected.
func ReserveToRelease(reserves, targetSupply, otherSupply, tokensToBurn uint64) (uint64, error) {
	if tokensToBurn == 0 {
		return 0, ErrInvalidReserves
	}
	if tokensToBurn > targetSupply {
		return 0, ErrInsufficientTokens
	}
	newA := targetSupply - tokensToBurn

	newRSq := new(big.Int).Add(squareU64(newA), squareU64(otherSupply))
	newR := ceilSqrt(newRSq)
	if !newR.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	r := newR.Uint64()
	if r > reserves {
		// Invariant already holds at entry, so this only trips on
		// corrupted state; release nothing rather than go negative.
		return 0, ErrInvalidReserves
	}
	return reserves - r, nil
}

// QuoteSell is ReserveToRelease with slippage protection.
func QuoteSell(reserves, targetSupply, otherSupply, tokensToBurn, minCollateralOut uint64) (uint64, error) {
	released, err := ReserveToRelease(reserves, targetSupply, otherSupply, tokensToBurn)
	if err != nil {
		return 0, err
	}
	if released < minCollateralOut {
		return 0, ErrSlippageExceeded
	}
	return released, nil
}

// Price returns the instantaneous price of one side: supply / R. For the
// Pythagorean curve a balanced market prices each side at 1/√2 ≈ 0.7071,
// and price_yes² + price_no² = 1. Returns 0.5 for an empty market.
func Price(reserves, targetSupply uint64) decimal.Decimal {
	if reserves == 0 {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromUint64(targetSupply).
		Div(decimal.NewFromUint64(reserves)).
		Round(PriceScale)
}

// Prices returns the (yes, no) price pair.
func Prices(reserves, yesSupply, noSupply uint64) (decimal.Decimal, decimal.Decimal) {
	return Price(reserves, yesSupply), Price(reserves, noSupply)
}

// InvariantHolds reports whether yes² + no² ≤ R². Exposed for state
// verification in tests and store consistency checks.
func InvariantHolds(reserves, yesSupply, noSupply uint64) bool {
	sum := new(big.Int).Add(squareU64(yesSupply), squareU64(noSupply))
	return sum.Cmp(squareU64(reserves)) <= 0
}

// BalancedSupply returns the per-side supply ⌊√(R²/2)⌋ that seeds a fresh
// market at even odds. Flooring keeps 2·s² ≤ R², so a new market starts
// inside the invariant.
func BalancedSupply(reserves uint64) uint64 {
	half := new(big.Int).Rsh(squareU64(reserves), 1)
	return new(big.Int).Sqrt(half).Uint64()
}

func squareU64(x uint64) *big.Int {
	b := new(big.Int).SetUint64(x)
	return b.Mul(b, b)
}

// ceilSqrt returns ⌈√x⌉ for non-negative x.
func ceilSqrt(x *big.Int) *big.Int {
	s := new(big.Int).Sqrt(x)
	if new(big.Int).Mul(s, s).Cmp(x) < 0 {
		s.Add(s, big.NewInt(1))
	}
	return s
}
