// Package fixed holds the integer fixed-point arithmetic used for sizing
// and settling positions. No balance-affecting value ever passes through a
// float.
package fixed

import (
	"math/big"

	"levx/internal/types"
)

// Scale converts real position units to the stored fixed-point size.
const Scale = 1_000_000

// PositionSize returns floor(margin*leverage/price * Scale). All inputs are
// integer cents except leverage, which is a bare multiplier.
func PositionSize(marginCents, leverage, priceCents int64) int64 {
	return marginCents * leverage * Scale / priceCents
}

// LiquidationPrice is the price at which the position's margin is consumed:
// one leverage-th below entry for longs, above for shorts.
func LiquidationPrice(side types.Side, priceCents, leverage int64) int64 {
	if side == types.SideLong {
		return priceCents - priceCents/leverage
	}
	return priceCents + priceCents/leverage
}

var bigScale = big.NewInt(Scale)

// RealizedPnl computes the settled profit in cents for a position of the
// given fixed-point size, floored toward negative infinity so a losing
// trade never rounds in the trader's favor. The intermediate product
// diff*positionSize can exceed 64 bits for large positions, so it is
// computed at arbitrary precision. big.Int.Div floors for a positive
// divisor.
func RealizedPnl(side types.Side, entryPrice, exitPrice, positionSize int64) int64 {
	diff := exitPrice - entryPrice
	if side == types.SideShort {
		diff = -diff
	}
	p := new(big.Int).Mul(big.NewInt(diff), big.NewInt(positionSize))
	return p.Div(p, bigScale).Int64()
}
