// Package matching implements the market and limit fill passes that run
// against the book whenever a price tick arrives.
package matching

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"levx/internal/book"
	"levx/internal/fixed"
	"levx/internal/ledger"
	"levx/internal/model"
	"levx/internal/types"
)

// Ledger is the slice of durable state the engine mutates. A fill is one
// atomic transaction; ErrOrderGone from it means a previous pass already
// applied this fill.
type Ledger interface {
	FillOrder(ctx context.Context, order model.PendingOrder, entryPrice, positionSize, liquidationPrice int64) error
}

type Engine struct {
	book   *book.Store
	ledger Ledger
	log    *zap.Logger
}

func NewEngine(b *book.Store, l Ledger, log *zap.Logger) *Engine {
	return &Engine{book: b, ledger: l, log: log}
}

// MarketPass drains the asset's market FIFO at the given price. A single
// tick can fill an arbitrarily deep backlog; the loop ends only when the
// FIFO is empty. Tombstoned orders are discarded as they surface.
func (e *Engine) MarketPass(ctx context.Context, asset types.Asset, price int64) error {
	for {
		order, ok := e.book.DequeueMarket(asset)
		if !ok {
			return nil
		}
		if e.book.IsCancelled(order.ID) {
			e.book.DropCancelled(order.ID)
			continue
		}
		if err := e.fill(ctx, order, price); err != nil {
			if errors.Is(err, ledger.ErrOrderGone) {
				continue
			}
			e.book.RequeueMarket(asset, order)
			return err
		}
	}
}

// LimitPass fills crossed limit orders on both sides of the asset.
func (e *Engine) LimitPass(ctx context.Context, asset types.Asset, price int64) error {
	if err := e.limitSide(ctx, asset, types.SideLong, price); err != nil {
		return err
	}
	return e.limitSide(ctx, asset, types.SideShort, price)
}

func (e *Engine) limitSide(ctx context.Context, asset types.Asset, side types.Side, price int64) error {
	for {
		cand, ok := e.book.BestLimit(asset, side)
		if !ok {
			return nil
		}
		if e.book.IsCancelled(cand.ID) {
			e.book.RemoveLimit(asset, side, cand.ID)
			e.book.DropCancelled(cand.ID)
			continue
		}
		if !e.book.HasPayload(cand.ID) {
			// Index entry whose payload is gone: evict and keep scanning.
			e.book.RemoveLimit(asset, side, cand.ID)
			continue
		}
		if !crosses(side, price, cand.LimitPrice) {
			// The best candidate does not cross, so nothing deeper in the
			// index can either.
			return nil
		}
		err := e.fill(ctx, cand, price)
		if err != nil && !errors.Is(err, ledger.ErrOrderGone) {
			return err
		}
		e.book.RemoveLimit(asset, side, cand.ID)
	}
}

// crosses applies the canonical convention: a long (buy) limit fills at or
// below its limit price, a short (sell) limit at or above.
func crosses(side types.Side, price, limitPrice int64) bool {
	if side == types.SideLong {
		return price <= limitPrice
	}
	return price >= limitPrice
}

func (e *Engine) fill(ctx context.Context, order model.PendingOrder, price int64) error {
	size := fixed.PositionSize(order.Margin, order.Leverage, price)
	liq := fixed.LiquidationPrice(order.Side, price, order.Leverage)
	if err := e.ledger.FillOrder(ctx, order, price, size, liq); err != nil {
		return err
	}
	e.log.Info("order filled",
		zap.String("order_id", order.ID),
		zap.String("asset", string(order.Asset)),
		zap.String("side", string(order.Side)),
		zap.String("kind", string(order.Kind)),
		zap.Int64("entry_price", price),
		zap.Int64("position_size", size))
	return nil
}
