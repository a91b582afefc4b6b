// Package engine wires the stream consumers to the book, the matching
// passes, and settlement. Three independent loops poll their own streams
// with their own durable cursors; each commits an entry only after its
// side effects are applied, so delivery is at least once and every
// handler is idempotent under redelivery.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"levx/internal/assetlock"
	"levx/internal/book"
	"levx/internal/ledger"
	"levx/internal/matching"
	"levx/internal/model"
	"levx/internal/prices"
	"levx/internal/stream"
	"levx/internal/types"
)

// Stream is the read side of one topic. *kafka.Reader satisfies it.
type Stream interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Ledger is the slice of durable state the consumers touch directly.
type Ledger interface {
	ActivateOrder(ctx context.Context, id string) (model.ActiveOrder, error)
	CancelOrder(ctx context.Context, id string) (model.ActiveOrder, error)
	ListActiveOrders(ctx context.Context) ([]model.ActiveOrder, error)
}

// Settler closes positions on demand.
type Settler interface {
	Close(ctx context.Context, userID, positionID string) (bool, error)
}

type Consumers struct {
	log    *zap.Logger
	book   *book.Store
	prices *prices.Cache
	locks  *assetlock.Locker
	match  *matching.Engine
	ledger Ledger
	settle Settler

	retryDelay time.Duration
}

func NewConsumers(log *zap.Logger, b *book.Store, p *prices.Cache, locks *assetlock.Locker, m *matching.Engine, l Ledger, s Settler) *Consumers {
	return &Consumers{
		log:        log,
		book:       b,
		prices:     p,
		locks:      locks,
		match:      m,
		ledger:     l,
		settle:     s,
		retryDelay: time.Second,
	}
}

// Recover rebuilds the book from still-ACTIVE ledger rows. Must complete
// before any consumer loop starts.
func (c *Consumers) Recover(ctx context.Context) error {
	rows, err := c.ledger.ListActiveOrders(ctx)
	if err != nil {
		return err
	}
	c.book.Load(rows)
	c.log.Info("order book rebuilt from ledger", zap.Int("orders", len(rows)))
	return nil
}

func (c *Consumers) RunPriceLoop(ctx context.Context, r Stream) error {
	return c.runLoop(ctx, r, "price", c.handlePrice)
}

func (c *Consumers) RunOrderLoop(ctx context.Context, r Stream) error {
	return c.runLoop(ctx, r, "order", c.handleOrder)
}

func (c *Consumers) RunControlLoop(ctx context.Context, r Stream) error {
	return c.runLoop(ctx, r, "control", c.handleControl)
}

// runLoop is the shared consume/handle/commit cycle. Handlers return nil
// for success and for poison entries they have already logged and chosen
// to drop; any other error is retryable and the entry is re-handled with
// a delay until it succeeds or the context ends.
func (c *Consumers) runLoop(ctx context.Context, r Stream, name string, handle func(context.Context, []byte) error) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("stream fetch failed", zap.String("consumer", name), zap.Error(err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}
		for {
			err := handle(ctx, msg.Value)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("entry processing failed, will retry", zap.String("consumer", name), zap.Error(err))
			if !c.sleep(ctx) {
				return nil
			}
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Failing to commit only risks redelivery, which handlers
			// tolerate. Keep going.
			c.log.Warn("commit failed", zap.String("consumer", name), zap.Error(err))
		}
	}
}

func (c *Consumers) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// handlePrice records the tick and runs both matching passes for the
// asset under its lease lock. A lost lock race is not an error: the next
// tick retries. Redelivered ticks are safe end to end.
func (c *Consumers) handlePrice(ctx context.Context, value []byte) error {
	tick, err := stream.DecodePriceMessage(value)
	if err != nil {
		c.log.Warn("dropping malformed price entry", zap.Error(err))
		return nil
	}
	c.prices.Set(tick.Asset, tick.Price)
	release, ok := c.locks.TryAcquire(tick.Asset)
	if !ok {
		return nil
	}
	defer release()
	if err := c.match.MarketPass(ctx, tick.Asset, tick.Price); err != nil {
		return err
	}
	return c.match.LimitPass(ctx, tick.Asset, tick.Price)
}

// handleOrder ingests new orders into the book and serves close requests.
func (c *Consumers) handleOrder(ctx context.Context, value []byte) error {
	m, err := stream.DecodeOrderMessage(value)
	if err != nil {
		c.log.Warn("dropping malformed order entry", zap.Error(err))
		return nil
	}
	if m.Type == stream.CloseRequestType {
		if m.UserID == "" || m.PositionID == "" {
			c.log.Warn("dropping malformed close request")
			return nil
		}
		_, err := c.settle.Close(ctx, m.UserID, m.PositionID)
		return err
	}
	order, err := m.PendingOrder()
	if err != nil {
		c.log.Warn("dropping malformed order entry", zap.Error(err))
		return nil
	}
	if _, err := c.ledger.ActivateOrder(ctx, order.ID); err != nil {
		if errors.Is(err, ledger.ErrOrderGone) {
			// The row is no longer CREATED: filled, cancelled before we saw
			// the entry, or already activated by an earlier delivery. A
			// crash between activation and commit is covered by Recover.
			return nil
		}
		return err
	}
	if order.Kind == types.OrderKindMarket {
		c.book.EnqueueMarket(order.Asset, order)
	} else {
		c.book.AddLimit(order.Asset, order.Side, order)
	}
	return nil
}

// handleControl applies cancellations. A cancel that loses the race with
// an in-flight fill becomes a no-op by design.
func (c *Consumers) handleControl(ctx context.Context, value []byte) error {
	m, err := stream.DecodeControlMessage(value)
	if err != nil {
		c.log.Warn("dropping malformed control entry", zap.Error(err))
		return nil
	}
	if m.Type != "CANCEL" {
		// Unrecognized control types are acknowledged and ignored.
		return nil
	}
	if m.OrderID == "" {
		c.log.Warn("dropping cancel without order id")
		return nil
	}
	row, err := c.ledger.CancelOrder(ctx, m.OrderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderGone) {
			c.log.Info("cancel lost race with fill", zap.String("order_id", m.OrderID))
			return nil
		}
		return err
	}
	if row.Kind == types.OrderKindLimit {
		c.book.RemoveLimit(row.Asset, row.Side, m.OrderID)
	} else {
		// Market orders sit in a FIFO and cannot be removed in place;
		// tombstone the id and discard at dequeue time.
		c.book.MarkCancelled(m.OrderID)
	}
	c.log.Info("order cancelled", zap.String("order_id", m.OrderID), zap.String("kind", string(row.Kind)))
	return nil
}
