// Package settle closes open positions on demand, realizing pnl against
// the latest observed price.
package settle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"levx/internal/fixed"
	"levx/internal/ledger"
	"levx/internal/model"
	"levx/internal/prices"
)

// ErrNoPrice reports that no tick has been observed yet for the position's
// asset. The close should be retried once a price arrives.
var ErrNoPrice = errors.New("no latest price for asset")

type Ledger interface {
	FindPosition(ctx context.Context, id, userID string) (model.Position, error)
	ClosePosition(ctx context.Context, pos model.Position, exitPrice, realizedPnl int64) error
}

type Service struct {
	ledger Ledger
	prices *prices.Cache
	log    *zap.Logger
}

func NewService(l Ledger, p *prices.Cache, log *zap.Logger) *Service {
	return &Service{ledger: l, prices: p, log: log}
}

// Close settles the position at the latest price: one transaction credits
// margin plus realized pnl, snapshots the closed position, and deletes the
// open one. A position that no longer exists is a terminal no-op, not an
// error: either it was already closed or a concurrent close won the race.
func (s *Service) Close(ctx context.Context, userID, positionID string) (closed bool, err error) {
	pos, err := s.ledger.FindPosition(ctx, positionID, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrPositionGone) {
			return false, nil
		}
		return false, err
	}
	price, ok := s.prices.Get(pos.Asset)
	if !ok {
		return false, ErrNoPrice
	}
	pnl := fixed.RealizedPnl(pos.Side, pos.EntryPrice, price, pos.PositionSize)
	if err := s.ledger.ClosePosition(ctx, pos, price, pnl); err != nil {
		if errors.Is(err, ledger.ErrPositionGone) {
			return false, nil
		}
		return false, err
	}
	s.log.Info("position closed",
		zap.String("position_id", pos.ID),
		zap.String("asset", string(pos.Asset)),
		zap.Int64("exit_price", price),
		zap.Int64("realized_pnl", pnl))
	return true, nil
}
