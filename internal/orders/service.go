// Package orders is the intake boundary: it validates order requests,
// reserves margin, persists the CREATED row, and only then publishes to
// the order stream. The engine can therefore trust that every stream
// entry refers to an already-reserved order.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"levx/internal/ledger"
	"levx/internal/model"
	"levx/internal/stream"
	"levx/internal/types"
)

const minMargin = 100 // cents

type Ledger interface {
	CreateOrder(ctx context.Context, order model.PendingOrder) (string, error)
	FindActiveOrder(ctx context.Context, id string) (model.ActiveOrder, error)
	FindPosition(ctx context.Context, id, userID string) (model.Position, error)
	Balance(ctx context.Context, userID string) (int64, error)
	OpenPositions(ctx context.Context, userID string) ([]model.Position, error)
	ClosedPositions(ctx context.Context, userID string) ([]model.ClosedPosition, error)
}

// Publisher is the write side of one stream. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Service struct {
	ledger  Ledger
	orders  Publisher
	control Publisher
	log     *zap.Logger
}

func NewService(l Ledger, orderPub, controlPub Publisher, log *zap.Logger) *Service {
	return &Service{ledger: l, orders: orderPub, control: controlPub, log: log}
}

type PlaceOrderRequest struct {
	UserID     string
	Asset      string
	Side       string
	OrderType  string
	LimitPrice int64
	Margin     int64
	Leverage   int64
	TakeProfit *int64
	StopLoss   *int64
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	asset, err := types.ParseAsset(req.Asset)
	if err != nil {
		return "", err
	}
	side, err := types.ParseSide(req.Side)
	if err != nil {
		return "", err
	}
	kind, err := types.ParseOrderKind(req.OrderType)
	if err != nil {
		return "", err
	}
	if req.Leverage < 1 || req.Leverage > 10 {
		return "", errors.New("leverage must be between 1 and 10")
	}
	if req.Margin < minMargin {
		return "", fmt.Errorf("margin must be at least %d cents", minMargin)
	}
	if kind == types.OrderKindLimit && req.LimitPrice <= 0 {
		return "", errors.New("limit price required for LIMIT order")
	}
	if kind == types.OrderKindMarket && req.LimitPrice != 0 {
		return "", errors.New("limit price not allowed for MARKET order")
	}
	order := model.PendingOrder{
		UserID:     req.UserID,
		Asset:      asset,
		Side:       side,
		Kind:       kind,
		LimitPrice: req.LimitPrice,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	}
	id, err := s.ledger.CreateOrder(ctx, order)
	if err != nil {
		return "", err
	}
	value, err := stream.EncodeOrder(id, order)
	if err != nil {
		return "", err
	}
	if err := s.orders.WriteMessages(ctx, kafka.Message{Key: []byte(id), Value: value}); err != nil {
		// Margin is reserved and the row exists, but the engine never saw
		// it. Surface the failure; the row stays CREATED for inspection.
		s.log.Error("order persisted but not published", zap.String("order_id", id), zap.Error(err))
		return "", err
	}
	return id, nil
}

// Cancel publishes a CANCEL control event for the caller's own order.
// Whether it wins against an in-flight fill is decided by the engine.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) error {
	row, err := s.ledger.FindActiveOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderGone) {
			return errors.New("order not found")
		}
		return err
	}
	if row.UserID != userID {
		return errors.New("order not found")
	}
	if row.State == types.OrderStateCancelled {
		return nil
	}
	value, err := stream.EncodeCancel(orderID)
	if err != nil {
		return err
	}
	return s.control.WriteMessages(ctx, kafka.Message{Key: []byte(orderID), Value: value})
}

// Close publishes a close request for a position the caller owns. The
// engine settles it against the latest price it holds.
func (s *Service) Close(ctx context.Context, userID, positionID string) error {
	if _, err := s.ledger.FindPosition(ctx, positionID, userID); err != nil {
		if errors.Is(err, ledger.ErrPositionGone) {
			return errors.New("position not found")
		}
		return err
	}
	value, err := stream.EncodeCloseRequest(userID, positionID)
	if err != nil {
		return err
	}
	return s.orders.WriteMessages(ctx, kafka.Message{Key: []byte(positionID), Value: value})
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *Service) OpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.ledger.OpenPositions(ctx, userID)
}

func (s *Service) ClosedPositions(ctx context.Context, userID string) ([]model.ClosedPosition, error) {
	return s.ledger.ClosedPositions(ctx, userID)
}
