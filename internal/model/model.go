package model

import (
	"time"

	"levx/internal/types"
)

// PendingOrder is the immutable payload of an order waiting in the book.
// Monetary fields are integer cents; LimitPrice is set iff Kind is LIMIT.
type PendingOrder struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Asset      types.Asset     `json:"asset"`
	Side       types.Side      `json:"side"`
	Kind       types.OrderKind `json:"kind"`
	LimitPrice int64           `json:"limit_price,omitempty"`
	Margin     int64           `json:"margin"`
	Leverage   int64           `json:"leverage"`
	TakeProfit *int64          `json:"take_profit,omitempty"`
	StopLoss   *int64          `json:"stop_loss,omitempty"`
}

// ActiveOrder is the durable ledger row backing a PendingOrder. A filled
// order has no row at all; only CREATED/ACTIVE/CANCELLED are stored states.
type ActiveOrder struct {
	ID         string
	UserID     string
	Asset      types.Asset
	Side       types.Side
	Kind       types.OrderKind
	State      types.OrderState
	LimitPrice int64
	Margin     int64
	Leverage   int64
	TakeProfit *int64
	StopLoss   *int64
	CreatedAt  time.Time
}

// Position is an open leveraged position. PositionSize is fixed-point,
// scaled by fixed.Scale.
type Position struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Asset            types.Asset `json:"asset"`
	Side             types.Side  `json:"side"`
	Margin           int64       `json:"margin"`
	Leverage         int64       `json:"leverage"`
	EntryPrice       int64       `json:"entry_price"`
	PositionSize     int64       `json:"position_size"`
	LiquidationPrice int64       `json:"liquidation_price"`
	TakeProfit       *int64      `json:"take_profit,omitempty"`
	StopLoss         *int64      `json:"stop_loss,omitempty"`
	OpenedAt         time.Time   `json:"opened_at"`
}

// ClosedPosition is the settlement snapshot written when a position closes.
type ClosedPosition struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Asset        types.Asset `json:"asset"`
	Side         types.Side  `json:"side"`
	Margin       int64       `json:"margin"`
	Leverage     int64       `json:"leverage"`
	EntryPrice   int64       `json:"entry_price"`
	ExitPrice    int64       `json:"exit_price"`
	PositionSize int64       `json:"position_size"`
	RealizedPnl  int64       `json:"realized_pnl"`
	OpenedAt     time.Time   `json:"opened_at"`
	ClosedAt     time.Time   `json:"closed_at"`
}

// PriceTick is one observation from the price stream.
type PriceTick struct {
	Asset     types.Asset
	Price     int64
	Timestamp time.Time
}
