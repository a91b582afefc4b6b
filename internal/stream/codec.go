package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"levx/internal/model"
	"levx/internal/types"
)

// Stream payloads carry every numeric field as a decimal string, matching
// the producers on the other side of the topics.

type PriceMessage struct {
	Market    string `json:"market"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

type OrderMessage struct {
	// Type distinguishes close requests from new orders on the order
	// stream. Empty means a new order.
	Type       string `json:"type,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Asset      string `json:"asset,omitempty"`
	Side       string `json:"side,omitempty"`
	OrderType  string `json:"orderType,omitempty"`
	LimitPrice string `json:"limitPrice,omitempty"`
	Margin     string `json:"margin,omitempty"`
	Leverage   string `json:"leverage,omitempty"`
	TakeProfit string `json:"takeProfit,omitempty"`
	StopLoss   string `json:"stopLoss,omitempty"`
	PositionID string `json:"positionId,omitempty"`
}

const CloseRequestType = "CLOSE_POSITION"

type ControlMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

func DecodePriceMessage(b []byte) (model.PriceTick, error) {
	var m PriceMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return model.PriceTick{}, fmt.Errorf("price message: %w", err)
	}
	asset, err := types.ParseAsset(m.Market)
	if err != nil {
		return model.PriceTick{}, fmt.Errorf("price message: %w", err)
	}
	price, err := strconv.ParseInt(m.Price, 10, 64)
	if err != nil || price <= 0 {
		return model.PriceTick{}, fmt.Errorf("price message: bad price %q", m.Price)
	}
	ms, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return model.PriceTick{}, fmt.Errorf("price message: bad timestamp %q", m.Timestamp)
	}
	return model.PriceTick{Asset: asset, Price: price, Timestamp: time.UnixMilli(ms).UTC()}, nil
}

func EncodePriceTick(t model.PriceTick) ([]byte, error) {
	return json.Marshal(PriceMessage{
		Market:    string(t.Asset),
		Price:     strconv.FormatInt(t.Price, 10),
		Timestamp: strconv.FormatInt(t.Timestamp.UnixMilli(), 10),
	})
}

func DecodeOrderMessage(b []byte) (OrderMessage, error) {
	var m OrderMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return OrderMessage{}, fmt.Errorf("order message: %w", err)
	}
	return m, nil
}

// PendingOrder validates a new-order message into the book payload.
func (m OrderMessage) PendingOrder() (model.PendingOrder, error) {
	if m.OrderID == "" || m.UserID == "" {
		return model.PendingOrder{}, fmt.Errorf("order message: missing order or user id")
	}
	asset, err := types.ParseAsset(m.Asset)
	if err != nil {
		return model.PendingOrder{}, fmt.Errorf("order message: %w", err)
	}
	side, err := types.ParseSide(m.Side)
	if err != nil {
		return model.PendingOrder{}, fmt.Errorf("order message: %w", err)
	}
	kind, err := types.ParseOrderKind(m.OrderType)
	if err != nil {
		return model.PendingOrder{}, fmt.Errorf("order message: %w", err)
	}
	margin, err := strconv.ParseInt(m.Margin, 10, 64)
	if err != nil || margin <= 0 {
		return model.PendingOrder{}, fmt.Errorf("order message: bad margin %q", m.Margin)
	}
	leverage, err := strconv.ParseInt(m.Leverage, 10, 64)
	if err != nil || leverage < 1 || leverage > 10 {
		return model.PendingOrder{}, fmt.Errorf("order message: bad leverage %q", m.Leverage)
	}
	order := model.PendingOrder{
		ID:       m.OrderID,
		UserID:   m.UserID,
		Asset:    asset,
		Side:     side,
		Kind:     kind,
		Margin:   margin,
		Leverage: leverage,
	}
	if kind == types.OrderKindLimit {
		lp, err := strconv.ParseInt(m.LimitPrice, 10, 64)
		if err != nil || lp <= 0 {
			return model.PendingOrder{}, fmt.Errorf("order message: bad limit price %q", m.LimitPrice)
		}
		order.LimitPrice = lp
	}
	if order.TakeProfit, err = optionalCents(m.TakeProfit); err != nil {
		return model.PendingOrder{}, fmt.Errorf("order message: bad take profit %q", m.TakeProfit)
	}
	if order.StopLoss, err = optionalCents(m.StopLoss); err != nil {
		return model.PendingOrder{}, fmt.Errorf("order message: bad stop loss %q", m.StopLoss)
	}
	return order, nil
}

func EncodeOrder(id string, order model.PendingOrder) ([]byte, error) {
	m := OrderMessage{
		OrderID:   id,
		UserID:    order.UserID,
		Asset:     string(order.Asset),
		Side:      string(order.Side),
		OrderType: string(order.Kind),
		Margin:    strconv.FormatInt(order.Margin, 10),
		Leverage:  strconv.FormatInt(order.Leverage, 10),
	}
	if order.Kind == types.OrderKindLimit {
		m.LimitPrice = strconv.FormatInt(order.LimitPrice, 10)
	}
	if order.TakeProfit != nil {
		m.TakeProfit = strconv.FormatInt(*order.TakeProfit, 10)
	}
	if order.StopLoss != nil {
		m.StopLoss = strconv.FormatInt(*order.StopLoss, 10)
	}
	return json.Marshal(m)
}

func EncodeCloseRequest(userID, positionID string) ([]byte, error) {
	return json.Marshal(OrderMessage{Type: CloseRequestType, UserID: userID, PositionID: positionID})
}

func DecodeControlMessage(b []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ControlMessage{}, fmt.Errorf("control message: %w", err)
	}
	return m, nil
}

func EncodeCancel(orderID string) ([]byte, error) {
	return json.Marshal(ControlMessage{Type: "CANCEL", OrderID: orderID})
}

func optionalCents(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("bad value %q", s)
	}
	return &v, nil
}
