package types

import "fmt"

type Asset string

type Side string

type OrderKind string

type OrderState string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetSOL Asset = "SOL"
)

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

const (
	OrderStateCreated   OrderState = "CREATED"
	OrderStateActive    OrderState = "ACTIVE"
	OrderStateCancelled OrderState = "CANCELLED"
)

// Assets lists every tradable asset. Book and lock state is keyed by this set.
var Assets = []Asset{AssetBTC, AssetETH, AssetSOL}

func ParseAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetBTC, AssetETH, AssetSOL:
		return Asset(s), nil
	}
	return "", fmt.Errorf("unknown asset %q", s)
}

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideLong, SideShort:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func ParseOrderKind(s string) (OrderKind, error) {
	switch OrderKind(s) {
	case OrderKindMarket, OrderKindLimit:
		return OrderKind(s), nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}
