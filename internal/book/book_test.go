package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levx/internal/model"
	"levx/internal/types"
)

func marketOrder(id string) model.PendingOrder {
	return model.PendingOrder{
		ID:       id,
		UserID:   "u1",
		Asset:    types.AssetBTC,
		Side:     types.SideLong,
		Kind:     types.OrderKindMarket,
		Margin:   10000,
		Leverage: 5,
	}
}

func limitOrder(id string, side types.Side, price int64) model.PendingOrder {
	return model.PendingOrder{
		ID:         id,
		UserID:     "u1",
		Asset:      types.AssetBTC,
		Side:       side,
		Kind:       types.OrderKindLimit,
		LimitPrice: price,
		Margin:     10000,
		Leverage:   5,
	}
}

func TestMarketFIFO(t *testing.T) {
	s := NewStore()
	s.EnqueueMarket(types.AssetBTC, marketOrder("a"))
	s.EnqueueMarket(types.AssetBTC, marketOrder("b"))
	s.EnqueueMarket(types.AssetETH, marketOrder("c"))

	got, ok := s.DequeueMarket(types.AssetBTC)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	got, ok = s.DequeueMarket(types.AssetBTC)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	_, ok = s.DequeueMarket(types.AssetBTC)
	assert.False(t, ok)

	// Other assets are untouched.
	assert.Equal(t, 1, s.MarketDepth(types.AssetETH))
}

func TestRequeueMarketRestoresPriority(t *testing.T) {
	s := NewStore()
	s.EnqueueMarket(types.AssetBTC, marketOrder("a"))
	s.EnqueueMarket(types.AssetBTC, marketOrder("b"))

	got, _ := s.DequeueMarket(types.AssetBTC)
	s.RequeueMarket(types.AssetBTC, got)

	got, _ = s.DequeueMarket(types.AssetBTC)
	assert.Equal(t, "a", got.ID)
}

func TestBestLimitLongIsHighestPrice(t *testing.T) {
	s := NewStore()
	s.AddLimit(types.AssetBTC, types.SideLong, limitOrder("low", types.SideLong, 90))
	s.AddLimit(types.AssetBTC, types.SideLong, limitOrder("high", types.SideLong, 110))
	s.AddLimit(types.AssetBTC, types.SideLong, limitOrder("mid", types.SideLong, 100))

	best, ok := s.BestLimit(types.AssetBTC, types.SideLong)
	require.True(t, ok)
	assert.Equal(t, "high", best.ID)
}

func TestBestLimitShortIsLowestPrice(t *testing.T) {
	s := NewStore()
	s.AddLimit(types.AssetBTC, types.SideShort, limitOrder("high", types.SideShort, 110))
	s.AddLimit(types.AssetBTC, types.SideShort, limitOrder("low", types.SideShort, 90))

	best, ok := s.BestLimit(types.AssetBTC, types.SideShort)
	require.True(t, ok)
	assert.Equal(t, "low", best.ID)
}

func TestRemoveLimitIsIdempotent(t *testing.T) {
	s := NewStore()
	s.AddLimit(types.AssetBTC, types.SideLong, limitOrder("a", types.SideLong, 100))
	s.RemoveLimit(types.AssetBTC, types.SideLong, "a")
	s.RemoveLimit(types.AssetBTC, types.SideLong, "a")
	s.RemoveLimit(types.AssetBTC, types.SideLong, "never-existed")

	assert.Equal(t, 0, s.LimitDepth(types.AssetBTC, types.SideLong))
	assert.False(t, s.HasPayload("a"))
	_, ok := s.BestLimit(types.AssetBTC, types.SideLong)
	assert.False(t, ok)
}

func TestTombstones(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsCancelled("a"))
	s.MarkCancelled("a")
	assert.True(t, s.IsCancelled("a"))
	s.DropCancelled("a")
	assert.False(t, s.IsCancelled("a"))
}

func TestLoadPopulatesBothStructures(t *testing.T) {
	s := NewStore()
	tp := int64(60000)
	s.Load([]model.ActiveOrder{
		{ID: "m1", UserID: "u1", Asset: types.AssetBTC, Side: types.SideLong, Kind: types.OrderKindMarket, Margin: 10000, Leverage: 5, TakeProfit: &tp},
		{ID: "m2", UserID: "u1", Asset: types.AssetBTC, Side: types.SideShort, Kind: types.OrderKindMarket, Margin: 5000, Leverage: 2},
		{ID: "l1", UserID: "u2", Asset: types.AssetBTC, Side: types.SideLong, Kind: types.OrderKindLimit, LimitPrice: 49000, Margin: 10000, Leverage: 3},
	})

	assert.Equal(t, 2, s.MarketDepth(types.AssetBTC))
	assert.Equal(t, 1, s.LimitDepth(types.AssetBTC, types.SideLong))

	// Ledger row order defines FIFO priority after recovery.
	got, ok := s.DequeueMarket(types.AssetBTC)
	require.True(t, ok)
	assert.Equal(t, "m1", got.ID)
	require.NotNil(t, got.TakeProfit)
	assert.Equal(t, int64(60000), *got.TakeProfit)

	best, ok := s.BestLimit(types.AssetBTC, types.SideLong)
	require.True(t, ok)
	assert.Equal(t, "l1", best.ID)
	assert.Equal(t, int64(49000), best.LimitPrice)
}

func TestSamePriceLimitsKeepArrivalOrder(t *testing.T) {
	s := NewStore()
	s.AddLimit(types.AssetBTC, types.SideShort, limitOrder("first", types.SideShort, 100))
	s.AddLimit(types.AssetBTC, types.SideShort, limitOrder("second", types.SideShort, 100))

	best, _ := s.BestLimit(types.AssetBTC, types.SideShort)
	assert.Equal(t, "first", best.ID)
}
