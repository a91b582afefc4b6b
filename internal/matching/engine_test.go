package matching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"levx/internal/book"
	"levx/internal/fixed"
	"levx/internal/ledger"
	"levx/internal/model"
	"levx/internal/types"
)

type recordedFill struct {
	Order            model.PendingOrder
	EntryPrice       int64
	PositionSize     int64
	LiquidationPrice int64
}

// fakeLedger mimics the durable store's idempotency guard: a fill for an
// id with no active row returns ErrOrderGone and writes nothing.
type fakeLedger struct {
	mu       sync.Mutex
	active   map[string]struct{}
	fills    []recordedFill
	failNext error
}

func newFakeLedger(activeIDs ...string) *fakeLedger {
	f := &fakeLedger{active: make(map[string]struct{})}
	for _, id := range activeIDs {
		f.active[id] = struct{}{}
	}
	return f
}

func (f *fakeLedger) FillOrder(ctx context.Context, order model.PendingOrder, entryPrice, positionSize, liquidationPrice int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	if _, ok := f.active[order.ID]; !ok {
		return ledger.ErrOrderGone
	}
	delete(f.active, order.ID)
	f.fills = append(f.fills, recordedFill{Order: order, EntryPrice: entryPrice, PositionSize: positionSize, LiquidationPrice: liquidationPrice})
	return nil
}

func (f *fakeLedger) fillIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, fill := range f.fills {
		ids = append(ids, fill.Order.ID)
	}
	return ids
}

func marketOrder(id string, side types.Side) model.PendingOrder {
	return model.PendingOrder{
		ID:       id,
		UserID:   "u1",
		Asset:    types.AssetBTC,
		Side:     side,
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

func TestMarketFillComputesPosition(t *testing.T) {
	led := newFakeLedger("a")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))

	require.Len(t, led.fills, 1)
	fill := led.fills[0]
	assert.Equal(t, int64(50000), fill.EntryPrice)
	assert.Equal(t, int64(1*fixed.Scale), fill.PositionSize)
	assert.Equal(t, int64(40000), fill.LiquidationPrice)
	assert.Equal(t, 0, bk.MarketDepth(types.AssetBTC))
}

func TestMarketFIFOFairness(t *testing.T) {
	led := newFakeLedger("a", "b")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	bk.EnqueueMarket(types.AssetBTC, marketOrder("b", types.SideShort))
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))

	assert.Equal(t, []string{"a", "b"}, led.fillIDs())
}

func TestMarketFillIdempotentUnderRedelivery(t *testing.T) {
	led := newFakeLedger("a")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	// The same order lands in the book twice, as a redelivered order
	// stream entry would put it.
	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))
	// And the tick itself is delivered twice.
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))

	assert.Equal(t, []string{"a"}, led.fillIDs())
}

func TestMarketCancelledOrderDiscarded(t *testing.T) {
	led := newFakeLedger("a", "b")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	bk.EnqueueMarket(types.AssetBTC, marketOrder("b", types.SideLong))
	bk.MarkCancelled("a")
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))

	assert.Equal(t, []string{"b"}, led.fillIDs())
	// The tombstone is released once the order left the book.
	assert.False(t, bk.IsCancelled("a"))
}

func TestCancelAfterDequeueLosesRace(t *testing.T) {
	led := newFakeLedger("a")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))

	// CANCEL processed after the fill committed: tombstone lands but the
	// order already filled. Accepted behavior, not an error.
	bk.MarkCancelled("a")
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))
	assert.Equal(t, []string{"a"}, led.fillIDs())
}

func TestRetryableFailureRequeuesOrder(t *testing.T) {
	led := newFakeLedger("a")
	led.failNext = errors.New("store unavailable")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.EnqueueMarket(types.AssetBTC, marketOrder("a", types.SideLong))
	err := e.MarketPass(context.Background(), types.AssetBTC, 50000)
	require.Error(t, err)

	// The order is back at the head and fills on the retried pass.
	assert.Equal(t, 1, bk.MarketDepth(types.AssetBTC))
	require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))
	assert.Equal(t, []string{"a"}, led.fillIDs())
}

func TestLongLimitCrossesAtOrBelowLimit(t *testing.T) {
	for _, tc := range []struct {
		price int64
		fills bool
	}{
		{101, false},
		{100, true},
		{99, true},
	} {
		led := newFakeLedger("l")
		bk := book.NewStore()
		e := NewEngine(bk, led, zap.NewNop())
		bk.AddLimit(types.AssetBTC, types.SideLong, limitOrder("l", types.SideLong, 100))

		require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, tc.price))
		if tc.fills {
			assert.Equal(t, []string{"l"}, led.fillIDs(), "price %d", tc.price)
			assert.Equal(t, 0, bk.LimitDepth(types.AssetBTC, types.SideLong))
		} else {
			assert.Empty(t, led.fillIDs(), "price %d", tc.price)
			assert.Equal(t, 1, bk.LimitDepth(types.AssetBTC, types.SideLong))
		}
	}
}

func TestShortLimitCrossesAtOrAboveLimit(t *testing.T) {
	for _, tc := range []struct {
		price int64
		fills bool
	}{
		{99, false},
		{100, true},
		{101, true},
	} {
		led := newFakeLedger("s")
		bk := book.NewStore()
		e := NewEngine(bk, led, zap.NewNop())
		bk.AddLimit(types.AssetBTC, types.SideShort, limitOrder("s", types.SideShort, 100))

		require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, tc.price))
		if tc.fills {
			assert.Equal(t, []string{"s"}, led.fillIDs(), "price %d", tc.price)
		} else {
			assert.Empty(t, led.fillIDs(), "price %d", tc.price)
		}
	}
}

func TestLimitScanStopsAtFirstNonCrossing(t *testing.T) {
	led := newFakeLedger("near", "far")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	// Longs at 100 and 90; at price 95 only the 100 crosses, and the 90
	// must stay resting.
	bk.AddLimit(types.AssetBTC, types.SideLong, limitOrder("near", types.SideLong, 100))
	bk.AddLimit(types.AssetBTC, types.SideLong, limitOrder("far", types.SideLong, 90))
	require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, 95))

	assert.Equal(t, []string{"near"}, led.fillIDs())
	assert.Equal(t, 1, bk.LimitDepth(types.AssetBTC, types.SideLong))
}

func TestLimitCancelledEvictedWithoutFill(t *testing.T) {
	led := newFakeLedger("c", "live")
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.AddLimit(types.AssetBTC, types.SideShort, limitOrder("c", types.SideShort, 100))
	bk.AddLimit(types.AssetBTC, types.SideShort, limitOrder("live", types.SideShort, 105))
	bk.MarkCancelled("c")
	require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, 110))

	assert.Equal(t, []string{"live"}, led.fillIDs())
	assert.Equal(t, 0, bk.LimitDepth(types.AssetBTC, types.SideShort))
}

func TestLimitAlreadyFilledEntryEvicted(t *testing.T) {
	led := newFakeLedger() // no active rows: every fill reports gone
	bk := book.NewStore()
	e := NewEngine(bk, led, zap.NewNop())

	bk.AddLimit(types.AssetBTC, types.SideLong, limitOrder("gone", types.SideLong, 100))
	require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, 99))

	assert.Empty(t, led.fillIDs())
	assert.Equal(t, 0, bk.LimitDepth(types.AssetBTC, types.SideLong))
}

func TestRecoveryReproducesLiveFills(t *testing.T) {
	rows := []model.ActiveOrder{
		{ID: "m1", UserID: "u1", Asset: types.AssetBTC, Side: types.SideLong, Kind: types.OrderKindMarket, State: types.OrderStateActive, Margin: 10000, Leverage: 5},
		{ID: "l1", UserID: "u2", Asset: types.AssetBTC, Side: types.SideLong, Kind: types.OrderKindLimit, State: types.OrderStateActive, LimitPrice: 51000, Margin: 10000, Leverage: 2},
		{ID: "l2", UserID: "u2", Asset: types.AssetBTC, Side: types.SideShort, Kind: types.OrderKindLimit, State: types.OrderStateActive, LimitPrice: 49000, Margin: 10000, Leverage: 2},
	}

	run := func(populate func(bk *book.Store)) []string {
		led := newFakeLedger("m1", "l1", "l2")
		bk := book.NewStore()
		e := NewEngine(bk, led, zap.NewNop())
		populate(bk)
		require.NoError(t, e.MarketPass(context.Background(), types.AssetBTC, 50000))
		require.NoError(t, e.LimitPass(context.Background(), types.AssetBTC, 50000))
		return led.fillIDs()
	}

	live := run(func(bk *book.Store) {
		for _, row := range rows {
			order := model.PendingOrder{ID: row.ID, UserID: row.UserID, Asset: row.Asset, Side: row.Side, Kind: row.Kind, LimitPrice: row.LimitPrice, Margin: row.Margin, Leverage: row.Leverage}
			if row.Kind == types.OrderKindMarket {
				bk.EnqueueMarket(row.Asset, order)
			} else {
				bk.AddLimit(row.Asset, row.Side, order)
			}
		}
	})
	recovered := run(func(bk *book.Store) { bk.Load(rows) })

	assert.Equal(t, live, recovered)
	assert.Equal(t, []string{"m1", "l1", "l2"}, recovered)
}
