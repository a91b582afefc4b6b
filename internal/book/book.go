// Package book holds the transient matching state: per-asset FIFOs of
// pending market orders, per-asset price-sorted limit indices, cancellation
// tombstones, and the order payloads themselves. The ledger is the source
// of truth; the book is a cache that Load can rebuild after a crash.
package book

import (
	"sort"
	"sync"

	"levx/internal/model"
	"levx/internal/types"
)

type sideKey struct {
	asset types.Asset
	side  types.Side
}

type limitEntry struct {
	price   int64
	orderID string
}

type Store struct {
	mu        sync.Mutex
	market    map[types.Asset][]model.PendingOrder
	limits    map[sideKey][]limitEntry
	payloads  map[string]model.PendingOrder
	cancelled map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		market:    make(map[types.Asset][]model.PendingOrder),
		limits:    make(map[sideKey][]limitEntry),
		payloads:  make(map[string]model.PendingOrder),
		cancelled: make(map[string]struct{}),
	}
}

// EnqueueMarket appends the order to the asset's FIFO. Insertion order is
// matching priority.
func (s *Store) EnqueueMarket(asset types.Asset, order model.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market[asset] = append(s.market[asset], order)
}

// RequeueMarket puts an order back at the head of the FIFO. Used when a
// fill attempt failed on a retryable error, so priority is preserved.
func (s *Store) RequeueMarket(asset types.Asset, order model.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market[asset] = append([]model.PendingOrder{order}, s.market[asset]...)
}

// DequeueMarket pops the oldest market order for the asset. It never blocks.
func (s *Store) DequeueMarket(asset types.Asset) (model.PendingOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.market[asset]
	if len(q) == 0 {
		return model.PendingOrder{}, false
	}
	order := q[0]
	s.market[asset] = q[1:]
	return order, true
}

// AddLimit stores the payload and inserts the order into the side's price
// index. Orders at the same price keep arrival order.
func (s *Store) AddLimit(asset types.Asset, side types.Side, order model.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[order.ID] = order
	k := sideKey{asset: asset, side: side}
	idx := s.limits[k]
	pos := sort.Search(len(idx), func(i int) bool { return idx[i].price > order.LimitPrice })
	idx = append(idx, limitEntry{})
	copy(idx[pos+1:], idx[pos:])
	idx[pos] = limitEntry{price: order.LimitPrice, orderID: order.ID}
	s.limits[k] = idx
}

// RemoveLimit deletes the price-index entry and the payload. Removing an
// absent id is a no-op.
func (s *Store) RemoveLimit(asset types.Asset, side types.Side, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLimitLocked(sideKey{asset: asset, side: side}, orderID)
}

func (s *Store) removeLimitLocked(k sideKey, orderID string) {
	idx := s.limits[k]
	for i, e := range idx {
		if e.orderID == orderID {
			s.limits[k] = append(idx[:i], idx[i+1:]...)
			break
		}
	}
	delete(s.payloads, orderID)
}

// BestLimit returns the most crossable order on a side: the highest-priced
// long or the lowest-priced short. If that one does not cross the current
// price, no order on the side does.
func (s *Store) BestLimit(asset types.Asset, side types.Side) (model.PendingOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.limits[sideKey{asset: asset, side: side}]
	if len(idx) == 0 {
		return model.PendingOrder{}, false
	}
	var e limitEntry
	if side == types.SideLong {
		e = idx[len(idx)-1]
	} else {
		e = idx[0]
	}
	order, ok := s.payloads[e.orderID]
	if !ok {
		// Stale index entry; report it with just the id so the caller
		// can evict.
		return model.PendingOrder{ID: e.orderID, Asset: asset, Side: side}, true
	}
	return order, true
}

// HasPayload reports whether the full payload for the id is still stored.
func (s *Store) HasPayload(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payloads[orderID]
	return ok
}

// MarkCancelled tombstones an order id. Market orders cannot be pulled out
// of the middle of a FIFO, so cancellation is recorded here and honored
// when the order is eventually dequeued.
func (s *Store) MarkCancelled(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[orderID] = struct{}{}
}

// IsCancelled consults the tombstone set.
func (s *Store) IsCancelled(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[orderID]
	return ok
}

// DropCancelled evicts a tombstone once its order has left the book.
func (s *Store) DropCancelled(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelled, orderID)
}

// Load bulk-populates the book from still-open ledger rows. Used only at
// startup, before the consumer loops begin.
func (s *Store) Load(orders []model.ActiveOrder) {
	for _, row := range orders {
		order := model.PendingOrder{
			ID:         row.ID,
			UserID:     row.UserID,
			Asset:      row.Asset,
			Side:       row.Side,
			Kind:       row.Kind,
			LimitPrice: row.LimitPrice,
			Margin:     row.Margin,
			Leverage:   row.Leverage,
			TakeProfit: row.TakeProfit,
			StopLoss:   row.StopLoss,
		}
		if row.Kind == types.OrderKindMarket {
			s.EnqueueMarket(row.Asset, order)
		} else {
			s.AddLimit(row.Asset, row.Side, order)
		}
	}
}

// MarketDepth reports the number of queued market orders for the asset.
func (s *Store) MarketDepth(asset types.Asset) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.market[asset])
}

// LimitDepth reports the number of resting limit orders on one side.
func (s *Store) LimitDepth(asset types.Asset, side types.Side) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limits[sideKey{asset: asset, side: side}])
}
