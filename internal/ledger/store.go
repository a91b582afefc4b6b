// Package ledger is the durable side of the exchange: balances, active
// orders, open and closed positions, and archived price ticks. Every
// mutation that touches more than one row runs inside a single pgx
// transaction, so no half-applied fill or close is ever visible.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"levx/internal/model"
	"levx/internal/types"
)

var (
	// ErrOrderGone reports that the referenced active order row no longer
	// exists: it was filled or cancelled by a prior pass. Callers treat it
	// as already-applied, not as a failure.
	ErrOrderGone = errors.New("active order no longer exists")

	// ErrPositionGone reports that the referenced position row no longer
	// exists. A close racing another close or a liquidation lands here.
	ErrPositionGone = errors.New("position no longer exists")

	ErrInsufficientBalance = errors.New("insufficient balance")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const activeOrderColumns = "id, user_id, asset, side, kind, state, coalesce(limit_price, 0), margin, leverage, take_profit, stop_loss, created_at"

func scanActiveOrder(row pgx.Row) (model.ActiveOrder, error) {
	var o model.ActiveOrder
	var asset, side, kind, state string
	err := row.Scan(&o.ID, &o.UserID, &asset, &side, &kind, &state, &o.LimitPrice, &o.Margin, &o.Leverage, &o.TakeProfit, &o.StopLoss, &o.CreatedAt)
	if err != nil {
		return model.ActiveOrder{}, err
	}
	o.Asset = types.Asset(asset)
	o.Side = types.Side(side)
	o.Kind = types.OrderKind(kind)
	o.State = types.OrderState(state)
	return o, nil
}

func (s *Store) FindActiveOrder(ctx context.Context, id string) (model.ActiveOrder, error) {
	row := s.pool.QueryRow(ctx, "select "+activeOrderColumns+" from active_orders where id = $1", id)
	o, err := scanActiveOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActiveOrder{}, ErrOrderGone
	}
	return o, err
}

// ActivateOrder transitions a CREATED order to ACTIVE and returns the
// updated row. The transition is conditional on the current state: a row
// that was already cancelled, already activated, or filled and deleted
// reports ErrOrderGone, so a recorded cancellation is never undone by a
// late or redelivered order entry.
func (s *Store) ActivateOrder(ctx context.Context, id string) (model.ActiveOrder, error) {
	row := s.pool.QueryRow(ctx, "update active_orders set state = $2 where id = $1 and state = $3 returning "+activeOrderColumns,
		id, string(types.OrderStateActive), string(types.OrderStateCreated))
	o, err := scanActiveOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActiveOrder{}, ErrOrderGone
	}
	return o, err
}

// CancelOrder marks the order CANCELLED whatever its current state and
// returns the updated row. A filled order has no row left, so the cancel
// lost the race and ErrOrderGone is reported.
func (s *Store) CancelOrder(ctx context.Context, id string) (model.ActiveOrder, error) {
	row := s.pool.QueryRow(ctx, "update active_orders set state = $2 where id = $1 returning "+activeOrderColumns,
		id, string(types.OrderStateCancelled))
	o, err := scanActiveOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActiveOrder{}, ErrOrderGone
	}
	return o, err
}

// ListActiveOrders returns every order still in ACTIVE state, oldest first,
// for rebuilding the book at startup.
func (s *Store) ListActiveOrders(ctx context.Context) ([]model.ActiveOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+activeOrderColumns+" from active_orders where state = $1 order by created_at", string(types.OrderStateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ActiveOrder
	for rows.Next() {
		o, err := scanActiveOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrder reserves margin and writes the CREATED order row in one
// transaction. The caller publishes to the order stream only after this
// commits, so every stream entry refers to an already-reserved order.
func (s *Store) CreateOrder(ctx context.Context, order model.PendingOrder) (string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)
	var balance int64
	err = tx.QueryRow(ctx, "select balance from users where id = $1 for update", order.UserID).Scan(&balance)
	if err != nil {
		return "", err
	}
	if balance < order.Margin {
		return "", ErrInsufficientBalance
	}
	if _, err := tx.Exec(ctx, "update users set balance = balance - $2 where id = $1", order.UserID, order.Margin); err != nil {
		return "", err
	}
	var limitPrice *int64
	if order.Kind == types.OrderKindLimit {
		limitPrice = &order.LimitPrice
	}
	var id string
	err = tx.QueryRow(ctx,
		"insert into active_orders (user_id, asset, side, kind, state, limit_price, margin, leverage, take_profit, stop_loss) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) returning id",
		order.UserID, string(order.Asset), string(order.Side), string(order.Kind), string(types.OrderStateCreated), limitPrice, order.Margin, order.Leverage, order.TakeProfit, order.StopLoss).Scan(&id)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// FillOrder converts a pending order into a position. The active order row
// is re-checked under the transaction: if it is already gone the fill was
// applied by an earlier (possibly redelivered) pass and ErrOrderGone is
// returned with nothing written.
func (s *Store) FillOrder(ctx context.Context, order model.PendingOrder, entryPrice, positionSize, liquidationPrice int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	var exists bool
	err = tx.QueryRow(ctx, "select exists (select 1 from active_orders where id = $1 for update)", order.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrOrderGone
	}
	_, err = tx.Exec(ctx,
		"insert into positions (user_id, asset, side, margin, leverage, entry_price, position_size, liquidation_price, take_profit, stop_loss) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		order.UserID, string(order.Asset), string(order.Side), order.Margin, order.Leverage, entryPrice, positionSize, liquidationPrice, order.TakeProfit, order.StopLoss)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "delete from active_orders where id = $1", order.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const positionColumns = "id, user_id, asset, side, margin, leverage, entry_price, position_size, liquidation_price, take_profit, stop_loss, opened_at"

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var asset, side string
	err := row.Scan(&p.ID, &p.UserID, &asset, &side, &p.Margin, &p.Leverage, &p.EntryPrice, &p.PositionSize, &p.LiquidationPrice, &p.TakeProfit, &p.StopLoss, &p.OpenedAt)
	if err != nil {
		return model.Position{}, err
	}
	p.Asset = types.Asset(asset)
	p.Side = types.Side(side)
	return p, nil
}

func (s *Store) FindPosition(ctx context.Context, id, userID string) (model.Position, error) {
	row := s.pool.QueryRow(ctx, "select "+positionColumns+" from positions where id = $1 and user_id = $2", id, userID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, ErrPositionGone
	}
	return p, err
}

// ClosePosition settles a position: credit margin plus realized pnl back to
// the user, snapshot the closed position, delete the open one. If the row
// vanished between lookup and delete, nothing is written and
// ErrPositionGone is returned.
func (s *Store) ClosePosition(ctx context.Context, pos model.Position, exitPrice, realizedPnl int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx, "delete from positions where id = $1", pos.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionGone
	}
	if _, err := tx.Exec(ctx, "update users set balance = balance + $2 where id = $1", pos.UserID, pos.Margin+realizedPnl); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"insert into closed_positions (user_id, asset, side, margin, leverage, entry_price, exit_price, position_size, realized_pnl, opened_at, closed_at) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		pos.UserID, string(pos.Asset), string(pos.Side), pos.Margin, pos.Leverage, pos.EntryPrice, exitPrice, pos.PositionSize, realizedPnl, pos.OpenedAt, time.Now().UTC())
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, "select balance from users where id = $1", userID).Scan(&balance)
	return balance, err
}

func (s *Store) OpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 order by opened_at desc", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ClosedPositions(ctx context.Context, userID string) ([]model.ClosedPosition, error) {
	rows, err := s.pool.Query(ctx, "select id, user_id, asset, side, margin, leverage, entry_price, exit_price, position_size, realized_pnl, opened_at, closed_at from closed_positions where user_id = $1 order by closed_at desc", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClosedPosition
	for rows.Next() {
		var c model.ClosedPosition
		var asset, side string
		if err := rows.Scan(&c.ID, &c.UserID, &asset, &side, &c.Margin, &c.Leverage, &c.EntryPrice, &c.ExitPrice, &c.PositionSize, &c.RealizedPnl, &c.OpenedAt, &c.ClosedAt); err != nil {
			return nil, err
		}
		c.Asset = types.Asset(asset)
		c.Side = types.Side(side)
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertTicks bulk-loads archived price ticks. Redelivered ticks collide
// on the (time, asset) key and are skipped, so the archiver can safely
// re-insert a batch it already wrote.
func (s *Store) InsertTicks(ctx context.Context, ticks []model.PriceTick) (int64, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	var batch pgx.Batch
	for _, t := range ticks {
		batch.Queue("insert into price_ticks (time, asset, price) values ($1, $2, $3) on conflict (time, asset) do nothing", t.Timestamp, string(t.Asset), t.Price)
	}
	res := s.pool.SendBatch(ctx, &batch)
	defer res.Close()
	var inserted int64
	for range ticks {
		tag, err := res.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, res.Close()
}
