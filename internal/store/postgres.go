package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/item-exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Inside a unit of work, reads of mutable rows take row locks
// (SELECT ... FOR UPDATE) so concurrent read-modify-write on the same
// (user, item) pair, wallet or trade serializes at the row.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	tx := &pgTx{pgQueries: pgQueries{q: pgtx, lock: " FOR UPDATE"}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	tx.hooks.run(ctx)
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgQueries implements Queries. lock is appended to reads of mutable rows.
type pgQueries struct {
	q    querier
	lock string
}

func (p pgQueries) GetOwnedItem(ctx context.Context, userID, itemID string) (*model.OwnedItem, error) {
	it := model.OwnedItem{UserID: userID, ItemID: itemID}
	err := p.q.QueryRow(ctx,
		`SELECT quantity FROM owned_items WHERE user_id = $1 AND item_id = $2`+p.lock,
		userID, itemID).Scan(&it.Quantity)
	if err != nil {
		return nil, notFound(err, "get owned item %s/%s", userID, itemID)
	}
	return &it, nil
}

func (p pgQueries) GetLockedItem(ctx context.Context, userID, itemID string) (*model.LockedItem, error) {
	it := model.LockedItem{UserID: userID, ItemID: itemID}
	err := p.q.QueryRow(ctx,
		`SELECT quantity FROM locked_items WHERE user_id = $1 AND item_id = $2`+p.lock,
		userID, itemID).Scan(&it.Quantity)
	if err != nil {
		return nil, notFound(err, "get locked item %s/%s", userID, itemID)
	}
	return &it, nil
}

func (p pgQueries) ListOwnedItems(ctx context.Context, userID string) ([]model.OwnedItem, error) {
	rows, err := p.q.Query(ctx,
		`SELECT user_id, item_id, quantity FROM owned_items WHERE user_id = $1 ORDER BY item_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned items of %s: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OwnedItem, error) {
		var it model.OwnedItem
		err := row.Scan(&it.UserID, &it.ItemID, &it.Quantity)
		return it, err
	})
}

func (p pgQueries) ListOwnersOfItem(ctx context.Context, itemID string) ([]string, error) {
	return p.ids(ctx, `SELECT user_id FROM owned_items WHERE item_id = $1 ORDER BY user_id`, itemID)
}

func (p pgQueries) GetCatalogItem(ctx context.Context, itemID string) (*model.CatalogItem, error) {
	var it model.CatalogItem
	err := p.q.QueryRow(ctx,
		`SELECT id, name, description FROM items WHERE id = $1`, itemID).
		Scan(&it.ID, &it.Name, &it.Description)
	if err != nil {
		return nil, notFound(err, "get catalog item %s", itemID)
	}
	return &it, nil
}

func (p pgQueries) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := p.q.QueryRow(ctx,
		`SELECT id, display_name FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.DisplayName)
	if err != nil {
		return nil, notFound(err, "get user %s", userID)
	}
	return &u, nil
}

func (p pgQueries) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := p.q.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE user_id = $1`+p.lock, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance of %s: %w", userID, err)
	}
	return decimal.NewFromString(balance)
}

func (p pgQueries) GetTrade(ctx context.Context, tradeID string) (*model.Trade, error) {
	var t model.Trade
	lock := p.lock
	if lock != "" {
		lock = " FOR UPDATE OF t"
	}
	err := p.q.QueryRow(ctx,
		`SELECT t.id, s.sender_id, r.receiver_id, t.sent_date, t.response_date, t.response
		 FROM trades t
		 JOIN sent_trades s ON s.trade_id = t.id
		 JOIN received_trades r ON r.trade_id = t.id
		 WHERE t.id = $1`+lock, tradeID).
		Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.SentDate, &t.ResponseDate, &t.Response)
	if err != nil {
		return nil, notFound(err, "get trade %s", tradeID)
	}

	t.Contents, err = p.ListTradeContents(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p pgQueries) ListTradeContents(ctx context.Context, tradeID string) ([]model.TradeContent, error) {
	rows, err := p.q.Query(ctx,
		`SELECT trade_id, item_id, quantity, price::TEXT
		 FROM trade_contents WHERE trade_id = $1 ORDER BY item_id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list contents of trade %s: %w", tradeID, err)
	}
	return pgx.CollectRows(rows, scanTradeContent)
}

// scanTradeContent reads one trade_contents row. The price arrives as
// NUMERIC text so no precision is lost on the way to decimal.
func scanTradeContent(row pgx.CollectableRow) (model.TradeContent, error) {
	var c model.TradeContent
	var price string
	if err := row.Scan(&c.TradeID, &c.ItemID, &c.Quantity, &price); err != nil {
		return c, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return c, fmt.Errorf("price of %s in trade %s: %w", c.ItemID, c.TradeID, err)
	}
	c.Price = p
	return c, nil
}

func (p pgQueries) ListSentTradeIDs(ctx context.Context, userID string) ([]string, error) {
	return p.ids(ctx,
		`SELECT s.trade_id FROM sent_trades s JOIN trades t ON t.id = s.trade_id
		 WHERE s.sender_id = $1 ORDER BY t.sent_date, t.id`, userID)
}

func (p pgQueries) ListReceivedTradeIDs(ctx context.Context, userID string) ([]string, error) {
	return p.ids(ctx,
		`SELECT r.trade_id FROM received_trades r JOIN trades t ON t.id = r.trade_id
		 WHERE r.receiver_id = $1 ORDER BY t.sent_date, t.id`, userID)
}

func (p pgQueries) ListTradesUsingItem(ctx context.Context, itemID string) ([]string, error) {
	return p.ids(ctx,
		`SELECT c.trade_id FROM trade_contents c JOIN trades t ON t.id = c.trade_id
		 WHERE c.item_id = $1 ORDER BY t.sent_date, t.id`, itemID)
}

func (p pgQueries) ids(ctx context.Context, sql string, arg string) ([]string, error) {
	rows, err := p.q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list ids for %s: %w", arg, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// pgTx is a unit of work on one pgx transaction.
type pgTx struct {
	pgQueries
	hooks hooks
}

func (tx *pgTx) AfterCommit(fn func(ctx context.Context)) { tx.hooks.add(fn) }

func (tx *pgTx) PutOwnedItem(ctx context.Context, it model.OwnedItem) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO owned_items (user_id, item_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		it.UserID, it.ItemID, it.Quantity)
	if err != nil {
		return fmt.Errorf("put owned item %s/%s: %w", it.UserID, it.ItemID, err)
	}
	return nil
}

func (tx *pgTx) DeleteOwnedItem(ctx context.Context, userID, itemID string) error {
	_, err := tx.q.Exec(ctx,
		`DELETE FROM owned_items WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	if err != nil {
		return fmt.Errorf("delete owned item %s/%s: %w", userID, itemID, err)
	}
	return nil
}

func (tx *pgTx) PutLockedItem(ctx context.Context, it model.LockedItem) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO locked_items (user_id, item_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		it.UserID, it.ItemID, it.Quantity)
	if err != nil {
		return fmt.Errorf("put locked item %s/%s: %w", it.UserID, it.ItemID, err)
	}
	return nil
}

func (tx *pgTx) DeleteLockedItem(ctx context.Context, userID, itemID string) error {
	_, err := tx.q.Exec(ctx,
		`DELETE FROM locked_items WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	if err != nil {
		return fmt.Errorf("delete locked item %s/%s: %w", userID, itemID, err)
	}
	return nil
}

func (tx *pgTx) CreateCatalogItem(ctx context.Context, it model.CatalogItem) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO items (id, name, description) VALUES ($1, $2, $3)`,
		it.ID, it.Name, it.Description)
	if err != nil {
		return fmt.Errorf("create catalog item %s: %w", it.ID, err)
	}
	return nil
}

func (tx *pgTx) DeleteCatalogItem(ctx context.Context, itemID string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete catalog item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) PutUser(ctx context.Context, u model.User) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO users (id, display_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		u.ID, u.DisplayName)
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	return nil
}

func (tx *pgTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	_, err := tx.q.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		userID, delta.String())
	if err != nil {
		return fmt.Errorf("adjust balance of %s: %w", userID, err)
	}
	return nil
}

func (tx *pgTx) InsertTrade(ctx context.Context, t *model.Trade) error {
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO trades (id, sent_date) VALUES ($1, $2)`, t.ID, t.SentDate)
	batch.Queue(`INSERT INTO sent_trades (trade_id, sender_id) VALUES ($1, $2)`, t.ID, t.SenderID)
	batch.Queue(`INSERT INTO received_trades (trade_id, receiver_id) VALUES ($1, $2)`, t.ID, t.ReceiverID)
	for _, c := range t.Contents {
		batch.Queue(
			`INSERT INTO trade_contents (trade_id, item_id, quantity, price) VALUES ($1, $2, $3, $4::NUMERIC)`,
			t.ID, c.ItemID, c.Quantity, c.Price.String())
	}

	if err := tx.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (tx *pgTx) SetTradeResponse(ctx context.Context, tradeID string, accepted bool, at time.Time) error {
	tag, err := tx.q.Exec(ctx,
		`UPDATE trades SET response = $2, response_date = $3
		 WHERE id = $1 AND response IS NULL`, tradeID, accepted, at)
	if err != nil {
		return fmt.Errorf("set response of trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) DeleteTrade(ctx context.Context, tradeID string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM trades WHERE id = $1`, tradeID)
	if err != nil {
		return fmt.Errorf("delete trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
