package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the full PostgreSQL schema. SentTrade/ReceivedTrade double as
// the per-user index of trades, hence the user id indexes.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS wallets (
    user_id TEXT PRIMARY KEY,
    balance NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS owned_items (
    user_id  TEXT NOT NULL,
    item_id  TEXT NOT NULL REFERENCES items(id),
    quantity BIGINT NOT NULL CHECK (quantity > 0),
    PRIMARY KEY (user_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_owned_items_item ON owned_items(item_id);

CREATE TABLE IF NOT EXISTS locked_items (
    user_id  TEXT NOT NULL,
    item_id  TEXT NOT NULL,
    quantity BIGINT NOT NULL CHECK (quantity > 0),
    PRIMARY KEY (user_id, item_id),
    FOREIGN KEY (user_id, item_id) REFERENCES owned_items(user_id, item_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id            TEXT PRIMARY KEY,
    sent_date     TIMESTAMPTZ NOT NULL,
    response_date TIMESTAMPTZ,
    response      BOOLEAN
);

CREATE TABLE IF NOT EXISTS sent_trades (
    trade_id  TEXT PRIMARY KEY REFERENCES trades(id) ON DELETE CASCADE,
    sender_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sent_trades_sender ON sent_trades(sender_id);

CREATE TABLE IF NOT EXISTS received_trades (
    trade_id    TEXT PRIMARY KEY REFERENCES trades(id) ON DELETE CASCADE,
    receiver_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_received_trades_receiver ON received_trades(receiver_id);

CREATE TABLE IF NOT EXISTS trade_contents (
    trade_id TEXT NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
    item_id  TEXT NOT NULL,
    quantity BIGINT NOT NULL CHECK (quantity > 0),
    price    NUMERIC NOT NULL CHECK (price >= 0),
    PRIMARY KEY (trade_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_trade_contents_item ON trade_contents(item_id);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
