package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idempotency_key TEXT NOT NULL UNIQUE,
		status INTEGER NOT NULL,
		warehouse TEXT NOT NULL,
		address_recipient TEXT NOT NULL,
		address_phone TEXT NOT NULL DEFAULT '',
		address_email TEXT NOT NULL DEFAULT '',
		address_line1 TEXT NOT NULL,
		address_line2 TEXT NOT NULL DEFAULT '',
		address_line3 TEXT NOT NULL DEFAULT '',
		address_line4 TEXT NOT NULL DEFAULT '',
		address_city TEXT NOT NULL,
		address_zip TEXT NOT NULL DEFAULT '',
		address_country TEXT NOT NULL,
		contact TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	`CREATE TABLE IF NOT EXISTS status_change (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		changed_at INTEGER NOT NULL,
		status INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_change_order ON status_change(order_id)`,
	`CREATE TABLE IF NOT EXISTS inventory_checkout (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		item TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price_each TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inventory_checkout_order ON inventory_checkout(order_id)`,
	`CREATE TABLE IF NOT EXISTS inventory_list (
		item TEXT NOT NULL PRIMARY KEY,
		quantity_ante INTEGER NOT NULL DEFAULT 0,
		quantity_us INTEGER NOT NULL DEFAULT 0
	)`,
}

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	upsertBaseline: `
		INSERT INTO inventory_list (item, quantity_ante, quantity_us) VALUES (?, ?, ?)
		ON CONFLICT(item) DO UPDATE SET quantity_ante = excluded.quantity_ante, quantity_us = excluded.quantity_us`,
	upsertColumn: `
		INSERT INTO inventory_list (item, %[1]s) VALUES (?, ?)
		ON CONFLICT(item) DO UPDATE SET %[1]s = excluded.%[1]s`,
	isDuplicate: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
	isTransient: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
	},
}

// sqliteParams are applied by the driver to every connection it opens.
var sqliteParams = []string{
	"_journal_mode=WAL",
	"_synchronous=NORMAL",
	"_busy_timeout=5000",
	"_foreign_keys=on",
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(sqliteParams, "&")
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path and applies
// the schema. SQLite allows one writer at a time, so the pool is limited to a
// single connection.
func OpenSQLite(path string, opts ...Option) (*SQLAdapter, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := newSQLAdapter(db, sqliteDialect, opts...)
	if err := a.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return a, nil
}
