package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		idempotency_key VARCHAR(128) NOT NULL,
		status INT NOT NULL,
		warehouse VARCHAR(8) NOT NULL,
		address_recipient VARCHAR(255) NOT NULL,
		address_phone VARCHAR(64) NOT NULL DEFAULT '',
		address_email VARCHAR(255) NOT NULL DEFAULT '',
		address_line1 VARCHAR(255) NOT NULL,
		address_line2 VARCHAR(255) NOT NULL DEFAULT '',
		address_line3 VARCHAR(255) NOT NULL DEFAULT '',
		address_line4 VARCHAR(255) NOT NULL DEFAULT '',
		address_city VARCHAR(255) NOT NULL,
		address_zip VARCHAR(32) NOT NULL DEFAULT '',
		address_country VARCHAR(255) NOT NULL,
		contact VARCHAR(255) NOT NULL,
		ip VARCHAR(64) NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE KEY uq_orders_idempotency_key (idempotency_key),
		KEY idx_orders_status (status)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS status_change (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		changed_at BIGINT NOT NULL,
		status INT NOT NULL,
		KEY idx_status_change_order (order_id),
		CONSTRAINT fk_status_change_order FOREIGN KEY (order_id) REFERENCES orders(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS inventory_checkout (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		item VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		price_each DECIMAL(14,4) NOT NULL,
		KEY idx_inventory_checkout_order (order_id),
		CONSTRAINT fk_inventory_checkout_order FOREIGN KEY (order_id) REFERENCES orders(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS inventory_list (
		item VARCHAR(64) NOT NULL PRIMARY KEY,
		quantity_ante INT NOT NULL DEFAULT 0,
		quantity_us INT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
}

var mysqlDialect = dialect{
	name:    "mysql",
	schema:  mysqlSchema,
	lockRow: " FOR UPDATE",
	upsertBaseline: `
		INSERT INTO inventory_list (item, quantity_ante, quantity_us) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity_ante = VALUES(quantity_ante), quantity_us = VALUES(quantity_us)`,
	upsertColumn: `
		INSERT INTO inventory_list (item, %[1]s) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE %[1]s = VALUES(%[1]s)`,
	isDuplicate: func(err error) bool {
		return mysqlErrorNumber(err) == mysqlDuplicateEntry
	},
	isTransient: func(err error) bool {
		switch mysqlErrorNumber(err) {
		case mysqlDeadlockDetected, mysqlLockWaitTimeout:
			return true
		}
		return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn)
	},
}

func mysqlErrorNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// NewMySQLAdapter wraps an open MySQL pool.
func NewMySQLAdapter(db *sql.DB, opts ...Option) *SQLAdapter {
	return newSQLAdapter(db, mysqlDialect, opts...)
}

// PoolConfig sizes the MySQL connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL opens and pings a MySQL pool.
func OpenMySQL(ctx context.Context, dsn string, pool PoolConfig, opts ...Option) (*SQLAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return NewMySQLAdapter(db, opts...), nil
}
