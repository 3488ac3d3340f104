package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

const (
	defaultRetries = 3
	defaultBackoff = 20 * time.Millisecond
)

// dialect holds what differs between the SQL engines backing the ledger.
type dialect struct {
	name string
	// schema is applied statement by statement.
	schema []string
	// lockRow is appended to a single-row SELECT inside a transaction.
	lockRow string
	// upsertBaseline writes one full inventory_list row.
	upsertBaseline string
	// upsertColumn is a format string taking the column to overwrite.
	upsertColumn string
	isDuplicate  func(error) bool
	isTransient  func(error) bool
}

// SQLAdapter is the ledger on a relational database. Uniqueness of the
// idempotency key is enforced by a unique index; consumption is derived from
// line items on every read.
type SQLAdapter struct {
	db      *sql.DB
	dialect dialect
	retries int
	backoff time.Duration
}

type Option func(*SQLAdapter)

// WithRetries sets how many times a transaction is attempted when the
// engine reports a deadlock or busy database.
func WithRetries(n int) Option {
	return func(a *SQLAdapter) {
		if n > 0 {
			a.retries = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(a *SQLAdapter) {
		if d > 0 {
			a.backoff = d
		}
	}
}

func newSQLAdapter(db *sql.DB, d dialect, opts ...Option) *SQLAdapter {
	a := &SQLAdapter{db: db, dialect: d, retries: defaultRetries, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SQLAdapter) DB() *sql.DB {
	return a.db
}

func (a *SQLAdapter) Dialect() string {
	return a.dialect.name
}

func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

// Migrate creates the ledger tables if they do not exist.
func (a *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range a.dialect.schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", a.dialect.name, err)
		}
	}
	return nil
}

func (a *SQLAdapter) CreateOrderAtomic(ctx context.Context, order domain.Order, items []domain.LineItem, initial domain.OrderStatus) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := a.withRetry(ctx, "create order", func() error {
		var err error
		id, created, err = a.createOrder(ctx, order, items, initial)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func (a *SQLAdapter) createOrder(ctx context.Context, order domain.Order, items []domain.LineItem, initial domain.OrderStatus) (int64, bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	addr := order.Address
	result, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			idempotency_key, status, warehouse, contact, ip, message, created_at,
			address_recipient, address_phone, address_email,
			address_line1, address_line2, address_line3, address_line4,
			address_city, address_zip, address_country
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.IdempotencyKey, int(initial), string(order.Warehouse), order.Contact, order.IP, order.Message, order.CreatedAt.Unix(),
		addr.Recipient, addr.Phone, addr.Email,
		addr.Line1, addr.Line2, addr.Line3, addr.Line4,
		addr.City, addr.Zip, addr.Country,
	)
	if a.dialect.isDuplicate(err) {
		// Another submission with this key has committed. Resolve to it.
		_ = tx.Rollback()
		existing, err := a.orderIDByKey(ctx, order.IdempotencyKey)
		if err != nil {
			return 0, false, fmt.Errorf("resolve existing order: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_change (order_id, changed_at, status) VALUES (?, ?, ?)`,
		id, order.CreatedAt.Unix(), int(initial),
	); err != nil {
		return 0, false, fmt.Errorf("insert status change: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO inventory_checkout (order_id, item, quantity, price_each) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, false, fmt.Errorf("prepare line item: %w", err)
	}
	defer stmt.Close()

	for _, li := range items {
		if _, err := stmt.ExecContext(ctx, id, li.Item, li.Quantity, li.PriceEach); err != nil {
			return 0, false, fmt.Errorf("insert line item %s: %w", li.Item, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return id, true, nil
}

func (a *SQLAdapter) orderIDByKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := a.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE idempotency_key = ?`, key).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (a *SQLAdapter) RecordStatusChange(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	return a.withRetry(ctx, "record status change", func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		var id int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = ?`+a.dialect.lockRow, orderID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, int(status), orderID); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO status_change (order_id, changed_at, status) VALUES (?, ?, ?)`,
			orderID, at.Unix(), int(status),
		); err != nil {
			return fmt.Errorf("insert status change: %w", err)
		}

		return tx.Commit()
	})
}

func (a *SQLAdapter) ReadBaselines(ctx context.Context) (domain.Baselines, error) {
	var baselines domain.Baselines
	err := a.withRetry(ctx, "read baselines", func() error {
		rows, err := a.db.QueryContext(ctx, `SELECT item, quantity_ante, quantity_us FROM inventory_list`)
		if err != nil {
			return err
		}
		defer rows.Close()

		baselines = make(domain.Baselines)
		for rows.Next() {
			var item string
			var b domain.Baseline
			if err := rows.Scan(&item, &b.Ante, &b.US); err != nil {
				return err
			}
			baselines[item] = b
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return baselines, nil
}

func (a *SQLAdapter) UpsertBaseline(ctx context.Context, item string, warehouse domain.Warehouse, quantity int) error {
	column, ok := baselineColumn(warehouse)
	if !ok {
		return fmt.Errorf("warehouse %q: %w", warehouse, domain.ErrInvalidBaseline)
	}
	return a.withRetry(ctx, "upsert baseline", func() error {
		_, err := a.db.ExecContext(ctx, fmt.Sprintf(a.dialect.upsertColumn, column), item, quantity)
		return err
	})
}

func (a *SQLAdapter) UpsertBaselines(ctx context.Context, baselines domain.Baselines) error {
	items := make([]string, 0, len(baselines))
	for item := range baselines {
		items = append(items, item)
	}
	// Stable lock order across concurrent admin updates.
	sort.Strings(items)

	return a.withRetry(ctx, "upsert baselines", func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		for _, item := range items {
			b := baselines[item]
			if _, err := tx.ExecContext(ctx, a.dialect.upsertBaseline, item, b.Ante, b.US); err != nil {
				return fmt.Errorf("upsert %s: %w", item, err)
			}
		}
		return tx.Commit()
	})
}

func (a *SQLAdapter) SumConsumed(ctx context.Context, filter domain.StatusFilter) (domain.Consumption, error) {
	var consumed domain.Consumption
	err := a.withRetry(ctx, "sum consumed", func() error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT o.warehouse, c.item, o.status, SUM(c.quantity)
			FROM inventory_checkout c
			JOIN orders o ON o.id = c.order_id
			GROUP BY o.warehouse, c.item, o.status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		consumed = make(domain.Consumption)
		for rows.Next() {
			var (
				warehouse, item string
				status          int
				quantity        int64
			)
			if err := rows.Scan(&warehouse, &item, &status, &quantity); err != nil {
				return err
			}
			if filter != nil && !filter(domain.OrderStatus(status)) {
				continue
			}
			consumed[domain.StockKey{Warehouse: domain.Warehouse(warehouse), Item: item}] += int(quantity)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

const orderColumns = `
	id, idempotency_key, status, warehouse, contact, ip, message, created_at,
	address_recipient, address_phone, address_email,
	address_line1, address_line2, address_line3, address_line4,
	address_city, address_zip, address_country`

func (a *SQLAdapter) GetOrderByKey(ctx context.Context, key string) (*domain.Order, error) {
	return a.getOrder(ctx, `SELECT`+orderColumns+` FROM orders WHERE idempotency_key = ?`, key)
}

func (a *SQLAdapter) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	return a.getOrder(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (a *SQLAdapter) getOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var order *domain.Order
	err := a.withRetry(ctx, "get order", func() error {
		var (
			o         domain.Order
			status    int
			warehouse string
			createdAt int64
		)
		addr := &o.Address
		err := a.db.QueryRowContext(ctx, query, arg).Scan(
			&o.ID, &o.IdempotencyKey, &status, &warehouse, &o.Contact, &o.IP, &o.Message, &createdAt,
			&addr.Recipient, &addr.Phone, &addr.Email,
			&addr.Line1, &addr.Line2, &addr.Line3, &addr.Line4,
			&addr.City, &addr.Zip, &addr.Country,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		o.Warehouse = domain.Warehouse(warehouse)
		o.CreatedAt = time.Unix(createdAt, 0).UTC()

		if o.Items, err = a.lineItems(ctx, o.ID); err != nil {
			return err
		}
		if o.History, err = a.history(ctx, o.ID); err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (a *SQLAdapter) lineItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT item, quantity, price_each FROM inventory_checkout WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.Item, &li.Quantity, &li.PriceEach); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (a *SQLAdapter) history(ctx context.Context, orderID int64) ([]domain.StatusChange, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT changed_at, status FROM status_change WHERE order_id = ? ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var events []domain.StatusChange
	for rows.Next() {
		var at int64
		var status int
		if err := rows.Scan(&at, &status); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		events = append(events, domain.StatusChange{
			OrderID: orderID,
			At:      time.Unix(at, 0).UTC(),
			Status:  domain.OrderStatus(status),
		})
	}
	return events, rows.Err()
}

func baselineColumn(w domain.Warehouse) (string, bool) {
	switch w {
	case domain.WarehouseAnte:
		return "quantity_ante", true
	case domain.WarehouseUS:
		return "quantity_us", true
	}
	return "", false
}
