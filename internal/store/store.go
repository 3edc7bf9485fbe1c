package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Stats summarizes the store contents.
type Stats struct {
	Products int `db:"products" json:"products"`
	Orders   int `db:"orders" json:"orders"`
	Views    int `db:"views" json:"views"`
}

// Store is the persistence interface.
type Store interface {
	UpsertOrder(ctx context.Context, o *event.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status event.OrderStatus) error
	OrdersSince(ctx context.Context, since time.Time) ([]event.Order, error)

	RecordView(ctx context.Context, v *event.View) error
	ViewsSince(ctx context.Context, since time.Time) ([]event.View, error)

	UpsertProduct(ctx context.Context, p *event.Product) error
	UpsertProducts(ctx context.Context, products []event.Product) error
	DeleteProduct(ctx context.Context, id string) error
	Products(ctx context.Context, ids []string) (map[string]event.Product, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

type orderRow struct {
	ID        string    `db:"id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

type itemRow struct {
	OrderID   string              `db:"order_id"`
	ProductID string              `db:"product_id"`
	Quantity  sql.NullInt64       `db:"quantity"`
	UnitPrice decimal.NullDecimal `db:"unit_price"`
}

type viewRow struct {
	ID        string    `db:"id"`
	ProductID string    `db:"product_id"`
	UserID    string    `db:"user_id"`
	IPAddress string    `db:"ip_address"`
	ViewedAt  time.Time `db:"viewed_at"`
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertOrder writes an order and replaces its line items.
func (s *SQLiteStore) UpsertOrder(ctx context.Context, o *event.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if !o.Status.Valid() {
		return fmt.Errorf("upsert order %s: unknown status %q", o.ID, o.Status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order tx %s: %w", o.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created_at = excluded.created_at
	`, o.ID, o.Status, o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", o.ID); err != nil {
		return fmt.Errorf("clear order items %s: %w", o.ID, err)
	}

	for _, item := range o.Items {
		price := decimal.NullDecimal{}
		if item.UnitPrice != nil {
			price = decimal.NewNullDecimal(*item.UnitPrice)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?)
		`, o.ID, item.ProductID, item.Quantity, price)
		if err != nil {
			return fmt.Errorf("insert order item %s/%s: %w", o.ID, item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order %s: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status event.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update order %s: unknown status %q", orderID, status)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE orders SET status = ? WHERE id = ?", status, orderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

// OrdersSince returns orders created at or after since, oldest first, with
// their line items in insertion order.
func (s *SQLiteStore) OrdersSince(ctx context.Context, since time.Time) ([]event.Order, error) {
	since = since.UTC()

	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, status, created_at FROM orders WHERE created_at >= ? ORDER BY created_at, id", since)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var items []itemRow
	err = s.db.SelectContext(ctx, &items, `
		SELECT oi.order_id, oi.product_id, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.created_at >= ?
		ORDER BY oi.id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	orders := make([]event.Order, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		orders[i] = event.Order{
			ID:        r.ID,
			Status:    event.OrderStatus(r.Status),
			CreatedAt: r.CreatedAt,
		}
		index[r.ID] = i
	}

	for _, it := range items {
		i, ok := index[it.OrderID]
		if !ok {
			continue
		}
		li := event.LineItem{ProductID: it.ProductID}
		if it.Quantity.Valid {
			q := it.Quantity.Int64
			li.Quantity = &q
		}
		if it.UnitPrice.Valid {
			p := it.UnitPrice.Decimal
			li.UnitPrice = &p
		}
		orders[i].Items = append(orders[i].Items, li)
	}

	return orders, nil
}

// RecordView appends a view, filling in an id and timestamp when missing.
func (s *SQLiteStore) RecordView(ctx context.Context, v *event.View) error {
	if v.ProductID == "" {
		return fmt.Errorf("record view: missing product id")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.ViewedAt.IsZero() {
		v.ViewedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_views (id, product_id, user_id, ip_address, viewed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, v.ID, v.ProductID, v.UserID, v.IPAddress, v.ViewedAt.UTC())
	if err != nil {
		return fmt.Errorf("record view %s: %w", v.ID, err)
	}
	return nil
}

// ViewsSince returns views recorded at or after since, oldest first.
func (s *SQLiteStore) ViewsSince(ctx context.Context, since time.Time) ([]event.View, error) {
	var rows []viewRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, user_id, ip_address, viewed_at
		FROM product_views
		WHERE viewed_at >= ?
		ORDER BY viewed_at, id
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}

	views := make([]event.View, len(rows))
	for i, r := range rows {
		views[i] = event.View{
			ID:        r.ID,
			ProductID: r.ProductID,
			UserID:    r.UserID,
			IPAddress: r.IPAddress,
			ViewedAt:  r.ViewedAt,
		}
	}
	return views, nil
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *event.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, image, category, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			image = excluded.image,
			category = excluded.category,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Price, p.Image, p.Category, p.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []event.Product) error {
	for i := range products {
		if err := s.UpsertProduct(ctx, &products[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete product %s: %w", id, ErrNotFound)
	}
	return nil
}

// Products looks up catalog entries by id. Unknown ids are left out.
func (s *SQLiteStore) Products(ctx context.Context, ids []string) (map[string]event.Product, error) {
	out := make(map[string]event.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		"SELECT id, name, price, image, category, description FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build product query: %w", err)
	}

	var products []event.Product
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			(SELECT COUNT(*) FROM products) AS products,
			(SELECT COUNT(*) FROM orders) AS orders,
			(SELECT COUNT(*) FROM product_views) AS views
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("count store rows: %w", err)
	}
	return st, nil
}
