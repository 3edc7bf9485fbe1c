package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is a placed order with its line items.
type Order struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []LineItem  `json:"items"`
}

// LineItem is one product entry in an order. Quantity and UnitPrice are nil
// when the historical record is missing them.
type LineItem struct {
	ProductID string           `json:"product_id"`
	Quantity  *int64           `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// View is a single product page view. UserID is empty for anonymous
// visitors; IPAddress may be empty when it was not captured.
type View struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	ViewedAt  time.Time `json:"viewed_at"`
}

// Product is the catalog's display projection of a product.
type Product struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Image       string          `json:"image" db:"image"`
	Category    string          `json:"category" db:"category"`
	Description string          `json:"description" db:"description"`
}
