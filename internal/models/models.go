package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin    = "admin"
	RoleSupplier = "supplier"
	RoleCustomer = "customer"
	RoleDelivery = "delivery"
)

// Order lifecycle: cart -> checkout_pending -> placed -> shipped -> delivered.
// cancelled is declared for schema parity but no handler transitions into it.
const (
	OrderStatusCart            = "cart"
	OrderStatusCheckoutPending = "checkout_pending"
	OrderStatusPlaced          = "placed"
	OrderStatusShipped         = "shipped"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

const (
	PaymentCompleted = "completed"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusAssigned  = "assigned"
	DeliveryStatusInTransit = "in_transit"
	DeliveryStatusDelivered = "delivered"
)

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"unique;not null"          json:"email"`
	Username     string `gorm:"unique;not null"          json:"username"`
	FullName     string `gorm:"not null"                 json:"full_name"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
}

type Customer struct {
	ID      uint   `gorm:"primaryKey"           json:"id"`
	UserID  uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Supplier struct {
	ID      uint   `gorm:"primaryKey"           json:"id"`
	UserID  uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type DeliveryPersonnel struct {
	ID      uint   `gorm:"primaryKey"           json:"id"`
	UserID  uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type ProductCategory struct {
	ID          uint   `gorm:"primaryKey"      json:"id"`
	Name        string `gorm:"unique;not null" json:"name"`
	Description string `json:"description"`
}

type Product struct {
	ID            uint            `gorm:"primaryKey"                         json:"id"`
	SupplierID    uint            `gorm:"index;not null"                     json:"supplier_id"`
	CategoryID    *uint           `gorm:"index"                              json:"category_id,omitempty"`
	Name          string          `gorm:"not null"                           json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `gorm:"type:decimal(10,2);not null"        json:"price"`
	StockQuantity int64           `gorm:"not null;check:stock_quantity >= 0" json:"stock_quantity"`
}

type Order struct {
	ID            uint            `gorm:"primaryKey"                  json:"id"`
	CustomerID    uint            `gorm:"index;not null"              json:"customer_id"`
	OrderDate     time.Time       `gorm:"autoCreateTime"              json:"order_date"`
	Status        string          `gorm:"not null"                    json:"status"`
	PaymentStatus string          `gorm:"not null"                    json:"payment_status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	Items         []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// OrderItem.Price is the product price at the moment the item was added and
// never changes afterwards, so later catalog price edits do not rewrite
// existing orders.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey"                  json:"id"`
	OrderID   uint            `gorm:"index;not null"              json:"order_id"`
	ProductID uint            `gorm:"not null"                    json:"product_id"`
	Quantity  int64           `gorm:"not null;check:quantity > 0" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
}

// Payment.ID is an opaque token so payment ids cannot be enumerated. The
// unique index on OrderID keeps payments 1:1 with orders even under
// concurrent create calls.
type Payment struct {
	ID            string          `gorm:"primaryKey"                  json:"id"`
	OrderID       uint            `gorm:"uniqueIndex;not null"        json:"order_id"`
	CustomerID    uint            `gorm:"index;not null"              json:"customer_id"`
	Status        string          `gorm:"not null"                    json:"status"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Gateway       string          `json:"gateway,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Delivery struct {
	ID                  uint       `gorm:"primaryKey"           json:"id"`
	OrderID             uint       `gorm:"uniqueIndex;not null" json:"order_id"`
	DeliveryPersonnelID *uint      `gorm:"index"                json:"delivery_personnel_id"`
	DeliveryStatus      string     `gorm:"not null"             json:"delivery_status"`
	AssignedDate        time.Time  `gorm:"autoCreateTime"       json:"assigned_date"`
	DeliveredDate       *time.Time `json:"delivered_date,omitempty"`
	DeliveryAddress     string     `json:"delivery_address"`
}

type Notification struct {
	ID        uint      `gorm:"primaryKey"     json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Message   string    `gorm:"not null"       json:"message"`
	IsRead    bool      `gorm:"default:false"  json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
