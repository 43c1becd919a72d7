package models

import "time"

// User represents a customer or admin account. The password column holds a
// bcrypt hash and is never serialized.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	Address   string    `json:"address" db:"address"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	Stock       int       `json:"stock" db:"stock"`
	ImageURL    string    `json:"image_url" db:"image_url"`
	Category    string    `json:"category" db:"category"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CartItem is one row of a user's cart, keyed by (user_id, product_id)
type CartItem struct {
	ID        int64 `json:"id" db:"id"`
	UserID    int64 `json:"user_id" db:"user_id"`
	ProductID int64 `json:"product_id" db:"product_id"`
	Quantity  int   `json:"quantity" db:"quantity"`

	// Joined product info, present on read paths
	Name  string  `json:"name" db:"name"`
	Price float64 `json:"price" db:"price"`
}

// Order is the order header for one checkout transaction
type Order struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	TotalPrice      float64   `json:"total_price" db:"total_price"`
	Status          string    `json:"status" db:"status"`
	PaymentMethod   string    `json:"payment_method" db:"payment_method"`
	ShippingAddress string    `json:"shipping_address" db:"shipping_address"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem is one product-quantity-price line belonging to exactly one order.
// Price is the unit price captured at purchase time.
type OrderItem struct {
	ID        int64   `json:"id" db:"id"`
	OrderID   int64   `json:"order_id" db:"order_id"`
	ProductID int64   `json:"product_id" db:"product_id"`
	Quantity  int     `json:"quantity" db:"quantity"`
	Price     float64 `json:"price" db:"price"`
}

// OrderSummary is the order listing projection: header joined with the owning
// user and a comma-joined list of distinct product names
type OrderSummary struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Total         float64   `json:"total"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	Products      string    `json:"products"`
}

// OrderDetail is a single order joined with its customer
type OrderDetail struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Total         float64   `json:"total"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
}

// CheckoutItem is one line of a client-submitted cart snapshot. Clients send
// the product id as either "id" or "product_id".
type CheckoutItem struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// ResolveProductID returns whichever product id field the client populated
func (ci CheckoutItem) ResolveProductID() int64 {
	if ci.ProductID != 0 {
		return ci.ProductID
	}
	return ci.ID
}

// CheckoutRequest is the POST /api/checkout body. Status is accepted for
// compatibility but ignored; orders always start pending.
type CheckoutRequest struct {
	UserID          int64          `json:"userId"`
	TotalAmount     float64        `json:"totalAmount"`
	PaymentMethod   string         `json:"paymentMethod"`
	ShippingAddress string         `json:"shippingAddress"`
	CartItems       []CheckoutItem `json:"cartItems"`
	Status          string         `json:"status"`
}

// CreateOrderRequest is the POST /api/orders/create body
type CreateOrderRequest struct {
	UserID     int64          `json:"user_id"`
	TotalPrice float64        `json:"total_price"`
	Status     string         `json:"status"`
	Items      []CheckoutItem `json:"items"`
}

// RegisterRequest is the POST /api/users/register body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// LoginRequest is the POST /api/users/login body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest is the PUT /api/users/{id} body; absent fields keep
// their current values
type UpdateUserRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

// CreateProductRequest is the POST /api/products body
type CreateProductRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	ImageURL    string  `json:"image_url"`
	Category    string  `json:"category"`
}

// UpdateProductRequest is the PUT /api/products/{id} body; absent fields keep
// their current values
type UpdateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
	ImageURL    *string  `json:"image_url"`
	Category    *string  `json:"category"`
}

// AddToCartRequest is the POST /api/cart/add body
type AddToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
