package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// checkoutTimeout bounds the whole order placement transaction
const checkoutTimeout = 5 * time.Second

// ValidStatuses is the fixed set of order lifecycle stages
var ValidStatuses = map[string]bool{
	"pending":    true,
	"processing": true,
	"completed":  true,
	"cancelled":  true,
}

// terminalStatuses admit no further transitions
var terminalStatuses = map[string]bool{
	"completed": true,
	"cancelled": true,
}

// OrderService handles order placement and lifecycle
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics) *OrderService {
	return &OrderService{
		db:      db,
		metrics: metrics,
	}
}

// PlaceOrder turns a client-submitted cart snapshot into a durable order.
// The order header, all line items, and the cart deletion are applied as a
// single all-or-nothing transaction. The client-supplied total is verified
// against catalog prices; a client-supplied status is ignored.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, items []models.CheckoutItem, totalAmount float64, paymentMethod, shippingAddress string) (int64, string, error) {
	orderID, err := s.createOrder(ctx, userID, items, totalAmount, paymentMethod, shippingAddress, true)
	if err != nil {
		return 0, "", err
	}
	return orderID, "pending", nil
}

// CreateOrder is the direct order creation path. It runs the same transaction
// as PlaceOrder but leaves the cart untouched.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, items []models.CheckoutItem, totalPrice float64) (int64, error) {
	return s.createOrder(ctx, userID, items, totalPrice, "", "", false)
}

func (s *OrderService) createOrder(ctx context.Context, userID int64, items []models.CheckoutItem, totalAmount float64, paymentMethod, shippingAddress string, clearCart bool) (int64, error) {
	// Validation failures are reported before any write
	if userID <= 0 {
		return 0, NewValidationError("userId is required")
	}
	if len(items) == 0 {
		return 0, NewValidationError("cartItems must not be empty")
	}
	if totalAmount <= 0 {
		return 0, NewValidationError("totalAmount is required")
	}
	for _, item := range items {
		if item.ResolveProductID() <= 0 {
			return 0, NewValidationError("every cart item needs a product id")
		}
		if item.Quantity <= 0 {
			return 0, NewValidationError("quantity must be greater than zero")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, checkoutTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The ordering user must exist
	start := time.Now()
	userQuery := "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)"
	var userExists bool
	err = tx.QueryRowContext(ctx, userQuery, userID).Scan(&userExists)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", userQuery, start, err == nil)
	if err != nil {
		return 0, s.checkoutErr(ctx, fmt.Errorf("failed to verify user: %w", err))
	}
	if !userExists {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	// Read catalog prices inside the transaction; they are the source of
	// truth for the captured line prices and the total
	prices, err := s.catalogPrices(ctx, tx, items)
	if err != nil {
		return 0, s.checkoutErr(ctx, err)
	}

	computed := decimal.Zero
	for _, item := range items {
		price := prices[item.ResolveProductID()]
		computed = computed.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !decimal.NewFromFloat(totalAmount).Equal(computed) {
		return 0, NewValidationError(fmt.Sprintf("totalAmount %v does not match order total %v", totalAmount, computed))
	}

	// Orders always start pending regardless of client input
	start = time.Now()
	orderQuery := `INSERT INTO orders (user_id, total_price, status, payment_method, shipping_address, created_at)
		VALUES ($1, $2, 'pending', $3, $4, NOW()) RETURNING id`
	var orderID int64
	err = tx.QueryRowContext(ctx, orderQuery, userID, totalAmount, paymentMethod, shippingAddress).Scan(&orderID)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
	if err != nil {
		return 0, s.checkoutErr(ctx, fmt.Errorf("failed to create order: %w", err))
	}

	itemQuery := "INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)"
	for _, item := range items {
		start = time.Now()
		productID := item.ResolveProductID()
		_, err = tx.ExecContext(ctx, itemQuery, orderID, productID, item.Quantity, prices[productID])
		s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
		if err != nil {
			return 0, s.checkoutErr(ctx, fmt.Errorf("failed to create order item: %w", err))
		}
	}

	if clearCart {
		start = time.Now()
		deleteQuery := "DELETE FROM carts WHERE user_id = $1"
		_, err = tx.ExecContext(ctx, deleteQuery, userID)
		s.metrics.RecordDBQuery(ctx, "DELETE", "carts", deleteQuery, start, err == nil)
		if err != nil {
			return 0, s.checkoutErr(ctx, fmt.Errorf("failed to clear cart: %w", err))
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, s.checkoutErr(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}

	log.Printf("[ORDER] Order created: order_id=%d, user_id=%d, total=%.2f, status=pending", orderID, userID, totalAmount)

	orderAttrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("order_status", "pending"),
		attribute.String("payment_method", paymentMethod),
	})
	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(orderAttrs...))
	s.metrics.RevenueTotal.Add(ctx, totalAmount, metric.WithAttributes(orderAttrs...))

	return orderID, nil
}

// catalogPrices reads unit prices for every referenced product. A reference
// to an unknown product fails the whole placement.
func (s *OrderService) catalogPrices(ctx context.Context, tx *sql.Tx, items []models.CheckoutItem) (map[int64]float64, error) {
	ids := make([]interface{}, 0, len(items))
	placeholders := make([]string, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		id := item.ResolveProductID()
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(ids)))
	}

	start := time.Now()
	query := fmt.Sprintf("SELECT id, price FROM products WHERE id IN (%s)", strings.Join(placeholders, ", "))
	rows, err := tx.QueryContext(ctx, query, ids...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[int64]float64, len(ids))
	for rows.Next() {
		var id int64
		var price float64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("failed to scan product price: %w", err)
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog prices: %w", err)
	}

	for id := range seen {
		if _, ok := prices[id]; !ok {
			return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
	}

	return prices, nil
}

// checkoutErr surfaces deadline expiry as the timeout kind
func (s *OrderService) checkoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("checkout timed out: %w", ErrTimeout)
	}
	return err
}

// UpdateOrderStatus moves an order to a new lifecycle stage. Input is
// case-insensitive and stored lowercase; completed and cancelled are terminal.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return nil, NewValidationError("status is required")
	}
	if !ValidStatuses[status] {
		return nil, NewValidationError("invalid status: use pending, processing, completed, or cancelled")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	currentQuery := "SELECT status FROM orders WHERE id = $1 FOR UPDATE"
	var current string
	err = tx.QueryRowContext(ctx, currentQuery, orderID).Scan(&current)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", currentQuery, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order status: %w", err)
	}

	if terminalStatuses[current] && current != status {
		return nil, NewValidationError(fmt.Sprintf("order is already %s", current))
	}

	start = time.Now()
	updateQuery := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
		RETURNING id, user_id, total_price, status, COALESCE(payment_method, ''), COALESCE(shipping_address, ''), created_at, updated_at`
	var order models.Order
	err = tx.QueryRowContext(ctx, updateQuery, status, orderID).Scan(
		&order.ID, &order.UserID, &order.TotalPrice, &order.Status,
		&order.PaymentMethod, &order.ShippingAddress, &order.CreatedAt, &order.UpdatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", updateQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("[ORDER] Status updated: order_id=%d, %s -> %s", orderID, current, status)
	return &order, nil
}

// ListOrders returns orders joined with the owning customer and a deduplicated
// comma-joined list of product names, newest first. A nil userID returns all
// orders (administrative view).
func (s *OrderService) ListOrders(ctx context.Context, userID *int64) ([]models.OrderSummary, error) {
	query := `SELECT o.id, o.user_id, o.total_price, o.status, o.created_at,
		COALESCE(u.name, 'Unknown'), COALESCE(u.email, '-'),
		COALESCE(STRING_AGG(DISTINCT p.name, ', '), '-') AS product_names
		FROM orders o
		LEFT JOIN users u ON o.user_id = u.id
		LEFT JOIN order_items oi ON o.id = oi.order_id
		LEFT JOIN products p ON oi.product_id = p.id`
	args := []interface{}{}
	if userID != nil {
		query += " WHERE o.user_id = $1"
		args = append(args, *userID)
	}
	query += ` GROUP BY o.id, o.user_id, o.total_price, o.status, o.created_at, u.name, u.email
		ORDER BY o.id DESC`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.OrderSummary{}
	for rows.Next() {
		var o models.OrderSummary
		if err := rows.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &o.CreatedAt,
			&o.CustomerName, &o.CustomerEmail, &o.Products); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// GetOrder returns a single order joined with its customer
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderDetail, error) {
	start := time.Now()
	query := `SELECT o.id, o.user_id, o.total_price, o.status, o.created_at,
		COALESCE(u.name, 'Unknown'), COALESCE(u.email, '-')
		FROM orders o
		LEFT JOIN users u ON o.user_id = u.id
		WHERE o.id = $1`
	var o models.OrderDetail
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID, &o.UserID, &o.Total, &o.Status, &o.CreatedAt,
		&o.CustomerName, &o.CustomerEmail,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &o, nil
}
