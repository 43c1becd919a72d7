package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CartService handles cart operations. Carts are user-scoped rows keyed by
// (user_id, product_id), at most one row per pair.
type CartService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewCartService creates a new cart service
func NewCartService(db *db.DB, metrics *metrics.AppMetrics) *CartService {
	return &CartService{
		db:      db,
		metrics: metrics,
	}
}

// StartMonitor periodically reports the active carts gauge until ctx is done
func (s *CartService) StartMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			query := "SELECT COUNT(DISTINCT user_id) FROM carts"
			start := time.Now()
			var count int
			err := s.db.QueryRowContext(ctx, query).Scan(&count)
			s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil)
			if err == nil {
				s.metrics.ActiveCartsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName(nil)...))
			}
		}
	}
}

// AddToCart adds quantity of a product to the user's cart, creating the row
// or incrementing an existing one
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}

	// Verify product exists
	start := time.Now()
	checkQuery := "SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)"
	var exists bool
	err := s.db.QueryRowContext(ctx, checkQuery, productID).Scan(&exists)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", checkQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to verify product: %w", err)
	}
	if !exists {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	start = time.Now()
	upsertQuery := `INSERT INTO carts (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = carts.quantity + EXCLUDED.quantity, updated_at = NOW()`
	_, err = s.db.ExecContext(ctx, upsertQuery, userID, productID, quantity)
	s.metrics.RecordDBQuery(ctx, "INSERT", "carts", upsertQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to add item to cart: %w", err)
	}

	s.updateCartItemsCount(ctx, userID)
	return nil
}

// RemoveFromCart removes one product from the user's cart
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	start := time.Now()
	query := "DELETE FROM carts WHERE user_id = $1 AND product_id = $2"
	_, err := s.db.ExecContext(ctx, query, userID, productID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "carts", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to remove item from cart: %w", err)
	}

	s.updateCartItemsCount(ctx, userID)
	return nil
}

// ClearCart removes every cart row belonging to the user
func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	start := time.Now()
	query := "DELETE FROM carts WHERE user_id = $1"
	_, err := s.db.ExecContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "carts", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	s.updateCartItemsCount(ctx, userID)
	return nil
}

// GetCart returns the user's cart rows joined with product name and price
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	start := time.Now()
	query := `SELECT c.id, c.user_id, c.product_id, c.quantity, COALESCE(p.name, ''), COALESCE(p.price, 0)
		FROM carts c
		LEFT JOIN products p ON c.product_id = p.id
		WHERE c.user_id = $1
		ORDER BY c.id`
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.Name, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// updateCartItemsCount refreshes the cart items gauge for a user
func (s *CartService) updateCartItemsCount(ctx context.Context, userID int64) {
	start := time.Now()
	query := "SELECT COALESCE(SUM(quantity), 0) FROM carts WHERE user_id = $1"
	var count int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil)
	if err == nil {
		cartAttrs := s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.Int64("user_id", userID),
		})
		s.metrics.CartItemsCount.Record(ctx, count, metric.WithAttributes(cartAttrs...))
	}
}
