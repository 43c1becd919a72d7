package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const productCacheTTL = 5 * time.Minute

// productCache holds recently read products
type productCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// ProductService handles catalog operations
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   productCache
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache:   productCache{items: make(map[int64]cachedProduct)},
	}
}

// ListProducts returns the catalog ordered by id
func (s *ProductService) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	start := time.Now()
	query := `SELECT id, name, COALESCE(description, ''), price, stock, COALESCE(image_url, ''), COALESCE(category, ''), created_at, updated_at
		FROM products ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by id, serving repeated reads from the
// in-process cache
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.cache.mu.RLock()
	if cached, exists := s.cache.items[id]; exists && time.Now().Before(cached.expires) {
		s.cache.mu.RUnlock()
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		s.recordView(ctx, &cached.product)
		return &cached.product, nil
	}
	s.cache.mu.RUnlock()

	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))

	start := time.Now()
	query := `SELECT id, name, COALESCE(description, ''), price, stock, COALESCE(image_url, ''), COALESCE(category, ''), created_at, updated_at
		FROM products WHERE id = $1`
	var p models.Product
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.items[id] = cachedProduct{product: p, expires: time.Now().Add(productCacheTTL)}
	s.cache.mu.Unlock()

	s.recordView(ctx, &p)
	return &p, nil
}

// recordView records view and stock-level metrics for a product read
func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
		attribute.String("product_category", p.Category),
	})
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.StockLevel.Record(ctx, int64(p.Stock), metric.WithAttributes(attrs...))
}

// CreateProduct inserts a product into the catalog
func (s *ProductService) CreateProduct(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	if req.Name == "" || req.Price <= 0 {
		return nil, NewValidationError("product name and a positive price are required")
	}

	start := time.Now()
	query := `INSERT INTO products (name, description, price, stock, image_url, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, COALESCE(description, ''), price, stock, COALESCE(image_url, ''), COALESCE(category, ''), created_at, updated_at`
	var p models.Product
	err := s.db.QueryRowContext(ctx, query, req.Name, req.Description, req.Price, req.Stock, req.ImageURL, req.Category).
		Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	return &p, nil
}

// UpdateProduct applies a partial update; absent fields keep current values
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req models.UpdateProductRequest) (*models.Product, error) {
	current, err := s.getProductFresh(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.Price != nil {
		current.Price = *req.Price
	}
	if req.Stock != nil {
		current.Stock = *req.Stock
	}
	if req.ImageURL != nil {
		current.ImageURL = *req.ImageURL
	}
	if req.Category != nil {
		current.Category = *req.Category
	}
	if current.Name == "" || current.Price <= 0 {
		return nil, NewValidationError("product name and a positive price are required")
	}

	start := time.Now()
	query := `UPDATE products SET name = $1, description = $2, price = $3, stock = $4, image_url = $5, category = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING id, name, COALESCE(description, ''), price, stock, COALESCE(image_url, ''), COALESCE(category, ''), created_at, updated_at`
	var p models.Product
	err = s.db.QueryRowContext(ctx, query, current.Name, current.Description, current.Price, current.Stock, current.ImageURL, current.Category, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.invalidate(id)
	return &p, nil
}

// DeleteProduct removes a product from the catalog
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM products WHERE id = $1"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}

	s.invalidate(id)
	return nil
}

// getProductFresh bypasses the cache for read-modify-write paths
func (s *ProductService) getProductFresh(ctx context.Context, id int64) (*models.Product, error) {
	start := time.Now()
	query := `SELECT id, name, COALESCE(description, ''), price, stock, COALESCE(image_url, ''), COALESCE(category, ''), created_at, updated_at
		FROM products WHERE id = $1`
	var p models.Product
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (s *ProductService) invalidate(id int64) {
	s.cache.mu.Lock()
	delete(s.cache.items, id)
	s.cache.mu.Unlock()
}
