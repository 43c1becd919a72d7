package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/models"
)

func newProductService(t *testing.T) (*ProductService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	svc := NewProductService(&db.DB{DB: sqlDB}, metrics.NewTestMetrics())
	return svc, mock
}

func productRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "description", "price", "stock", "image_url", "category", "created_at", "updated_at"})
}

func TestListProducts(t *testing.T) {
	svc, mock := newProductService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(20, 0).
		WillReturnRows(productRows().
			AddRow(int64(1), "Kemeja Batik", "Batik lengan panjang", 150000.0, 12, "", "kemeja", now, now).
			AddRow(int64(2), "Celana Jeans", "", 250000.0, 5, "", "celana", now, now))

	products, err := svc.ListProducts(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Kemeja Batik", products[0].Name)
	assert.Equal(t, 5, products[1].Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_CachesSecondRead(t *testing.T) {
	svc, mock := newProductService(t)

	now := time.Now()
	// Only one DB read is scripted; the second call must come from cache
	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(int64(1)).
		WillReturnRows(productRows().
			AddRow(int64(1), "Kemeja Batik", "", 150000.0, 12, "", "kemeja", now, now))

	first, err := svc.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Kemeja Batik", first.Name)

	second, err := svc.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_NotFound(t *testing.T) {
	svc, mock := newProductService(t)

	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(int64(404)).
		WillReturnRows(productRows())

	_, err := svc.GetProduct(context.Background(), 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProduct_Validation(t *testing.T) {
	svc, mock := newProductService(t)

	_, err := svc.CreateProduct(context.Background(), models.CreateProductRequest{Name: "Topi", Price: 0})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProduct_Success(t *testing.T) {
	svc, mock := newProductService(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO products").
		WithArgs("Topi Baseball", "Topi katun", 75000.0, 30, "", "aksesoris").
		WillReturnRows(productRows().
			AddRow(int64(9), "Topi Baseball", "Topi katun", 75000.0, 30, "", "aksesoris", now, now))

	p, err := svc.CreateProduct(context.Background(), models.CreateProductRequest{
		Name:        "Topi Baseball",
		Description: "Topi katun",
		Price:       75000,
		Stock:       30,
		Category:    "aksesoris",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProduct_PartialFields(t *testing.T) {
	svc, mock := newProductService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(int64(1)).
		WillReturnRows(productRows().
			AddRow(int64(1), "Kemeja Batik", "", 150000.0, 12, "", "kemeja", now, now))
	mock.ExpectQuery("UPDATE products SET name").
		WithArgs("Kemeja Batik", "", 175000.0, 12, "", "kemeja", int64(1)).
		WillReturnRows(productRows().
			AddRow(int64(1), "Kemeja Batik", "", 175000.0, 12, "", "kemeja", now, now))

	price := 175000.0
	p, err := svc.UpdateProduct(context.Background(), 1, models.UpdateProductRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 175000.0, p.Price)
	assert.Equal(t, "Kemeja Batik", p.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProduct_NotFound(t *testing.T) {
	svc, mock := newProductService(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.DeleteProduct(context.Background(), 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProduct_InvalidatesCache(t *testing.T) {
	svc, mock := newProductService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(int64(1)).
		WillReturnRows(productRows().
			AddRow(int64(1), "Kemeja Batik", "", 150000.0, 12, "", "kemeja", now, now))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// A read after deletion goes back to the DB
	mock.ExpectQuery("SELECT id, name, COALESCE").
		WithArgs(int64(1)).
		WillReturnRows(productRows())

	_, err := svc.GetProduct(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProduct(context.Background(), 1))

	_, err = svc.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
