package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
)

func newCartService(t *testing.T) (*CartService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	svc := NewCartService(&db.DB{DB: sqlDB}, metrics.NewTestMetrics())
	return svc, mock
}

func expectCartCount(mock sqlmock.Sqlmock, userID int64, sum int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(quantity), 0) FROM carts WHERE user_id = $1")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(sum))
}

func TestAddToCart_Upsert(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO carts").
		WithArgs(int64(1), int64(10), 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectCartCount(mock, 1, 2)

	err := svc.AddToCart(context.Background(), 1, 10, 2)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToCart_DefaultsQuantityToOne(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO carts").
		WithArgs(int64(1), int64(10), 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectCartCount(mock, 1, 1)

	err := svc.AddToCart(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToCart_UnknownProduct(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := svc.AddToCart(context.Background(), 1, 404, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveFromCart(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM carts WHERE user_id = $1 AND product_id = $2")).
		WithArgs(int64(1), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectCartCount(mock, 1, 0)

	err := svc.RemoveFromCart(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearCart(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM carts WHERE user_id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	expectCartCount(mock, 1, 0)

	err := svc.ClearCart(context.Background(), 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCart_JoinsProducts(t *testing.T) {
	svc, mock := newCartService(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "product_id", "quantity", "name", "price"}).
		AddRow(int64(1), int64(1), int64(10), 2, "Kemeja Batik", 150000.0).
		AddRow(int64(2), int64(1), int64(11), 1, "Celana Jeans", 250000.0)
	mock.ExpectQuery("SELECT c.id, c.user_id, c.product_id").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	items, err := svc.GetCart(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Kemeja Batik", items[0].Name)
	assert.Equal(t, 150000.0, items[0].Price)
	assert.Equal(t, 1, items[1].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCart_Empty(t *testing.T) {
	svc, mock := newCartService(t)

	mock.ExpectQuery("SELECT c.id, c.user_id, c.product_id").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "product_id", "quantity", "name", "price"}))

	items, err := svc.GetCart(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}
