package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/services"
	"github.com/tokopakaian/storefront/pkg/config"
)

func newTestApp(t *testing.T) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	database := &db.DB{DB: sqlDB}
	m := metrics.NewTestMetrics()
	app := NewApp(
		&config.Config{OTELServiceName: "storefront-test"},
		database,
		m,
		services.NewUserService(database, m),
		services.NewProductService(database, m),
		services.NewCartService(database, m),
		services.NewOrderService(database, m),
	)

	router := mux.NewRouter()
	app.SetupRoutes(router)
	return router, mock
}

func doJSON(t *testing.T, router *mux.Router, method, target string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHandler(t *testing.T) {
	router, _ := newTestApp(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestCheckoutHandler_Created(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, price FROM products WHERE id IN ($1)")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "price"}).AddRow(int64(10), 100000.0))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM carts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload := map[string]interface{}{
		"userId":          1,
		"totalAmount":     200000,
		"paymentMethod":   "transfer",
		"shippingAddress": "Jl. Merdeka 1",
		// A client-supplied status is ignored; the order starts pending
		"status":    "completed",
		"cartItems": []map[string]interface{}{{"product_id": 10, "quantity": 2, "price": 100000}},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/checkout", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["orderId"])
	assert.Equal(t, "pending", body["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandler_EmptyItems(t *testing.T) {
	router, mock := newTestApp(t)

	payload := map[string]interface{}{
		"userId":      1,
		"totalAmount": 200000,
		"cartItems":   []map[string]interface{}{},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/checkout", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandler_UnknownProduct(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, price FROM products WHERE id IN ($1)")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "price"}))
	mock.ExpectRollback()

	payload := map[string]interface{}{
		"userId":      1,
		"totalAmount": 50000,
		"cartItems":   []map[string]interface{}{{"product_id": 404, "quantity": 1, "price": 50000}},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/checkout", payload, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersHandler_RequiresAuthentication(t *testing.T) {
	router, mock := newTestApp(t)

	rec := doJSON(t, router, http.MethodGet, "/api/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectGetUser(mock sqlmock.Sqlmock, id int64, role string) {
	mock.ExpectQuery("SELECT id, email, name").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "phone", "address", "role", "created_at"}).
			AddRow(id, "user@example.com", "User", "", "", role, time.Now()))
}

func TestListUsersHandler_RejectsNonAdmin(t *testing.T) {
	router, mock := newTestApp(t)

	expectGetUser(mock, 2, "customer")

	rec := doJSON(t, router, http.MethodGet, "/api/users", nil, map[string]string{"X-User-ID": "2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersHandler_AllowsAdmin(t *testing.T) {
	router, mock := newTestApp(t)

	expectGetUser(mock, 1, "admin")
	mock.ExpectQuery("SELECT id, email, name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "phone", "address", "role", "created_at"}).
			AddRow(int64(1), "admin@example.com", "Admin", "", "", "admin", time.Now()))

	rec := doJSON(t, router, http.MethodGet, "/api/users", nil, map[string]string{"X-User-ID": "1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductHandler_RejectsUnknownCaller(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectQuery("SELECT id, email, name").
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "phone", "address", "role", "created_at"}))

	payload := map[string]interface{}{"name": "Topi", "price": 75000}
	rec := doJSON(t, router, http.MethodPost, "/api/products", payload, map[string]string{"X-User-ID": "77"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusHandler_NotFound(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPut, "/api/orders/42/status", map[string]string{"status": "processing"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusHandler_InvalidStatus(t *testing.T) {
	router, mock := newTestApp(t)

	rec := doJSON(t, router, http.MethodPut, "/api/orders/42/status", map[string]string{"status": "shipped"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCartHandler_RequiresUserID(t *testing.T) {
	router, mock := newTestApp(t)

	rec := doJSON(t, router, http.MethodGet, "/api/cart", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToCartHandler_MissingProduct(t *testing.T) {
	router, mock := newTestApp(t)

	rec := doJSON(t, router, http.MethodPost, "/api/cart/add?user_id=1", map[string]interface{}{"quantity": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func duplicateEmailErr() error {
	return &pq.Error{Code: "23505", Constraint: "users_email_key"}
}

func TestRegisterHandler_DuplicateEmailConflict(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(duplicateEmailErr())

	payload := map[string]string{"email": "alice@example.com", "password": "secret123", "name": "Alice"}
	rec := doJSON(t, router, http.MethodPost, "/api/users/register", payload, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginHandler_BadCredentials(t *testing.T) {
	router, mock := newTestApp(t)

	mock.ExpectQuery("SELECT id, email, password").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "name", "phone", "address", "role", "created_at"}))

	payload := map[string]string{"email": "ghost@example.com", "password": "whatever"}
	rec := doJSON(t, router, http.MethodPost, "/api/users/login", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
