package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/middleware"
	"github.com/tokopakaian/storefront/internal/models"
	"github.com/tokopakaian/storefront/internal/services"
	"github.com/tokopakaian/storefront/pkg/config"
)

// App holds application dependencies
type App struct {
	config         *config.Config
	db             *db.DB
	metrics        *metrics.AppMetrics
	userService    *services.UserService
	productService *services.ProductService
	cartService    *services.CartService
	orderService   *services.OrderService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	us *services.UserService,
	ps *services.ProductService,
	cs *services.CartService,
	os *services.OrderService,
) *App {
	return &App{
		config:         cfg,
		db:             database,
		metrics:        m,
		userService:    us,
		productService: ps,
		cartService:    cs,
		orderService:   os,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	api := r.PathPrefix("/api").Subrouter()

	// Users
	api.HandleFunc("/users/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/users/login", a.LoginHandler).Methods("POST")
	api.HandleFunc("/users", a.adminOnly(a.ListUsersHandler)).Methods("GET")
	api.HandleFunc("/users/{id}", a.GetUserHandler).Methods("GET")
	api.HandleFunc("/users/{id}", a.UpdateUserHandler).Methods("PUT")

	// Products
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products", a.adminOnly(a.CreateProductHandler)).Methods("POST")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products/{id}", a.adminOnly(a.UpdateProductHandler)).Methods("PUT")
	api.HandleFunc("/products/{id}", a.adminOnly(a.DeleteProductHandler)).Methods("DELETE")

	// Cart
	api.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	api.HandleFunc("/cart/add", a.AddToCartHandler).Methods("POST")
	api.HandleFunc("/cart/clear", a.ClearCartHandler).Methods("POST")
	api.HandleFunc("/cart/{productId}", a.RemoveFromCartHandler).Methods("DELETE")

	// Checkout
	api.HandleFunc("/checkout", a.CheckoutHandler).Methods("POST")
	api.HandleFunc("/checkout/{userId}", a.GetCheckoutCartHandler).Methods("GET")

	// Orders
	api.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	api.HandleFunc("/orders/create", a.CreateOrderHandler).Methods("POST")
	api.HandleFunc("/orders/{orderId}", a.GetOrderHandler).Methods("GET")
	api.HandleFunc("/orders/{orderId}/status", a.UpdateOrderStatusHandler).Methods("PUT")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// respondJSON writes a JSON body with the given status
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondError writes the standard {"error": ...} body
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleServiceError maps service error kinds to HTTP status codes. Storage
// failures are logged in full and reported generically.
func (a *App) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case services.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Printf("internal error on %s %s: %v", r.Method, r.URL.Path, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// adminOnly resolves the caller from the X-User-ID header against storage and
// requires the admin role
func (a *App) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("X-User-ID")
		if header == "" {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		callerID, err := strconv.ParseInt(header, 10, 64)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		caller, err := a.userService.GetUser(r.Context(), callerID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			a.handleServiceError(w, r, err)
			return
		}
		if caller.Role != "admin" {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}

		next(w, r)
	}
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// userIDFromQuery reads the required user_id query parameter
func userIDFromQuery(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return 0, errors.New("user_id query parameter is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user_id")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// ---- Users ----

// RegisterHandler handles POST /api/users/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.userService.Register(r.Context(), req)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "registration successful",
		"user":    user,
	})
}

// LoginHandler handles POST /api/users/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "login successful",
		"user":    user,
	})
}

// ListUsersHandler handles GET /api/users (admin)
func (a *App) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.userService.ListUsers(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// GetUserHandler handles GET /api/users/{id}
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := a.userService.GetUser(r.Context(), id)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdateUserHandler handles PUT /api/users/{id}
func (a *App) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req models.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.userService.UpdateUser(r.Context(), id, req)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "profile updated",
		"user":    user,
	})
}

// ---- Products ----

// ListProductsHandler handles GET /api/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	products, err := a.productService.ListProducts(r.Context(), limit, offset)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := a.productService.GetProduct(r.Context(), id)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/products (admin)
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := a.productService.CreateProduct(r.Context(), req)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "product created",
		"product": product,
	})
}

// UpdateProductHandler handles PUT /api/products/{id} (admin)
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req models.UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := a.productService.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "product updated",
		"product": product,
	})
}

// DeleteProductHandler handles DELETE /api/products/{id} (admin)
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := a.productService.DeleteProduct(r.Context(), id); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "product deleted",
	})
}

// ---- Cart ----

// GetCartHandler handles GET /api/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.cartService.GetCart(r.Context(), userID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// AddToCartHandler handles POST /api/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	if err := a.cartService.AddToCart(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "item added to cart",
	})
}

// RemoveFromCartHandler handles DELETE /api/cart/{productId}
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := pathID(r, "productId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := a.cartService.RemoveFromCart(r.Context(), userID, productID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "item removed from cart",
	})
}

// ClearCartHandler handles POST /api/cart/clear
func (a *App) ClearCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.cartService.ClearCart(r.Context(), userID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "cart cleared",
	})
}

// ---- Checkout ----

// CheckoutHandler handles POST /api/checkout
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID, status, err := a.orderService.PlaceOrder(r.Context(), req.UserID, req.CartItems, req.TotalAmount, req.PaymentMethod, req.ShippingAddress)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "checkout successful, order created",
		"orderId": orderID,
		"status":  status,
	})
}

// GetCheckoutCartHandler handles GET /api/checkout/{userId}
func (a *App) GetCheckoutCartHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	items, err := a.cartService.GetCart(r.Context(), userID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// ---- Orders ----

// ListOrdersHandler handles GET /api/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	var userID *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = &parsed
	}

	orders, err := a.orderService.ListOrders(r.Context(), userID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// CreateOrderHandler handles POST /api/orders/create
func (a *App) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID, err := a.orderService.CreateOrder(r.Context(), req.UserID, req.Items, req.TotalPrice)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orderId": orderID,
		"message": "order created",
	})
}

// GetOrderHandler handles GET /api/orders/{orderId}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := a.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler handles PUT /api/orders/{orderId}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := a.orderService.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "order status updated",
		"order":   order,
	})
}
