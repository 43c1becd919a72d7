package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"
)

// pq error code for unique constraint violations
const uniqueViolation = "23505"

// UserService handles account operations. Passwords are stored as bcrypt
// hashes and compared in constant time.
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
	}
}

// Register creates a customer account. Duplicate email is a conflict.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, NewValidationError("email, password, and name are required")
	}
	if len(req.Password) < 6 {
		return nil, NewValidationError("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	start := time.Now()
	query := `INSERT INTO users (email, password, name, phone, address, role)
		VALUES ($1, $2, $3, $4, $5, 'customer')
		RETURNING id, created_at`
	var user models.User
	err = s.db.QueryRowContext(ctx, query, req.Email, string(hash), req.Name, req.Phone, req.Address).
		Scan(&user.ID, &user.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("email already registered: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.Email = req.Email
	user.Name = req.Name
	user.Phone = req.Phone
	user.Address = req.Address
	user.Role = "customer"

	s.metrics.ActiveUsersCount.Record(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_type", "registered"),
		attribute.Int64("user_id", user.ID),
	})...))

	return &user, nil
}

// Login verifies credentials. The caller cannot tell whether the email or the
// password was wrong.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, NewValidationError("email and password are required")
	}

	start := time.Now()
	query := `SELECT id, email, password, name, COALESCE(phone, ''), COALESCE(address, ''), role, created_at
		FROM users WHERE email = $1`
	var user models.User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Password, &user.Name, &user.Phone, &user.Address, &user.Role, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	s.metrics.ActiveUsersCount.Record(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_type", "authenticated"),
		attribute.Int64("user_id", user.ID),
	})...))

	user.Password = ""
	return &user, nil
}

// GetUser returns a user by id
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := `SELECT id, email, name, COALESCE(phone, ''), COALESCE(address, ''), role, created_at
		FROM users WHERE id = $1`
	var user models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Phone, &user.Address, &user.Role, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ListUsers returns all accounts, passwords excluded
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	start := time.Now()
	query := `SELECT id, email, name, COALESCE(phone, ''), COALESCE(address, ''), role, created_at
		FROM users ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Address, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// UpdateUser applies a partial profile update; absent fields keep current values
func (s *UserService) UpdateUser(ctx context.Context, id int64, req models.UpdateUserRequest) (*models.User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Phone != nil {
		current.Phone = *req.Phone
	}
	if req.Address != nil {
		current.Address = *req.Address
	}
	if current.Name == "" {
		return nil, NewValidationError("name must not be empty")
	}

	start := time.Now()
	query := `UPDATE users SET name = $1, phone = $2, address = $3, updated_at = NOW() WHERE id = $4
		RETURNING id, email, name, COALESCE(phone, ''), COALESCE(address, ''), role, created_at`
	var user models.User
	err = s.db.QueryRowContext(ctx, query, current.Name, current.Phone, current.Address, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Phone, &user.Address, &user.Role, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return &user, nil
}
