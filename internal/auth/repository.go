package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new admin and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name, role string) (*models.Admin, error) {
	a := &models.Admin{ID: uuid.New(), Email: email, Name: name, PasswordHash: passwordHash, Role: role}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO admins (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.Email, a.Name, a.PasswordHash, a.Role).Scan(&a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByEmail returns the admin with its password hash, or nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM admins WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
