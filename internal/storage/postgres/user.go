package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
)

var (
	_ user.Repository       = (*UserRepository)(nil)
	_ user.APIKeyRepository = (*APIKeyRepository)(nil)
)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// ByID returns a user by id, or user.ErrNotFound.
func (r *UserRepository) ByID(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, username, role, is_active FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	return &u, nil
}

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an API key by its HMAC-SHA256 hash and resolves the
// owning active user in the same query. Returns user.ErrNotFound when no
// matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.username, u.role, u.is_active
		 FROM api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.key_hash = $1 AND u.is_active`, hash).
		Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &u, nil
}
