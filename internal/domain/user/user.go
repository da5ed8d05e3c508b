package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// Role controls access to administrative operations.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// User is an account that can place orders. Credential issuance lives outside
// this service; users and their API keys are provisioned by the seeder.
type User struct {
	ID       string
	Email    string
	Username string
	Role     Role
	IsActive bool
}

// APIKey links an HMAC-hashed credential to a user.
type APIKey struct {
	ID      string
	UserID  string
	KeyHash string
	Name    string
}

// Repository provides user lookup.
type Repository interface {
	ByID(ctx context.Context, id string) (*User, error)
}

// APIKeyRepository provides lookup of API keys by their HMAC hash, resolving
// the owning user in the same query.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*User, error)
}
