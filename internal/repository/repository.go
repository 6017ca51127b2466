// Package repository declares the persistence contract for user connection
// rows. Implementations live in the sqlite and postgres subpackages.
package repository

import (
	"context"

	"github.com/sakif/social-connect/internal/model"
)

// ProviderUsers maps a provider id to an ordered list of provider user ids.
// The order matters to callers that align results positionally.
type ProviderUsers map[string][]string

// ConnectionStore performs row-level reads and writes against the
// user_connections table. Every mutating call commits on its own; no call
// spans another.
//
// Lookups by exact key return an error wrapping apperror.ErrNotFound when
// nothing matches. List lookups return an empty slice instead.
// CreateConnection returns apperror.ErrDuplicateConnection when the
// (user, provider, provider user) key is taken, enforced by the schema at
// write time rather than by a prior read.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, providerID, providerUserID string) (*model.UserConnection, error)

	// GetConnectionsByProviderKey returns the rows of every local user
	// connected to one provider account.
	GetConnectionsByProviderKey(ctx context.Context, providerID, providerUserID string) ([]model.UserConnection, error)

	// GetUserConnections returns all rows of a user ordered by provider then rank.
	GetUserConnections(ctx context.Context, userID string) ([]model.UserConnection, error)

	// GetUserProviderConnections returns a user's rows for one provider ordered by rank.
	GetUserProviderConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error)

	// GetUserConnectionsTo returns the user's rows matching any of the given
	// (provider, provider user) pairs.
	GetUserConnectionsTo(ctx context.Context, userID string, providerUsers ProviderUsers) ([]model.UserConnection, error)

	// GetPrimaryConnections returns the rank 1 rows for a provider (0 or 1 expected).
	GetPrimaryConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error)

	// NextRank returns 1 + the highest rank held by the user for the provider,
	// or 1 when there is none.
	NextRank(ctx context.Context, userID, providerID string) (int, error)

	// FindUserIDsConnectedTo returns the distinct, sorted ids of local users
	// connected to any of the given provider accounts.
	FindUserIDsConnectedTo(ctx context.Context, providerID string, providerUserIDs []string) ([]string, error)

	CreateConnection(ctx context.Context, conn *model.UserConnection) error

	// SaveConnection overwrites the mutable columns of an existing row.
	SaveConnection(ctx context.Context, conn *model.UserConnection) error

	// DeleteConnection is a no-op when the row does not exist.
	DeleteConnection(ctx context.Context, userID, providerID, providerUserID string) error

	// DeleteConnections removes every row of the user for the provider; no-op when none.
	DeleteConnections(ctx context.Context, userID, providerID string) error

	Close() error
}
