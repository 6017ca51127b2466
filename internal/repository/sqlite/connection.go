package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/model"
	"github.com/sakif/social-connect/internal/repository"
)

var _ repository.ConnectionStore = (*DB)(nil)

const selectConnection = `
	SELECT user_id, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
	       access_token, secret, refresh_token, expire_time, created_at, updated_at
	FROM user_connections`

// GetConnection returns the row for one (user, provider, provider user) key.
// sql.ErrNoRows becomes apperror.NoSuchConnection.
func (db *DB) GetConnection(ctx context.Context, userID, providerID, providerUserID string) (*model.UserConnection, error) {
	var conn model.UserConnection

	err := db.conn.GetContext(ctx, &conn,
		selectConnection+` WHERE user_id = ? AND provider_id = ? AND provider_user_id = ?`,
		userID, providerID, providerUserID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NoSuchConnection(model.ConnectionKey{
				ProviderID:     providerID,
				ProviderUserID: providerUserID,
			})
		}
		return nil, fmt.Errorf("sqlite: getting connection %s/%s/%s: %w", userID, providerID, providerUserID, err)
	}

	return &conn, nil
}

func (db *DB) GetConnectionsByProviderKey(ctx context.Context, providerID, providerUserID string) ([]model.UserConnection, error) {
	return db.selectConnections(ctx, "connections by provider key",
		selectConnection+` WHERE provider_id = ? AND provider_user_id = ? ORDER BY user_id`,
		providerID, providerUserID,
	)
}

func (db *DB) GetUserConnections(ctx context.Context, userID string) ([]model.UserConnection, error) {
	return db.selectConnections(ctx, "user connections",
		selectConnection+` WHERE user_id = ? ORDER BY provider_id, rank`,
		userID,
	)
}

func (db *DB) GetUserProviderConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error) {
	return db.selectConnections(ctx, "user provider connections",
		selectConnection+` WHERE user_id = ? AND provider_id = ? ORDER BY rank`,
		userID, providerID,
	)
}

// GetUserConnectionsTo runs one IN query per provider. Providers with an
// empty id list are skipped, since sqlx.In rejects empty slices.
func (db *DB) GetUserConnectionsTo(ctx context.Context, userID string, providerUsers repository.ProviderUsers) ([]model.UserConnection, error) {
	providerIDs := make([]string, 0, len(providerUsers))
	for providerID := range providerUsers {
		providerIDs = append(providerIDs, providerID)
	}
	sort.Strings(providerIDs)

	conns := []model.UserConnection{}
	for _, providerID := range providerIDs {
		providerUserIDs := providerUsers[providerID]
		if len(providerUserIDs) == 0 {
			continue
		}

		query, args, err := sqlx.In(
			selectConnection+` WHERE user_id = ? AND provider_id = ? AND provider_user_id IN (?) ORDER BY rank`,
			userID, providerID, providerUserIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: building provider users query: %w", err)
		}

		found, err := db.selectConnections(ctx, "connections to provider users", db.conn.Rebind(query), args...)
		if err != nil {
			return nil, err
		}
		conns = append(conns, found...)
	}

	return conns, nil
}

func (db *DB) GetPrimaryConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error) {
	return db.selectConnections(ctx, "primary connections",
		selectConnection+` WHERE user_id = ? AND provider_id = ? AND rank = 1`,
		userID, providerID,
	)
}

func (db *DB) NextRank(ctx context.Context, userID, providerID string) (int, error) {
	var rank int

	err := db.conn.GetContext(ctx, &rank,
		`SELECT COALESCE(MAX(rank), 0) + 1 FROM user_connections WHERE user_id = ? AND provider_id = ?`,
		userID, providerID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: computing next rank for %s/%s: %w", userID, providerID, err)
	}

	return rank, nil
}

func (db *DB) FindUserIDsConnectedTo(ctx context.Context, providerID string, providerUserIDs []string) ([]string, error) {
	userIDs := []string{}
	if len(providerUserIDs) == 0 {
		return userIDs, nil
	}

	query, args, err := sqlx.In(
		`SELECT DISTINCT user_id FROM user_connections
		 WHERE provider_id = ? AND provider_user_id IN (?)
		 ORDER BY user_id`,
		providerID, providerUserIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: building connected users query: %w", err)
	}

	if err := db.conn.SelectContext(ctx, &userIDs, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlite: finding users connected to %s: %w", providerID, err)
	}

	return userIDs, nil
}

// CreateConnection inserts a new row. There is no existence check first:
// the primary key rejects a duplicate and the violation is translated.
func (db *DB) CreateConnection(ctx context.Context, conn *model.UserConnection) error {
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO user_connections (
			user_id, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
			access_token, secret, refresh_token, expire_time, created_at, updated_at
		) VALUES (
			:user_id, :provider_id, :provider_user_id, :rank, :display_name, :profile_url, :image_url,
			:access_token, :secret, :refresh_token, :expire_time, :created_at, :updated_at
		)`,
		conn,
	)
	if err != nil {
		if translated := translateConstraintError(err, conn); translated != nil {
			return translated
		}
		return fmt.Errorf("sqlite: creating connection %s for %s: %w", conn.Key(), conn.UserID, err)
	}

	return nil
}

// SaveConnection overwrites display metadata, tokens and expiry. The key and
// rank are immutable.
func (db *DB) SaveConnection(ctx context.Context, conn *model.UserConnection) error {
	conn.UpdatedAt = time.Now().UTC()

	result, err := db.conn.NamedExecContext(ctx,
		`UPDATE user_connections
		 SET display_name = :display_name, profile_url = :profile_url, image_url = :image_url,
		     access_token = :access_token, secret = :secret, refresh_token = :refresh_token,
		     expire_time = :expire_time, updated_at = :updated_at
		 WHERE user_id = :user_id AND provider_id = :provider_id AND provider_user_id = :provider_user_id`,
		conn,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving connection %s for %s: %w", conn.Key(), conn.UserID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NoSuchConnection(conn.Key())
	}

	return nil
}

func (db *DB) DeleteConnection(ctx context.Context, userID, providerID, providerUserID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_connections WHERE user_id = ? AND provider_id = ? AND provider_user_id = ?`,
		userID, providerID, providerUserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting connection %s/%s/%s: %w", userID, providerID, providerUserID, err)
	}
	return nil
}

func (db *DB) DeleteConnections(ctx context.Context, userID, providerID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_connections WHERE user_id = ? AND provider_id = ?`,
		userID, providerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting connections %s/%s: %w", userID, providerID, err)
	}
	return nil
}

func (db *DB) selectConnections(ctx context.Context, what, query string, args ...any) ([]model.UserConnection, error) {
	conns := []model.UserConnection{}
	if err := db.conn.SelectContext(ctx, &conns, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: listing %s: %w", what, err)
	}
	return conns, nil
}

// translateConstraintError maps a uniqueness violation to a domain error, or
// returns nil when err is not one. The rank index is the only unique index
// besides the primary key; hitting it means a concurrent add took the rank.
func translateConstraintError(err error, conn *model.UserConnection) error {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return nil
	}
	if strings.Contains(sqliteErr.Error(), "user_connections.rank") {
		return apperror.Conflict("connection rank", fmt.Sprintf("%s/%s/%d", conn.UserID, conn.ProviderID, conn.Rank))
	}
	return apperror.DuplicateConnection(conn.Key())
}
