package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/model"
	"github.com/sakif/social-connect/internal/repository"
)

const (
	uniqueViolation = "23505"

	primaryKeyConstraint = "user_connections_pkey"
	rankConstraint       = "user_connections_rank_key"
)

// mutableColumns are the columns SaveConnection may overwrite.
var mutableColumns = []string{
	"display_name", "profile_url", "image_url",
	"access_token", "secret", "refresh_token",
	"expire_time", "updated_at",
}

// Store implements repository.ConnectionStore with gorm.
type Store struct {
	db *gorm.DB
}

var _ repository.ConnectionStore = (*Store)(nil)

// NewStore wraps an open gorm connection, usually from Connect. The schema
// must already be migrated.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("postgres: getting underlying database: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) GetConnection(ctx context.Context, userID, providerID, providerUserID string) (*model.UserConnection, error) {
	var conn model.UserConnection

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ? AND provider_user_id = ?", userID, providerID, providerUserID).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NoSuchConnection(model.ConnectionKey{ProviderID: providerID, ProviderUserID: providerUserID})
		}
		return nil, fmt.Errorf("postgres: getting connection %s/%s/%s: %w", userID, providerID, providerUserID, err)
	}

	return &conn, nil
}

func (s *Store) GetConnectionsByProviderKey(ctx context.Context, providerID, providerUserID string) ([]model.UserConnection, error) {
	return s.find(ctx, "connections by provider key", "user_id",
		"provider_id = ? AND provider_user_id = ?", providerID, providerUserID)
}

func (s *Store) GetUserConnections(ctx context.Context, userID string) ([]model.UserConnection, error) {
	return s.find(ctx, "user connections", "provider_id, rank", "user_id = ?", userID)
}

func (s *Store) GetUserProviderConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error) {
	return s.find(ctx, "user provider connections", "rank",
		"user_id = ? AND provider_id = ?", userID, providerID)
}

func (s *Store) GetUserConnectionsTo(ctx context.Context, userID string, providerUsers repository.ProviderUsers) ([]model.UserConnection, error) {
	providerIDs := make([]string, 0, len(providerUsers))
	for providerID, ids := range providerUsers {
		if len(ids) > 0 {
			providerIDs = append(providerIDs, providerID)
		}
	}
	if len(providerIDs) == 0 {
		return []model.UserConnection{}, nil
	}
	sort.Strings(providerIDs)

	// One OR group per provider keeps it to a single round trip.
	cond := s.db.Where("provider_id = ? AND provider_user_id IN ?", providerIDs[0], providerUsers[providerIDs[0]])
	for _, providerID := range providerIDs[1:] {
		cond = cond.Or("provider_id = ? AND provider_user_id IN ?", providerID, providerUsers[providerID])
	}

	conns := []model.UserConnection{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(cond).
		Order("provider_id, rank").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: listing connections to provider users: %w", err)
	}
	return conns, nil
}

func (s *Store) GetPrimaryConnections(ctx context.Context, userID, providerID string) ([]model.UserConnection, error) {
	return s.find(ctx, "primary connections", "rank",
		"user_id = ? AND provider_id = ? AND rank = 1", userID, providerID)
}

func (s *Store) NextRank(ctx context.Context, userID, providerID string) (int, error) {
	var rank int

	err := s.db.WithContext(ctx).
		Model(&model.UserConnection{}).
		Select("COALESCE(MAX(rank), 0) + 1").
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Scan(&rank).Error
	if err != nil {
		return 0, fmt.Errorf("postgres: computing next rank for %s/%s: %w", userID, providerID, err)
	}

	return rank, nil
}

func (s *Store) FindUserIDsConnectedTo(ctx context.Context, providerID string, providerUserIDs []string) ([]string, error) {
	userIDs := []string{}
	if len(providerUserIDs) == 0 {
		return userIDs, nil
	}

	err := s.db.WithContext(ctx).
		Model(&model.UserConnection{}).
		Distinct().
		Where("provider_id = ? AND provider_user_id IN ?", providerID, providerUserIDs).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: finding users connected to %s: %w", providerID, err)
	}

	return userIDs, nil
}

// CreateConnection inserts the row; the primary key constraint rejects a
// duplicate key.
func (s *Store) CreateConnection(ctx context.Context, conn *model.UserConnection) error {
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		if translated := translateError(err, conn); translated != nil {
			return translated
		}
		return fmt.Errorf("postgres: creating connection %s for %s: %w", conn.Key(), conn.UserID, err)
	}
	return nil
}

// SaveConnection updates the mutable columns only. gorm's Save would insert
// a missing row instead of reporting it.
func (s *Store) SaveConnection(ctx context.Context, conn *model.UserConnection) error {
	conn.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(conn).
		Select(mutableColumns).
		Updates(conn)
	if result.Error != nil {
		return fmt.Errorf("postgres: saving connection %s for %s: %w", conn.Key(), conn.UserID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NoSuchConnection(conn.Key())
	}
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, userID, providerID, providerUserID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ? AND provider_user_id = ?", userID, providerID, providerUserID).
		Delete(&model.UserConnection{}).Error
	if err != nil {
		return fmt.Errorf("postgres: deleting connection %s/%s/%s: %w", userID, providerID, providerUserID, err)
	}
	return nil
}

func (s *Store) DeleteConnections(ctx context.Context, userID, providerID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Delete(&model.UserConnection{}).Error
	if err != nil {
		return fmt.Errorf("postgres: deleting connections %s/%s: %w", userID, providerID, err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, what, order, query string, args ...any) ([]model.UserConnection, error) {
	conns := []model.UserConnection{}
	if err := s.db.WithContext(ctx).Where(query, args...).Order(order).Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("postgres: listing %s: %w", what, err)
	}
	return conns, nil
}

// translateError maps unique violations to domain errors; nil when err is
// something else.
func translateError(err error, conn *model.UserConnection) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != uniqueViolation {
			return nil
		}
		if pgErr.ConstraintName == rankConstraint {
			return apperror.Conflict("connection rank", fmt.Sprintf("%s/%s/%d", conn.UserID, conn.ProviderID, conn.Rank))
		}
		return apperror.DuplicateConnection(conn.Key())
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperror.DuplicateConnection(conn.Key())
	}
	return nil
}
