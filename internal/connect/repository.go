package connect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/crypto"
	"github.com/sakif/social-connect/internal/model"
	"github.com/sakif/social-connect/internal/repository"
)

// ConnectionRepository manages the connections of one local user.
//
// Tokens are encrypted on the way into the store and decrypted on the way
// out. Obtain one from UsersConnectionRepository.CreateConnectionRepository.
type ConnectionRepository struct {
	userID    string
	store     repository.ConnectionStore
	locator   FactoryLocator
	encryptor crypto.TextEncryptor
	logger    *slog.Logger
}

func newConnectionRepository(
	userID string,
	store repository.ConnectionStore,
	locator FactoryLocator,
	encryptor crypto.TextEncryptor,
	logger *slog.Logger,
) *ConnectionRepository {
	return &ConnectionRepository{
		userID:    userID,
		store:     store,
		locator:   locator,
		encryptor: encryptor,
		logger:    logger.With(slog.String("userID", userID)),
	}
}

// UserID returns the local user this repository is scoped to.
func (r *ConnectionRepository) UserID() string {
	return r.userID
}

// FindAllConnections groups the user's connections by provider, ordered by
// rank. Every registered provider has an entry, empty when not connected.
func (r *ConnectionRepository) FindAllConnections(ctx context.Context) (map[string][]Connection, error) {
	rows, err := r.store.GetUserConnections(ctx, r.userID)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]Connection)
	for _, providerID := range r.locator.ProviderIDs() {
		result[providerID] = []Connection{}
	}

	conns, err := r.toConnections(rows)
	if err != nil {
		return nil, err
	}
	for _, conn := range conns {
		providerID := conn.Key().ProviderID
		result[providerID] = append(result[providerID], conn)
	}

	return result, nil
}

// FindConnections returns the user's connections to one provider, ordered by rank.
func (r *ConnectionRepository) FindConnections(ctx context.Context, providerID string) ([]Connection, error) {
	rows, err := r.store.GetUserProviderConnections(ctx, r.userID, providerID)
	if err != nil {
		return nil, err
	}
	return r.toConnections(rows)
}

// FindConnectionsForAPI is FindConnections for the provider registered under apiType.
func (r *ConnectionRepository) FindConnectionsForAPI(ctx context.Context, apiType reflect.Type) ([]Connection, error) {
	factory, err := r.locator.FactoryForAPI(apiType)
	if err != nil {
		return nil, err
	}
	return r.FindConnections(ctx, factory.ProviderID())
}

// FindConnectionsToUsers looks up the user's connections to specific
// provider accounts. The result has an entry for every requested provider
// whose slice lines up with the requested ids; a nil slot means the user is
// not connected to that account.
func (r *ConnectionRepository) FindConnectionsToUsers(ctx context.Context, providerUsers repository.ProviderUsers) (map[string][]Connection, error) {
	if len(providerUsers) == 0 {
		return nil, apperror.InvalidArgument("providerUsers", "providerUsers must not be empty")
	}

	rows, err := r.store.GetUserConnectionsTo(ctx, r.userID, providerUsers)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]Connection, len(providerUsers))
	for providerID, ids := range providerUsers {
		result[providerID] = make([]Connection, len(ids))
	}

	for i := range rows {
		row := &rows[i]
		ids, ok := providerUsers[row.ProviderID]
		if !ok {
			return nil, fmt.Errorf("connect: store returned connection %s outside the requested providers", row.Key())
		}

		conn, err := r.toConnection(row)
		if err != nil {
			return nil, err
		}

		matched := false
		for pos, id := range ids {
			if id == row.ProviderUserID {
				result[row.ProviderID][pos] = conn
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("connect: store returned connection %s outside the requested provider users", row.Key())
		}
	}

	return result, nil
}

// GetConnection returns the connection with the given key, or an error
// wrapping apperror.ErrNotFound.
func (r *ConnectionRepository) GetConnection(ctx context.Context, key model.ConnectionKey) (Connection, error) {
	row, err := r.store.GetConnection(ctx, r.userID, key.ProviderID, key.ProviderUserID)
	if err != nil {
		return nil, err
	}
	return r.toConnection(row)
}

// GetConnectionForAPI returns the connection to providerUserID at the
// provider registered under apiType.
func (r *ConnectionRepository) GetConnectionForAPI(ctx context.Context, apiType reflect.Type, providerUserID string) (Connection, error) {
	factory, err := r.locator.FactoryForAPI(apiType)
	if err != nil {
		return nil, err
	}
	return r.GetConnection(ctx, model.ConnectionKey{ProviderID: factory.ProviderID(), ProviderUserID: providerUserID})
}

// GetPrimaryConnection returns the rank 1 connection for apiType's provider,
// or an error wrapping apperror.ErrNotConnected.
func (r *ConnectionRepository) GetPrimaryConnection(ctx context.Context, apiType reflect.Type) (Connection, error) {
	factory, err := r.locator.FactoryForAPI(apiType)
	if err != nil {
		return nil, err
	}

	conn, err := r.findPrimary(ctx, factory.ProviderID())
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperror.NotConnected(factory.ProviderID())
	}
	return conn, nil
}

// FindPrimaryConnection is GetPrimaryConnection returning (nil, nil) when
// the user is not connected.
func (r *ConnectionRepository) FindPrimaryConnection(ctx context.Context, apiType reflect.Type) (Connection, error) {
	factory, err := r.locator.FactoryForAPI(apiType)
	if err != nil {
		return nil, err
	}
	return r.findPrimary(ctx, factory.ProviderID())
}

func (r *ConnectionRepository) findPrimary(ctx context.Context, providerID string) (Connection, error) {
	rows, err := r.store.GetPrimaryConnections(ctx, r.userID, providerID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return r.toConnection(&rows[0])
}

// AddConnection persists conn at the next free rank for its provider.
// A connection whose key the user already holds fails with an error
// wrapping apperror.ErrDuplicateConnection.
func (r *ConnectionRepository) AddConnection(ctx context.Context, conn Connection) error {
	data := conn.CreateData()
	if data.ProviderID == "" {
		return apperror.InvalidArgument("providerId", "connection must have a provider id")
	}
	if data.ProviderUserID == "" {
		return apperror.InvalidArgument("providerUserId", "connection must have a provider user id")
	}
	if _, err := r.locator.Factory(data.ProviderID); err != nil {
		return err
	}

	rank, err := r.store.NextRank(ctx, r.userID, data.ProviderID)
	if err != nil {
		return err
	}

	row := &model.UserConnection{
		UserID:         r.userID,
		ProviderID:     data.ProviderID,
		ProviderUserID: data.ProviderUserID,
		Rank:           rank,
	}
	if err := r.fillRow(row, data); err != nil {
		return err
	}

	if err := r.store.CreateConnection(ctx, row); err != nil {
		return err
	}

	r.logger.Debug("connection added",
		slog.String("providerID", data.ProviderID),
		slog.String("providerUserID", data.ProviderUserID),
		slog.Int("rank", rank),
	)
	return nil
}

// UpdateConnection overwrites the display metadata, tokens and expiry of an
// existing connection. Key and rank do not change.
func (r *ConnectionRepository) UpdateConnection(ctx context.Context, conn Connection) error {
	data := conn.CreateData()

	row, err := r.store.GetConnection(ctx, r.userID, data.ProviderID, data.ProviderUserID)
	if err != nil {
		return err
	}
	if err := r.fillRow(row, data); err != nil {
		return err
	}
	if err := r.store.SaveConnection(ctx, row); err != nil {
		return err
	}

	r.logger.Debug("connection updated",
		slog.String("providerID", data.ProviderID),
		slog.String("providerUserID", data.ProviderUserID),
	)
	return nil
}

// RemoveConnection deletes one connection. Removing an absent key is not an error.
func (r *ConnectionRepository) RemoveConnection(ctx context.Context, key model.ConnectionKey) error {
	if err := r.store.DeleteConnection(ctx, r.userID, key.ProviderID, key.ProviderUserID); err != nil {
		return err
	}
	r.logger.Debug("connection removed",
		slog.String("providerID", key.ProviderID),
		slog.String("providerUserID", key.ProviderUserID),
	)
	return nil
}

// RemoveConnections deletes every connection to a provider.
func (r *ConnectionRepository) RemoveConnections(ctx context.Context, providerID string) error {
	if err := r.store.DeleteConnections(ctx, r.userID, providerID); err != nil {
		return err
	}
	r.logger.Debug("connections removed", slog.String("providerID", providerID))
	return nil
}

// =========================================================================
// ROW MAPPING
// =========================================================================

func (r *ConnectionRepository) toConnections(rows []model.UserConnection) ([]Connection, error) {
	conns := make([]Connection, 0, len(rows))
	for i := range rows {
		conn, err := r.toConnection(&rows[i])
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (r *ConnectionRepository) toConnection(row *model.UserConnection) (Connection, error) {
	factory, err := r.locator.Factory(row.ProviderID)
	if err != nil {
		return nil, err
	}

	data := ConnectionData{
		ProviderID:     row.ProviderID,
		ProviderUserID: row.ProviderUserID,
		DisplayName:    deref(row.DisplayName),
		ProfileURL:     deref(row.ProfileURL),
		ImageURL:       deref(row.ImageURL),
	}
	if row.ExpireTime != nil {
		data.ExpireTime = *row.ExpireTime
	}

	for _, f := range []struct {
		cipher *string
		plain  *string
		name   string
	}{
		{row.AccessToken, &data.AccessToken, "access token"},
		{row.Secret, &data.Secret, "secret"},
		{row.RefreshToken, &data.RefreshToken, "refresh token"},
	} {
		if f.cipher == nil {
			continue
		}
		plain, err := r.encryptor.Decrypt(*f.cipher)
		if err != nil {
			return nil, fmt.Errorf("connect: decrypting %s of %s: %w", f.name, row.Key(), err)
		}
		*f.plain = plain
	}

	return factory.CreateConnection(data)
}

// fillRow copies the mutable fields of data into row, encrypting tokens.
func (r *ConnectionRepository) fillRow(row *model.UserConnection, data ConnectionData) error {
	row.DisplayName = nullable(data.DisplayName)
	row.ProfileURL = nullable(data.ProfileURL)
	row.ImageURL = nullable(data.ImageURL)

	row.ExpireTime = nil
	if data.ExpireTime != 0 {
		expire := data.ExpireTime
		row.ExpireTime = &expire
	}

	var err error
	if row.AccessToken, err = r.encrypt(data.AccessToken); err != nil {
		return fmt.Errorf("connect: encrypting access token of %s: %w", data.Key(), err)
	}
	if row.Secret, err = r.encrypt(data.Secret); err != nil {
		return fmt.Errorf("connect: encrypting secret of %s: %w", data.Key(), err)
	}
	if row.RefreshToken, err = r.encrypt(data.RefreshToken); err != nil {
		return fmt.Errorf("connect: encrypting refresh token of %s: %w", data.Key(), err)
	}
	return nil
}

func (r *ConnectionRepository) encrypt(plain string) (*string, error) {
	if plain == "" {
		return nil, nil
	}
	cipher, err := r.encryptor.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return &cipher, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
