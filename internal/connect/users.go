package connect

import (
	"context"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/crypto"
	"github.com/sakif/social-connect/internal/repository"
)

// ConnectionSignUp creates a local user for a provider account nobody owns
// yet. Returning "" declines, leaving the caller to send the user through a
// regular sign-up.
type ConnectionSignUp interface {
	Execute(ctx context.Context, conn Connection) (string, error)
}

// SignUpFunc adapts a function to ConnectionSignUp.
type SignUpFunc func(ctx context.Context, conn Connection) (string, error)

func (f SignUpFunc) Execute(ctx context.Context, conn Connection) (string, error) {
	return f(ctx, conn)
}

// GeneratedUserIDSignUp signs up every unknown provider account under a
// freshly generated user id.
var GeneratedUserIDSignUp = SignUpFunc(func(context.Context, Connection) (string, error) {
	return xid.New().String(), nil
})

// UsersConnectionRepository is the entry point for connection persistence
// across all users.
type UsersConnectionRepository struct {
	store     repository.ConnectionStore
	locator   FactoryLocator
	encryptor crypto.TextEncryptor
	signUp    ConnectionSignUp
	logger    *slog.Logger
}

// Option configures a UsersConnectionRepository.
type Option func(*UsersConnectionRepository)

// WithConnectionSignUp enables implicit sign-up in FindUserIDsWithConnection.
func WithConnectionSignUp(signUp ConnectionSignUp) Option {
	return func(r *UsersConnectionRepository) {
		r.signUp = signUp
	}
}

// NewUsersConnectionRepository wires the store, factory registry and token
// encryptor together. A nil encryptor stores tokens as plaintext and a nil
// logger discards output.
func NewUsersConnectionRepository(
	store repository.ConnectionStore,
	locator FactoryLocator,
	encryptor crypto.TextEncryptor,
	logger *slog.Logger,
	opts ...Option,
) *UsersConnectionRepository {
	if encryptor == nil {
		encryptor = crypto.NoOp()
	}
	if logger == nil {
		logger = discardLogger()
	}

	r := &UsersConnectionRepository{
		store:     store,
		locator:   locator,
		encryptor: encryptor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateConnectionRepository returns the repository of one user.
func (r *UsersConnectionRepository) CreateConnectionRepository(userID string) (*ConnectionRepository, error) {
	if userID == "" {
		return nil, apperror.InvalidArgument("userId", "userId cannot be empty")
	}
	return newConnectionRepository(userID, r.store, r.locator, r.encryptor, r.logger), nil
}

// FindUserIDsWithConnection returns the local users linked to the provider
// account behind conn. When there are none and a ConnectionSignUp is
// configured, it may create a user, in which case conn is stored for that
// user and its id is the only one returned.
func (r *UsersConnectionRepository) FindUserIDsWithConnection(ctx context.Context, conn Connection) ([]string, error) {
	key := conn.Key()

	rows, err := r.store.GetConnectionsByProviderKey(ctx, key.ProviderID, key.ProviderUserID)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	if len(userIDs) > 0 || r.signUp == nil {
		return userIDs, nil
	}

	newUserID, err := r.signUp.Execute(ctx, conn)
	if err != nil {
		return nil, err
	}
	if newUserID == "" {
		r.logger.Debug("connection sign-up declined", slog.String("providerID", key.ProviderID))
		return userIDs, nil
	}

	repo, err := r.CreateConnectionRepository(newUserID)
	if err != nil {
		return nil, err
	}
	if err := repo.AddConnection(ctx, conn); err != nil {
		return nil, err
	}

	r.logger.Info("user signed up through connection",
		slog.String("userID", newUserID),
		slog.String("providerID", key.ProviderID),
	)
	return []string{newUserID}, nil
}

// FindUserIDsConnectedTo returns the distinct local users connected to any
// of the given accounts at providerID.
func (r *UsersConnectionRepository) FindUserIDsConnectedTo(ctx context.Context, providerID string, providerUserIDs []string) ([]string, error) {
	return r.store.FindUserIDsConnectedTo(ctx, providerID, providerUserIDs)
}
