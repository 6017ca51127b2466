// Package provider builds OAuth2 connection factories on golang.org/x/oauth2.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW, as a connection:
//  1. Redirect the user to AuthCodeURL(state).
//  2. The provider redirects back with a short-lived code.
//  3. Exchange(ctx, code) trades it for tokens, fetches the provider profile
//     and returns an *OAuth2Connection.
//  4. The caller stores it with connect.ConnectionRepository.AddConnection, or
//     resolves the local user with UsersConnectionRepository.FindUserIDsWithConnection.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/social-connect/internal/connect"
)

// Profile is the part of a provider's user record a connection keeps.
type Profile struct {
	ID          string
	DisplayName string
	ProfileURL  string
	ImageURL    string
}

// ProfileFetcher loads the authenticated user's profile. client already
// carries the access token.
type ProfileFetcher func(ctx context.Context, client *http.Client) (Profile, error)

// OAuth2Factory creates OAuth2Connections for one provider.
type OAuth2Factory struct {
	providerID string
	apiType    reflect.Type
	config     *oauth2.Config
	profile    ProfileFetcher
}

var _ connect.ConnectionFactory = (*OAuth2Factory)(nil)

// NewOAuth2Factory registers under providerID with A as the API marker.
// profile may be nil, in which case Exchange is unavailable.
func NewOAuth2Factory[A any](providerID string, config *oauth2.Config, profile ProfileFetcher) *OAuth2Factory {
	return &OAuth2Factory{
		providerID: providerID,
		apiType:    connect.APIType[A](),
		config:     config,
		profile:    profile,
	}
}

func (f *OAuth2Factory) ProviderID() string    { return f.providerID }
func (f *OAuth2Factory) APIType() reflect.Type { return f.apiType }

// Config exposes the underlying oauth2 settings.
func (f *OAuth2Factory) Config() *oauth2.Config { return f.config }

func (f *OAuth2Factory) CreateConnection(data connect.ConnectionData) (connect.Connection, error) {
	if data.ProviderID != f.providerID {
		return nil, fmt.Errorf("provider: %s factory cannot build a %s connection", f.providerID, data.ProviderID)
	}
	return f.newConnection(data), nil
}

func (f *OAuth2Factory) newConnection(data connect.ConnectionData) *OAuth2Connection {
	return &OAuth2Connection{DataConnection: connect.NewDataConnection(data), config: f.config}
}

// AuthCodeURL returns the URL to send the user to. state must be verified on
// the callback to stop cross-site request forgery.
func (f *OAuth2Factory) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange completes the flow: the code becomes tokens, the tokens fetch the
// profile, and both become a connection.
func (f *OAuth2Factory) Exchange(ctx context.Context, code string) (*OAuth2Connection, error) {
	if f.profile == nil {
		return nil, fmt.Errorf("provider: %s has no profile fetcher", f.providerID)
	}

	token, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("provider: exchanging %s code: %w", f.providerID, err)
	}

	profile, err := f.profile(ctx, f.config.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("provider: fetching %s profile: %w", f.providerID, err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("provider: %s returned a profile without an id", f.providerID)
	}

	data := connect.ConnectionData{
		ProviderID:     f.providerID,
		ProviderUserID: profile.ID,
		DisplayName:    profile.DisplayName,
		ProfileURL:     profile.ProfileURL,
		ImageURL:       profile.ImageURL,
	}
	setToken(&data, token)
	return f.newConnection(data), nil
}

// OAuth2Connection is a connection whose credentials are an OAuth2 token.
type OAuth2Connection struct {
	*connect.DataConnection
	config *oauth2.Config
}

var _ connect.Connection = (*OAuth2Connection)(nil)

// Token rebuilds the oauth2 token from the stored credentials.
func (c *OAuth2Connection) Token() *oauth2.Token {
	data := c.CreateData()
	token := &oauth2.Token{
		AccessToken:  data.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: data.RefreshToken,
	}
	if data.ExpireTime != 0 {
		token.Expiry = time.UnixMilli(data.ExpireTime)
	}
	return token
}

// TokenSource refreshes the token when it expires. Refreshed tokens are not
// persisted; use Refresh for that.
func (c *OAuth2Connection) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.config.TokenSource(ctx, c.Token())
}

// Client returns an HTTP client that authenticates as the connected user.
func (c *OAuth2Connection) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, c.TokenSource(ctx))
}

// Refresh trades the refresh token for new credentials. The receiver is left
// unchanged; store the result with ConnectionRepository.UpdateConnection.
func (c *OAuth2Connection) Refresh(ctx context.Context) (*OAuth2Connection, error) {
	stale := c.Token()
	if stale.RefreshToken == "" {
		return nil, fmt.Errorf("provider: connection %s has no refresh token", c.Key())
	}
	// An expired token forces the source to hit the token endpoint.
	stale.Expiry = time.Unix(1, 0)

	token, err := c.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("provider: refreshing %s: %w", c.Key(), err)
	}

	data := c.CreateData()
	setToken(&data, token)
	if token.RefreshToken == "" {
		// Providers may omit the refresh token when it did not rotate.
		data.RefreshToken = stale.RefreshToken
	}
	return &OAuth2Connection{DataConnection: connect.NewDataConnection(data), config: c.config}, nil
}

func setToken(data *connect.ConnectionData, token *oauth2.Token) {
	data.AccessToken = token.AccessToken
	data.RefreshToken = token.RefreshToken
	data.ExpireTime = 0
	if !token.Expiry.IsZero() {
		data.ExpireTime = token.Expiry.UnixMilli()
	}
}
