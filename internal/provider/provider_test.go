package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/social-connect/internal/apperror"
	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/connect"
)

// fakeGitHub serves a token endpoint and the /user API.
type fakeGitHub struct {
	*httptest.Server
	refreshes atomic.Int32
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			f.refreshes.Add(1)
			assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"token_type":   "bearer",
				"expires_in":   7200,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":         583231,
			"login":      "octocat",
			"avatar_url": "https://avatars.example/583231",
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGitHub) factory() *OAuth2Factory {
	return NewOAuth2Factory[GitHubAPI]("github", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.URL + "/authorize",
			TokenURL: f.URL + "/token",
		},
		RedirectURL: "http://localhost/callback",
		Scopes:      []string{"read:user"},
	}, GitHubProfile(f.URL))
}

// =========================================================================
// FACTORY
// =========================================================================

func TestAuthCodeURL(t *testing.T) {
	f := newFakeGitHub(t).factory()

	u, err := url.Parse(f.AuthCodeURL("xyz"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, "read:user", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
}

func TestExchange(t *testing.T) {
	f := newFakeGitHub(t).factory()

	before := time.Now()
	conn, err := f.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	data := conn.CreateData()
	assert.Equal(t, "github", data.ProviderID)
	assert.Equal(t, "583231", data.ProviderUserID)
	assert.Equal(t, "octocat", data.DisplayName)
	assert.Equal(t, "https://github.com/octocat", data.ProfileURL)
	assert.Equal(t, "https://avatars.example/583231", data.ImageURL)
	assert.Equal(t, "access-1", data.AccessToken)
	assert.Equal(t, "refresh-1", data.RefreshToken)
	assert.Empty(t, data.Secret)
	assert.GreaterOrEqual(t, data.ExpireTime, before.Add(time.Hour).UnixMilli()-1000)
	assert.False(t, conn.HasExpired())
}

func TestExchange_BadCode(t *testing.T) {
	f := newFakeGitHub(t).factory()

	_, err := f.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestExchange_NoProfileFetcher(t *testing.T) {
	f := &OAuth2Factory{providerID: "acme", config: &oauth2.Config{}}

	_, err := f.Exchange(context.Background(), "good-code")
	assert.Error(t, err)
}

func TestCreateConnection(t *testing.T) {
	f := newFakeGitHub(t).factory()

	conn, err := f.CreateConnection(connect.ConnectionData{ProviderID: "github", ProviderUserID: "1", AccessToken: "a"})
	require.NoError(t, err)
	require.IsType(t, &OAuth2Connection{}, conn)

	_, err = f.CreateConnection(connect.ConnectionData{ProviderID: "google", ProviderUserID: "1"})
	assert.Error(t, err)
}

// =========================================================================
// CONNECTION
// =========================================================================

func TestOAuth2Connection_Token(t *testing.T) {
	f := newFakeGitHub(t).factory()
	expire := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	conn := f.newConnection(connect.ConnectionData{
		ProviderID:     "github",
		ProviderUserID: "1",
		AccessToken:    "a",
		RefreshToken:   "r",
		ExpireTime:     expire.UnixMilli(),
	})

	token := conn.Token()
	assert.Equal(t, "a", token.AccessToken)
	assert.Equal(t, "r", token.RefreshToken)
	assert.True(t, token.Expiry.Equal(expire))

	noExpiry := f.newConnection(connect.ConnectionData{ProviderID: "github", ProviderUserID: "1", AccessToken: "a"})
	assert.True(t, noExpiry.Token().Expiry.IsZero())
}

func TestOAuth2Connection_Client(t *testing.T) {
	gh := newFakeGitHub(t)
	conn := gh.factory().newConnection(connect.ConnectionData{
		ProviderID: "github", ProviderUserID: "583231", AccessToken: "access-1",
	})

	resp, err := conn.Client(context.Background()).Get(gh.URL + "/user")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOAuth2Connection_Refresh(t *testing.T) {
	gh := newFakeGitHub(t)
	original := gh.factory().newConnection(connect.ConnectionData{
		ProviderID:     "github",
		ProviderUserID: "583231",
		DisplayName:    "octocat",
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		ExpireTime:     time.Now().Add(time.Hour).UnixMilli(),
	})

	refreshed, err := original.Refresh(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, gh.refreshes.Load(), "refresh is forced even before expiry")

	data := refreshed.CreateData()
	assert.Equal(t, "access-2", data.AccessToken)
	assert.Equal(t, "refresh-1", data.RefreshToken, "unrotated refresh token is kept")
	assert.Equal(t, "octocat", data.DisplayName)
	assert.Equal(t, original.Key(), refreshed.Key())

	assert.Equal(t, "access-1", original.CreateData().AccessToken, "receiver is unchanged")
}

func TestOAuth2Connection_RefreshWithoutRefreshToken(t *testing.T) {
	conn := newFakeGitHub(t).factory().newConnection(connect.ConnectionData{
		ProviderID: "github", ProviderUserID: "1", AccessToken: "a",
	})

	_, err := conn.Refresh(context.Background())
	assert.Error(t, err)
}

// =========================================================================
// PROFILES
// =========================================================================

func TestGitHubProfile_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down/user":
			w.WriteHeader(http.StatusBadGateway)
		case "/zero/user":
			w.Write([]byte(`{"id": 0, "login": "ghost"}`))
		default:
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	for _, base := range []string{"/down", "/zero", "/garbage"} {
		_, err := GitHubProfile(srv.URL+base)(context.Background(), srv.Client())
		assert.Error(t, err, base)
	}
}

func TestGoogleProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sub": "1098", "name": "Ada", "picture": "https://img.example/ada"}`))
	}))
	defer srv.Close()

	profile, err := GoogleProfile(srv.URL)(context.Background(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: "1098", DisplayName: "Ada", ImageURL: "https://img.example/ada"}, profile)
}

// =========================================================================
// REGISTRY
// =========================================================================

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry([]config.ProviderConfig{
		{ID: "github", ClientID: "gh", Endpoint: "github", Scopes: []string{"read:user"}},
		{ID: "google", ClientID: "go", Endpoint: "google"},
		{ID: "acme", ClientID: "ac", AuthURL: "https://acme.example/a", TokenURL: "https://acme.example/t"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"acme", "github", "google"}, reg.ProviderIDs())

	gh, err := reg.FactoryForAPI(connect.APIType[GitHubAPI]())
	require.NoError(t, err)
	assert.Equal(t, "github", gh.ProviderID())
	assert.True(t, strings.HasPrefix(gh.(*OAuth2Factory).Config().Endpoint.AuthURL, "https://github.com/"))

	acme, err := reg.Factory("acme")
	require.NoError(t, err)
	assert.Nil(t, acme.APIType())
	assert.Equal(t, "https://acme.example/t", acme.(*OAuth2Factory).Config().Endpoint.TokenURL)
}

func TestNewRegistry_EndpointOverride(t *testing.T) {
	reg, err := NewRegistry([]config.ProviderConfig{
		{ID: "github", ClientID: "gh", Endpoint: "github", TokenURL: "https://ghe.example/token"},
	})
	require.NoError(t, err)

	f, err := reg.Factory("github")
	require.NoError(t, err)
	endpoint := f.(*OAuth2Factory).Config().Endpoint
	assert.Equal(t, "https://ghe.example/token", endpoint.TokenURL)
	assert.Equal(t, "https://github.com/login/oauth/authorize", endpoint.AuthURL)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry([]config.ProviderConfig{{ID: "x", ClientID: "x", Endpoint: "myspace"}})
	assert.Error(t, err)

	_, err = NewRegistry([]config.ProviderConfig{
		{ID: "github", ClientID: "a", Endpoint: "github"},
		{ID: "github", ClientID: "b", Endpoint: "github"},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
}
