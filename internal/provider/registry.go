package provider

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/connect"
)

// knownEndpoints maps the endpoint names accepted in the provider file.
var knownEndpoints = map[string]oauth2.Endpoint{
	"amazon":    endpoints.Amazon,
	"bitbucket": endpoints.Bitbucket,
	"facebook":  endpoints.Facebook,
	"github":    endpoints.GitHub,
	"gitlab":    endpoints.GitLab,
	"google":    endpoints.Google,
	"linkedin":  endpoints.LinkedIn,
	"microsoft": endpoints.Microsoft,
	"slack":     endpoints.Slack,
	"spotify":   endpoints.Spotify,
	"twitch":    endpoints.Twitch,
}

// NewRegistry builds a connection factory per configured provider.
//
// GitHub and Google get their API marker and profile fetcher. Other
// providers are registered without an API marker, so they are reachable by
// provider id only, and their connections cannot come from Exchange.
func NewRegistry(providers []config.ProviderConfig) (*connect.Registry, error) {
	reg := connect.NewRegistry()

	for _, p := range providers {
		oauthConfig, err := oauthConfigFor(p)
		if err != nil {
			return nil, err
		}

		var factory connect.ConnectionFactory
		switch p.Endpoint {
		case "github":
			factory = NewOAuth2Factory[GitHubAPI](p.ID, oauthConfig, GitHubProfile(""))
		case "google":
			factory = NewOAuth2Factory[GoogleAPI](p.ID, oauthConfig, GoogleProfile(""))
		default:
			factory = &OAuth2Factory{providerID: p.ID, config: oauthConfig}
		}

		if err := reg.Register(factory); err != nil {
			return nil, fmt.Errorf("provider: registering %s: %w", p.ID, err)
		}
	}

	return reg, nil
}

func oauthConfigFor(p config.ProviderConfig) (*oauth2.Config, error) {
	endpoint := oauth2.Endpoint{AuthURL: p.AuthURL, TokenURL: p.TokenURL}
	if p.Endpoint != "" {
		known, ok := knownEndpoints[p.Endpoint]
		if !ok {
			return nil, fmt.Errorf("provider: %s uses unknown endpoint %q", p.ID, p.Endpoint)
		}
		endpoint = known
		// Explicit URLs win, which lets tests and enterprise installs point
		// a well-known provider at another host.
		if p.AuthURL != "" {
			endpoint.AuthURL = p.AuthURL
		}
		if p.TokenURL != "" {
			endpoint.TokenURL = p.TokenURL
		}
	}

	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
	}, nil
}
