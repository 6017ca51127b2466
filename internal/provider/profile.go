package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// API markers for the providers with a built-in profile fetcher.
type (
	GitHubAPI struct{}
	GoogleAPI struct{}
)

const (
	githubAPIBase     = "https://api.github.com"
	githubProfileBase = "https://github.com/"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// githubUser is the portion of the GitHub /user response a connection needs.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	HTMLURL   string `json:"html_url"`
	AvatarURL string `json:"avatar_url"`
}

// GitHubProfile reads the authenticated user from GitHub's REST API at apiBase.
// An empty apiBase means api.github.com.
func GitHubProfile(apiBase string) ProfileFetcher {
	if apiBase == "" {
		apiBase = githubAPIBase
	}
	return func(ctx context.Context, client *http.Client) (Profile, error) {
		var u githubUser
		if err := getJSON(ctx, client, apiBase+"/user", &u); err != nil {
			return Profile{}, err
		}
		// The numeric id is stable; the login can be renamed.
		if u.ID == 0 {
			return Profile{}, fmt.Errorf("GitHub returned an invalid user (ID = 0)")
		}

		display := u.Name
		if display == "" {
			display = u.Login
		}
		profileURL := u.HTMLURL
		if profileURL == "" {
			profileURL = githubProfileBase + u.Login
		}
		return Profile{
			ID:          strconv.FormatInt(u.ID, 10),
			DisplayName: display,
			ProfileURL:  profileURL,
			ImageURL:    u.AvatarURL,
		}, nil
	}
}

type googleUser struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Profile string `json:"profile"`
	Picture string `json:"picture"`
}

// GoogleProfile reads the OpenID Connect userinfo document at userInfoURL.
// An empty userInfoURL means Google's.
func GoogleProfile(userInfoURL string) ProfileFetcher {
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	return func(ctx context.Context, client *http.Client) (Profile, error) {
		var u googleUser
		if err := getJSON(ctx, client, userInfoURL, &u); err != nil {
			return Profile{}, err
		}
		return Profile{
			ID:          u.Sub,
			DisplayName: u.Name,
			ProfileURL:  u.Profile,
			ImageURL:    u.Picture,
		}, nil
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request to %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", url, err)
	}
	return nil
}
