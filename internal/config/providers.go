package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sakif/social-connect/internal/apperror"
)

// ProviderConfig describes one OAuth2 provider users can connect to.
//
// Endpoint names a well-known provider ("github", "google", ...). Providers
// without one give AuthURL and TokenURL instead.
type ProviderConfig struct {
	ID           string   `yaml:"id"            validate:"required"`
	ClientID     string   `yaml:"client_id"     validate:"required"`
	ClientSecret string   `yaml:"client_secret"`
	Endpoint     string   `yaml:"endpoint"`
	AuthURL      string   `yaml:"auth_url"      validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url"     validate:"omitempty,url"`
	RedirectURL  string   `yaml:"redirect_url"  validate:"omitempty,url"`
	Scopes       []string `yaml:"scopes"`
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviders parses the provider file at path. ${VAR} references are
// expanded from the environment first, so secrets can stay out of the file.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("config: parsing providers file: %w", err)
	}

	seen := make(map[string]bool, len(file.Providers))
	for i := range file.Providers {
		p := &file.Providers[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, apperror.InvalidArgument("id", fmt.Sprintf("provider %s is listed twice", p.ID))
		}
		seen[p.ID] = true
	}

	if file.Providers == nil {
		file.Providers = []ProviderConfig{}
	}
	return file.Providers, nil
}

func (p *ProviderConfig) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if p.Endpoint == "" && (p.AuthURL == "" || p.TokenURL == "") {
		return apperror.InvalidArgument("endpoint",
			fmt.Sprintf("provider %s needs an endpoint name or both auth_url and token_url", p.ID))
	}
	return nil
}
