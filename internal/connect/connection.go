// Package connect links local users to their accounts at third-party
// providers.
//
// The layering, from the bottom:
//
//	repository.ConnectionStore      row reads and writes
//	ConnectionRepository            one user's connections, tokens encrypted at rest
//	UsersConnectionRepository       resolves users from provider accounts, hands out
//	                                per-user repositories
//
// A Connection is never stored as-is. Rows are turned back into connections by
// the ConnectionFactory registered for the row's provider.
package connect

import (
	"time"

	"github.com/sakif/social-connect/internal/model"
)

// ConnectionData is the provider-neutral form of a connection: what a factory
// needs to rebuild one and what a repository needs to persist one. Tokens are
// plaintext here. An empty string means "not set" and is stored as NULL.
type ConnectionData struct {
	ProviderID     string
	ProviderUserID string
	DisplayName    string
	ProfileURL     string
	ImageURL       string
	AccessToken    string
	Secret         string
	RefreshToken   string
	ExpireTime     int64 // epoch milliseconds, 0 when the token does not expire
}

// Key returns the provider-side identity of the data.
func (d ConnectionData) Key() model.ConnectionKey {
	return model.ConnectionKey{ProviderID: d.ProviderID, ProviderUserID: d.ProviderUserID}
}

// Connection is a linked third-party account. Implementations are immutable;
// operations that change credentials return a new Connection.
type Connection interface {
	Key() model.ConnectionKey
	DisplayName() string
	ProfileURL() string
	ImageURL() string

	// HasExpired reports whether the access token is past its expire time.
	HasExpired() bool

	// CreateData captures the connection so it can be persisted.
	CreateData() ConnectionData
}

// DataConnection is a Connection backed by nothing but its data. Provider
// specific connections embed it and add their API on top.
type DataConnection struct {
	data ConnectionData
	now  func() time.Time
}

var _ Connection = (*DataConnection)(nil)

func NewDataConnection(data ConnectionData) *DataConnection {
	return &DataConnection{data: data, now: time.Now}
}

func (c *DataConnection) Key() model.ConnectionKey { return c.data.Key() }
func (c *DataConnection) DisplayName() string      { return c.data.DisplayName }
func (c *DataConnection) ProfileURL() string       { return c.data.ProfileURL }
func (c *DataConnection) ImageURL() string         { return c.data.ImageURL }

func (c *DataConnection) HasExpired() bool {
	if c.data.ExpireTime == 0 {
		return false
	}
	return !c.now().Before(time.UnixMilli(c.data.ExpireTime))
}

func (c *DataConnection) CreateData() ConnectionData { return c.data }
