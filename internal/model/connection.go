// Package model defines the data structures used throughout the application.
package model

import "time"

// ConnectionKey identifies a connection to a provider account independently
// of the local user that owns it.
type ConnectionKey struct {
	ProviderID     string `json:"providerId"`
	ProviderUserID string `json:"providerUserId"`
}

// String renders the key as "providerID:providerUserID".
func (k ConnectionKey) String() string {
	return k.ProviderID + ":" + k.ProviderUserID
}

// UserConnection is one persisted row of the user_connections table.
//
// (UserID, ProviderID, ProviderUserID) is the primary key. Rank orders the
// connections a user holds to the same provider; rank 1 is the primary one.
//
// The nullable columns are pointers so that NULL survives the round trip.
// AccessToken, Secret and RefreshToken hold ciphertext, never plaintext:
// encryption happens in the connect package before a row reaches a store.
type UserConnection struct {
	UserID         string    `json:"userId"         db:"user_id"          gorm:"primaryKey;size:255"`
	ProviderID     string    `json:"providerId"     db:"provider_id"      gorm:"primaryKey;size:255"`
	ProviderUserID string    `json:"providerUserId" db:"provider_user_id" gorm:"primaryKey;size:255"`
	Rank           int       `json:"rank"           db:"rank"             gorm:"not null"`
	DisplayName    *string   `json:"displayName"    db:"display_name"     gorm:"size:255"`
	ProfileURL     *string   `json:"profileUrl"     db:"profile_url"      gorm:"column:profile_url;size:512"`
	ImageURL       *string   `json:"imageUrl"       db:"image_url"        gorm:"column:image_url;size:512"`
	AccessToken    *string   `json:"-"              db:"access_token"     gorm:"type:text"`
	Secret         *string   `json:"-"              db:"secret"           gorm:"type:text"`
	RefreshToken   *string   `json:"-"              db:"refresh_token"    gorm:"type:text"`
	ExpireTime     *int64    `json:"expireTime"     db:"expire_time"` // epoch milliseconds
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
}

// TableName specifies the table name for UserConnection.
func (UserConnection) TableName() string {
	return "user_connections"
}

// Key returns the provider-side identity of the row.
func (c *UserConnection) Key() ConnectionKey {
	return ConnectionKey{ProviderID: c.ProviderID, ProviderUserID: c.ProviderUserID}
}
