package models

import "time"

// ProviderGoogle is the providerId stored for Gmail connections.
const ProviderGoogle = "google"

// Account is a connected mailbox owned by a user. The table is shared with
// the web app, so columns keep its camelCase naming.
type Account struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	AccountID            string     `gorm:"column:accountId"`
	ProviderID           string     `gorm:"column:providerId"`
	UserID               string     `gorm:"column:userId"`
	AccessToken          *string    `gorm:"column:accessToken"`
	RefreshToken         *string    `gorm:"column:refreshToken"`
	AccessTokenExpiresAt *time.Time `gorm:"column:accessTokenExpiresAt"`
	Scope                *string    `gorm:"column:scope"`
	CreatedAt            time.Time  `gorm:"column:createdAt"`
	UpdatedAt            time.Time  `gorm:"column:updatedAt"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "account"
}

// HasTokens reports whether the account can talk to its provider at all.
func (a *Account) HasTokens() bool {
	return a.AccessToken != nil && *a.AccessToken != "" && a.RefreshToken != nil && *a.RefreshToken != ""
}
