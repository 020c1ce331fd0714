package models

import (
	"time"

	"github.com/vitalsync/internal/types"
)

// User represents an end user whose wearable data is synced.
type User struct {
	ID                   string         `json:"id" db:"id"`
	Email                string         `json:"email" db:"email"`
	Tier                 types.UserTier `json:"tier" db:"tier"`
	AccessTokenEncrypted *string        `json:"-" db:"access_token_encrypted"`
	LastSyncedAt         *time.Time     `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	CreatedAt            time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time      `json:"updatedAt" db:"updated_at"`
}

// HasCredential returns true if the user has a stored upstream token.
func (u *User) HasCredential() bool {
	return u.AccessTokenEncrypted != nil && *u.AccessTokenEncrypted != ""
}
