package store

import (
	"time"

	"gorm.io/datatypes"
)

// UserProfile is the bot-wide record for a Discord user. LinkedAccountID
// holds the Roblox account linked through the web service's OAuth flow, empty
// until the user links.
type UserProfile struct {
	ID              string `gorm:"primaryKey;size:32"`
	Version         int64  `gorm:"not null;default:0"`
	LinkedAccountID string `gorm:"size:32;index"`

	// Settings holds free-form per-user preferences.
	Settings datatypes.JSONMap `gorm:"type:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RankLock pins a member to a rank, optionally until ExpiresAt.
type RankLock struct {
	Rank      string     `json:"rank"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock carries an expiry that has passed.
func (l *RankLock) Expired(now time.Time) bool {
	return l != nil && l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// GuildMember is a guild's per-user record, keyed in GuildProfile.Members by
// the member's linked Roblox account id.
type GuildMember struct {
	Points   int64     `json:"points"`
	RankLock *RankLock `json:"rank_lock,omitempty"`
}

// PermissionGrant resolves one custom permission name to the users and roles
// that hold it.
type PermissionGrant struct {
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// GuildProfile is a guild's mutable state. Members and Grants are stored as
// JSON documents inside the row, so one versioned save covers the whole
// nested collection atomically.
type GuildProfile struct {
	ID      string `gorm:"primaryKey;size:32"`
	Version int64  `gorm:"not null;default:0"`

	Members map[string]GuildMember     `gorm:"serializer:json;type:json"`
	Grants  map[string]PermissionGrant `gorm:"serializer:json;type:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member returns the record for a linked account, creating an empty one in
// the in-memory map when absent. The caller still needs a successful save for
// the change to persist.
func (g *GuildProfile) Member(accountID string) GuildMember {
	if g.Members == nil {
		g.Members = make(map[string]GuildMember)
	}
	return g.Members[accountID]
}

// HoldsCustom reports whether a user with the given roles holds the named
// custom permission in this guild.
func (g *GuildProfile) HoldsCustom(name, userID string, roleIDs []string) bool {
	grant, ok := g.Grants[name]
	if !ok {
		return false
	}
	for _, u := range grant.Users {
		if u == userID {
			return true
		}
	}
	for _, r := range grant.Roles {
		for _, held := range roleIDs {
			if r == held {
				return true
			}
		}
	}
	return false
}

// PointLogEntry is one (account, delta) line inside a point log.
type PointLogEntry struct {
	AccountID string `json:"account_id"`
	Delta     int64  `json:"delta"`
}

// PointLog is an audit record of a batch of point changes. The id and
// creation timestamp are fixed at creation; note and entries may be amended
// afterwards through a versioned save.
type PointLog struct {
	ID        string `gorm:"primaryKey;size:32"`
	Version   int64  `gorm:"not null;default:0"`
	GuildID   string `gorm:"size:32;index;not null"`
	CreatorID string `gorm:"size:32;not null"`

	Entries []PointLogEntry `gorm:"serializer:json;type:json"`
	Note    string          `gorm:"size:1024"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey is a guild-scoped credential for the web API. Only a bcrypt hash of
// the secret is stored; the plaintext key exists once, in the return value of
// Store.CreateAPIKey.
type APIKey struct {
	ID      string `gorm:"primaryKey;size:32"`
	Version int64  `gorm:"not null;default:0"`
	GuildID string `gorm:"size:32;index;not null"`
	Name    string `gorm:"size:128;not null"`

	Scopes  []string `gorm:"serializer:json;type:json"`
	Enabled bool     `gorm:"not null;default:true"`

	KeyID      string `gorm:"uniqueIndex;size:32;not null"`
	SecretHash string `gorm:"size:128;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasScope reports whether the key grants the named scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
