package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const keyPrefix = "amk"

// CreateAPIKey mints a guild-scoped key and returns it together with the
// plaintext token. The secret is bcrypt-hashed before it touches the
// database; the returned token is the only copy that will ever exist.
func (s *Store) CreateAPIKey(ctx context.Context, guildID, name string, scopes []string) (*APIKey, string, error) {
	keyID := xid.New().String()
	secret := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing api key secret: %w", err)
	}

	key := &APIKey{
		ID:         xid.New().String(),
		Version:    0,
		GuildID:    guildID,
		Name:       name,
		Scopes:     scopes,
		Enabled:    true,
		KeyID:      keyID,
		SecretHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, "", fmt.Errorf("creating api key: %w", err)
	}

	token := strings.Join([]string{keyPrefix, keyID, secret}, "_")
	return key, token, nil
}

// VerifyAPIKey resolves a bearer token to its key record. Unknown key ids,
// disabled keys and secret mismatches all return ErrInvalidKey; callers get
// no hint which check failed.
func (s *Store) VerifyAPIKey(ctx context.Context, token string) (*APIKey, error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return nil, ErrInvalidKey
	}
	keyID, secret := parts[1], parts[2]

	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "key_id = ?", keyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("fetching api key: %w", err)
	}

	if !key.Enabled {
		return nil, ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidKey
	}
	return &key, nil
}

// APIKeyByName finds a guild's key by its display name.
func (s *Store) APIKeyByName(ctx context.Context, guildID, name string) (*APIKey, error) {
	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "guild_id = ? AND name = ?", guildID, name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching api key %s/%s: %w", guildID, name, err)
	}
	return &key, nil
}

// SaveAPIKey persists name, scope and enabled-flag changes. The key id and
// secret hash are immutable; rotation means revoke and create.
func (s *Store) SaveAPIKey(ctx context.Context, key *APIKey) error {
	key.UpdatedAt = time.Now().UTC()
	return s.saveVersioned(ctx, &key.Version, func(tx *gorm.DB, prev int64) *gorm.DB {
		return tx.Model(&APIKey{}).
			Where("id = ? AND version = ?", key.ID, prev).
			Select("name", "scopes", "enabled", "version", "updated_at").
			Updates(key)
	})
}
