// Package store persists user/guild profiles, point logs and API keys.
//
// Every record carries a version counter. A save issues a conditional update
// that only succeeds when the stored version still matches the fetched one;
// a mismatch surfaces as ErrConflict and the caller re-fetches and redecides.
// The store never retries or merges on its own. This is the sole coordination
// mechanism over shared state: the same database is written by the companion
// web service, which an in-process lock could not cover.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/metrics"
)

var (
	// ErrNotFound is returned by lookups without createIfMissing.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a save's version check fails.
	ErrConflict = errors.New("store: version conflict")
	// ErrInvalidKey is returned for unknown, disabled or mismatched API keys.
	ErrInvalidKey = errors.New("store: invalid api key")
)

// Store wraps the database connection and owns all reads and writes.
type Store struct {
	db *gorm.DB
}

// Open connects to the database named by dsn and migrates the schema.
// A postgres:// URL selects the postgres driver; anything else is treated as
// a SQLite file path.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		// Ensure the directory exists for plain file paths. file: URIs
		// (in-memory databases) carry no directory to create.
		if !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&UserProfile{}, &GuildProfile{}, &PointLog{}, &APIKey{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// User fetches a user profile. With createIfMissing, a miss inserts a fresh
// profile at version 0; without it, a miss returns ErrNotFound.
func (s *Store) User(ctx context.Context, id string, createIfMissing bool) (*UserProfile, error) {
	var u UserProfile
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fetching user %s: %w", id, err)
	}
	if !createIfMissing {
		return nil, ErrNotFound
	}

	u = UserProfile{ID: id, Version: 0}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		// A concurrent creator may have won the insert; their row is as
		// good as ours.
		var again UserProfile
		if ferr := s.db.WithContext(ctx).First(&again, "id = ?", id).Error; ferr == nil {
			return &again, nil
		}
		return nil, fmt.Errorf("creating user %s: %w", id, err)
	}
	return &u, nil
}

// SaveUser persists linked-account and settings changes. On success the
// in-memory version is advanced to match the stored one; on any failure it is
// left at the fetched value so the caller can retry against a fresh fetch.
func (s *Store) SaveUser(ctx context.Context, u *UserProfile) error {
	u.UpdatedAt = time.Now().UTC()
	return s.saveVersioned(ctx, &u.Version, func(tx *gorm.DB, prev int64) *gorm.DB {
		return tx.Model(&UserProfile{}).
			Where("id = ? AND version = ?", u.ID, prev).
			Select("linked_account_id", "settings", "version", "updated_at").
			Updates(u)
	})
}

// Guild fetches a guild profile, inserting a fresh one on miss when
// createIfMissing is set.
func (s *Store) Guild(ctx context.Context, id string, createIfMissing bool) (*GuildProfile, error) {
	var g GuildProfile
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fetching guild %s: %w", id, err)
	}
	if !createIfMissing {
		return nil, ErrNotFound
	}

	g = GuildProfile{
		ID:      id,
		Version: 0,
		Members: make(map[string]GuildMember),
		Grants:  make(map[string]PermissionGrant),
	}
	if err := s.db.WithContext(ctx).Create(&g).Error; err != nil {
		var again GuildProfile
		if ferr := s.db.WithContext(ctx).First(&again, "id = ?", id).Error; ferr == nil {
			return &again, nil
		}
		return nil, fmt.Errorf("creating guild %s: %w", id, err)
	}
	return &g, nil
}

// SaveGuild persists the whole member collection and grant map as one atomic
// versioned write.
func (s *Store) SaveGuild(ctx context.Context, g *GuildProfile) error {
	g.UpdatedAt = time.Now().UTC()
	return s.saveVersioned(ctx, &g.Version, func(tx *gorm.DB, prev int64) *gorm.DB {
		return tx.Model(&GuildProfile{}).
			Where("id = ? AND version = ?", g.ID, prev).
			Select("members", "grants", "version", "updated_at").
			Updates(g)
	})
}

// GuildIDs returns the ids of every stored guild profile.
func (s *Store) GuildIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&GuildProfile{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing guilds: %w", err)
	}
	return ids, nil
}

// saveVersioned runs one conditional update inside its own transaction.
// updates must filter on the previous version; zero rows affected means a
// concurrent writer committed first.
func (s *Store) saveVersioned(ctx context.Context, version *int64, updates func(tx *gorm.DB, prev int64) *gorm.DB) error {
	prev := *version
	*version = prev + 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := updates(tx, prev)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		*version = prev
		if errors.Is(err, ErrConflict) {
			metrics.SaveConflictsTotal.Inc()
			slog.Debug("versioned save lost the race", "version", prev)
			return ErrConflict
		}
		return fmt.Errorf("versioned save: %w", err)
	}
	return nil
}
