package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"
)

// SetPoints overwrites a member's point total with amount. This is a full
// replace, not a delta: the caller decides the final value. The write goes
// through the guild profile's versioned save, so a concurrent writer to any
// part of the guild record surfaces as ErrConflict.
func (s *Store) SetPoints(ctx context.Context, guildID, accountID string, amount int64, actorID string) error {
	g, err := s.Guild(ctx, guildID, true)
	if err != nil {
		return err
	}

	member := g.Member(accountID)
	member.Points = amount
	g.Members[accountID] = member

	if err := s.SaveGuild(ctx, g); err != nil {
		return err
	}

	slog.Info("points set", "guild", guildID, "account", accountID, "amount", amount, "actor", actorID)
	return nil
}

// Points returns a member's current point total. A member the guild has
// never seen reads as zero.
func (s *Store) Points(ctx context.Context, guildID, accountID string) (int64, error) {
	g, err := s.Guild(ctx, guildID, false)
	if err != nil {
		return 0, err
	}
	return g.Member(accountID).Points, nil
}

// CreatePointLog inserts a new audit record at version 0. The id and
// creation timestamp are assigned here and never change afterwards.
func (s *Store) CreatePointLog(ctx context.Context, guildID, creatorID string, entries []PointLogEntry, note string) (*PointLog, error) {
	log := &PointLog{
		ID:        xid.New().String(),
		Version:   0,
		GuildID:   guildID,
		CreatorID: creatorID,
		Entries:   entries,
		Note:      note,
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, fmt.Errorf("creating point log: %w", err)
	}
	return log, nil
}

// PointLogByID fetches a single point log.
func (s *Store) PointLogByID(ctx context.Context, id string) (*PointLog, error) {
	var log PointLog
	err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching point log %s: %w", id, err)
	}
	return &log, nil
}

// PointLogs returns a guild's most recent logs, newest first.
func (s *Store) PointLogs(ctx context.Context, guildID string, limit int) ([]PointLog, error) {
	var logs []PointLog
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("listing point logs for guild %s: %w", guildID, err)
	}
	return logs, nil
}

// SavePointLog amends a log's entries or note. Creator, guild and creation
// timestamp are not part of the update set.
func (s *Store) SavePointLog(ctx context.Context, log *PointLog) error {
	log.UpdatedAt = time.Now().UTC()
	return s.saveVersioned(ctx, &log.Version, func(tx *gorm.DB, prev int64) *gorm.DB {
		return tx.Model(&PointLog{}).
			Where("id = ? AND version = ?", log.ID, prev).
			Select("entries", "note", "version", "updated_at").
			Updates(log)
	})
}
