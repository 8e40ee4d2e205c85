// Package sweep clears expired rank locks in the background.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

// Sweeper periodically walks every guild profile and removes rank locks
// whose expiry has passed. Each guild gets one versioned save per sweep; a
// conflict just means someone else touched the guild first, and the next
// sweep picks the lock up again.
type Sweeper struct {
	store     *store.Store
	scheduler gocron.Scheduler
}

// New schedules a sweep every interval.
func New(st *store.Store, interval time.Duration) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Sweeper{store: st, scheduler: scheduler}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
	); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ids, err := s.store.GuildIDs(ctx)
	if err != nil {
		slog.Error("rank sweep could not list guilds", "error", err)
		return
	}

	var cleared int
	for _, id := range ids {
		n, err := s.sweepGuild(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				slog.Debug("rank sweep lost a save race, deferring to next run", "guild", id)
				continue
			}
			slog.Error("rank sweep failed for guild", "guild", id, "error", err)
			continue
		}
		cleared += n
	}

	if cleared > 0 {
		slog.Info("rank sweep cleared expired locks", "count", cleared)
	}
}

// sweepGuild clears expired locks in one guild and reports how many were
// removed.
func (s *Sweeper) sweepGuild(ctx context.Context, guildID string) (int, error) {
	g, err := s.store.Guild(ctx, guildID, false)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var expired []string
	for accountID, member := range g.Members {
		if member.RankLock.Expired(now) {
			expired = append(expired, accountID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, accountID := range expired {
		member := g.Members[accountID]
		member.RankLock = nil
		g.Members[accountID] = member
	}

	if err := s.store.SaveGuild(ctx, g); err != nil {
		return 0, err
	}
	return len(expired), nil
}
