package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/dispatch"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/metrics"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/prompt"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/web"
)

const confirmTimeout = time.Minute

var validScopes = map[string]bool{
	"points.read":  true,
	"points.write": true,
}

// withGuildRetry applies mutate to a freshly fetched guild profile and saves
// it, re-fetching and redeciding on version conflicts. The store never
// retries by itself; this is the handler-side policy for mutations that are
// safe to reapply.
func (b *Bot) withGuildRetry(ctx context.Context, guildID string, mutate func(g *store.GuildProfile) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		g, err := b.store.Guild(ctx, guildID, true)
		if err != nil {
			return err
		}
		if err := mutate(g); err != nil {
			return err
		}
		err = b.store.SaveGuild(ctx, g)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return store.ErrConflict
}

func (b *Bot) handlePointsSet(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	account := ic.String("account")
	amount := ic.Int("amount")

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = b.store.SetPoints(ctx, ic.GuildID, account, amount, ic.Actor.ID)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if errors.Is(err, store.ErrConflict) {
		return ic.Reply("Someone else is updating points right now. Please try again.", true)
	}
	if err != nil {
		return err
	}

	return ic.Reply(fmt.Sprintf("Set `%s` to **%d** points.", account, amount), false)
}

func (b *Bot) handlePointsGet(_ context.Context, ic *dispatch.Interaction, guild *store.GuildProfile) error {
	// Registration marks this guild-only, but a stale DM invocation still
	// arrives without a guild profile.
	if guild == nil {
		return ic.Reply("This command only works in a server.", true)
	}
	account := ic.String("account")
	return ic.Reply(fmt.Sprintf("`%s` has **%d** points.", account, guild.Member(account).Points), false)
}

func (b *Bot) handlePointsPanel(_ context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	r := ic.Responder.(*responder)
	return r.ReplyButton("Press the button to check your points.", "My points", componentMyPoints)
}

// handleMyPoints serves the static panel button: it resolves the presser's
// linked account and answers privately.
func (b *Bot) handleMyPoints(ctx context.Context, ic *dispatch.Interaction, guild *store.GuildProfile) error {
	if guild == nil {
		return ic.Reply("This button only works in a server.", true)
	}
	user, err := b.store.User(ctx, ic.Actor.ID, false)
	if errors.Is(err, store.ErrNotFound) || (err == nil && user.LinkedAccountID == "") {
		return ic.Reply("You haven't linked a Roblox account yet. Use `/link` first.", true)
	}
	if err != nil {
		return err
	}

	points := guild.Member(user.LinkedAccountID).Points
	return ic.Reply(fmt.Sprintf("You have **%d** points.", points), true)
}

func (b *Bot) handlePointLogCreate(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	account := ic.String("account")
	delta := ic.Int("delta")
	note := ic.String("note")

	err := b.withGuildRetry(ctx, ic.GuildID, func(g *store.GuildProfile) error {
		member := g.Member(account)
		member.Points += delta
		g.Members[account] = member
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return ic.Reply("Points are changing too quickly right now. Please try again.", true)
	}
	if err != nil {
		return err
	}

	log, err := b.store.CreatePointLog(ctx, ic.GuildID, ic.Actor.ID,
		[]store.PointLogEntry{{AccountID: account, Delta: delta}}, note)
	if err != nil {
		return err
	}

	return ic.Reply(fmt.Sprintf("Applied **%+d** points to `%s` (log `%s`).", delta, account, log.ID), false)
}

func (b *Bot) handlePointLogView(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	logs, err := b.store.PointLogs(ctx, ic.GuildID, 5)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return ic.Reply("No point logs yet.", true)
	}

	var sb strings.Builder
	sb.WriteString("**Recent point logs:**\n\n")
	for _, log := range logs {
		sb.WriteString(fmt.Sprintf("`%s` by <@%s> <t:%d:R>", log.ID, log.CreatorID, log.CreatedAt.Unix()))
		if log.Note != "" {
			sb.WriteString(" — " + log.Note)
		}
		sb.WriteString("\n")
		for _, e := range log.Entries {
			sb.WriteString(fmt.Sprintf("  `%s` %+d\n", e.AccountID, e.Delta))
		}
	}
	return ic.Reply(sb.String(), true)
}

func (b *Bot) handlePointLogNote(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	id := ic.String("id")
	note := ic.String("note")

	log, err := b.store.PointLogByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ic.Reply("No point log with that id.", true)
		}
		return err
	}
	if log.GuildID != ic.GuildID {
		return ic.Reply("No point log with that id.", true)
	}

	log.Note = note
	if err := b.store.SavePointLog(ctx, log); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ic.Reply("That log was just updated by someone else, try again.", true)
		}
		return err
	}
	return ic.Reply(fmt.Sprintf("Updated note on `%s`.", id), true)
}

func (b *Bot) handleRankLockSet(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	account := ic.String("account")
	rank := ic.String("rank")
	hours := ic.Int("hours")

	lock := &store.RankLock{Rank: rank}
	if hours > 0 {
		expires := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
		lock.ExpiresAt = &expires
	}

	err := b.withGuildRetry(ctx, ic.GuildID, func(g *store.GuildProfile) error {
		member := g.Member(account)
		member.RankLock = lock
		g.Members[account] = member
		return nil
	})
	if err != nil {
		return err
	}

	if lock.ExpiresAt != nil {
		return ic.Reply(fmt.Sprintf("Locked `%s` to rank **%s** until <t:%d:f>.", account, rank, lock.ExpiresAt.Unix()), false)
	}
	return ic.Reply(fmt.Sprintf("Locked `%s` to rank **%s**.", account, rank), false)
}

func (b *Bot) handleRankLockClear(ctx context.Context, ic *dispatch.Interaction, guild *store.GuildProfile) error {
	if guild == nil {
		return ic.Reply("This command only works in a server.", true)
	}
	account := ic.String("account")

	if guild.Member(account).RankLock == nil {
		return ic.Reply(fmt.Sprintf("`%s` has no rank lock.", account), true)
	}

	err := b.withGuildRetry(ctx, ic.GuildID, func(g *store.GuildProfile) error {
		member := g.Member(account)
		member.RankLock = nil
		g.Members[account] = member
		return nil
	})
	if err != nil {
		return err
	}
	return ic.Reply(fmt.Sprintf("Cleared the rank lock on `%s`.", account), false)
}

func (b *Bot) handlePermsGrant(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	permission := ic.String("permission")
	userID := ic.String("user")
	roleID := ic.String("role")
	if userID == "" && roleID == "" {
		return ic.Reply("Pick a user or a role to grant to.", true)
	}

	err := b.withGuildRetry(ctx, ic.GuildID, func(g *store.GuildProfile) error {
		if g.Grants == nil {
			g.Grants = make(map[string]store.PermissionGrant)
		}
		grant := g.Grants[permission]
		if userID != "" && !containsString(grant.Users, userID) {
			grant.Users = append(grant.Users, userID)
		}
		if roleID != "" && !containsString(grant.Roles, roleID) {
			grant.Roles = append(grant.Roles, roleID)
		}
		g.Grants[permission] = grant
		return nil
	})
	if err != nil {
		return err
	}
	return ic.Reply(fmt.Sprintf("Granted `%s`.", permission), true)
}

func (b *Bot) handlePermsRevoke(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	permission := ic.String("permission")
	userID := ic.String("user")
	roleID := ic.String("role")
	if userID == "" && roleID == "" {
		return ic.Reply("Pick a user or a role to revoke from.", true)
	}

	err := b.withGuildRetry(ctx, ic.GuildID, func(g *store.GuildProfile) error {
		grant, ok := g.Grants[permission]
		if !ok {
			return nil
		}
		if userID != "" {
			grant.Users = removeString(grant.Users, userID)
		}
		if roleID != "" {
			grant.Roles = removeString(grant.Roles, roleID)
		}
		if len(grant.Users) == 0 && len(grant.Roles) == 0 {
			delete(g.Grants, permission)
		} else {
			g.Grants[permission] = grant
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ic.Reply(fmt.Sprintf("Revoked `%s`.", permission), true)
}

func (b *Bot) handleAPIKeyCreate(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	name := ic.String("name")
	var scopes []string
	for _, s := range strings.Split(ic.String("scopes"), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !validScopes[s] {
			return ic.Reply(fmt.Sprintf("Unknown scope `%s`. Valid scopes: points.read, points.write.", s), true)
		}
		scopes = append(scopes, s)
	}
	if len(scopes) == 0 {
		return ic.Reply("At least one scope is required.", true)
	}

	if _, err := b.store.APIKeyByName(ctx, ic.GuildID, name); err == nil {
		return ic.Reply(fmt.Sprintf("An API key named `%s` already exists.", name), true)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, token, err := b.store.CreateAPIKey(ctx, ic.GuildID, name, scopes)
	if err != nil {
		return err
	}

	return ic.Reply(fmt.Sprintf("API key `%s` created. Store this token now — it will not be shown again:\n```%s```", name, token), true)
}

// handleAPIKeyRevoke shows a confirm prompt and suspends until the invoker
// answers or the prompt times out.
func (b *Bot) handleAPIKeyRevoke(ctx context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	name := ic.String("name")

	key, err := b.store.APIKeyByName(ctx, ic.GuildID, name)
	if errors.Is(err, store.ErrNotFound) {
		return ic.Reply(fmt.Sprintf("No API key named `%s`.", name), true)
	}
	if err != nil {
		return err
	}
	if !key.Enabled {
		return ic.Reply(fmt.Sprintf("API key `%s` is already revoked.", name), true)
	}

	corrID := prompt.NewCorrelationID("confirm")
	r := ic.Responder.(*responder)
	if err := r.ReplyConfirm(fmt.Sprintf("Revoke API key `%s`? Anything still using it will stop working.", name), corrID, "Revoke"); err != nil {
		return fmt.Errorf("showing confirm prompt: %w", err)
	}

	resp, err := b.correlator.Await(ctx, dispatch.EventComponent, corrID, []string{ic.Actor.ID}, confirmTimeout)
	if errors.Is(err, prompt.ErrTimeout) {
		metrics.PromptTimeoutsTotal.Inc()
		return ic.Reply(fmt.Sprintf("Timed out — API key `%s` was not revoked.", name), true)
	}
	if err != nil {
		return err
	}

	answer := resp.(*dispatch.Interaction)
	if answer.String("choice") != "yes" {
		return answer.Reply("Cancelled. The key is untouched.", true)
	}

	key.Enabled = false
	if err := b.store.SaveAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return answer.Reply("The key changed while you were deciding. Please try again.", true)
		}
		return err
	}
	return answer.Reply(fmt.Sprintf("API key `%s` revoked.", name), true)
}

func (b *Bot) handleLink(_ context.Context, ic *dispatch.Interaction, _ *store.GuildProfile) error {
	token, err := web.NewLinkToken(b.config.JWTSecret, ic.Actor.ID, 15*time.Minute)
	if err != nil {
		return fmt.Errorf("minting link token: %w", err)
	}

	url := fmt.Sprintf("%s/auth/roblox/start?state=%s", b.config.PublicURL, token)
	return ic.Reply(fmt.Sprintf("Link your Roblox account here (valid for 15 minutes):\n%s", url), true)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
