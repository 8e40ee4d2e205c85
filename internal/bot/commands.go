package bot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/dispatch"
)

// Custom permission names resolvable through guild profile grants.
const (
	permPointsManage = "points.manage"
	permRanksManage  = "ranks.manage"
)

// componentMyPoints is the static button on the points panel.
const componentMyPoints = "points:self"

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	accountOption := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "account",
			Description: "Linked Roblox account id",
			Required:    required,
		}
	}

	// Everything except /link reads or writes guild state.
	guildOnly := false

	return []*discordgo.ApplicationCommand{
		{
			Name:         "points",
			Description:  "Manage and view member points",
			DMPermission: &guildOnly,
			Options:      []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Set a member's point total",
					Options: []*discordgo.ApplicationCommandOption{
						accountOption(true),
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "amount",
							Description: "New point total (replaces the current value)",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "get",
					Description: "Show a member's point total",
					Options:     []*discordgo.ApplicationCommandOption{accountOption(true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "panel",
					Description: "Post the points panel with a self-service button",
				},
			},
		},
		{
			Name:         "pointlog",
			Description:  "Audit log for point changes",
			DMPermission: &guildOnly,
			Options:      []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Apply a point change and record it",
					Options: []*discordgo.ApplicationCommandOption{
						accountOption(true),
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "delta",
							Description: "Points to add (negative to remove)",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "note",
							Description: "Why the points changed",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show the most recent point logs",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "note",
					Description: "Amend the note on an existing point log",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "id",
							Description: "Point log id",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "note",
							Description: "New note text",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:         "ranklock",
			Description:  "Pin a member to a rank",
			DMPermission: &guildOnly,
			Options:      []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Lock a member to a rank",
					Options: []*discordgo.ApplicationCommandOption{
						accountOption(true),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "rank",
							Description: "Rank to lock to",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "hours",
							Description: "Hours until the lock expires (omit for permanent)",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "clear",
					Description: "Remove a member's rank lock",
					Options:     []*discordgo.ApplicationCommandOption{accountOption(true)},
				},
			},
		},
		{
			Name:         "perms",
			Description:  "Manage custom permissions",
			DMPermission: &guildOnly,
			Options:      []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "grant",
					Description: "Grant a custom permission to a user or role",
					Options:     permTargetOptions(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "revoke",
					Description: "Revoke a custom permission from a user or role",
					Options:     permTargetOptions(),
				},
			},
		},
		{
			Name:         "apikey",
			Description:  "Manage this server's API keys",
			DMPermission: &guildOnly,
			Options:      []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Create an API key (the token is shown once)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Key name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "scopes",
							Description: "Comma-separated scopes (points.read, points.write)",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "revoke",
					Description: "Disable an API key",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Key name",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "link",
			Description: "Link your Roblox account",
		},
	}
}

func permTargetOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "permission",
			Description: "Custom permission name (e.g. points.manage)",
			Required:    true,
		},
		{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "User to target",
		},
		{
			Type:        discordgo.ApplicationCommandOptionRole,
			Name:        "role",
			Description: "Role to target",
		},
	}
}

// registerRoutes populates the dispatcher registry. This runs once during
// construction; the dispatcher treats the registry as read-only afterwards.
func (b *Bot) registerRoutes() {
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "points/set",
		RequiredCustom: []string{permPointsManage},
		Cooldown:       2 * time.Second,
		Handler:        b.handlePointsSet,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:     "points/get",
		Cooldown: 3 * time.Second,
		Handler:  b.handlePointsGet,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "points/panel",
		RequiredNative: discordgo.PermissionManageServer,
		Handler:        b.handlePointsPanel,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "pointlog/create",
		RequiredCustom: []string{permPointsManage},
		Cooldown:       5 * time.Second,
		GuildCooldown:  time.Second,
		Handler:        b.handlePointLogCreate,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "pointlog/view",
		RequiredCustom: []string{permPointsManage},
		Cooldown:       3 * time.Second,
		Handler:        b.handlePointLogView,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "pointlog/note",
		RequiredCustom: []string{permPointsManage},
		Cooldown:       3 * time.Second,
		Handler:        b.handlePointLogNote,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "ranklock/set",
		RequiredCustom: []string{permRanksManage},
		Handler:        b.handleRankLockSet,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "ranklock/clear",
		RequiredCustom: []string{permRanksManage},
		Handler:        b.handleRankLockClear,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "perms/grant",
		RequiredNative: discordgo.PermissionAdministrator,
		Handler:        b.handlePermsGrant,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "perms/revoke",
		RequiredNative: discordgo.PermissionAdministrator,
		Handler:        b.handlePermsRevoke,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "apikey/create",
		RequiredNative: discordgo.PermissionAdministrator,
		Handler:        b.handleAPIKeyCreate,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:           "apikey/revoke",
		RequiredNative: discordgo.PermissionAdministrator,
		Handler:        b.handleAPIKeyRevoke,
	})
	b.dispatcher.RegisterCommand(&dispatch.Command{
		Name:    "link",
		Handler: b.handleLink,
	})

	b.dispatcher.RegisterComponent(&dispatch.Component{
		ID:      componentMyPoints,
		Handler: b.handleMyPoints,
	})
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// removeCommands removes all registered slash commands
func (b *Bot) removeCommands() {
	for _, cmd := range b.commands {
		err := b.session.ApplicationCommandDelete(b.session.State.User.ID, "", cmd.ID)
		if err != nil {
			slog.Error("Failed to remove command", "name", cmd.Name, "error", err)
		}
	}
}
