package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/config"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/dispatch"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/eventbus"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/perms"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/prompt"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

// Bot represents the Discord side of the application: the gateway session,
// the event bus fed from it, and the dispatcher and correlator on top.
type Bot struct {
	config     *config.Config
	session    *discordgo.Session
	store      *store.Store
	bus        *eventbus.Bus
	gate       *perms.Gate
	dispatcher *dispatch.Dispatcher
	correlator *prompt.Correlator
	commands   []*discordgo.ApplicationCommand
}

// New creates a new Bot instance wired to st.
func New(cfg *config.Config, st *store.Store) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds

	bus := eventbus.New()
	gate := perms.NewGate(cfg.DeveloperIDs)
	dispatcher := dispatch.New(gate, st)
	dispatcher.Attach(bus)

	b := &Bot{
		config:     cfg,
		session:    session,
		store:      st,
		bus:        bus,
		gate:       gate,
		dispatcher: dispatcher,
	}

	// Responses from users outside a prompt's allow-list get a private nudge
	// and the prompt keeps waiting.
	b.correlator = prompt.New(bus, func(resp prompt.Response) {
		ic, ok := resp.(*dispatch.Interaction)
		if !ok || ic.Responder == nil {
			return
		}
		if err := ic.Reply("This prompt isn't for you.", true); err != nil {
			slog.Warn("failed to acknowledge disallowed responder", "actor", resp.ActorID(), "error", err)
		}
	})

	// Populate the dispatcher registry. Registration happens once here;
	// the registry is read-only from then on.
	b.registerRoutes()

	// Register gateway event handlers
	b.registerHandlers()

	return b, nil
}

// Bus exposes the event bus for collaborators that publish into it.
func (b *Bot) Bus() *eventbus.Bus { return b.bus }

// Start opens the Discord connection and registers the slash commands.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop drains in-flight handlers and closes the Discord session.
func (b *Bot) Stop(ctx context.Context) error {
	if err := b.dispatcher.Drain(ctx); err != nil {
		slog.Warn("shutdown with handlers still in flight", "error", err)
	}

	// Remove registered commands (optional - comment out to keep commands)
	// b.removeCommands()

	if b.session != nil {
		return b.session.Close()
	}
	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction converts a gateway interaction into the bus event the
// dispatcher and correlator consume. The bus is the only channel between the
// inbound stream and those two.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ic := &dispatch.Interaction{
		GuildID:   i.GuildID,
		Actor:     actorFrom(i),
		Responder: &responder{session: s, interaction: i},
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		ic.Kind = dispatch.KindCommand
		ic.Name, ic.Options = flattenCommand(data)
		slog.Debug("Received command", "command", ic.Name, "guild", i.GuildID)
		b.bus.Publish(dispatch.EventCommand, ic)

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		ic.Kind = dispatch.KindComponent
		ic.CustomID = data.CustomID
		ic.Correlation, ic.Options = splitCustomID(data.CustomID)
		if len(data.Values) > 0 {
			ic.Options["values"] = data.Values
		}
		b.bus.Publish(dispatch.EventComponent, ic)

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		ic.Kind = dispatch.KindModal
		ic.CustomID = data.CustomID
		ic.Correlation, ic.Options = splitCustomID(data.CustomID)
		collectModalInputs(ic.Options, data.Components)
		b.bus.Publish(dispatch.EventModal, ic)
	}
}

// actorFrom extracts the initiating identity. Outside a guild there is no
// member context, so permission bits are marked unknown.
func actorFrom(i *discordgo.InteractionCreate) perms.Actor {
	if i.Member != nil && i.Member.User != nil {
		return perms.Actor{
			ID:               i.Member.User.ID,
			Roles:            i.Member.Roles,
			Permissions:      i.Member.Permissions,
			PermissionsKnown: true,
		}
	}
	if i.User != nil {
		return perms.Actor{ID: i.User.ID}
	}
	return perms.Actor{}
}

// flattenCommand turns nested subcommand options into a "name/sub" path and
// a flat option map.
func flattenCommand(data discordgo.ApplicationCommandInteractionData) (string, map[string]any) {
	name := data.Name
	opts := data.Options
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
		opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		name += "/" + opts[0].Name
		opts = opts[0].Options
	}

	options := make(map[string]any, len(opts))
	for _, opt := range opts {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			options[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			options[opt.Name] = opt.BoolValue()
		default:
			// Strings, plus user/role/channel options, which arrive as
			// snowflake strings.
			options[opt.Name] = fmt.Sprint(opt.Value)
		}
	}
	return name, options
}

// splitCustomID separates a prompt custom id of the form "<correlation>#<choice>".
// Static component ids carry no "#" and pass through unchanged.
func splitCustomID(customID string) (string, map[string]any) {
	options := make(map[string]any)
	corr := customID
	if idx := strings.IndexByte(customID, '#'); idx >= 0 {
		corr = customID[:idx]
		options["choice"] = customID[idx+1:]
	}
	return corr, options
}

func collectModalInputs(options map[string]any, components []discordgo.MessageComponent) {
	for _, row := range components {
		actionRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actionRow.Components {
			if input, ok := comp.(*discordgo.TextInput); ok {
				options[input.CustomID] = input.Value
			}
		}
	}
}
