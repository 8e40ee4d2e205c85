// Package dispatch routes inbound interactions to registered handlers and
// runs the authorize, cooldown, execute pipeline in front of them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/eventbus"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/metrics"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/perms"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

// Event names the gateway publishes interactions under.
const (
	EventCommand   = "interaction.command"
	EventComponent = "interaction.component"
	EventModal     = "interaction.modal"
)

// Kind discriminates the interaction namespaces. Commands and components are
// resolved from disjoint registries; a name never falls through from one to
// the other.
type Kind int

const (
	KindCommand Kind = iota
	KindComponent
	KindModal
)

// Responder delivers user-visible acknowledgments for one interaction.
// Delivery failures are the implementation's problem to log; the pipeline
// never retries a user-visible reply.
type Responder interface {
	Reply(content string, ephemeral bool) error
}

// Interaction is the dispatcher's view of an inbound platform event.
type Interaction struct {
	Kind     Kind
	Name     string // command path, e.g. "points/set"
	CustomID string // full component or modal custom id
	GuildID  string
	Actor    perms.Actor
	Options  map[string]any

	// Correlation overrides CustomID for prompt matching when the custom id
	// carries extra payload (e.g. which button of a prompt was pressed).
	Correlation string

	Responder
}

// CorrelationID lets component interactions act as prompt responses.
func (ic *Interaction) CorrelationID() string {
	if ic.Correlation != "" {
		return ic.Correlation
	}
	return ic.CustomID
}

// ActorID identifies the responding user for prompt allow-lists.
func (ic *Interaction) ActorID() string { return ic.Actor.ID }

// String returns the value of a string option, or "".
func (ic *Interaction) String(name string) string {
	v, _ := ic.Options[name].(string)
	return v
}

// Int returns the value of an integer option, or 0.
func (ic *Interaction) Int(name string) int64 {
	v, _ := ic.Options[name].(int64)
	return v
}

// HandlerFunc executes a resolved interaction. guild is nil outside guild
// context. A returned error is logged and turned into a generic failure
// acknowledgment; it never crashes the dispatcher.
type HandlerFunc func(ctx context.Context, ic *Interaction, guild *store.GuildProfile) error

// Command is a registered slash-command (or subcommand) handler.
type Command struct {
	Name           string
	RequiredNative int64
	RequiredCustom []string
	Cooldown       time.Duration // per (command, actor)
	GuildCooldown  time.Duration // per (command, guild), 0 = none
	Handler        HandlerFunc
}

// Component is a statically registered button or select handler. Prompt
// components are not registered here; their ids resolve nowhere and the
// dispatcher drops them while the correlator picks them up off the bus.
type Component struct {
	ID             string
	RequiredNative int64
	RequiredCustom []string
	Handler        HandlerFunc
}

// GuildProfiles is the slice of the store the pipeline needs.
type GuildProfiles interface {
	Guild(ctx context.Context, id string, createIfMissing bool) (*store.GuildProfile, error)
}

// Dispatcher owns the handler registries and the pipeline. Registration
// happens once at startup; the registries are read-only afterwards.
type Dispatcher struct {
	gate     *perms.Gate
	profiles GuildProfiles

	commands   map[string]*Command
	components map[string]*Component

	cooldowns *cooldowns
	inflight  sync.WaitGroup
}

// New creates a Dispatcher with empty registries.
func New(gate *perms.Gate, profiles GuildProfiles) *Dispatcher {
	return &Dispatcher{
		gate:       gate,
		profiles:   profiles,
		commands:   make(map[string]*Command),
		components: make(map[string]*Component),
		cooldowns:  newCooldowns(),
	}
}

// RegisterCommand adds a command handler. Registering the same name twice is
// a programming error.
func (d *Dispatcher) RegisterCommand(cmd *Command) {
	if _, dup := d.commands[cmd.Name]; dup {
		panic(fmt.Sprintf("dispatch: duplicate command %q", cmd.Name))
	}
	d.commands[cmd.Name] = cmd
}

// RegisterComponent adds a static component handler.
func (d *Dispatcher) RegisterComponent(c *Component) {
	if _, dup := d.components[c.ID]; dup {
		panic(fmt.Sprintf("dispatch: duplicate component %q", c.ID))
	}
	d.components[c.ID] = c
}

// Attach subscribes the dispatcher to the bus events the gateway publishes.
func (d *Dispatcher) Attach(bus *eventbus.Bus) {
	handle := func(payload any) {
		if ic, ok := payload.(*Interaction); ok {
			d.Dispatch(context.Background(), ic)
		}
	}
	bus.Subscribe(EventCommand, handle)
	bus.Subscribe(EventComponent, handle)
	bus.Subscribe(EventModal, handle)
}

// Drain blocks until every in-flight handler has returned or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch resolves ic to a handler and runs the pipeline: developer
// override, authorize, cooldown, execute. Unknown names are dropped
// silently; every interaction that passes resolution gets exactly one
// acknowledgment on failure paths.
func (d *Dispatcher) Dispatch(ctx context.Context, ic *Interaction) {
	name, required, run := d.resolve(ic)
	if run == nil {
		slog.Debug("unresolved interaction dropped", "kind", ic.Kind, "name", ic.Name, "custom_id", ic.CustomID)
		return
	}

	d.inflight.Add(1)
	defer d.inflight.Done()

	var guild *store.GuildProfile
	if ic.GuildID != "" {
		var err error
		guild, err = d.profiles.Guild(ctx, ic.GuildID, true)
		if err != nil {
			slog.Error("failed to load guild profile", "guild", ic.GuildID, "name", name, "error", err)
			d.ack(ic, "Something went wrong. Please try again later.")
			return
		}
	}

	if !d.gate.IsDeveloper(ic.Actor.ID) {
		if err := d.gate.Authorize(ic.Actor, required.native, required.custom, guild); err != nil {
			metrics.DenialsTotal.WithLabelValues("forbidden").Inc()
			slog.Info("interaction forbidden", "name", name, "actor", ic.Actor.ID, "guild", ic.GuildID)
			d.ack(ic, "You do not have permission to do that.")
			return
		}

		if required.cooldown > 0 || required.guildCooldown > 0 {
			if remaining := d.cooldowns.check(name, ic.Actor.ID, ic.GuildID, required.cooldown, required.guildCooldown); remaining > 0 {
				metrics.DenialsTotal.WithLabelValues("cooldown").Inc()
				d.ack(ic, fmt.Sprintf("You're doing that too fast. Try again in %s.", remaining.Round(time.Second)))
				return
			}
		}
	}

	metrics.InteractionsTotal.WithLabelValues(kindLabel(ic.Kind), name).Inc()
	d.execute(ctx, name, run, ic, guild)
}

type requirements struct {
	native        int64
	custom        []string
	cooldown      time.Duration
	guildCooldown time.Duration
}

func (d *Dispatcher) resolve(ic *Interaction) (string, requirements, HandlerFunc) {
	switch ic.Kind {
	case KindCommand:
		if cmd, ok := d.commands[ic.Name]; ok {
			return cmd.Name, requirements{
				native:        cmd.RequiredNative,
				custom:        cmd.RequiredCustom,
				cooldown:      cmd.Cooldown,
				guildCooldown: cmd.GuildCooldown,
			}, cmd.Handler
		}
	case KindComponent, KindModal:
		if c, ok := d.components[ic.CustomID]; ok {
			return c.ID, requirements{native: c.RequiredNative, custom: c.RequiredCustom}, c.Handler
		}
	}
	return "", requirements{}, nil
}

// execute runs the handler behind a panic barrier. Whatever goes wrong, the
// dispatcher survives and the actor gets a single generic failure reply.
func (d *Dispatcher) execute(ctx context.Context, name string, run HandlerFunc, ic *Interaction, guild *store.GuildProfile) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerFailuresTotal.Inc()
			slog.Error("handler panicked", "name", name, "actor", ic.Actor.ID, "guild", ic.GuildID, "panic", r)
			d.ack(ic, "Something went wrong. Please try again later.")
		}
	}()

	if err := run(ctx, ic, guild); err != nil {
		metrics.HandlerFailuresTotal.Inc()
		slog.Error("handler failed", "name", name, "actor", ic.Actor.ID, "guild", ic.GuildID, "error", err)
		d.ack(ic, "Something went wrong. Please try again later.")
	}
}

// ack sends an ephemeral reply and swallows delivery errors; the platform
// may already consider the interaction answered.
func (d *Dispatcher) ack(ic *Interaction, content string) {
	if ic.Responder == nil {
		return
	}
	if err := ic.Reply(content, true); err != nil {
		slog.Warn("failed to deliver acknowledgment", "actor", ic.Actor.ID, "error", err)
	}
}

func kindLabel(k Kind) string {
	switch k {
	case KindCommand:
		return "command"
	case KindComponent:
		return "component"
	case KindModal:
		return "modal"
	default:
		return "unknown"
	}
}
