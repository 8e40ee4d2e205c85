package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/eventbus"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/perms"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

const permManage = 1 << 5

type fakeProfiles struct {
	guilds map[string]*store.GuildProfile
	err    error
	calls  int
}

func (f *fakeProfiles) Guild(_ context.Context, id string, _ bool) (*store.GuildProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if g, ok := f.guilds[id]; ok {
		return g, nil
	}
	g := &store.GuildProfile{ID: id, Members: map[string]store.GuildMember{}, Grants: map[string]store.PermissionGrant{}}
	if f.guilds == nil {
		f.guilds = map[string]*store.GuildProfile{}
	}
	f.guilds[id] = g
	return g, nil
}

type fakeResponder struct {
	replies   []string
	ephemeral []bool
	err       error
}

func (f *fakeResponder) Reply(content string, ephemeral bool) error {
	f.replies = append(f.replies, content)
	f.ephemeral = append(f.ephemeral, ephemeral)
	return f.err
}

func command(actor perms.Actor, name string, r Responder) *Interaction {
	return &Interaction{Kind: KindCommand, Name: name, GuildID: "g1", Actor: actor, Responder: r}
}

func TestUnknownCommandDroppedSilently(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})
	r := &fakeResponder{}

	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "nope", r))

	assert.Empty(t, r.replies, "unknown handlers must not be acknowledged")
}

func TestCommandAndComponentNamespacesAreDisjoint(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	var ran int
	d.RegisterCommand(&Command{Name: "shared", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		ran++
		return nil
	}})

	// A component interaction carrying the same identifier must not fall
	// through to the command registry.
	r := &fakeResponder{}
	d.Dispatch(context.Background(), &Interaction{Kind: KindComponent, CustomID: "shared", GuildID: "g1", Actor: perms.Actor{ID: "u1"}, Responder: r})
	assert.Zero(t, ran)
	assert.Empty(t, r.replies)
}

func TestForbiddenDeniedBeforeExecute(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	var sideEffects int
	d.RegisterCommand(&Command{
		Name:           "points/set",
		RequiredNative: permManage,
		RequiredCustom: []string{"points.manage"},
		Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
			sideEffects++
			return nil
		},
	})

	r := &fakeResponder{}
	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1", PermissionsKnown: true}, "points/set", r))

	assert.Zero(t, sideEffects, "handler body must not run on denial")
	require.Len(t, r.replies, 1)
	assert.True(t, r.ephemeral[0], "denials are ephemeral")
	assert.Contains(t, r.replies[0], "permission")
}

func TestDeveloperOverrideSkipsGateAndCooldown(t *testing.T) {
	d := New(perms.NewGate([]string{"dev-1"}), &fakeProfiles{})

	var ran int
	d.RegisterCommand(&Command{
		Name:           "points/set",
		RequiredNative: permManage,
		Cooldown:       time.Hour,
		Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
			ran++
			return nil
		},
	})

	dev := perms.Actor{ID: "dev-1"}
	r := &fakeResponder{}
	d.Dispatch(context.Background(), command(dev, "points/set", r))
	d.Dispatch(context.Background(), command(dev, "points/set", r))

	assert.Equal(t, 2, ran, "developers bypass permissions and cooldowns")
	assert.Empty(t, r.replies)
}

func TestCooldownDeniedWithoutReset(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	var ran int
	d.RegisterCommand(&Command{
		Name:     "points/get",
		Cooldown: 150 * time.Millisecond,
		Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
			ran++
			return nil
		},
	})

	actor := perms.Actor{ID: "u1"}
	r := &fakeResponder{}

	d.Dispatch(context.Background(), command(actor, "points/get", r))
	assert.Equal(t, 1, ran)

	// Hammering during the window keeps getting denied but must not extend it.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		d.Dispatch(context.Background(), command(actor, "points/get", r))
	}
	assert.Equal(t, 1, ran)
	assert.Len(t, r.replies, 3)

	time.Sleep(80 * time.Millisecond) // past the original window despite the retries
	d.Dispatch(context.Background(), command(actor, "points/get", r))
	assert.Equal(t, 2, ran)
}

func TestGuildCooldownSharedAcrossActors(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	var ran int
	d.RegisterCommand(&Command{
		Name:          "pointlog/create",
		GuildCooldown: time.Minute,
		Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
			ran++
			return nil
		},
	})

	r := &fakeResponder{}
	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "pointlog/create", r))
	d.Dispatch(context.Background(), command(perms.Actor{ID: "u2"}, "pointlog/create", r))

	assert.Equal(t, 1, ran)
	require.Len(t, r.replies, 1)
	assert.Contains(t, r.replies[0], "Try again in")
}

func TestHandlerPanicRecoveredWithGenericAck(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})
	d.RegisterCommand(&Command{Name: "boom", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		panic("kaboom")
	}})

	r := &fakeResponder{}
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "boom", r))
	})
	require.Len(t, r.replies, 1)
	assert.Contains(t, r.replies[0], "Something went wrong")
}

func TestHandlerErrorConvertedToGenericAck(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})
	d.RegisterCommand(&Command{Name: "fail", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		return errors.New("db exploded")
	}})

	r := &fakeResponder{}
	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "fail", r))
	require.Len(t, r.replies, 1)
	assert.Contains(t, r.replies[0], "Something went wrong")
}

func TestProfileFetchFailureAcked(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{err: errors.New("connection refused")})

	var ran int
	d.RegisterCommand(&Command{Name: "points/get", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		ran++
		return nil
	}})

	r := &fakeResponder{}
	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "points/get", r))

	assert.Zero(t, ran)
	require.Len(t, r.replies, 1)
}

func TestHandlerReceivesGuildProfile(t *testing.T) {
	profiles := &fakeProfiles{guilds: map[string]*store.GuildProfile{
		"g1": {ID: "g1", Members: map[string]store.GuildMember{"acct": {Points: 7}}},
	}}
	d := New(perms.NewGate(nil), profiles)

	var got *store.GuildProfile
	d.RegisterCommand(&Command{Name: "points/get", Handler: func(_ context.Context, _ *Interaction, g *store.GuildProfile) error {
		got = g
		return nil
	}})

	d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "points/get", &fakeResponder{}))
	require.NotNil(t, got)
	assert.EqualValues(t, 7, got.Member("acct").Points)
}

func TestDirectMessageHasNilGuild(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	var sawNil bool
	d.RegisterCommand(&Command{Name: "link", Handler: func(_ context.Context, _ *Interaction, g *store.GuildProfile) error {
		sawNil = g == nil
		return nil
	}})

	ic := &Interaction{Kind: KindCommand, Name: "link", Actor: perms.Actor{ID: "u1"}, Responder: &fakeResponder{}}
	d.Dispatch(context.Background(), ic)
	assert.True(t, sawNil)
}

func TestAttachRoutesBusEvents(t *testing.T) {
	bus := eventbus.New()
	d := New(perms.NewGate(nil), &fakeProfiles{})
	d.Attach(bus)

	var ran int
	d.RegisterCommand(&Command{Name: "points/get", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		ran++
		return nil
	}})

	bus.Publish(EventCommand, command(perms.Actor{ID: "u1"}, "points/get", &fakeResponder{}))
	assert.Equal(t, 1, ran)

	// Component events with unregistered ids (live prompts) pass through quietly.
	require.NotPanics(t, func() {
		bus.Publish(EventComponent, &Interaction{Kind: KindComponent, CustomID: "confirm:abc", Actor: perms.Actor{ID: "u1"}})
	})
}

func TestDrainWaitsForInflightHandlers(t *testing.T) {
	d := New(perms.NewGate(nil), &fakeProfiles{})

	release := make(chan struct{})
	d.RegisterCommand(&Command{Name: "slow", Handler: func(context.Context, *Interaction, *store.GuildProfile) error {
		<-release
		return nil
	}})

	go d.Dispatch(context.Background(), command(perms.Actor{ID: "u1"}, "slow", &fakeResponder{}))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Drain(ctx), "drain must not return while a handler runs")

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, d.Drain(ctx2))
}
