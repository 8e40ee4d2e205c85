package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/config"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("file:web_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		JWTSecret: testSecret,
		WebAddr:   ":0",
		PublicURL: "http://localhost",
	}
	return NewServer(cfg, st), st
}

func TestLinkTokenRoundTrip(t *testing.T) {
	token, err := NewLinkToken(testSecret, "discord-1", time.Minute)
	require.NoError(t, err)

	subject, err := ParseLinkToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "discord-1", subject)
}

func TestLinkTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewLinkToken(testSecret, "discord-1", time.Minute)
	require.NoError(t, err)

	_, err = ParseLinkToken("other-secret", token)
	assert.Error(t, err)
}

func TestLinkTokenRejectsExpired(t *testing.T) {
	token, err := NewLinkToken(testSecret, "discord-1", -time.Minute)
	require.NoError(t, err)

	_, err = ParseLinkToken(testSecret, token)
	assert.Error(t, err)
}

func TestLinkTokenNotValidAsSession(t *testing.T) {
	token, err := NewLinkToken(testSecret, "discord-1", time.Minute)
	require.NoError(t, err)

	_, err = ParseSessionToken(testSecret, token)
	assert.Error(t, err, "audiences must not be interchangeable")
}

func TestAuthStartRejectsBadState(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auth/roblox/start?state=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/guilds/g1/accounts/a1/points")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIRejectsForeignGuild(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, token, err := st.CreateAPIKey(context.Background(), "g1", "tool", []string{"points.read"})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/guilds/other/accounts/a1/points", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIPointsReadWrite(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx := context.Background()
	_, token, err := st.CreateAPIKey(ctx, "g1", "tool", []string{"points.read", "points.write"})
	require.NoError(t, err)

	put := func(points int64) *http.Response {
		body, _ := json.Marshal(map[string]int64{"points": points})
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/guilds/g1/accounts/acct-1/points", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := put(50)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/guilds/g1/accounts/acct-1/points", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	getResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var body struct {
		Points int64 `json:"points"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&body))
	assert.EqualValues(t, 50, body.Points)
}

func TestAPIScopeEnforced(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, token, err := st.CreateAPIKey(context.Background(), "g1", "reader", []string{"points.read"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]int64{"points": 10})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/guilds/g1/accounts/a1/points", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLinkAccountOverwritesExisting(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	// Seed an already-linked profile; relinking replaces the old account.
	u, err := st.User(ctx, "discord-1", true)
	require.NoError(t, err)
	u.LinkedAccountID = "old"
	require.NoError(t, st.SaveUser(ctx, u))

	require.NoError(t, s.linkAccount(ctx, "discord-1", "roblox-9"))

	fresh, err := st.User(ctx, "discord-1", false)
	require.NoError(t, err)
	assert.Equal(t, "roblox-9", fresh.LinkedAccountID)
}
