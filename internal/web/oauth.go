package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var robloxEndpoint = oauth2.Endpoint{
	AuthURL:  "https://apis.roblox.com/oauth/v1/authorize",
	TokenURL: "https://apis.roblox.com/oauth/v1/token",
}

const robloxUserInfoURL = "https://apis.roblox.com/oauth/v1/userinfo"

// RobloxUser is the slice of the userinfo response we care about.
type RobloxUser struct {
	Sub      string `json:"sub"`                // stable Roblox user id
	Username string `json:"preferred_username"` // display handle, may change
}

// RobloxProvider wraps the Roblox authorization-code flow. The code-for-token
// exchange happens server side with the client secret; the browser only ever
// sees the short-lived code.
type RobloxProvider struct {
	config *oauth2.Config
}

// NewRobloxProvider creates a provider for the registered OAuth app.
// redirectURL must match the app's configured redirect exactly.
func NewRobloxProvider(clientID, clientSecret, redirectURL string) *RobloxProvider {
	return &RobloxProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile"},
			Endpoint:     robloxEndpoint,
		},
	}
}

// AuthURL returns the authorization URL carrying state, which we sign
// ourselves (see NewLinkToken) so the callback can both resist CSRF and
// recover the Discord user being linked.
func (p *RobloxProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the Roblox identity behind it.
func (p *RobloxProvider) Exchange(ctx context.Context, code string) (*RobloxUser, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robloxUserInfoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var user RobloxUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	if user.Sub == "" {
		return nil, fmt.Errorf("userinfo missing subject")
	}
	return &user, nil
}
