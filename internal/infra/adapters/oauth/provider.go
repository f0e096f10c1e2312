package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"codepolish/internal/config"
	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/adapter"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

var _ adapter.IdentityProvider = (*Provider)(nil)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

var ErrNoIdentity = errors.New("oauth: provider returned no user id")

// Provider runs the authorization code flow against GitHub or any provider
// exposing an OpenID-style userinfo endpoint.
type Provider struct {
	name        string
	conf        oauth2.Config
	userInfoURL string
	emailsURL   string
}

func NewProvider(cfg config.OAuthConfig) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oauth: client id and secret are required")
	}
	p := &Provider{
		name: cfg.Provider,
		conf: oauth2.Config{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, Scopes: cfg.Scopes},
	}
	switch cfg.Provider {
	case "github":
		p.conf.Endpoint = github.Endpoint
		p.userInfoURL = githubUserURL
		p.emailsURL = githubEmailsURL
		if len(p.conf.Scopes) == 0 {
			p.conf.Scopes = []string{"read:user", "user:email"}
		}
	case "generic":
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, fmt.Errorf("oauth: generic provider needs auth, token and userinfo urls")
		}
		p.conf.Endpoint = oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
		p.userInfoURL = cfg.UserInfoURL
		if len(p.conf.Scopes) == 0 {
			p.conf.Scopes = []string{"openid", "profile", "email"}
		}
	default:
		return nil, fmt.Errorf("oauth: unknown provider %q", cfg.Provider)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) config(redirectURI string) *oauth2.Config {
	c := p.conf
	c.RedirectURL = redirectURI
	return &c
}

func (p *Provider) AuthCodeURL(state, redirectURI string) string {
	return p.config(redirectURI).AuthCodeURL(state)
}

func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*adapter.Identity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.Invalid("missing authorization code")
	}
	conf := p.config(redirectURI)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", domain.ErrUnauthorized, err)
	}
	client := conf.Client(ctx, tok)

	var info map[string]any
	if err := getJSON(ctx, client, p.userInfoURL, &info); err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}

	id := firstString(info, "sub", "id")
	if id == "" {
		return nil, ErrNoIdentity
	}
	ident := &adapter.Identity{
		OpenID:      p.name + ":" + id,
		Name:        firstString(info, "name", "login", "preferred_username"),
		Email:       firstString(info, "email"),
		LoginMethod: p.name,
	}
	if ident.Email == "" && p.emailsURL != "" {
		ident.Email = p.primaryEmail(ctx, client)
	}
	return ident, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryEmail returns the primary verified address, or any verified one.
// Failures leave the email empty; sign-in does not depend on it.
func (p *Provider) primaryEmail(ctx context.Context, client *http.Client) string {
	var emails []githubEmail
	if err := getJSON(ctx, client, p.emailsURL, &emails); err != nil {
		return ""
	}
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
