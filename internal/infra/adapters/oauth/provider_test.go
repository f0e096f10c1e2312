package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"codepolish/internal/config"
	"codepolish/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenericServer(t *testing.T, userinfo string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func genericConfig(base string) config.OAuthConfig {
	return config.OAuthConfig{
		Provider:     "generic",
		ClientID:     "cid",
		ClientSecret: "secret",
		AuthURL:      base + "/authorize",
		TokenURL:     base + "/token",
		UserInfoURL:  base + "/userinfo",
	}
}

func TestProvider_AuthCodeURL(t *testing.T) {
	p, err := NewProvider(genericConfig("https://idp.test"))
	require.NoError(t, err)

	raw := p.AuthCodeURL("st4te", "https://app.test/auth/callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "st4te", u.Query().Get("state"))
	assert.Equal(t, "https://app.test/auth/callback", u.Query().Get("redirect_uri"))
	assert.Equal(t, "openid profile email", u.Query().Get("scope"))
}

func TestProvider_Exchange(t *testing.T) {
	srv := newGenericServer(t, `{"sub":"u-1","name":"Ada","email":"ada@example.com"}`)
	p, err := NewProvider(genericConfig(srv.URL))
	require.NoError(t, err)

	ident, err := p.Exchange(context.Background(), "good", "https://app.test/cb")
	require.NoError(t, err)
	assert.Equal(t, "generic:u-1", ident.OpenID)
	assert.Equal(t, "Ada", ident.Name)
	assert.Equal(t, "ada@example.com", ident.Email)
	assert.Equal(t, "generic", ident.LoginMethod)
}

func TestProvider_ExchangeNumericID(t *testing.T) {
	srv := newGenericServer(t, `{"id":9007199254740993,"login":"octo"}`)
	p, err := NewProvider(genericConfig(srv.URL))
	require.NoError(t, err)

	ident, err := p.Exchange(context.Background(), "good", "")
	require.NoError(t, err)
	assert.Equal(t, "generic:9007199254740993", ident.OpenID)
	assert.Equal(t, "octo", ident.Name)
}

func TestProvider_ExchangeFailures(t *testing.T) {
	srv := newGenericServer(t, `{"name":"nobody"}`)
	p, err := NewProvider(genericConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "bad", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = p.Exchange(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = p.Exchange(context.Background(), "good", "")
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(config.OAuthConfig{Provider: "github"})
	assert.Error(t, err)

	_, err = NewProvider(config.OAuthConfig{Provider: "generic", ClientID: "a", ClientSecret: "b"})
	assert.Error(t, err)

	p, err := NewProvider(config.OAuthConfig{Provider: "github", ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)
	assert.Equal(t, "github", p.Name())
}
