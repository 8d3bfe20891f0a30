package clients

import (
	"context"
	"net/http"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures client-credentials authentication
type OAuth2Config struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// Enabled reports whether OAuth2 credentials were configured.
func (c OAuth2Config) Enabled() bool {
	return c.TokenURL != ""
}

// Validate checks that all credentials are present when a token URL is set.
func (c OAuth2Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New(errors.ErrorTypeConfig, "client_id and client_secret are required with token_url")
	}
	return nil
}

// NewOAuth2Transport wraps base so every request carries a bearer token.
// Tokens are cached and refreshed before expiry by the token source.
func NewOAuth2Transport(ctx context.Context, cfg OAuth2Config, base *http.Client) http.RoundTripper {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	// the token endpoint is called through base so tests can stub it
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx)),
		Base:   base.Transport,
	}
}
