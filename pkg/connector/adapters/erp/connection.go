// Package erp implements the ERP connectors: OData entity sets (erp-odata),
// inbound IDoc XML (erp-idoc) and the RFC placeholder (erp-rfc).
package erp

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/clients"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/errors"
)

// Connection holds the endpoint and credentials shared by the HTTP based
// ERP connectors. Exactly one of basic auth, a static bearer token or OAuth2
// client credentials may be configured.
type Connection struct {
	clients.OAuth2Config `mapstructure:",squash"`

	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
	// SAPClient is sent as the sap-client query parameter when set
	SAPClient string `mapstructure:"sap_client"`
}

func (c *Connection) validate() error {
	if c.BaseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "base_url is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	methods := 0
	if c.Username != "" {
		methods++
	}
	if c.Token != "" {
		methods++
	}
	if c.OAuth2Config.Enabled() {
		methods++
	}
	if methods > 1 {
		return errors.New(errors.ErrorTypeConfig, "configure only one of username, token or token_url")
	}
	return c.OAuth2Config.Validate()
}

// headers returns the static authentication headers
func (c *Connection) headers() map[string]string {
	h := map[string]string{}
	switch {
	case c.Username != "":
		cred := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		h["Authorization"] = "Basic " + cred
	case c.Token != "":
		h["Authorization"] = "Bearer " + c.Token
	}
	return h
}

// client builds the HTTP client, wrapping its transport for OAuth2.
func (c *Connection) client(ctx context.Context, bc *base.BaseConnector) *clients.HTTPClient {
	hc := clients.NewHTTPClient(bc.HTTPConfig(), bc.GetLogger())
	if c.OAuth2Config.Enabled() {
		raw := hc.HTTP()
		inner := *raw
		raw.Transport = clients.NewOAuth2Transport(context.WithoutCancel(ctx), c.OAuth2Config, &inner)
	}
	return hc
}
