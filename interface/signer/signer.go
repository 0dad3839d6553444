package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/spatialops/stac-fetcher/resolver"
	"github.com/spatialops/stac-fetcher/service"
)

// Client requests short-lived access tokens from the remote signing endpoint
// (GET {endpoint}/token/{account}/{container}). It implements resolver.Signer.
type Client struct {
	endpoint        string
	subscriptionKey string
	httpClient      *http.Client
}

type Option func(*Client)

// WithSubscriptionKey authenticates to the signing endpoint with an api key header
func WithSubscriptionKey(key string) Option {
	return func(c *Client) { c.subscriptionKey = key }
}

// WithClientCredentials authenticates to the signing endpoint with the oauth2
// client-credentials flow (the token of the signing service itself, not the
// storage tokens it hands out)
func WithClientCredentials(ctx context.Context, clientID, clientSecret, tokenURL string) Option {
	return func(c *Client) {
		cfg := clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
		c.httpClient = cfg.Client(ctx)
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{endpoint: endpoint, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tokenResponse struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
	// some signing services use a vendor-prefixed expiry key
	MsftExpiry *time.Time `json:"msft:expiry,omitempty"`
}

// SignScope implements resolver.Signer.
// Network failures are transient, authorization failures are fatal.
func (c *Client) SignScope(ctx context.Context, scope resolver.Scope) (resolver.Token, error) {
	url := fmt.Sprintf("%s/token/%s/%s", c.endpoint, scope.Account, scope.Container)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return resolver.Token{}, fmt.Errorf("SignScope.NewRequest: %w", err)
	}
	if c.subscriptionKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resolver.Token{}, service.MakeTemporary(fmt.Errorf("SignScope[%s]: %w", scope, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return resolver.Token{}, service.FromStatusCode(resp.StatusCode, fmt.Errorf("SignScope[%s]: %s", scope, resp.Status))
	}

	// a 200 with an unusable body is an endpoint malfunction, worth a redelivery
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return resolver.Token{}, service.MakeTemporary(fmt.Errorf("SignScope[%s]: decode response: %w", scope, err))
	}
	if tr.MsftExpiry != nil {
		tr.Expiry = *tr.MsftExpiry
	}
	if tr.Token == "" {
		return resolver.Token{}, service.MakeTemporary(fmt.Errorf("SignScope[%s]: empty token in response", scope))
	}
	if tr.Expiry.IsZero() {
		return resolver.Token{}, service.MakeTemporary(fmt.Errorf("SignScope[%s]: no expiry in response", scope))
	}
	return resolver.Token{Value: tr.Token, Expiry: tr.Expiry}, nil
}
