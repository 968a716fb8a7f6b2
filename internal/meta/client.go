// Package meta talks to the provider's Graph API: token exchange for the
// credential refresher and outbound message sends for automation and AI
// replies.
package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client is a thin Graph API wrapper.
type Client struct {
	http       *resty.Client
	apiVersion string
	creds      *CredentialProvider
}

func NewClient(baseURL, apiVersion string, creds *CredentialProvider) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	return &Client{http: http, apiVersion: apiVersion, creds: creds}
}

// TokenResponse is the provider's token-exchange reply. ExpiresIn is in
// seconds; the provider omits it for some token types, in which case the
// caller assumes the 60-day default.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeLongLivedToken swaps a tenant's current access token for a fresh
// long-lived one.
func (c *Client) ExchangeLongLivedToken(ctx context.Context, appID, appSecret, currentToken string) (*TokenResponse, error) {
	var out TokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         appID,
			"client_secret":     appSecret,
			"fb_exchange_token": currentToken,
		}).
		SetResult(&out).
		Get(fmt.Sprintf("/%s/oauth/access_token", c.apiVersion))
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token exchange failed: status %d body %s", resp.StatusCode(), resp.String())
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token exchange returned empty access token")
	}
	return &out, nil
}

// SendText sends a plain text message on behalf of a tenant.
func (c *Client) SendText(ctx context.Context, tenantID, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.send(ctx, tenantID, to, payload)
}

// SendTemplate sends a pre-approved template message.
func (c *Client) SendTemplate(ctx context.Context, tenantID, to, name, language string) error {
	if language == "" {
		language = "en_US"
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template": map[string]any{
			"name":     name,
			"language": map[string]string{"code": language},
		},
	}
	return c.send(ctx, tenantID, to, payload)
}

func (c *Client) send(ctx context.Context, tenantID, to string, payload map[string]any) error {
	creds, err := c.creds.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("no credentials for tenant %s: %w", tenantID, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(fmt.Sprintf("/%s/%s/messages", c.apiVersion, creds.PhoneNumberID))
	if err != nil {
		return fmt.Errorf("message send request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("message send failed: status %d body %s", resp.StatusCode(), resp.String())
	}

	log.Debug().Str("tenantID", tenantID).Str("to", to).Msg("Outbound message sent")
	return nil
}
