// Package microsoft implements the OAuth2 device-authorization and token
// grants against the Microsoft consumer identity endpoints.
package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	clientID = "4a07b708-b86d-4365-a55f-f4f23ecb85ab"
	scope    = "XboxLive.signin offline_access"

	deviceCodeURL = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	tokenURL      = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"

	deviceGrant  = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrant = "refresh_token"
)

var log = logrus.WithField("module", "microsoft")

// Client talks to the identity provider's device-authorization and token
// endpoints. The client ID and scope are fixed; callers only choose the
// locale sent with the device-code request.
type Client struct {
	httpClient    *http.Client
	deviceCodeURL string
	tokenURL      string
}

// DeviceCodeResponse is the provider's answer to a device-code request.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

// TokenResponse is a successful token-endpoint answer for either grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// TokenError is a structured error body from either endpoint.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	ErrorCodes  []int  `json:"error_codes"`
}

func (e *TokenError) Error() string {
	if e.Code == "" && len(e.ErrorCodes) > 0 {
		return fmt.Sprintf("token error codes %v: %s", e.ErrorCodes, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Provider flow outcomes during device-code polling.
const (
	CodeAuthorizationPending  = "authorization_pending"
	CodeSlowDown              = "slow_down"
	CodeBadVerificationCode   = "bad_verification_code"
	CodeAuthorizationDeclined = "authorization_declined"
	CodeExpiredToken          = "expired_token"
)

// NeedsReauth reports whether the refresh grant is permanently dead and the
// user has to go through device flow again: the refresh token expired or was
// revoked, or consent was withdrawn.
func (e *TokenError) NeedsReauth() bool {
	if e.Code == "invalid_grant" {
		return true
	}
	for _, code := range e.ErrorCodes {
		switch code {
		case 70000, 70011, 65001:
			return true
		}
	}
	return false
}

// New returns a Client using the given HTTP transport. A nil httpClient
// falls back to http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:    httpClient,
		deviceCodeURL: deviceCodeURL,
		tokenURL:      tokenURL,
	}
}

// NewWithEndpoints returns a Client pointed at alternative endpoints,
// e.g. a sovereign cloud or a test server.
func NewWithEndpoints(httpClient *http.Client, deviceCode, token string) *Client {
	c := New(httpClient)
	c.deviceCodeURL = deviceCode
	c.tokenURL = token
	return c
}

// RequestDeviceCode starts a device-authorization attempt and returns the
// code bundle the user needs to complete it in a browser.
func (c *Client) RequestDeviceCode(ctx context.Context, locale string) (*DeviceCodeResponse, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("scope", scope)
	if locale != "" {
		form.Set("mkt", locale)
	}

	data, err := c.postForm(ctx, c.deviceCodeURL, form)
	if err != nil {
		return nil, err
	}

	var dcr DeviceCodeResponse
	if err := json.Unmarshal(data, &dcr); err != nil {
		log.WithError(err).Debug("error unmarshaling device code response")
		return nil, err
	}
	return &dcr, nil
}

// PollOnce makes a single device-code token request. While the user has not
// finished the browser step this returns a *TokenError with code
// "authorization_pending".
func (c *Client) PollOnce(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("grant_type", deviceGrant)
	form.Set("device_code", deviceCode)
	return c.requestToken(ctx, form)
}

// Refresh exchanges a refresh token for a fresh provider token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("grant_type", refreshGrant)
	form.Set("refresh_token", refreshToken)
	form.Set("scope", scope)
	return c.requestToken(ctx, form)
}

// Expiry converts the response's expires_in into an absolute instant.
func (r *TokenResponse) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	data, err := c.postForm(ctx, c.tokenURL, form)
	if err != nil {
		return nil, err
	}

	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		log.WithError(err).Debug("error unmarshaling token response")
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	return &tr, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.WithError(err).Debug("error creating request")
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("error sending request")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Debug("error reading response body")
		return nil, err
	}

	if err := extractError(data); err != nil {
		log.WithError(err).Debug("error response from oauth server")
		return nil, err
	}
	return data, nil
}

// extractError returns a *TokenError when the body carries one. The token
// endpoint reports flow state (authorization_pending and friends) through
// this shape with a 400 status, so the status code itself is not consulted.
// Some error bodies carry only the numeric error_codes array, so either
// field marks the body as an error.
func extractError(data []byte) error {
	var e TokenError
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.Code != "" || len(e.ErrorCodes) > 0 {
		return &e
	}
	return nil
}
