// Package minecraft implements the game-service half of the token exchange:
// logging in with an XSTS token, fetching the player profile, and checking
// the ownership entitlement.
package minecraft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	loginURL        = "https://api.minecraftservices.com/authentication/login_with_xbox"
	profileURL      = "https://api.minecraftservices.com/minecraft/profile"
	entitlementsURL = "https://api.minecraftservices.com/entitlements/mcstore"
)

// ErrNoProfile means the account authenticated fine but never created a
// game profile (e.g. Game Pass without first launch, or no purchase).
var ErrNoProfile = errors.New("account has no game profile")

var log = logrus.WithField("module", "minecraft")

// Client issues the game-service requests.
type Client struct {
	httpClient      *http.Client
	loginURL        string
	profileURL      string
	entitlementsURL string
}

// LoginResponse is the game service's answer to login_with_xbox.
type LoginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Profile is the player's game profile.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []struct {
		ID      string `json:"id"`
		State   string `json:"state"`
		URL     string `json:"url"`
		Variant string `json:"variant"`
	} `json:"skins"`
	Capes []struct {
		ID    string `json:"id"`
		State string `json:"state"`
		URL   string `json:"url"`
	} `json:"capes"`
}

type profileError struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

type entitlements struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

// New returns a Client using the given HTTP transport. A nil httpClient
// falls back to http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:      httpClient,
		loginURL:        loginURL,
		profileURL:      profileURL,
		entitlementsURL: entitlementsURL,
	}
}

// NewWithEndpoints returns a Client pointed at alternative endpoints.
func NewWithEndpoints(httpClient *http.Client, login, profile, entitlementsEP string) *Client {
	c := New(httpClient)
	c.loginURL = login
	c.profileURL = profile
	c.entitlementsURL = entitlementsEP
	return c
}

// LoginWithXbox trades an XSTS token for a game-service access token. The
// identity token format is fixed by the service.
func (c *Client) LoginWithXbox(ctx context.Context, userHash, xstsToken string) (*LoginResponse, error) {
	body := map[string]string{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", userHash, xstsToken),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(payload))
	if err != nil {
		log.WithError(err).Debug("error creating request")
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("error sending request")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("game login failed with status %d: %s", resp.StatusCode, data)
	}

	var lr LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.WithError(err).Debug("error unmarshaling login response")
		return nil, err
	}
	if lr.AccessToken == "" {
		return nil, errors.New("game login response carried no access token")
	}
	return &lr, nil
}

// Expiry converts the response's expires_in into an absolute instant.
func (r *LoginResponse) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// Profile fetches the player profile for the game access token. Returns
// ErrNoProfile when the account owns no profile.
func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	data, status, err := c.get(ctx, c.profileURL, accessToken)
	if err != nil {
		return nil, err
	}

	var perr profileError
	if json.Unmarshal(data, &perr) == nil && perr.Error == "NOT_FOUND" {
		return nil, ErrNoProfile
	}
	if status == http.StatusNotFound {
		return nil, ErrNoProfile
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", status, data)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		log.WithError(err).Debug("error unmarshaling profile response")
		return nil, err
	}
	if profile.ID == "" {
		return nil, errors.New("profile response carried no id")
	}
	return &profile, nil
}

// OwnsGame checks the entitlement list for game ownership.
func (c *Client) OwnsGame(ctx context.Context, accessToken string) (bool, error) {
	data, status, err := c.get(ctx, c.entitlementsURL, accessToken)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("entitlement check failed with status %d: %s", status, data)
	}

	var ent entitlements
	if err := json.Unmarshal(data, &ent); err != nil {
		log.WithError(err).Debug("error unmarshaling entitlements response")
		return false, err
	}
	for _, item := range ent.Items {
		if item.Name == "product_minecraft" || item.Name == "game_minecraft" {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) get(ctx context.Context, endpoint, accessToken string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.WithError(err).Debug("error creating request")
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("error sending request")
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Debug("error reading response body")
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}
