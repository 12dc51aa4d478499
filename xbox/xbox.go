// Package xbox implements the two Xbox Live hops of the token exchange:
// the user-authenticate call that turns a Microsoft access token into an
// XBL token, and the XSTS authorize call that scopes it to game services.
package xbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

const (
	userAuthURL = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL = "https://xsts.auth.xboxlive.com/xsts/authorize"

	xblRelyingParty  = "http://auth.xboxlive.com"
	gameRelyingParty = "rp://api.minecraftservices.com/"
)

var log = logrus.WithField("module", "xbox")

// Client issues the XBL and XSTS requests.
type Client struct {
	httpClient  *http.Client
	userAuthURL string
	xstsAuthURL string
}

// Token is an XBL or XSTS token together with the user hash it was minted
// for. The hash must stay identical across both hops.
type Token struct {
	Token    string
	UserHash string
}

type authRequest struct {
	Properties   map[string]any `json:"Properties"`
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
}

type authResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

// New returns a Client using the given HTTP transport. A nil httpClient
// falls back to http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:  httpClient,
		userAuthURL: userAuthURL,
		xstsAuthURL: xstsAuthURL,
	}
}

// NewWithEndpoints returns a Client pointed at alternative endpoints.
func NewWithEndpoints(httpClient *http.Client, userAuth, xstsAuth string) *Client {
	c := New(httpClient)
	c.userAuthURL = userAuth
	c.xstsAuthURL = xstsAuth
	return c
}

// UserToken authenticates the Microsoft access token with Xbox Live,
// posting it as an RPS ticket.
func (c *Client) UserToken(ctx context.Context, msAccessToken string) (*Token, error) {
	body := authRequest{
		Properties: map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  "d=" + msAccessToken,
		},
		RelyingParty: xblRelyingParty,
		TokenType:    "JWT",
	}
	return c.authenticate(ctx, c.userAuthURL, body)
}

// ServiceToken exchanges an XBL token for an XSTS token scoped to the game
// services relying party. A 401 here usually means the account has no Xbox
// Live entitlement (child account, region block, no profile).
func (c *Client) ServiceToken(ctx context.Context, xblToken string) (*Token, error) {
	body := authRequest{
		Properties: map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{xblToken},
		},
		RelyingParty: gameRelyingParty,
		TokenType:    "JWT",
	}
	return c.authenticate(ctx, c.xstsAuthURL, body)
}

func (c *Client) authenticate(ctx context.Context, endpoint string, body authRequest) (*Token, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
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
		log.WithField("status", resp.StatusCode).Debug("xbox auth rejected")
		return nil, fmt.Errorf("xbox auth failed with status %d: %s", resp.StatusCode, data)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		log.WithError(err).Debug("error unmarshaling xbox auth response")
		return nil, err
	}
	if ar.Token == "" {
		return nil, errors.New("xbox auth response carried no token")
	}
	if len(ar.DisplayClaims.XUI) == 0 || ar.DisplayClaims.XUI[0].UHS == "" {
		return nil, errors.New("xbox auth response carried no user hash")
	}

	return &Token{Token: ar.Token, UserHash: ar.DisplayClaims.XUI[0].UHS}, nil
}
