package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithEndpoints(server.Client(), server.URL+"/devicecode", server.URL+"/token")
}

func TestRequestDeviceCode(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "D1",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://x/device",
			"expires_in":       900,
			"interval":         5,
			"message":          "go to x",
		})
	})

	dcr, err := c.RequestDeviceCode(context.Background(), "en-US")
	require.NoError(t, err)
	require.Equal(t, "D1", dcr.DeviceCode)
	require.Equal(t, "ABCD-EFGH", dcr.UserCode)
	require.Equal(t, "https://x/device", dcr.VerificationURI)
	require.Equal(t, 900, dcr.ExpiresIn)
	require.Equal(t, 5, dcr.Interval)
	require.Equal(t, "go to x", dcr.Message)

	require.Equal(t, clientID, form.Get("client_id"))
	require.Equal(t, scope, form.Get("scope"))
	require.Equal(t, "en-US", form.Get("mkt"))
}

func TestPollOncePending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	})

	_, err := c.PollOnce(context.Background(), "D1")
	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, CodeAuthorizationPending, terr.Code)
}

func TestPollOnceSuccess(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
		})
	})

	tok, err := c.PollOnce(context.Background(), "D1")
	require.NoError(t, err)
	require.Equal(t, "AT1", tok.AccessToken)
	require.Equal(t, "RT1", tok.RefreshToken)
	require.Equal(t, deviceGrant, form.Get("grant_type"))
	require.Equal(t, "D1", form.Get("device_code"))
}

func TestRefreshSendsGrant(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "AT2",
			"refresh_token": "RT2",
			"expires_in":    3600,
		})
	})

	tok, err := c.Refresh(context.Background(), "RT1")
	require.NoError(t, err)
	require.Equal(t, "AT2", tok.AccessToken)
	require.Equal(t, refreshGrant, form.Get("grant_type"))
	require.Equal(t, "RT1", form.Get("refresh_token"))
	require.Equal(t, scope, form.Get("scope"))
}

func TestRefreshStructuredError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "AADSTS70000: refresh token has expired",
			"error_codes":       []int{70000},
		})
	})

	_, err := c.Refresh(context.Background(), "RT1")
	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, []int{70000}, terr.ErrorCodes)
	require.True(t, terr.NeedsReauth())
}

func TestRefreshErrorCodesOnlyBody(t *testing.T) {
	// Some rejections carry only the numeric codes, no error string.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error_codes": []int{70000}})
	})

	_, err := c.Refresh(context.Background(), "RT1")
	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, []int{70000}, terr.ErrorCodes)
	require.True(t, terr.NeedsReauth())
}

func TestTokenResponseWithoutAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})

	_, err := c.PollOnce(context.Background(), "D1")
	require.Error(t, err)
	var terr *TokenError
	require.False(t, errors.As(err, &terr))
	require.Contains(t, err.Error(), "no access token")
}

func TestNeedsReauth(t *testing.T) {
	tests := []struct {
		name   string
		err    TokenError
		reauth bool
	}{
		{"refresh token expired", TokenError{Code: "interaction_required", ErrorCodes: []int{70000}}, true},
		{"invalid scope grant", TokenError{Code: "interaction_required", ErrorCodes: []int{70011}}, true},
		{"consent revoked", TokenError{Code: "interaction_required", ErrorCodes: []int{65001}}, true},
		{"invalid_grant string code", TokenError{Code: "invalid_grant"}, true},
		{"server error", TokenError{Code: "server_error", ErrorCodes: []int{50000}}, false},
		{"no codes at all", TokenError{Code: "temporarily_unavailable"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.reauth, tt.err.NeedsReauth())
		})
	}
}

func TestTransportErrorIsNotTokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	c := NewWithEndpoints(nil, server.URL+"/devicecode", server.URL+"/token")

	_, err := c.PollOnce(context.Background(), "D1")
	require.Error(t, err)
	var terr *TokenError
	require.False(t, errors.As(err, &terr))
}
