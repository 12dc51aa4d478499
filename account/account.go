// Package account holds the credential records produced by a completed
// Microsoft authentication and the guarded list they live in.
package account

import "time"

const (
	// OfflineToken is the sentinel access token of an account that was
	// created without a network session.
	OfflineToken = "offline"

	// minTokenLength is the shortest access token we consider real.
	// Game tokens are several-hundred-byte JWTs; anything shorter is a
	// placeholder. Heuristic, not a guarantee.
	minTokenLength = 32

	// refreshWindow is how long before expiry a token counts as stale.
	refreshWindow = 2 * time.Hour
)

// Account is one authenticated identity: the game session token plus the
// refresh material needed to mint the next one.
type Account struct {
	Identifier    string    `json:"identifier"`
	DisplayName   string    `json:"displayName"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	ProviderToken string    `json:"providerToken,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// IsExpired reports whether the access token is past its expiry instant.
func (a *Account) IsExpired() bool {
	return !time.Now().Before(a.ExpiresAt)
}

// NeedsRefresh reports whether the token is inside the proactive refresh
// window, i.e. it should be renewed even though it may still be valid.
func (a *Account) NeedsRefresh() bool {
	return !time.Now().Before(a.ExpiresAt.Add(-refreshWindow))
}

// IsOffline reports whether this record holds no usable network credential.
func (a *Account) IsOffline() bool {
	return a.AccessToken == OfflineToken || len(a.AccessToken) < minTokenLength
}
