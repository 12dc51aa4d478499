package msauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidemc/msauth/account"
	"github.com/tidemc/msauth/minecraft"
)

// ErrNoEntitlement means the account authenticated and has a profile but
// owns no game entitlement.
var ErrNoEntitlement = errors.New("account does not own the game")

// ErrNoProfile re-exports the game client's no-profile outcome so callers
// can branch on it without importing the sub-package.
var ErrNoProfile = minecraft.ErrNoProfile

// runChain walks the five-stage token exchange: provider token → XBL token
// → XSTS token → game token → profile + entitlement. The stages are
// strictly sequential; any failure aborts the chain and no credential is
// produced. providerToken and refreshToken are the Microsoft tokens the
// chain was entered with and are retained on the resulting record.
func (a *MSAuth) runChain(ctx context.Context, providerToken, refreshToken string) (*account.Account, error) {
	xbl, err := a.xbox.UserToken(ctx, providerToken)
	if err != nil {
		return nil, fmt.Errorf("xbox live authentication: %w", err)
	}

	xsts, err := a.xbox.ServiceToken(ctx, xbl.Token)
	if err != nil {
		return nil, fmt.Errorf("xsts authorization: %w", err)
	}
	if xsts.UserHash != xbl.UserHash {
		return nil, errors.New("user hash changed between xbox hops")
	}

	login, err := a.game.LoginWithXbox(ctx, xsts.UserHash, xsts.Token)
	if err != nil {
		return nil, fmt.Errorf("game login: %w", err)
	}
	expiresAt := login.Expiry(time.Now())

	profile, err := a.game.Profile(ctx, login.AccessToken)
	if err != nil {
		if errors.Is(err, minecraft.ErrNoProfile) {
			return nil, err
		}
		return nil, fmt.Errorf("profile fetch: %w", err)
	}

	owns, err := a.game.OwnsGame(ctx, login.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("entitlement check: %w", err)
	}
	if !owns {
		return nil, ErrNoEntitlement
	}

	return &account.Account{
		Identifier:    profile.ID,
		DisplayName:   profile.Name,
		AccessToken:   login.AccessToken,
		RefreshToken:  refreshToken,
		ProviderToken: providerToken,
		ExpiresAt:     expiresAt,
	}, nil
}
