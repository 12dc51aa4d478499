// Package msauth authenticates a player against the Microsoft identity
// provider and the game services, turning a device-authorization sign-in
// into a durable, refreshable game credential.
//
// An MSAuth is constructed once per application session and drives both the
// device flow (StartDeviceAuth) and credential renewal (Refresh). Each
// attempt blocks its caller while it walks the token exchange sequentially,
// so run attempts on their own goroutines; cancelling the context tears the
// attempt down.
package msauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tidemc/msauth/account"
	"github.com/tidemc/msauth/microsoft"
	"github.com/tidemc/msauth/minecraft"
	"github.com/tidemc/msauth/xbox"
)

const (
	defaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
)

// ErrBadVerificationCode means the provider rejected the device code we
// polled with. The code came from the provider itself, so this is a defect,
// not a user outcome.
var ErrBadVerificationCode = errors.New("provider rejected the device code")

var log = logrus.WithField("module", "msauth")

// Callbacks is the collaborator surface the authenticator calls back into.
// Implementations belong to the embedding application.
type Callbacks interface {
	// ShowDeviceCode renders the user code and verification URI. It is
	// called exactly once per device-flow attempt, before polling starts,
	// and may attach a status sink to the flow data.
	ShowDeviceCode(*DeviceFlowData)

	// PromptReAuth is called when a refresh is permanently rejected and
	// the user has to redo device flow for the stale record.
	PromptReAuth(*account.Account)

	// Login applies a fresh or refreshed credential to the session.
	Login(*account.Account)

	// Save persists the account list after any successful mutation.
	Save()
}

// Options tunes an MSAuth. The zero value gives a 10s-timeout HTTP client,
// default endpoints, and no locale.
type Options struct {
	// HTTPClient is the shared transport for every request. Nil means a
	// client with a 10s timeout, so a stalled endpoint cannot wedge the
	// polling loop.
	HTTPClient *http.Client

	// Locale is forwarded with the device-code request so the provider
	// localizes the user message.
	Locale string

	// Service client overrides, used by tests and alternative clouds.
	Microsoft *microsoft.Client
	Xbox      *xbox.Client
	Minecraft *minecraft.Client
}

// MSAuth orchestrates device-flow sign-in, the token exchange chain, and
// credential refresh for one account list.
type MSAuth struct {
	oauth     *microsoft.Client
	xbox      *xbox.Client
	game      *minecraft.Client
	accounts  *account.List
	callbacks Callbacks
	locale    string
}

// New returns an authenticator over the given account list and callbacks.
func New(accounts *account.List, callbacks Callbacks, opts Options) *MSAuth {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	oauth := opts.Microsoft
	if oauth == nil {
		oauth = microsoft.New(httpClient)
	}
	xb := opts.Xbox
	if xb == nil {
		xb = xbox.New(httpClient)
	}
	game := opts.Minecraft
	if game == nil {
		game = minecraft.New(httpClient)
	}
	return &MSAuth{
		oauth:     oauth,
		xbox:      xb,
		game:      game,
		accounts:  accounts,
		callbacks: callbacks,
		locale:    opts.Locale,
	}
}

// StartDeviceAuth runs one full device-flow attempt: request a device code,
// hand it to the display collaborator, poll until the user finishes (or the
// code dies), then run the token exchange chain and store the credential.
//
// A declined or expired attempt returns (nil, nil): the flow ended in an
// expected way with no credential produced. Errors are reserved for
// transport failures, chain failures, and bad_verification_code.
func (a *MSAuth) StartDeviceAuth(ctx context.Context) (*account.Account, error) {
	dcr, err := a.oauth.RequestDeviceCode(ctx, a.locale)
	if err != nil {
		log.WithError(err).Debug("device code request failed")
		return nil, err
	}

	flow := newDeviceFlowData(dcr)
	a.callbacks.ShowDeviceCode(flow)

	return a.poll(ctx, flow)
}

// poll drives the token endpoint until a terminal outcome, pacing requests
// so two polls are never closer than the provider's interval.
func (a *MSAuth) poll(ctx context.Context, flow *DeviceFlowData) (*account.Account, error) {
	pollCtx, cancel := context.WithTimeout(ctx, flow.ExpiresIn)
	defer cancel()

	interval := flow.PollInterval
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				// Caller tore the attempt down.
				return nil, ctx.Err()
			}
			log.Debug("authorization session expired")
			flow.pushStatus(StatusFailed)
			return nil, nil
		}

		tok, err := a.oauth.PollOnce(pollCtx, flow.DeviceCode)
		if err != nil {
			var terr *microsoft.TokenError
			if !errors.As(err, &terr) {
				flow.pushStatus(StatusFailed)
				return nil, err
			}
			switch terr.Code {
			case microsoft.CodeAuthorizationPending:
				flow.pushStatus(StatusWaiting)
				continue
			case microsoft.CodeSlowDown:
				interval += slowDownStep
				limiter.SetLimit(rate.Every(interval))
				continue
			case microsoft.CodeBadVerificationCode:
				flow.pushStatus(StatusFailed)
				return nil, fmt.Errorf("%w: %s", ErrBadVerificationCode, terr.Description)
			case microsoft.CodeAuthorizationDeclined, microsoft.CodeExpiredToken:
				log.WithField("code", terr.Code).Debug("device flow ended without authorization")
				flow.pushStatus(StatusFailed)
				return nil, nil
			default:
				flow.pushStatus(StatusFailed)
				return nil, fmt.Errorf("unexpected token response: %w", err)
			}
		}

		// The device grant must yield both halves of the credential;
		// a body with neither error nor refresh token is malformed.
		if tok.RefreshToken == "" {
			flow.pushStatus(StatusFailed)
			return nil, errors.New("unexpected token response: no refresh token granted")
		}

		flow.pushStatus(StatusWorking)

		// The chain runs under the caller's context: the device code's
		// lifetime only bounds polling, not the exchange it produced.
		acct, err := a.runChain(ctx, tok.AccessToken, tok.RefreshToken)
		if err != nil {
			flow.pushStatus(chainFailureStatus(err))
			return nil, err
		}

		a.accounts.Upsert(acct)
		a.callbacks.Login(acct)
		a.callbacks.Save()
		flow.pushStatus(StatusFinished)
		return acct, nil
	}
}

// Refresh renews an account's credential from its refresh token and mutates
// the record in place. A permanently rejected grant invokes the re-auth
// collaborator and returns (nil, nil); the record is left untouched on any
// failure.
func (a *MSAuth) Refresh(ctx context.Context, acct *account.Account) (*account.Account, error) {
	tok, err := a.oauth.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		var terr *microsoft.TokenError
		if errors.As(err, &terr) {
			if terr.NeedsReauth() {
				log.WithField("account", acct.Identifier).Info("refresh token rejected, re-authentication required")
				a.callbacks.PromptReAuth(acct)
				return nil, nil
			}
			return nil, fmt.Errorf("unexpected token response: %w", err)
		}
		return nil, err
	}

	// The provider may skip rotating the refresh token; the old one
	// stays valid in that case.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = acct.RefreshToken
	}

	fresh, err := a.runChain(ctx, tok.AccessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	acct.DisplayName = fresh.DisplayName
	acct.AccessToken = fresh.AccessToken
	acct.RefreshToken = fresh.RefreshToken
	acct.ProviderToken = fresh.ProviderToken
	if fresh.ExpiresAt.After(acct.ExpiresAt) {
		acct.ExpiresAt = fresh.ExpiresAt
	}
	a.callbacks.Login(acct)
	a.callbacks.Save()
	return acct, nil
}

func chainFailureStatus(err error) string {
	switch {
	case errors.Is(err, minecraft.ErrNoProfile):
		return StatusNoProfile
	case errors.Is(err, ErrNoEntitlement):
		return StatusNoPurchase
	default:
		return StatusFailed
	}
}
