package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/tidemc/msauth"
	"github.com/tidemc/msauth/account"
)

type consoleCallbacks struct {
	storePath string
	accounts  *account.List
}

func (c *consoleCallbacks) ShowDeviceCode(flow *msauth.DeviceFlowData) {
	if flow.UserMessage != "" {
		fmt.Println(flow.UserMessage)
	} else {
		fmt.Printf("Follow the link %s and enter your user code: %s\n", flow.VerificationURI, flow.UserCode)
	}
	flow.SetStatusSink(func(key string) {
		logrus.WithField("status", key).Debug("status update")
	})
}

func (c *consoleCallbacks) PromptReAuth(acct *account.Account) {
	fmt.Printf("Account %s needs to sign in again; rerun without -refresh.\n", acct.DisplayName)
}

func (c *consoleCallbacks) Login(acct *account.Account) {
	fmt.Printf("Signed in as %s (token valid until %s)\n", acct.DisplayName, acct.ExpiresAt.Local())
}

func (c *consoleCallbacks) Save() {
	if err := account.Save(c.storePath, c.accounts); err != nil {
		logrus.WithError(err).Error("error saving account store")
	}
}

func main() {
	var debug bool
	var refresh bool
	var locale string
	var storePath string

	flag.BoolVar(&debug, "d", false, "debug mode")
	flag.BoolVar(&refresh, "refresh", false, "refresh stored accounts instead of signing in")
	flag.StringVar(&locale, "locale", "", "locale for the sign-in message, e.g. en-US")
	flag.StringVar(&storePath, "store", defaultStorePath(), "path to the account store")
	flag.Parse()

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	accounts, err := account.Load(storePath)
	if err != nil {
		logrus.WithError(err).Fatal("error loading account store")
	}

	cb := &consoleCallbacks{storePath: storePath, accounts: accounts}
	auth := msauth.New(accounts, cb, msauth.Options{Locale: locale})
	ctx := context.Background()

	if refresh {
		for _, acct := range accounts.All() {
			if acct.IsOffline() {
				continue
			}
			if !acct.NeedsRefresh() {
				fmt.Printf("%s: still fresh\n", acct.DisplayName)
				continue
			}
			if _, err := auth.Refresh(ctx, acct); err != nil {
				logrus.WithError(err).WithField("account", acct.Identifier).Error("error refreshing account")
			}
		}
		return
	}

	if _, err := auth.StartDeviceAuth(ctx); err != nil {
		logrus.WithError(err).Fatal("error authenticating")
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "accounts.json"
	}
	return filepath.Join(home, ".msauth", "accounts.json")
}
