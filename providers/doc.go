// Package providers holds the static catalog of OAuth2 services this engine can
// authenticate against, and the Exchanger that talks to their token endpoints.
//
// Each service is described by a Config. Provider quirks are expressed as
// capability flags (PKCERequired, RotatesRefreshToken, ScopeSeparator,
// RevokeURL) rather than per-provider code paths, so the server treats every
// provider the same way.
//
// A Registry is built once at startup and never mutated afterwards:
//
//	reg, err := providers.NewRegistry(
//	    providers.Salesforce(id, secret, redirectBase, false),
//	    providers.Slack(id, secret, redirectBase),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := reg.Get("slack")
//
// Token endpoint traffic goes through OAuth2Exchanger, built on
// golang.org/x/oauth2. Provider rejections are returned as *TokenExchangeError,
// which carries the provider's error payload and matches ErrTokenExchangeFailed
// with errors.Is.
package providers
