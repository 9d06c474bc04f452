// Package server implements the token lifecycle engine.
//
// A Server ties the provider registry, the token exchanger and the token and
// flow stores together:
//
//   - GetAuthorizationURL builds the provider redirect with state and PKCE
//   - CompleteFlow consumes the state exactly once and exchanges the code
//   - GetValidToken returns a usable token, refreshing it shortly before expiry
//   - Revoke revokes at the provider when possible and always forgets locally
//   - State, IsAuthenticated and Status report per-service health
//
// Each service moves between four states:
//
//	UNAUTHENTICATED --CompleteFlow--> AUTHENTICATED --margin--> EXPIRING
//	AUTHENTICATED --expiry, no refresh token--> UNAUTHENTICATED
//	EXPIRING --refresh ok--> AUTHENTICATED
//	EXPIRING --refresh failed--> UNAUTHENTICATED
//	any --Revoke--> REVOKED --CompleteFlow--> AUTHENTICATED
//
// Refreshes are single-flight per service: concurrent callers share one
// network round-trip, and the refresh runs on a context detached from the
// caller so an impatient caller cannot abort it for everyone else.
//
// Example usage:
//
//	registry, _ := providers.NewRegistry(providers.Slack(id, secret, redirectBase))
//	store := memory.New()
//	exchanger := providers.NewOAuth2Exchanger(providers.ExchangerConfig{})
//
//	srv, err := server.New(registry, exchanger, store, store, &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	authURL, _, err := srv.GetAuthorizationURL(ctx, "slack")
package server
