package providers

import (
	"fmt"
	"strings"
)

// Built-in service identifiers
const (
	ServiceSalesforce = "salesforce"
	ServiceShopify    = "shopify"
	ServiceHubSpot    = "hubspot"
	ServiceSlack      = "slack"
	ServiceCalendly   = "calendly"
	ServiceZendesk    = "zendesk"
)

// RedirectURLFor returns the per-service callback URL: base + "/" + service.
func RedirectURLFor(base, service string) string {
	return strings.TrimRight(base, "/") + "/" + service
}

// Salesforce returns the Salesforce config. Sandbox orgs authenticate
// against test.salesforce.com.
func Salesforce(clientID, clientSecret, redirectBase string, sandbox bool) Config {
	host := "https://login.salesforce.com"
	if sandbox {
		host = "https://test.salesforce.com"
	}
	return Config{
		Name:         ServiceSalesforce,
		AuthURL:      host + "/services/oauth2/authorize",
		TokenURL:     host + "/services/oauth2/token",
		RevokeURL:    host + "/services/oauth2/revoke",
		Scopes:       []string{"api", "refresh_token", "offline_access"},
		PKCERequired: true,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  RedirectURLFor(redirectBase, ServiceSalesforce),
	}
}

// Shopify returns the config for a single shop. Shopify expects
// comma-separated scopes and has no standard revocation endpoint.
func Shopify(clientID, clientSecret, redirectBase, shopDomain string) Config {
	shop := strings.TrimSuffix(strings.TrimPrefix(shopDomain, "https://"), "/")
	return Config{
		Name:     ServiceShopify,
		AuthURL:  fmt.Sprintf("https://%s/admin/oauth/authorize", shop),
		TokenURL: fmt.Sprintf("https://%s/admin/oauth/access_token", shop),
		Scopes: []string{
			"read_orders", "write_orders",
			"read_products", "write_products",
			"read_customers", "write_customers",
		},
		ScopeSeparator: ",",
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		RedirectURL:    RedirectURLFor(redirectBase, ServiceShopify),
	}
}

// HubSpot returns the HubSpot config
func HubSpot(clientID, clientSecret, redirectBase string) Config {
	return Config{
		Name:         ServiceHubSpot,
		AuthURL:      "https://app.hubspot.com/oauth/authorize",
		TokenURL:     "https://api.hubapi.com/oauth/v1/token",
		Scopes:       []string{"crm.objects.contacts.read", "crm.objects.contacts.write", "oauth"},
		PKCERequired: true,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  RedirectURLFor(redirectBase, ServiceHubSpot),
	}
}

// Slack returns the Slack (OAuth v2) config
func Slack(clientID, clientSecret, redirectBase string) Config {
	return Config{
		Name:           ServiceSlack,
		AuthURL:        "https://slack.com/oauth/v2/authorize",
		TokenURL:       "https://slack.com/api/oauth.v2.access",
		RevokeURL:      "https://slack.com/api/auth.revoke",
		Scopes:         []string{"chat:write", "channels:read", "files:write"},
		ScopeSeparator: ",",
		PKCERequired:   true,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		RedirectURL:    RedirectURLFor(redirectBase, ServiceSlack),
	}
}

// Calendly returns the Calendly config. Calendly rotates refresh tokens.
func Calendly(clientID, clientSecret, redirectBase string) Config {
	return Config{
		Name:                ServiceCalendly,
		AuthURL:             "https://auth.calendly.com/oauth/authorize",
		TokenURL:            "https://auth.calendly.com/oauth/token",
		RevokeURL:           "https://auth.calendly.com/oauth/revoke",
		Scopes:              []string{"default"},
		PKCERequired:        true,
		RotatesRefreshToken: true,
		ClientID:            clientID,
		ClientSecret:        clientSecret,
		RedirectURL:         RedirectURLFor(redirectBase, ServiceCalendly),
	}
}

// Zendesk returns the config for a Zendesk subdomain
func Zendesk(clientID, clientSecret, redirectBase, subdomain string) Config {
	return Config{
		Name:         ServiceZendesk,
		AuthURL:      fmt.Sprintf("https://%s.zendesk.com/oauth/authorizations/new", subdomain),
		TokenURL:     fmt.Sprintf("https://%s.zendesk.com/oauth/tokens", subdomain),
		Scopes:       []string{"read", "write"},
		PKCERequired: true,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  RedirectURLFor(redirectBase, ServiceZendesk),
	}
}
