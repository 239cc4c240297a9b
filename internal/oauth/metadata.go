package oauth

import (
	"sort"
	"strings"
)

// Metadata is the OAuth 2.0 Authorization Server Metadata document as defined
// in RFC 8414, served from /.well-known/oauth-authorization-server.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// DiscoveryDocument builds the static discovery metadata using the public
// base URL configured for this deployment.
func (s *Service) DiscoveryDocument(publicBaseURL string) Metadata {
	base := strings.TrimSuffix(publicBaseURL, "/")

	authMethods := make([]string, 0, 2)
	scopeSet := map[string]struct{}{}
	grantTypes := []string{"authorization_code", "refresh_token"}
	hasConfidential := false
	for _, client := range s.clients {
		if client.AuthMethod != AuthMethodNone {
			hasConfidential = true
		}
		for _, scope := range client.DefaultScopes {
			scopeSet[scope] = struct{}{}
		}
	}
	if hasConfidential {
		authMethods = append(authMethods, "client_secret_basic", "client_secret_post")
		grantTypes = append(grantTypes, "client_credentials")
	} else {
		authMethods = append(authMethods, "none")
	}

	scopes := make([]string, 0, len(scopeSet))
	for scope := range scopeSet {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	return Metadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               grantTypes,
		TokenEndpointAuthMethodsSupported: authMethods,
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}
