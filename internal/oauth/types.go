package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ClientAuthMethod describes how a client authenticates at the token endpoint.
type ClientAuthMethod string

const (
	// AuthMethodNone is used by public clients; no secret is required.
	AuthMethodNone ClientAuthMethod = "none"
	// AuthMethodClientSecretPost sends the secret in the request body.
	AuthMethodClientSecretPost ClientAuthMethod = "client_secret_post"
	// AuthMethodClientSecretBasic sends the secret via HTTP Basic auth.
	AuthMethodClientSecretBasic ClientAuthMethod = "client_secret_basic"
)

// ClientRegistration is the static description of an allowed OAuth client.
// Registrations are supplied once at startup and never mutated.
type ClientRegistration struct {
	ClientID string

	// ClientSecret is either the plaintext secret or a bcrypt hash of it
	// (recognized by the "$2" prefix). Empty for public clients.
	ClientSecret string

	// RedirectURIs is the exact-match allowlist for redirect_uri values.
	// No prefix or wildcard matching is performed.
	RedirectURIs []string

	AuthMethod ClientAuthMethod

	// DefaultScopes are granted when a request carries no scope parameter.
	DefaultScopes []string
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI.
func (c *ClientRegistration) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use, short-lived grant created by the
// authorization endpoint and redeemed at the token endpoint.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scopes      []string

	// CodeChallenge is the S256 PKCE challenge, empty when the client did
	// not request PKCE (only possible when PKCE is not mandatory).
	CodeChallenge string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code may no longer be redeemed.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Session is an issued bearer-token grant. The access token is the primary
// lookup key; the refresh token, when present, allows obtaining a successor
// access token.
type Session struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	Scopes       []string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the access token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Scope returns the session's scopes as a space-separated string.
func (s *Session) Scope() string {
	return strings.Join(s.Scopes, " ")
}

// ToOAuth2Token converts the session to an oauth2.Token for interop with
// golang.org/x/oauth2 clients.
func (s *Session) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// AuthorizeRequest is the parsed query of the authorization endpoint.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest is the normalized token-endpoint request. The HTTP layer
// accepts JSON bodies, form bodies, and Basic-auth client credentials;
// normalization happens exactly once (see ParseTokenRequest) and the grant
// dispatch never re-inspects transport framing.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// TokenResponse is the success body of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// splitScopes splits a space-separated scope string into individual scopes.
func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
