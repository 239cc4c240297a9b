package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"toolgate/pkg/logging"
)

const (
	// codeTTL is the lifetime of an authorization code.
	codeTTL = 10 * time.Minute

	// defaultAccessTokenTTL applies when the config leaves the lifetime unset.
	defaultAccessTokenTTL = time.Hour

	// maxTokenBodyBytes bounds token-endpoint request bodies. Token requests
	// are tiny; anything larger is hostile.
	maxTokenBodyBytes = 64 * 1024
)

// dummySecretHash is a bcrypt hash of a random string, compared against when
// a client is unknown so response time does not reveal client existence.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ServiceConfig configures the authorization server.
type ServiceConfig struct {
	Clients []ClientRegistration

	// RequirePKCE makes code_challenge mandatory on every authorization
	// request. Codes issued with a challenge always require a verifier at
	// redemption regardless of this flag.
	RequirePKCE bool

	AccessTokenTTL time.Duration
}

// Service implements the authorization and token endpoints plus bearer-token
// validation. It owns no credential state itself; everything lives in the
// CredentialStore handed in at construction so tests can use isolated stores.
type Service struct {
	store       *CredentialStore
	clients     map[string]*ClientRegistration
	requirePKCE bool
	tokenTTL    time.Duration
}

// NewService creates the authorization server around an existing store.
func NewService(store *CredentialStore, cfg ServiceConfig) *Service {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}

	clients := make(map[string]*ClientRegistration, len(cfg.Clients))
	for i := range cfg.Clients {
		c := cfg.Clients[i]
		if c.AuthMethod == "" {
			c.AuthMethod = AuthMethodNone
		}
		clients[c.ClientID] = &c
	}

	return &Service{
		store:       store,
		clients:     clients,
		requirePKCE: cfg.RequirePKCE,
		tokenTTL:    ttl,
	}
}

// ---------------------------------------------------------------------------
// Authorization endpoint
// ---------------------------------------------------------------------------

// HandleAuthorize serves the authorization endpoint. Failures redirect to the
// validated redirect_uri with error parameters, per the OAuth error-redirect
// convention; only a missing or unregistered redirect_uri gets a direct error
// response, because no safe redirect target exists.
func (s *Service) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	client, ok := s.clients[req.ClientID]
	if req.ClientID == "" || !ok {
		NewError(ErrInvalidClient, "unknown client_id").WriteHTTP(w)
		return
	}
	if req.RedirectURI == "" || !client.AllowsRedirectURI(req.RedirectURI) {
		// Redirecting here would hand the code flow to an attacker's URI.
		NewError(ErrInvalidRequest, "redirect_uri is missing or not registered").WriteHTTP(w)
		return
	}

	if oerr := s.validateAuthorize(&req); oerr != nil {
		redirectError(w, r, req.RedirectURI, req.State, oerr)
		return
	}

	code, err := GenerateToken()
	if err != nil {
		logging.Error("OAuth", err, "Failed to generate authorization code")
		redirectError(w, r, req.RedirectURI, req.State, NewError(ErrServerError, ""))
		return
	}

	scopes := splitScopes(req.Scope)
	if len(scopes) == 0 {
		scopes = client.DefaultScopes
	}

	now := time.Now()
	s.store.PutCode(&AuthorizationCode{
		Code:          code,
		ClientID:      client.ClientID,
		RedirectURI:   req.RedirectURI,
		Scopes:        scopes,
		CodeChallenge: req.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(codeTTL),
	})

	target, _ := url.Parse(req.RedirectURI)
	values := target.Query()
	values.Set("code", code)
	if req.State != "" {
		values.Set("state", req.State)
	}
	target.RawQuery = values.Encode()

	logging.Info("OAuth", "Issued authorization code for client %s", client.ClientID)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// validateAuthorize checks the request in the order mandated for the
// authorization endpoint. The caller has already validated client and
// redirect URI.
func (s *Service) validateAuthorize(req *AuthorizeRequest) *Error {
	if req.ResponseType != "code" {
		return NewError(ErrInvalidRequest, "response_type must be \"code\"")
	}
	if s.requirePKCE {
		if req.CodeChallenge == "" {
			return NewError(ErrInvalidRequest, "code_challenge is required")
		}
		if req.CodeChallengeMethod != "S256" {
			return NewError(ErrInvalidRequest, "code_challenge_method must be S256")
		}
	} else if req.CodeChallenge != "" && req.CodeChallengeMethod != "" && req.CodeChallengeMethod != "S256" {
		return NewError(ErrInvalidRequest, "code_challenge_method must be S256")
	}
	return nil
}

// redirectError sends the error back through the (already validated)
// redirect URI.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oerr *Error) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		oerr.WriteHTTP(w)
		return
	}

	values := target.Query()
	values.Set("error", string(oerr.Kind))
	if oerr.Description != "" && oerr.Kind != ErrServerError {
		values.Set("error_description", oerr.Description)
	}
	if state != "" {
		values.Set("state", state)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ---------------------------------------------------------------------------
// Token endpoint
// ---------------------------------------------------------------------------

// HandleToken serves the token endpoint for all supported grants.
func (s *Service) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		NewError(ErrInvalidRequest, "token endpoint requires POST").WriteHTTP(w)
		return
	}

	req, oerr := ParseTokenRequest(r)
	if oerr != nil {
		oerr.WriteHTTP(w)
		return
	}

	resp, oerr := s.token(req)
	if oerr != nil {
		logging.Debug("OAuth", "Token request failed for client %s: %v", req.ClientID, oerr)
		oerr.WriteHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error("OAuth", err, "Failed to write token response")
	}
}

// ParseTokenRequest normalizes the token-endpoint input. JSON and form
// bodies are accepted; Basic-auth client credentials are merged in. If both
// the body and the Basic header carry a client identity they must agree.
func ParseTokenRequest(r *http.Request) (*TokenRequest, *Error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxTokenBodyBytes)

	req := &TokenRequest{}
	contentType := r.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, NewError(ErrInvalidRequest, "malformed JSON body")
		}
	default:
		// Form-encoded is the RFC 6749 default; tolerate a missing
		// Content-Type the same way.
		if err := r.ParseForm(); err != nil {
			return nil, NewError(ErrInvalidRequest, "malformed form body")
		}
		req.GrantType = r.PostForm.Get("grant_type")
		req.Code = r.PostForm.Get("code")
		req.RedirectURI = r.PostForm.Get("redirect_uri")
		req.CodeVerifier = r.PostForm.Get("code_verifier")
		req.RefreshToken = r.PostForm.Get("refresh_token")
		req.Scope = r.PostForm.Get("scope")
		req.ClientID = r.PostForm.Get("client_id")
		req.ClientSecret = r.PostForm.Get("client_secret")
	}

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		if req.ClientID != "" && req.ClientID != basicID {
			return nil, NewError(ErrInvalidClient, "client_id mismatch between body and Authorization header")
		}
		if req.ClientSecret != "" && req.ClientSecret != basicSecret {
			return nil, NewError(ErrInvalidClient, "client_secret mismatch between body and Authorization header")
		}
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	if req.GrantType == "" {
		return nil, NewError(ErrInvalidRequest, "grant_type is required")
	}
	return req, nil
}

// token dispatches on grant type after authenticating the client.
func (s *Service) token(req *TokenRequest) (*TokenResponse, *Error) {
	client, oerr := s.authenticateClient(req)
	if oerr != nil {
		return nil, oerr
	}

	switch req.GrantType {
	case "authorization_code":
		return s.grantAuthorizationCode(client, req)
	case "refresh_token":
		return s.grantRefreshToken(client, req)
	case "client_credentials":
		return s.grantClientCredentials(client, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}
}

// authenticateClient applies the registered token-endpoint auth method.
// Secret comparison is constant-time; comparing SHA-256 digests keeps the
// comparison length-independent so a wrong-length guess costs the same as a
// right-length one. Bcrypt-hashed registered secrets ("$2" prefix) take the
// bcrypt path instead.
func (s *Service) authenticateClient(req *TokenRequest) (*ClientRegistration, *Error) {
	client, ok := s.clients[req.ClientID]
	if req.ClientID == "" || !ok {
		// Equalize timing for unknown clients before failing.
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(req.ClientSecret))
		return nil, NewError(ErrInvalidClient, "unknown client")
	}

	if client.AuthMethod == AuthMethodNone {
		return client, nil
	}

	if req.ClientSecret == "" {
		return nil, NewError(ErrInvalidClient, "client authentication required")
	}

	if strings.HasPrefix(client.ClientSecret, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(client.ClientSecret), []byte(req.ClientSecret)) != nil {
			return nil, NewError(ErrInvalidClient, "invalid client credentials")
		}
		return client, nil
	}

	want := sha256.Sum256([]byte(client.ClientSecret))
	got := sha256.Sum256([]byte(req.ClientSecret))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	return client, nil
}

func (s *Service) grantAuthorizationCode(client *ClientRegistration, req *TokenRequest) (*TokenResponse, *Error) {
	if req.Code == "" {
		return nil, NewError(ErrInvalidRequest, "code is required")
	}

	ac := s.store.RedeemCode(req.Code)
	if ac == nil {
		return nil, NewError(ErrInvalidGrant, "authorization code is invalid or expired")
	}
	if ac.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "authorization code was issued to another client")
	}
	if req.RedirectURI != "" && req.RedirectURI != ac.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if s.requirePKCE || ac.CodeChallenge != "" {
		if !VerifyS256(ac.CodeChallenge, req.CodeVerifier) {
			return nil, NewError(ErrInvalidGrant, "PKCE verification failed")
		}
	}

	session, oerr := s.issueSession(client.ClientID, ac.Scopes, true)
	if oerr != nil {
		return nil, oerr
	}
	logging.Info("OAuth", "Exchanged authorization code for tokens (client %s)", client.ClientID)
	return s.response(session), nil
}

func (s *Service) grantRefreshToken(client *ClientRegistration, req *TokenRequest) (*TokenResponse, *Error) {
	if req.RefreshToken == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token is required")
	}

	current := s.store.GetSessionByRefreshToken(req.RefreshToken)
	if current == nil {
		return nil, NewError(ErrInvalidGrant, "refresh token is invalid")
	}
	if current.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "refresh token belongs to another client")
	}

	accessToken, err := GenerateToken()
	if err != nil {
		logging.Error("OAuth", err, "Failed to generate access token")
		return nil, NewError(ErrServerError, "")
	}

	// The refresh token itself is not rotated; it moves to the successor
	// session unchanged. The superseded access token stays valid until its
	// own expiry (refresh does not force-revoke).
	next := s.store.RotateSession(req.RefreshToken, accessToken, time.Now().Add(s.tokenTTL))
	if next == nil {
		return nil, NewError(ErrInvalidGrant, "refresh token is invalid")
	}

	logging.Info("OAuth", "Refreshed access token for client %s", client.ClientID)
	return s.response(next), nil
}

func (s *Service) grantClientCredentials(client *ClientRegistration, req *TokenRequest) (*TokenResponse, *Error) {
	if client.AuthMethod == AuthMethodNone {
		// A public client cannot hold credentials worth granting.
		return nil, NewError(ErrUnauthorizedClient, "client_credentials requires a confidential client")
	}

	scopes := splitScopes(req.Scope)
	if len(scopes) == 0 {
		scopes = client.DefaultScopes
	}

	session, oerr := s.issueSession(client.ClientID, scopes, false)
	if oerr != nil {
		return nil, oerr
	}
	logging.Info("OAuth", "Issued client_credentials token for client %s", client.ClientID)
	return s.response(session), nil
}

// issueSession creates and stores a fresh session.
func (s *Service) issueSession(clientID string, scopes []string, withRefresh bool) (*Session, *Error) {
	accessToken, err := GenerateToken()
	if err != nil {
		logging.Error("OAuth", err, "Failed to generate access token")
		return nil, NewError(ErrServerError, "")
	}

	refreshToken := ""
	if withRefresh {
		refreshToken, err = GenerateToken()
		if err != nil {
			logging.Error("OAuth", err, "Failed to generate refresh token")
			return nil, NewError(ErrServerError, "")
		}
	}

	now := time.Now()
	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ClientID:     clientID,
		Scopes:       scopes,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.tokenTTL),
	}
	s.store.PutSession(session)
	return session, nil
}

func (s *Service) response(session *Session) *TokenResponse {
	return &TokenResponse{
		AccessToken:  session.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokenTTL / time.Second),
		RefreshToken: session.RefreshToken,
		Scope:        session.Scope(),
	}
}

// ---------------------------------------------------------------------------
// Bearer validation
// ---------------------------------------------------------------------------

// ValidateBearer extracts and validates a bearer token from the request.
// Returns the session, or nil when the request carries no valid token.
func (s *Service) ValidateBearer(r *http.Request) *Session {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil
	}
	return s.store.GetSession(strings.TrimSpace(header[len(prefix):]))
}
