package config

import "time"

// Config is the top-level configuration structure for toolgate.
// Everything is read once at startup; there is no hot reload.
type Config struct {
	// Host and Port are the listen address of the gateway.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// PublicURL is the absolute base URL used in discovery metadata.
	// Defaults to http://<host>:<port>.
	PublicURL string `yaml:"publicURL,omitempty"`

	// APIKey enables static-key access to the protocol endpoint when set.
	APIKey string `yaml:"apiKey,omitempty"`

	// Production switches the Origin allowlist from loopback-only to
	// loopback plus AllowedOrigins.
	Production bool `yaml:"production,omitempty"`

	// AllowedOrigins are the public domains honored in production mode.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`

	Debug bool `yaml:"debug,omitempty"`

	OAuth  OAuthConfig  `yaml:"oauth"`
	Limits LimitsConfig `yaml:"limits"`
	Stores StoresConfig `yaml:"stores"`
}

// OAuthConfig describes the single registered OAuth client and token policy.
type OAuthConfig struct {
	ClientID string `yaml:"clientID,omitempty"`

	// ClientSecret is the plaintext secret or a bcrypt hash of it. Empty
	// for public clients.
	ClientSecret string `yaml:"clientSecret,omitempty"`

	// AuthMethod is one of none, client_secret_post, client_secret_basic.
	AuthMethod string `yaml:"authMethod,omitempty"`

	// RedirectURIs is the exact-match allowlist.
	RedirectURIs []string `yaml:"redirectURIs,omitempty"`

	// DefaultScopes are granted when a request carries no scope.
	DefaultScopes []string `yaml:"defaultScopes,omitempty"`

	RequirePKCE    bool          `yaml:"requirePKCE,omitempty"`
	AccessTokenTTL time.Duration `yaml:"accessTokenTTL,omitempty"`
}

// LimitsConfig bounds request-body ingestion and push streams.
type LimitsConfig struct {
	BodyMaxBytes    int64         `yaml:"bodyMaxBytes,omitempty"`
	BodyReadTimeout time.Duration `yaml:"bodyReadTimeout,omitempty"`

	// StreamCloseDelay forces server-side stream closes when positive,
	// exercising client reconnect-and-replay. Zero disables it.
	StreamCloseDelay time.Duration `yaml:"streamCloseDelay,omitempty"`

	// RateLimitPerMinute caps OAuth endpoint hits per remote address.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute,omitempty"`
}

// StoresConfig bounds the in-memory credential and event stores.
type StoresConfig struct {
	MaxCodes    int           `yaml:"maxCodes,omitempty"`
	MaxSessions int           `yaml:"maxSessions,omitempty"`
	MaxEvents   int           `yaml:"maxEvents,omitempty"`
	EventTTL    time.Duration `yaml:"eventTTL,omitempty"`
}

// GetDefaultConfig returns the configuration used when no file or
// environment overrides are present. It describes a development setup with
// a public demo client and PKCE required.
func GetDefaultConfig() Config {
	return Config{
		Host: "localhost",
		Port: 8090,
		OAuth: OAuthConfig{
			ClientID:       "toolgate",
			AuthMethod:     "none",
			DefaultScopes:  []string{"tools"},
			RequirePKCE:    true,
			AccessTokenTTL: time.Hour,
		},
		Limits: LimitsConfig{
			BodyMaxBytes:       4 << 20,
			BodyReadTimeout:    30 * time.Second,
			RateLimitPerMinute: 30,
		},
		Stores: StoresConfig{
			MaxCodes:    1000,
			MaxSessions: 10000,
			MaxEvents:   10000,
			EventTTL:    5 * time.Minute,
		},
	}
}
