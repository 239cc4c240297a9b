package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"toolgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/toolgate"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig resolves the effective configuration: built-in defaults, then
// config.yaml from the specified directory if present, then TOOLGATE_*
// environment variables, which win over everything. The result is validated
// before being returned.
func LoadConfig(configPath string) (Config, error) {
	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	applyEnvOverrides(&config)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// applyEnvOverrides maps TOOLGATE_* environment variables onto the config.
// Unparseable numeric or duration values are logged and ignored rather than
// failing startup.
func applyEnvOverrides(c *Config) {
	setString := func(key string, target *string) {
		if v, ok := os.LookupEnv(key); ok {
			*target = v
		}
	}
	setBool := func(key string, target *bool) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				logging.Warn("ConfigLoader", "Ignoring %s=%q: %v", key, v, err)
				return
			}
			*target = parsed
		}
	}
	setInt := func(key string, target *int) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				logging.Warn("ConfigLoader", "Ignoring %s=%q: %v", key, v, err)
				return
			}
			*target = parsed
		}
	}
	setInt64 := func(key string, target *int64) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				logging.Warn("ConfigLoader", "Ignoring %s=%q: %v", key, v, err)
				return
			}
			*target = parsed
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				logging.Warn("ConfigLoader", "Ignoring %s=%q: %v", key, v, err)
				return
			}
			*target = parsed
		}
	}
	setList := func(key string, target *[]string) {
		if v, ok := os.LookupEnv(key); ok {
			var items []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*target = items
		}
	}

	setString("TOOLGATE_HOST", &c.Host)
	setInt("TOOLGATE_PORT", &c.Port)
	setString("TOOLGATE_PUBLIC_URL", &c.PublicURL)
	setString("TOOLGATE_API_KEY", &c.APIKey)
	setBool("TOOLGATE_PRODUCTION", &c.Production)
	setBool("TOOLGATE_DEBUG", &c.Debug)
	setList("TOOLGATE_ALLOWED_ORIGINS", &c.AllowedOrigins)

	setString("TOOLGATE_OAUTH_CLIENT_ID", &c.OAuth.ClientID)
	setString("TOOLGATE_OAUTH_CLIENT_SECRET", &c.OAuth.ClientSecret)
	setString("TOOLGATE_OAUTH_AUTH_METHOD", &c.OAuth.AuthMethod)
	setList("TOOLGATE_OAUTH_REDIRECT_URIS", &c.OAuth.RedirectURIs)
	setList("TOOLGATE_OAUTH_SCOPES", &c.OAuth.DefaultScopes)
	setBool("TOOLGATE_REQUIRE_PKCE", &c.OAuth.RequirePKCE)
	setDuration("TOOLGATE_ACCESS_TOKEN_TTL", &c.OAuth.AccessTokenTTL)

	setInt64("TOOLGATE_BODY_MAX_BYTES", &c.Limits.BodyMaxBytes)
	setDuration("TOOLGATE_BODY_READ_TIMEOUT", &c.Limits.BodyReadTimeout)
	setDuration("TOOLGATE_STREAM_CLOSE_DELAY", &c.Limits.StreamCloseDelay)
	setInt("TOOLGATE_RATE_LIMIT_PER_MINUTE", &c.Limits.RateLimitPerMinute)

	setInt("TOOLGATE_MAX_CODES", &c.Stores.MaxCodes)
	setInt("TOOLGATE_MAX_SESSIONS", &c.Stores.MaxSessions)
	setInt("TOOLGATE_MAX_EVENTS", &c.Stores.MaxEvents)
	setDuration("TOOLGATE_EVENT_TTL", &c.Stores.EventTTL)
}

// Validate rejects configurations that cannot serve requests correctly.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.OAuth.ClientID == "" {
		return errors.New("oauth.clientID must not be empty")
	}

	switch c.OAuth.AuthMethod {
	case "none":
		if c.OAuth.ClientSecret != "" {
			return errors.New("oauth.clientSecret must be empty when authMethod is none")
		}
	case "client_secret_post", "client_secret_basic":
		if c.OAuth.ClientSecret == "" {
			return fmt.Errorf("oauth.clientSecret is required for authMethod %s", c.OAuth.AuthMethod)
		}
	default:
		return fmt.Errorf("unknown oauth.authMethod %q", c.OAuth.AuthMethod)
	}

	for _, uri := range c.OAuth.RedirectURIs {
		if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
			return fmt.Errorf("redirect URI %q must be an absolute http(s) URL", uri)
		}
	}

	if c.Limits.BodyMaxBytes <= 0 {
		return errors.New("limits.bodyMaxBytes must be positive")
	}
	if c.Limits.BodyReadTimeout <= 0 {
		return errors.New("limits.bodyReadTimeout must be positive")
	}

	return nil
}

// ListenAddress returns host:port for the HTTP listener.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectivePublicURL returns the configured public base URL, or one derived
// from the listen address.
func (c *Config) EffectivePublicURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}
