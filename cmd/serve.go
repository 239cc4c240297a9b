package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toolgate/internal/config"
	"toolgate/internal/oauth"
	"toolgate/internal/obs"
	"toolgate/internal/tools"
	"toolgate/internal/transport"
	"toolgate/pkg/logging"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory path.
// When empty, the per-user configuration directory is used.
var serveConfigPath string

// serveCmd defines the serve command structure. This is the main command of
// toolgate: it starts the HTTP gateway with the OAuth endpoints, the
// protocol endpoint, and the observability surface.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolgate gateway server",
	Long: `Starts the gateway server. It serves:

  /authorize and /token                      OAuth 2.1 endpoints
  /mcp                                       the protected tool endpoint
  /.well-known/oauth-authorization-server    discovery metadata
  /info, /healthz, /metrics                  operational endpoints

Configuration is resolved from built-in defaults, config.yaml in the
configuration directory, and TOOLGATE_* environment variables, in that
order. The server runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// gatewayStats adapts the two stores to the stats interface consumed by the
// gateway_stats tool.
type gatewayStats struct {
	store  *oauth.CredentialStore
	events *transport.EventStore
}

func (g gatewayStats) Counts() (codes, sessions, events int) {
	codes, sessions = g.store.Counts()
	return codes, sessions, g.events.Len()
}

// runServe wires configuration, stores, the OAuth service, the protocol
// engine, and the transport router together, then serves until a signal
// arrives.
func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Debug {
		logging.Init(logging.LevelDebug, os.Stderr)
	}

	obs.Init(rootCmd.Version, "")

	store := oauth.NewCredentialStore(oauth.CredentialStoreConfig{
		MaxCodes:    cfg.Stores.MaxCodes,
		MaxSessions: cfg.Stores.MaxSessions,
	})
	defer store.Stop()

	service := oauth.NewService(store, oauth.ServiceConfig{
		Clients: []oauth.ClientRegistration{{
			ClientID:      cfg.OAuth.ClientID,
			ClientSecret:  cfg.OAuth.ClientSecret,
			RedirectURIs:  cfg.OAuth.RedirectURIs,
			AuthMethod:    oauth.ClientAuthMethod(cfg.OAuth.AuthMethod),
			DefaultScopes: cfg.OAuth.DefaultScopes,
		}},
		RequirePKCE:    cfg.OAuth.RequirePKCE,
		AccessTokenTTL: cfg.OAuth.AccessTokenTTL,
	})

	events := transport.NewEventStore(transport.EventStoreConfig{
		MaxEvents: cfg.Stores.MaxEvents,
		TTL:       cfg.Stores.EventTTL,
	})

	engine := tools.NewProvider("toolgate", rootCmd.Version, gatewayStats{store: store, events: events})

	router := transport.NewRouter(service, engine, events, transport.RouterConfig{
		APIKey:        cfg.APIKey,
		PublicBaseURL: cfg.EffectivePublicURL(),
		ServerName:    "toolgate",
		ServerVersion: rootCmd.Version,
		Origin: transport.OriginPolicy{
			Port:           cfg.Port,
			Production:     cfg.Production,
			AllowedDomains: cfg.AllowedOrigins,
		},
		Ingest: transport.IngestLimits{
			MaxBytes:    cfg.Limits.BodyMaxBytes,
			ReadTimeout: cfg.Limits.BodyReadTimeout,
		},
		StreamCloseDelay: cfg.Limits.StreamCloseDelay,
		RateLimit: transport.RateLimiterConfig{
			MaxAttempts: cfg.Limits.RateLimitPerMinute,
			Window:      time.Minute,
		},
	})

	server := &http.Server{
		Addr:    cfg.ListenAddress(),
		Handler: router,
		// No WriteTimeout: push streams stay open until the client
		// disconnects or the configured close delay fires.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Serve", "Gateway listening on %s (public URL %s)", cfg.ListenAddress(), cfg.EffectivePublicURL())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		logging.Info("Serve", "Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Readiness for systemd-managed deployments. A no-op elsewhere.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable general debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
}
