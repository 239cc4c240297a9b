package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"toolgate/internal/config"
)

var checkConfigPath string

// checkCmd prints the configuration the server would run with, after
// applying the file and environment overrides, so misconfiguration is
// visible without starting the gateway.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate and print the resolved configuration",
	Long: `Resolves the effective configuration the same way 'toolgate serve'
would (defaults, then config.yaml, then TOOLGATE_* environment
variables), validates it, and prints the result. Secrets are redacted.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	configPath := checkConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Setting", "Value"})

	t.AppendRows([]table.Row{
		{"Listen address", cfg.ListenAddress()},
		{"Public URL", cfg.EffectivePublicURL()},
		{"Production mode", cfg.Production},
		{"Allowed origins", joinOrNone(cfg.AllowedOrigins)},
		{"API key", redact(cfg.APIKey)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"OAuth client ID", cfg.OAuth.ClientID},
		{"OAuth client secret", redact(cfg.OAuth.ClientSecret)},
		{"OAuth auth method", cfg.OAuth.AuthMethod},
		{"Redirect URIs", joinOrNone(cfg.OAuth.RedirectURIs)},
		{"Default scopes", joinOrNone(cfg.OAuth.DefaultScopes)},
		{"PKCE required", cfg.OAuth.RequirePKCE},
		{"Access token TTL", cfg.OAuth.AccessTokenTTL},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Body max bytes", cfg.Limits.BodyMaxBytes},
		{"Body read timeout", cfg.Limits.BodyReadTimeout},
		{"Stream close delay", cfg.Limits.StreamCloseDelay},
		{"Rate limit per minute", cfg.Limits.RateLimitPerMinute},
		{"Max codes", cfg.Stores.MaxCodes},
		{"Max sessions", cfg.Stores.MaxSessions},
		{"Max events", cfg.Stores.MaxEvents},
		{"Event TTL", cfg.Stores.EventTTL},
	})
	t.Render()

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "********"
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkConfigPath, "config-path", "", "Custom configuration directory path")
}
