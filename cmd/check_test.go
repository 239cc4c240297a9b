package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckCommandPrintsResolvedConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
port: 9100
apiKey: super-secret-key
oauth:
  clientID: webapp
  clientSecret: hunter2
  authMethod: client_secret_post
  redirectURIs:
    - https://app.example.com/callback
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	originalPath := checkConfigPath
	defer func() { checkConfigPath = originalPath }()
	checkConfigPath = dir

	var buf bytes.Buffer
	checkCmd.SetOut(&buf)

	if err := runCheck(checkCmd, nil); err != nil {
		t.Fatalf("runCheck failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "webapp") {
		t.Error("Expected output to contain the client ID")
	}
	if !strings.Contains(output, "localhost:9100") {
		t.Error("Expected output to contain the listen address")
	}
	if strings.Contains(output, "hunter2") || strings.Contains(output, "super-secret-key") {
		t.Error("Secrets must be redacted from check output")
	}
	if !strings.Contains(output, "Configuration is valid.") {
		t.Error("Expected validity confirmation")
	}
}

func TestCheckCommandRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: -1\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	originalPath := checkConfigPath
	defer func() { checkConfigPath = originalPath }()
	checkConfigPath = dir

	checkCmd.SetOut(&bytes.Buffer{})
	if err := runCheck(checkCmd, nil); err == nil {
		t.Error("Expected an error for an invalid configuration")
	}
}
