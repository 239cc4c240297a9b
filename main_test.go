package main

import (
	"testing"

	"toolgate/cmd"
)

func TestVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}
}

func TestVersionInjection(t *testing.T) {
	cmd.SetVersion(version)
	if cmd.GetVersion() != version {
		t.Errorf("Expected injected version %s, got %s", version, cmd.GetVersion())
	}
}
