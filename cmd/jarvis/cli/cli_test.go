package cli

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/config"
	"github.com/felixgeelhaar/jarvis/internal/credential"
	"github.com/felixgeelhaar/jarvis/internal/persona"
)

// stubHome points JARVIS_HOME at a temp dir with a stub-provider
// config, so newApp wires everything without a model server.
func stubHome(t *testing.T) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "cli-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })
	t.Setenv("JARVIS_HOME", tmpDir)

	cfg := config.Default()
	cfg.Model.Provider = "stub"
	cfg.DataDir = tmpDir
	if err := config.Save(config.Path(tmpDir), cfg); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return tmpDir
}

func TestNewApp_Stub(t *testing.T) {
	stubHome(t)

	app, err := newApp(io.Discard, false)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer app.Close()

	if app.roles.Chat.Name() != "stub" {
		t.Errorf("Expected stub provider, got %s", app.roles.Chat.Name())
	}
	if app.search != nil {
		t.Error("Expected no web search client without an API key")
	}

	a, err := app.newAssistant("tester", persona.Default())
	if err != nil {
		t.Fatalf("newAssistant failed: %v", err)
	}
	defer a.Close()

	reply, err := a.Respond(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply == "" {
		t.Error("Expected a reply from the stub provider")
	}

	msgs, err := app.store.GetMessages(a.SessionID())
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("Expected 2 persisted messages, got %d", len(msgs))
	}
}

func TestSecretRoundTrip(t *testing.T) {
	stubHome(t)

	s := getStore()
	defer s.Close()

	creds, err := credential.NewManager()
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sealed, err := creds.EncryptRing([]string{"sk-one", "sk-two"})
	if err != nil {
		t.Fatalf("EncryptRing failed: %v", err)
	}
	if err := s.SetConfig("openrouter.api_keys", sealed); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	keys, err := secretRing(s, creds, "openrouter.api_keys")
	if err != nil {
		t.Fatalf("secretRing failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "sk-one" || keys[1] != "sk-two" {
		t.Errorf("unexpected keys: %v", keys)
	}

	sealedOne, err := creds.Encrypt("exa-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err := s.SetConfig("exa.api_key", sealedOne); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if got := secret(s, creds, "exa.api_key"); got != "exa-secret" {
		t.Errorf("Expected decrypted secret, got %q", got)
	}

	// Unset keys read back empty, not as an error.
	if got := secret(s, creds, "gemini.api_key"); got != "" {
		t.Errorf("Expected empty secret, got %q", got)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxTokenLimit = 2000
	cfg.Security.AllowedCommands = []string{"date"}
	cfg.Security.CommandExecutionEnabled = false
	cfg.Security.CommandTimeoutSeconds = 3

	p := policyFromConfig(cfg)

	if p.MaxPromptTokens != 2000 {
		t.Errorf("Expected token limit 2000, got %d", p.MaxPromptTokens)
	}
	if len(p.AllowedCommands) != 1 || p.AllowedCommands[0] != "date" {
		t.Errorf("unexpected allowlist: %v", p.AllowedCommands)
	}
	if p.CommandsEnabled {
		t.Error("Expected command execution disabled")
	}
	if p.CommandTimeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %s", p.CommandTimeout)
	}
	if !p.BlockDangerousCmd {
		t.Error("Expected dangerous-command blocking to stay on")
	}
}

func TestCLI_Root(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"chat", "serve", "import", "config", "sessions"} {
		if !names[want] {
			t.Errorf("%s command not found", want)
		}
	}
}

func TestCLI_Config(t *testing.T) {
	found := false
	for _, cmd := range RootCmd.Commands() {
		if cmd.Name() == "config" {
			found = true
			if len(cmd.Commands()) < 2 {
				t.Errorf("Expected set and get subcommands for config, got %d", len(cmd.Commands()))
			}
		}
	}
	if !found {
		t.Error("config command not found")
	}
}
