package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "json" || settings.GasLimit != DefaultGasLimit || !settings.Simulate {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.SpenderPolicy != "destination" {
		t.Fatalf("expected destination spender by default, got %s", settings.SpenderPolicy)
	}
	want := filepath.Join(tmp, "cache", "stratsync", "journal.db")
	if settings.JournalPath != want {
		t.Fatalf("expected journal path %s, got %s", want, settings.JournalPath)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\ntimeout: 5s\nlog:\n  level: warn\nexecution:\n  spender: source\n  gas_limit: 500000\n  rpc:\n    84532: http://file.rpc\n    10: http://op.rpc\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("STRATSYNC_OUTPUT", "json")
	t.Setenv("STRATSYNC_TIMEOUT", "7s")
	t.Setenv("STRATSYNC_RPC_84532", "http://env.rpc")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, LogLevel: "debug"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Timeout != 7*time.Second {
		t.Fatalf("expected env timeout, got %s", settings.Timeout)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected flag log level, got %s", settings.LogLevel)
	}
	if settings.SpenderPolicy != "source" || settings.GasLimit != 500000 {
		t.Fatalf("expected file execution settings, got %+v", settings)
	}
	if settings.RPCURLs[84532] != "http://env.rpc" || settings.RPCURLs[10] != "http://op.rpc" {
		t.Fatalf("unexpected rpc overrides: %v", settings.RPCURLs)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	if _, err := Load(GlobalFlags{JSON: true, Plain: true}); err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadRejectsInvalidRPCOverrideName(t *testing.T) {
	isolate(t)
	t.Setenv("STRATSYNC_RPC_BASE", "http://x")
	if _, err := Load(GlobalFlags{}); err == nil {
		t.Fatal("expected invalid rpc override error")
	}
}

func TestLoadRejectsUnknownSpender(t *testing.T) {
	isolate(t)
	t.Setenv("STRATSYNC_SPENDER", "anyone")
	if _, err := Load(GlobalFlags{}); err == nil {
		t.Fatal("expected spender validation error")
	}
}

func TestLoadNoJournalFlag(t *testing.T) {
	isolate(t)
	settings, err := Load(GlobalFlags{NoJournal: true})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.JournalEnabled {
		t.Fatal("expected journal disabled")
	}
}

func TestLoadEnableCommands(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("enable_commands:\n  - strategies\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err := Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 1 || settings.EnableCommands[0] != "strategies" {
		t.Fatalf("expected file allowlist, got %v", settings.EnableCommands)
	}

	t.Setenv("STRATSYNC_ENABLE_COMMANDS", "params, actions plan")
	settings, err = Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 2 || settings.EnableCommands[1] != "actions plan" {
		t.Fatalf("expected env allowlist, got %v", settings.EnableCommands)
	}

	settings, err = Load(GlobalFlags{ConfigPath: configPath, EnableCommands: "chains"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 1 || settings.EnableCommands[0] != "chains" {
		t.Fatalf("expected flag allowlist, got %v", settings.EnableCommands)
	}
}
