package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalpost/signalpost/internal/config"
)

func runInitCmd(t *testing.T, path, input string, force bool) error {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(input))
	args := []string{"init", "--config", path}
	if force {
		args = append(args, "--force")
	}
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	input := "12345:abcdef\nhttps://assistant.example.com\nstate.db\n"

	if err := runInitCmd(t, path, input, false); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Telegram.Token != "12345:abcdef" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Remote.BaseURL != "https://assistant.example.com" {
		t.Errorf("BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Database.Path != "state.db" {
		t.Errorf("Path = %q", cfg.Database.Path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestInit_DefaultsDatabasePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	input := "12345:abcdef\nhttps://assistant.example.com\n\n"

	if err := runInitCmd(t, path, input, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "signalpost.db" {
		t.Errorf("Path = %q, want signalpost.db", cfg.Database.Path)
	}
}

func TestInit_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("telegram: {}\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	err := runInitCmd(t, path, "tok\nurl\n\n", false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("err = %v, want overwrite refusal", err)
	}
}

func TestInit_ForceOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("old\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	input := "12345:abcdef\nhttps://assistant.example.com\n\n"
	if err := runInitCmd(t, path, input, true); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("load after force: %v", err)
	}
}

func TestInit_RequiresToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := runInitCmd(t, path, "\nhttps://assistant.example.com\n\n", false)
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Errorf("err = %v, want token requirement", err)
	}
}
