package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/signalpost/signalpost/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a config file",
		Long:  "Prompts for the bot token and remote service URL and writes a starter config. The token prompt is hidden when run in a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to write the config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("init: %s already exists (use --force to overwrite)", configPath)
		}
	}

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	fmt.Fprint(out, "Telegram bot token: ")
	token, err := readSecret(in)
	if err != nil {
		return fmt.Errorf("init: read token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("init: a bot token is required")
	}

	fmt.Fprint(out, "Remote service base URL: ")
	baseURL, err := readLine(in)
	if err != nil {
		return fmt.Errorf("init: read base url: %w", err)
	}
	if baseURL == "" {
		return fmt.Errorf("init: the remote base url is required")
	}

	fmt.Fprint(out, "SQLite database path [signalpost.db]: ")
	dbPath, err := readLine(in)
	if err != nil {
		return fmt.Errorf("init: read db path: %w", err)
	}
	if dbPath == "" {
		dbPath = "signalpost.db"
	}

	cfg := config.Config{}
	cfg.Telegram.Token = token
	cfg.Remote.BaseURL = baseURL
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = dbPath

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("init: marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("init: write %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "Wrote %s. Per-chat API keys are set in Telegram with /setkey.\n", configPath)
	return nil
}

// readSecret reads without echo when stdin is a terminal, falling back to
// a plain line read for pipes and tests.
func readSecret(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
