package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalpost/signalpost/internal/config"
)

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildApp(cfg)
}

func newPollCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one activity sweep and exit",
		Long:  "Sweeps every tracked session once, dispatching any new activity, then exits. Useful under an external scheduler or for debugging.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.poller.RunOnce(context.Background())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Audit tracked sessions against the remote service and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.poller.Reconcile(context.Background())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}
