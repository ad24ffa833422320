package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Long:  "Receives Telegram updates (long polling or webhook), sweeps sessions for new activity on a schedule, and reconciles tracked sessions against the remote service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func runServe(configPath string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on OS signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.log.Info("shutting down")
		cancel()
	}()

	sched := cron.New()
	if _, err := sched.AddFunc(a.cfg.Poll.Schedule, func() {
		if err := a.poller.RunOnce(ctx); err != nil {
			a.log.Error("sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("serve: poll schedule %q: %w", a.cfg.Poll.Schedule, err)
	}
	if _, err := sched.AddFunc(a.cfg.Poll.ReconcileSchedule, func() {
		if err := a.poller.Reconcile(ctx); err != nil {
			a.log.Error("reconcile failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("serve: reconcile schedule %q: %w", a.cfg.Poll.ReconcileSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	a.log.Info("signalpost serving",
		zap.String("mode", a.cfg.Telegram.Mode),
		zap.String("poll", a.cfg.Poll.Schedule),
		zap.String("reconcile", a.cfg.Poll.ReconcileSchedule))

	if a.cfg.Telegram.Mode == "webhook" {
		return webhook.Start(ctx, webhook.StartOpts{
			Handler: a.bot,
			Port:    a.cfg.Telegram.Webhook.Port,
			Secret:  a.cfg.Telegram.Webhook.Secret,
			Logger:  a.log,
		})
	}
	return a.runLongPoll(ctx)
}

// runLongPoll pulls updates until ctx is cancelled. Transient getUpdates
// failures back off briefly instead of spinning.
func (a *app) runLongPoll(ctx context.Context) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, next, err := a.chat.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Error("get updates failed", zap.Error(err))
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		offset = next
		for _, u := range updates {
			if err := a.bot.HandleUpdate(ctx, u); err != nil {
				a.log.Error("update handling failed", zap.Int64("update", u.UpdateID), zap.Error(err))
			}
		}
	}
}
