package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/bot"
	"github.com/signalpost/signalpost/internal/config"
	"github.com/signalpost/signalpost/internal/db"
	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/notify"
	"github.com/signalpost/signalpost/internal/poller"
	"github.com/signalpost/signalpost/internal/remote"
	"github.com/signalpost/signalpost/internal/sourcecache"
	"github.com/signalpost/signalpost/internal/store"
	"github.com/signalpost/signalpost/internal/telegram"
)

// app wires the configured components together for the CLI commands.
type app struct {
	cfg    *config.Config
	store  *store.Store
	chat   *telegram.Client
	bot    *bot.Bot
	poller *poller.Poller
	log    *zap.Logger
}

func buildApp(cfg *config.Config) (*app, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	gormDB, err := db.Connect(db.Options{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
	})
	if err != nil {
		return nil, err
	}
	st := store.New(gormDB)

	chat, err := telegram.NewClient(telegram.ClientOpts{Token: cfg.Telegram.Token})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	remoteFor := func(apiKey string) remoteAPI {
		c, err := remote.NewClient(remote.ClientOpts{
			BaseURL: cfg.Remote.BaseURL,
			APIKey:  apiKey,
			Timeout: timeout,
		})
		if err != nil {
			// Only reachable with an empty stored key.
			return errRemote{err: err}
		}
		return c
	}

	notifyCfg := notify.DefaultConfig()
	if cfg.Notify.CollapseThreshold > 0 {
		notifyCfg.CollapseThreshold = cfg.Notify.CollapseThreshold
	}
	if cfg.Notify.PlanStepLimit > 0 {
		notifyCfg.PlanStepLimit = cfg.Notify.PlanStepLimit
	}

	p, err := poller.New(poller.Opts{
		Store:     st,
		Notifier:  chatNotifier{chat: chat},
		NewRemote: func(apiKey string) poller.RemoteAPI { return remoteFor(apiKey) },
		NotifyCfg: notifyCfg,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	sources, err := sourcecache.New(sourcecache.Opts{Store: st})
	if err != nil {
		return nil, err
	}
	b, err := bot.New(bot.Opts{
		Store:     st,
		Chat:      chat,
		NewRemote: func(apiKey string) bot.RemoteService { return remoteFor(apiKey) },
		Sources:   sources,
		AdminIDs:  cfg.Telegram.AdminIDs,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: st, chat: chat, bot: b, poller: p, log: log}, nil
}

func (a *app) close() {
	a.log.Sync()
}

// chatNotifier adapts the Telegram client to the poller's notifier: tenant
// ids are chat ids in decimal.
type chatNotifier struct {
	chat *telegram.Client
}

func (n chatNotifier) Send(ctx context.Context, tenantID string, threadID int64, msg format.Message) error {
	chatID, err := strconv.ParseInt(tenantID, 10, 64)
	if err != nil {
		return fmt.Errorf("notify: tenant %q is not a chat id: %w", tenantID, err)
	}
	return n.chat.Send(ctx, chatID, threadID, msg)
}

// remoteAPI is the union of what the poller and the bot need from a
// remote client.
type remoteAPI interface {
	poller.RemoteAPI
	bot.RemoteService
}

// errRemote fails every call with the construction error.
type errRemote struct {
	err error
}

func (e errRemote) ListSources(context.Context, string) ([]remote.Source, string, error) {
	return nil, "", e.err
}

func (e errRemote) CreateSession(context.Context, remote.CreateSessionRequest) (*remote.Session, error) {
	return nil, e.err
}

func (e errRemote) GetSession(context.Context, string) (*remote.Session, error) {
	return nil, e.err
}

func (e errRemote) SendMessage(context.Context, string, string) error {
	return e.err
}

func (e errRemote) ApprovePlan(context.Context, string) error {
	return e.err
}

func (e errRemote) ListActivities(context.Context, string, string) ([]remote.Activity, string, error) {
	return nil, "", e.err
}

func (e errRemote) PublishBranch(context.Context, string) (*remote.PublishResult, error) {
	return nil, e.err
}

func (e errRemote) PublishPR(context.Context, string) (*remote.PublishResult, error) {
	return nil, e.err
}
