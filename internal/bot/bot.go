// Package bot routes inbound Telegram updates: slash commands, plain
// messages forwarded into remote sessions, and inline-keyboard callbacks.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/pagination"
	"github.com/signalpost/signalpost/internal/remote"
	"github.com/signalpost/signalpost/internal/sourcecache"
	"github.com/signalpost/signalpost/internal/store"
	"github.com/signalpost/signalpost/internal/telegram"
)

// Chat is the slice of the Telegram client the bot needs.
type Chat interface {
	Send(ctx context.Context, chatID, threadID int64, msg format.Message) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]format.Button) error
}

// RemoteService is the slice of the remote assistant client the bot needs.
type RemoteService interface {
	ListSources(ctx context.Context, pageToken string) ([]remote.Source, string, error)
	CreateSession(ctx context.Context, req remote.CreateSessionRequest) (*remote.Session, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	ApprovePlan(ctx context.Context, sessionID string) error
	PublishBranch(ctx context.Context, sessionID string) (*remote.PublishResult, error)
	PublishPR(ctx context.Context, sessionID string) (*remote.PublishResult, error)
}

// RemoteFactory builds a tenant-scoped remote client from a credential.
type RemoteFactory func(apiKey string) RemoteService

// Bot handles one update at a time. Safe for concurrent use when the
// underlying store is.
type Bot struct {
	store     *store.Store
	chat      Chat
	newRemote RemoteFactory
	sources   *sourcecache.Cache
	pageOpts  pagination.Opts
	admins    map[int64]bool // empty means no restriction
	log       *zap.Logger
}

// Opts holds parameters for creating a Bot.
type Opts struct {
	Store     *store.Store
	Chat      Chat
	NewRemote RemoteFactory
	Sources   *sourcecache.Cache

	Pagination pagination.Opts
	AdminIDs   []int64 // users allowed to change settings; empty allows anyone
	Logger     *zap.Logger
}

// New creates a Bot.
func New(opts Opts) (*Bot, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	if opts.Chat == nil {
		return nil, fmt.Errorf("bot: chat is required")
	}
	if opts.NewRemote == nil {
		return nil, fmt.Errorf("bot: remote factory is required")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("bot: source cache is required")
	}
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		store:     opts.Store,
		chat:      opts.Chat,
		newRemote: opts.NewRemote,
		sources:   opts.Sources,
		pageOpts:  opts.Pagination,
		admins:    admins,
		log:       log,
	}, nil
}

// HandleUpdate dispatches one inbound update. Errors are handled by
// replying in-chat where possible; the return is for logging only.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, *u.CallbackQuery)
	case u.Message != nil:
		return b.handleMessage(ctx, *u.Message)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg telegram.Message) error {
	if msg.From != nil && msg.From.IsBot {
		return nil
	}
	tenant := strconv.FormatInt(msg.Chat.ID, 10)
	if err := b.store.RegisterTenant(tenant); err != nil {
		return err
	}
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		return b.handleCommand(ctx, msg, tenant, text)
	}
	if text == "" {
		return nil
	}
	return b.handlePlainText(ctx, msg, tenant, text)
}

// handlePlainText forwards chat into the thread's session, creating one
// from the tenant defaults when the thread has none yet.
func (b *Bot) handlePlainText(ctx context.Context, msg telegram.Message, tenant, text string) error {
	if msg.ThreadID == 0 {
		// General chat stays command-only.
		return nil
	}
	rec, ok, err := b.store.Session(tenant, msg.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return b.startSession(ctx, msg, tenant, text)
	}
	api, err := b.apiFor(ctx, msg, tenant)
	if err != nil {
		return err
	}
	if err := api.SendMessage(ctx, rec.RemoteID, text); err != nil {
		b.log.Error("forward message failed",
			zap.String("tenant", tenant), zap.Int64("thread", msg.ThreadID), zap.Error(err))
		return b.reply(ctx, msg, format.Message{
			HTML: "⚠️ Could not deliver that to the session. It will not be retried, please resend.",
		})
	}
	return nil
}

// startSession creates a remote session for the thread from the tenant
// defaults and records it locally.
func (b *Bot) startSession(ctx context.Context, msg telegram.Message, tenant, prompt string) error {
	settings, err := b.store.Settings(tenant)
	if err != nil {
		return err
	}
	if settings.DefaultSource == "" {
		return b.reply(ctx, msg, format.Message{
			HTML:   "No source selected for this chat yet. Pick one with /sources or set it with /setsource.",
			Silent: true,
		})
	}
	api, err := b.apiFor(ctx, msg, tenant)
	if err != nil {
		return err
	}
	sess, err := api.CreateSession(ctx, remote.CreateSessionRequest{
		SourceRef:        settings.DefaultSource,
		BaseBranch:       settings.DefaultBranch,
		Automation:       settings.Automation,
		ApprovalRequired: settings.ApprovalRequired,
		Prompt:           prompt,
	})
	if err != nil {
		b.log.Error("create session failed",
			zap.String("tenant", tenant), zap.Int64("thread", msg.ThreadID), zap.Error(err))
		return b.reply(ctx, msg, format.Message{
			HTML: "⚠️ Could not start a session. Check the credential with /status and try again.",
		})
	}
	rec := store.SessionRecord{
		RemoteID:         sess.ID,
		SourceRef:        sess.SourceRef,
		BaseBranch:       sess.BaseBranch,
		Automation:       sess.Automation,
		ApprovalRequired: sess.ApprovalRequired,
		Status:           sess.Status,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
	if err := b.store.CreateSession(tenant, msg.ThreadID, rec); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			return nil
		}
		return err
	}
	return b.reply(ctx, msg, format.Message{
		HTML: fmt.Sprintf("🚦 <b>Session started</b> on <code>%s</code>. Updates will land in this topic.", esc(sess.SourceRef)),
	})
}

// apiFor resolves the tenant credential into a remote client, telling the
// chat when none is stored.
func (b *Bot) apiFor(ctx context.Context, msg telegram.Message, tenant string) (RemoteService, error) {
	apiKey, ok, err := b.store.Credential(tenant)
	if err != nil {
		return nil, err
	}
	if !ok {
		b.reply(ctx, msg, format.Message{
			HTML:   "No API key stored for this chat. An admin can set one with /setkey.",
			Silent: true,
		})
		return nil, fmt.Errorf("bot: tenant %s has no credential", tenant)
	}
	return b.newRemote(apiKey), nil
}

func (b *Bot) reply(ctx context.Context, msg telegram.Message, out format.Message) error {
	return b.chat.Send(ctx, msg.Chat.ID, msg.ThreadID, out)
}

func (b *Bot) isAdmin(from *telegram.User) bool {
	if len(b.admins) == 0 {
		return true
	}
	return from != nil && b.admins[from.ID]
}

func esc(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}
