package bot

import (
	"context"
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

const sourcePageSize = 8

// handleCallback routes one inline-keyboard press by its payload prefix.
func (b *Bot) handleCallback(ctx context.Context, cq telegram.CallbackQuery) error {
	if cq.Message == nil {
		return b.chat.AnswerCallback(ctx, cq.ID, "")
	}
	tenant := strconv.FormatInt(cq.Message.Chat.ID, 10)
	prefix, arg, _ := strings.Cut(cq.Data, ":")

	switch prefix {
	case format.CallbackApprovePlan:
		return b.cbApprovePlan(ctx, cq, tenant, arg)
	case format.CallbackPublishBranch:
		return b.cbPublish(ctx, cq, tenant, arg, false)
	case format.CallbackPublishPR:
		return b.cbPublish(ctx, cq, tenant, arg, true)
	case format.CallbackSelectSource:
		return b.cbSelectSource(ctx, cq, tenant, arg)
	case format.CallbackSourcesPage:
		return b.cbSourcesPage(ctx, cq, tenant, arg)
	default:
		b.log.Warn("unknown callback payload", zap.String("data", cq.Data))
		return b.chat.AnswerCallback(ctx, cq.ID, "")
	}
}

func (b *Bot) cbApprovePlan(ctx context.Context, cq telegram.CallbackQuery, tenant, arg string) error {
	thread, rec, api, err := b.callbackSession(ctx, cq, tenant, arg)
	if err != nil || rec == nil {
		return err
	}
	if err := api.ApprovePlan(ctx, rec.RemoteID); err != nil {
		b.log.Error("approve plan failed",
			zap.String("tenant", tenant), zap.Int64("thread", thread), zap.Error(err))
		return b.chat.AnswerCallback(ctx, cq.ID, "Approval failed, try again")
	}
	if err := b.store.SetPendingPlan(tenant, thread, false); err != nil {
		return err
	}
	if err := b.chat.AnswerCallback(ctx, cq.ID, "Plan approved"); err != nil {
		return err
	}
	return b.chat.Send(ctx, cq.Message.Chat.ID, thread, format.Message{
		HTML:   fmt.Sprintf("✅ Plan approved by %s. Work is starting.", esc(displayName(cq.From))),
		Silent: true,
	})
}

func (b *Bot) cbPublish(ctx context.Context, cq telegram.CallbackQuery, tenant, arg string, asPR bool) error {
	thread, rec, api, err := b.callbackSession(ctx, cq, tenant, arg)
	if err != nil || rec == nil {
		return err
	}
	var (
		result *remote.PublishResult
		label  = "branch"
	)
	if asPR {
		label = "pull request"
		result, err = api.PublishPR(ctx, rec.RemoteID)
	} else {
		result, err = api.PublishBranch(ctx, rec.RemoteID)
	}
	if err != nil {
		b.log.Error("publish failed",
			zap.String("tenant", tenant), zap.Int64("thread", thread),
			zap.Bool("as_pr", asPR), zap.Error(err))
		if ackErr := b.chat.AnswerCallback(ctx, cq.ID, "Publish failed"); ackErr != nil {
			return ackErr
		}
		// Audible, but without leaking upstream error detail.
		return b.chat.Send(ctx, cq.Message.Chat.ID, thread, format.Message{
			HTML: fmt.Sprintf("⚠️ <b>Publishing the %s failed.</b> Try again, or check the session upstream.", label),
		})
	}
	if err := b.store.SetReadyForReview(tenant, thread, false); err != nil {
		return err
	}
	if err := b.chat.AnswerCallback(ctx, cq.ID, "Published"); err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚀 <b>Published the %s.</b>", label)
	if result.BranchName != "" {
		fmt.Fprintf(&sb, "\nbranch: <code>%s</code>", esc(result.BranchName))
	}
	if result.URL != "" {
		fmt.Fprintf(&sb, "\n%s", esc(result.URL))
	}
	return b.chat.Send(ctx, cq.Message.Chat.ID, thread, format.Message{HTML: sb.String()})
}

func (b *Bot) cbSelectSource(ctx context.Context, cq telegram.CallbackQuery, tenant, sourceID string) error {
	if !b.isAdmin(&cq.From) {
		return b.chat.AnswerCallback(ctx, cq.ID, "Only admins can change settings")
	}
	sources, err := b.cachedSources(ctx, cq, tenant)
	if err != nil {
		return b.chat.AnswerCallback(ctx, cq.ID, "Catalog unavailable, try /sources again")
	}
	var picked *remote.Source
	for i := range sources {
		if sources[i].ID == sourceID {
			picked = &sources[i]
			break
		}
	}
	if picked == nil {
		return b.chat.AnswerCallback(ctx, cq.ID, "That source is gone, run /sources again")
	}
	settings, err := b.store.Settings(tenant)
	if err != nil {
		return err
	}
	settings.DefaultSource = picked.Name
	if settings.DefaultBranch == "" && picked.DefaultBranch != "" {
		settings.DefaultBranch = picked.DefaultBranch
	}
	if err := b.store.SetSettings(tenant, settings); err != nil {
		return err
	}
	if err := b.chat.AnswerCallback(ctx, cq.ID, "Source set"); err != nil {
		return err
	}
	return b.chat.Send(ctx, cq.Message.Chat.ID, cq.Message.ThreadID, format.Message{
		HTML:   fmt.Sprintf("✅ Default source is now <code>%s</code>.", esc(picked.Name)),
		Silent: true,
	})
}

func (b *Bot) cbSourcesPage(ctx context.Context, cq telegram.CallbackQuery, tenant, arg string) error {
	page, err := strconv.Atoi(arg)
	if err != nil || page < 0 {
		return b.chat.AnswerCallback(ctx, cq.ID, "")
	}
	sources, err := b.cachedSources(ctx, cq, tenant)
	if err != nil {
		return b.chat.AnswerCallback(ctx, cq.ID, "Catalog unavailable, try /sources again")
	}
	if err := b.chat.EditReplyMarkup(ctx, cq.Message.Chat.ID, cq.Message.MessageID, sourceKeyboard(sources, page)); err != nil {
		return err
	}
	return b.chat.AnswerCallback(ctx, cq.ID, "")
}

// callbackSession resolves the thread argument of an approve/publish
// payload into the local session record and a tenant-scoped client. A nil
// record with nil error means the press was answered with an explanation.
func (b *Bot) callbackSession(ctx context.Context, cq telegram.CallbackQuery, tenant, arg string) (int64, *store.SessionRecord, RemoteService, error) {
	thread, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, nil, nil, b.chat.AnswerCallback(ctx, cq.ID, "")
	}
	rec, ok, err := b.store.Session(tenant, thread)
	if err != nil {
		return 0, nil, nil, err
	}
	if !ok {
		return 0, nil, nil, b.chat.AnswerCallback(ctx, cq.ID, "That session is no longer tracked")
	}
	apiKey, ok, err := b.store.Credential(tenant)
	if err != nil {
		return 0, nil, nil, err
	}
	if !ok {
		return 0, nil, nil, b.chat.AnswerCallback(ctx, cq.ID, "No API key stored, use /setkey")
	}
	return thread, rec, b.newRemote(apiKey), nil
}

func (b *Bot) cachedSources(ctx context.Context, cq telegram.CallbackQuery, tenant string) ([]remote.Source, error) {
	apiKey, ok, err := b.store.Credential(tenant)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bot: tenant %s has no credential", tenant)
	}
	return b.sources.Sources(ctx, tenant, b.fetchSources(b.newRemote(apiKey)))
}

// fetchSources adapts the paginated catalog walk into the cache's fetch
// contract.
func (b *Bot) fetchSources(api RemoteService) sourcecache.FetchFunc {
	return func(ctx context.Context) ([]remote.Source, bool, error) {
		result, err := pagination.Collect(ctx, b.pageOpts, func(ctx context.Context, token string) ([]remote.Source, string, error) {
			return api.ListSources(ctx, token)
		})
		if err != nil {
			return nil, false, err
		}
		return result.Items, result.HasMore, nil
	}
}

// sourceKeyboard renders one page of the picker: one source per row plus a
// navigation row when the catalog spills past a single page.
func sourceKeyboard(sources []remote.Source, page int) [][]format.Button {
	lastPage := (len(sources) - 1) / sourcePageSize
	if page > lastPage {
		page = lastPage
	}
	start := page * sourcePageSize
	end := start + sourcePageSize
	if end > len(sources) {
		end = len(sources)
	}

	var rows [][]format.Button
	for _, src := range sources[start:end] {
		rows = append(rows, []format.Button{{
			Text: src.Name,
			Data: fmt.Sprintf("%s:%s", format.CallbackSelectSource, src.ID),
		}})
	}
	if lastPage > 0 {
		var nav []format.Button
		if page > 0 {
			nav = append(nav, format.Button{
				Text: "◀ Prev",
				Data: fmt.Sprintf("%s:%d", format.CallbackSourcesPage, page-1),
			})
		}
		if page < lastPage {
			nav = append(nav, format.Button{
				Text: "Next ▶",
				Data: fmt.Sprintf("%s:%d", format.CallbackSourcesPage, page+1),
			})
		}
		rows = append(rows, nav)
	}
	return rows
}

func displayName(u telegram.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}
