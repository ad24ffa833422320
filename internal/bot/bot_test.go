package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/models"
	"github.com/signalpost/signalpost/internal/remote"
	"github.com/signalpost/signalpost/internal/sourcecache"
	"github.com/signalpost/signalpost/internal/store"
	"github.com/signalpost/signalpost/internal/telegram"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.StateEntry{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return store.New(db)
}

type chatSend struct {
	chatID   int64
	threadID int64
	msg      format.Message
}

type mockChat struct {
	sends    []chatSend
	answers  []string
	edited   [][][]format.Button
	editedAt []int64 // message ids
}

func (c *mockChat) Send(ctx context.Context, chatID, threadID int64, msg format.Message) error {
	c.sends = append(c.sends, chatSend{chatID, threadID, msg})
	return nil
}

func (c *mockChat) AnswerCallback(ctx context.Context, callbackID, text string) error {
	c.answers = append(c.answers, text)
	return nil
}

func (c *mockChat) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]format.Button) error {
	c.edited = append(c.edited, keyboard)
	c.editedAt = append(c.editedAt, messageID)
	return nil
}

func (c *mockChat) lastSend(t *testing.T) chatSend {
	t.Helper()
	if len(c.sends) == 0 {
		t.Fatal("no messages sent")
	}
	return c.sends[len(c.sends)-1]
}

type mockRemote struct {
	sources    []remote.Source
	created    []remote.CreateSessionRequest
	sessionID  string
	forwarded  []string
	approved   []string
	published  []string // "branch:<id>" or "pr:<id>"
	publishErr error
	createErr  error
}

func (m *mockRemote) ListSources(ctx context.Context, pageToken string) ([]remote.Source, string, error) {
	return m.sources, "", nil
}

func (m *mockRemote) CreateSession(ctx context.Context, req remote.CreateSessionRequest) (*remote.Session, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	id := m.sessionID
	if id == "" {
		id = "sess_new"
	}
	return &remote.Session{
		ID:               id,
		Status:           "running",
		SourceRef:        req.SourceRef,
		BaseBranch:       req.BaseBranch,
		Automation:       req.Automation,
		ApprovalRequired: req.ApprovalRequired,
	}, nil
}

func (m *mockRemote) SendMessage(ctx context.Context, sessionID, text string) error {
	m.forwarded = append(m.forwarded, sessionID+"|"+text)
	return nil
}

func (m *mockRemote) ApprovePlan(ctx context.Context, sessionID string) error {
	m.approved = append(m.approved, sessionID)
	return nil
}

func (m *mockRemote) PublishBranch(ctx context.Context, sessionID string) (*remote.PublishResult, error) {
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	m.published = append(m.published, "branch:"+sessionID)
	return &remote.PublishResult{BranchName: "signalpost/change-1"}, nil
}

func (m *mockRemote) PublishPR(ctx context.Context, sessionID string) (*remote.PublishResult, error) {
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	m.published = append(m.published, "pr:"+sessionID)
	return &remote.PublishResult{BranchName: "signalpost/change-1", URL: "https://example.com/pr/1"}, nil
}

type fixture struct {
	store *store.Store
	chat  *mockChat
	api   *mockRemote
	bot   *Bot
}

func newFixture(t *testing.T, opts ...func(*Opts)) *fixture {
	t.Helper()
	f := &fixture{
		store: openTestStore(t),
		chat:  &mockChat{},
		api:   &mockRemote{},
	}
	cache, err := sourcecache.New(sourcecache.Opts{Store: f.store})
	if err != nil {
		t.Fatalf("source cache: %v", err)
	}
	o := Opts{
		Store:     f.store,
		Chat:      f.chat,
		NewRemote: func(apiKey string) RemoteService { return f.api },
		Sources:   cache,
	}
	for _, fn := range opts {
		fn(&o)
	}
	b, err := New(o)
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	f.bot = b
	return f
}

const testChatID = -100200

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	if err := f.store.SetCredential("-100200", "key"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if err := f.store.SetSettings("-100200", store.TenantSettings{
		DefaultSource: "acme/widgets",
		DefaultBranch: "main",
	}); err != nil {
		t.Fatalf("set settings: %v", err)
	}
}

func message(thread int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		MessageID: 1,
		ThreadID:  thread,
		From:      &telegram.User{ID: 42, Username: "dev"},
		Chat:      telegram.Chat{ID: testChatID, Type: "supergroup"},
		Text:      text,
	}}
}

func callback(thread int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:   "cb1",
		From: telegram.User{ID: 42, Username: "dev"},
		Message: &telegram.Message{
			MessageID: 9,
			ThreadID:  thread,
			Chat:      telegram.Chat{ID: testChatID, Type: "supergroup"},
		},
		Data: data,
	}}
}

// --- commands ---

func TestHelpCommand(t *testing.T) {
	f := newFixture(t)
	if err := f.bot.HandleUpdate(context.Background(), message(0, "/help")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	sent := f.chat.lastSend(t)
	if !strings.Contains(sent.msg.HTML, "/new") {
		t.Errorf("help = %q, want command list", sent.msg.HTML)
	}
	if !sent.msg.Silent {
		t.Error("help reply should be silent")
	}
}

func TestCommandWithBotMentionSuffix(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleUpdate(context.Background(), message(0, "/help@signalpost_bot"))
	if len(f.chat.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.chat.sends))
	}
}

func TestSetSourceUpdatesSettings(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleUpdate(context.Background(), message(0, "/setsource acme/widgets"))
	settings, err := f.store.Settings("-100200")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.DefaultSource != "acme/widgets" {
		t.Errorf("source = %q, want acme/widgets", settings.DefaultSource)
	}
}

func TestSettingsRequireAdminWhenConfigured(t *testing.T) {
	f := newFixture(t, func(o *Opts) { o.AdminIDs = []int64{999} })
	f.bot.HandleUpdate(context.Background(), message(0, "/setsource acme/widgets"))
	settings, _ := f.store.Settings("-100200")
	if settings.DefaultSource != "" {
		t.Error("non-admin must not change settings")
	}
	if !strings.Contains(f.chat.lastSend(t).msg.HTML, "admin") {
		t.Errorf("reply = %q, want admin refusal", f.chat.lastSend(t).msg.HTML)
	}
}

func TestApprovalsToggle(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleUpdate(context.Background(), message(0, "/approvals on"))
	settings, _ := f.store.Settings("-100200")
	if !settings.ApprovalRequired {
		t.Error("approvals on must set the flag")
	}
	f.bot.HandleUpdate(context.Background(), message(0, "/approvals off"))
	settings, _ = f.store.Settings("-100200")
	if settings.ApprovalRequired {
		t.Error("approvals off must clear the flag")
	}
}

func TestSetKeyStoresCredential(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleUpdate(context.Background(), message(0, "/setkey sk-secret"))
	key, ok, err := f.store.Credential("-100200")
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if !ok || key != "sk-secret" {
		t.Errorf("credential = (%q, %v), want stored", key, ok)
	}
}

func TestNewCommandCreatesSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	if err := f.bot.HandleUpdate(context.Background(), message(7, "/new fix the flaky test")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.api.created) != 1 {
		t.Fatalf("created = %d, want 1", len(f.api.created))
	}
	req := f.api.created[0]
	if req.SourceRef != "acme/widgets" || req.BaseBranch != "main" {
		t.Errorf("request = %+v, want tenant defaults applied", req)
	}
	if req.Prompt != "fix the flaky test" {
		t.Errorf("prompt = %q", req.Prompt)
	}
	rec, ok, _ := f.store.Session("-100200", 7)
	if !ok {
		t.Fatal("session record must exist")
	}
	if rec.RemoteID != "sess_new" {
		t.Errorf("remote id = %q", rec.RemoteID)
	}
}

func TestNewWithoutSourcePromptsForOne(t *testing.T) {
	f := newFixture(t)
	f.store.SetCredential("-100200", "key")
	f.bot.HandleUpdate(context.Background(), message(7, "/new do things"))
	if len(f.api.created) != 0 {
		t.Error("session must not be created without a default source")
	}
	if !strings.Contains(f.chat.lastSend(t).msg.HTML, "/sources") {
		t.Errorf("reply = %q, want pointer to /sources", f.chat.lastSend(t).msg.HTML)
	}
}

func TestNewRejectsExistingSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_old", Status: "running"})
	f.bot.HandleUpdate(context.Background(), message(7, "/new again"))
	if len(f.api.created) != 0 {
		t.Error("a topic with a session must refuse /new")
	}
}

func TestStopDeletesSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_1", Status: "running"})
	f.bot.HandleUpdate(context.Background(), message(7, "/stop"))
	if _, ok, _ := f.store.Session("-100200", 7); ok {
		t.Error("stop must delete the local record")
	}
}

// --- plain messages ---

func TestPlainTextForwardsToSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_1", Status: "running"})
	f.bot.HandleUpdate(context.Background(), message(7, "please also update the docs"))
	if len(f.api.forwarded) != 1 || f.api.forwarded[0] != "sess_1|please also update the docs" {
		t.Errorf("forwarded = %v", f.api.forwarded)
	}
}

func TestFirstMessageInEmptyTopicStartsSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.bot.HandleUpdate(context.Background(), message(7, "add retry to the uploader"))
	if len(f.api.created) != 1 {
		t.Fatalf("created = %d, want 1", len(f.api.created))
	}
	if f.api.created[0].Prompt != "add retry to the uploader" {
		t.Errorf("prompt = %q", f.api.created[0].Prompt)
	}
	if _, ok, _ := f.store.Session("-100200", 7); !ok {
		t.Error("session record must exist")
	}
}

func TestPlainTextInGeneralChatIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.bot.HandleUpdate(context.Background(), message(0, "just chatting"))
	if len(f.api.created) != 0 || len(f.api.forwarded) != 0 {
		t.Error("general chat text must not touch sessions")
	}
}

func TestBotMessagesIgnored(t *testing.T) {
	f := newFixture(t)
	u := message(7, "/help")
	u.Message.From.IsBot = true
	f.bot.HandleUpdate(context.Background(), u)
	if len(f.chat.sends) != 0 {
		t.Error("bot-authored messages must be ignored")
	}
}

// --- callbacks ---

func TestApprovePlanCallback(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_1", Status: "running"})
	f.store.SetPendingPlan("-100200", 7, true)

	if err := f.bot.HandleUpdate(context.Background(), callback(7, "approve_plan:7")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.api.approved) != 1 || f.api.approved[0] != "sess_1" {
		t.Errorf("approved = %v", f.api.approved)
	}
	if pending, _ := f.store.PendingPlan("-100200", 7); pending {
		t.Error("approval must clear the pending flag")
	}
}

func TestPublishPRCallback(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_1", Status: "running"})
	f.store.SetReadyForReview("-100200", 7, true)

	f.bot.HandleUpdate(context.Background(), callback(7, "publish_pr:7"))
	if len(f.api.published) != 1 || f.api.published[0] != "pr:sess_1" {
		t.Errorf("published = %v", f.api.published)
	}
	if ready, _ := f.store.ReadyForReview("-100200", 7); ready {
		t.Error("publish must clear the review flag")
	}
	sent := f.chat.lastSend(t)
	if sent.msg.Silent {
		t.Error("publish result must be audible")
	}
	if !strings.Contains(sent.msg.HTML, "example.com/pr/1") {
		t.Errorf("result = %q, want PR URL", sent.msg.HTML)
	}
}

func TestPublishFailureIsAudibleAndNonLeaking(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.store.CreateSession("-100200", 7, store.SessionRecord{RemoteID: "sess_1", Status: "running"})
	f.store.SetReadyForReview("-100200", 7, true)
	f.api.publishErr = errors.New("upstream exploded: stack trace here")

	f.bot.HandleUpdate(context.Background(), callback(7, "publish_branch:7"))
	if ready, _ := f.store.ReadyForReview("-100200", 7); !ready {
		t.Error("failed publish must leave the review flag set")
	}
	sent := f.chat.lastSend(t)
	if sent.msg.Silent {
		t.Error("failure notice must be audible")
	}
	if strings.Contains(sent.msg.HTML, "stack trace") {
		t.Error("failure notice must not leak upstream error detail")
	}
}

func TestSelectSourceCallback(t *testing.T) {
	f := newFixture(t)
	f.store.SetCredential("-100200", "key")
	f.api.sources = []remote.Source{
		{ID: "src_1", Name: "acme/widgets", DefaultBranch: "develop"},
		{ID: "src_2", Name: "acme/gadgets"},
	}

	f.bot.HandleUpdate(context.Background(), callback(0, "select_source:src_1"))
	settings, _ := f.store.Settings("-100200")
	if settings.DefaultSource != "acme/widgets" {
		t.Errorf("source = %q, want acme/widgets", settings.DefaultSource)
	}
	if settings.DefaultBranch != "develop" {
		t.Errorf("branch = %q, want catalog default adopted", settings.DefaultBranch)
	}
}

func TestSourcesPageCallbackEditsKeyboard(t *testing.T) {
	f := newFixture(t)
	f.store.SetCredential("-100200", "key")
	for i := 0; i < 20; i++ {
		f.api.sources = append(f.api.sources, remote.Source{
			ID:   fmt.Sprintf("src_%d", i),
			Name: fmt.Sprintf("acme/repo-%d", i),
		})
	}

	f.bot.HandleUpdate(context.Background(), callback(0, "sources_page:1"))
	if len(f.chat.edited) != 1 {
		t.Fatalf("edits = %d, want 1", len(f.chat.edited))
	}
	rows := f.chat.edited[0]
	if rows[0][0].Data != "select_source:src_8" {
		t.Errorf("first row = %+v, want page 1 to start at src_8", rows[0][0])
	}
}

// --- keyboard ---

func TestSourceKeyboardPagination(t *testing.T) {
	var sources []remote.Source
	for i := 0; i < 20; i++ {
		sources = append(sources, remote.Source{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("repo-%d", i)})
	}

	first := sourceKeyboard(sources, 0)
	if len(first) != sourcePageSize+1 {
		t.Fatalf("rows = %d, want %d sources plus nav", len(first), sourcePageSize+1)
	}
	nav := first[len(first)-1]
	if len(nav) != 1 || nav[0].Data != "sources_page:1" {
		t.Errorf("nav = %+v, want only a next button", nav)
	}

	last := sourceKeyboard(sources, 2)
	if len(last) != 4+1 {
		t.Fatalf("last page rows = %d, want 4 sources plus nav", len(last))
	}
	nav = last[len(last)-1]
	if len(nav) != 1 || nav[0].Data != "sources_page:1" {
		t.Errorf("last nav = %+v, want only a prev button", nav)
	}
}

func TestSourceKeyboardSinglePageHasNoNav(t *testing.T) {
	rows := sourceKeyboard([]remote.Source{{ID: "s1", Name: "repo"}}, 0)
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1 (no nav row)", len(rows))
	}
}
