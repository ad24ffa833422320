package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/telegram"
)

const helpText = `<b>Commands</b>
/status - session and settings for this topic
/new &lt;prompt&gt; - start a session in this topic
/stop - stop tracking this topic's session
/sources - pick the default source
/setsource &lt;ref&gt; - set the default source directly
/setbranch &lt;branch&gt; - set the default base branch
/automation &lt;mode&gt; - set the automation mode
/approvals on|off - require plan approval before work starts
/setkey &lt;key&gt; - store the remote API key (admin)

Plain messages inside a topic go to that topic's session; the first
message in an empty topic starts one.`

// handleCommand parses and executes a slash command. Command names may
// carry a bot-mention suffix ("/new@somebot") which is stripped.
func (b *Bot) handleCommand(ctx context.Context, msg telegram.Message, tenant, text string) error {
	name, args, _ := strings.Cut(text, " ")
	name = strings.TrimPrefix(name, "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	args = strings.TrimSpace(args)

	switch name {
	case "start", "help":
		return b.reply(ctx, msg, format.Message{HTML: helpText, Silent: true})
	case "status":
		return b.cmdStatus(ctx, msg, tenant)
	case "new":
		return b.cmdNew(ctx, msg, tenant, args)
	case "stop":
		return b.cmdStop(ctx, msg, tenant)
	case "sources":
		return b.cmdSources(ctx, msg, tenant)
	case "setsource":
		return b.cmdSetting(ctx, msg, tenant, "source", args)
	case "setbranch":
		return b.cmdSetting(ctx, msg, tenant, "branch", args)
	case "automation":
		return b.cmdSetting(ctx, msg, tenant, "automation", args)
	case "approvals":
		return b.cmdSetting(ctx, msg, tenant, "approvals", args)
	case "setkey":
		return b.cmdSetKey(ctx, msg, tenant, args)
	default:
		return b.reply(ctx, msg, format.Message{
			HTML:   fmt.Sprintf("Unknown command <code>/%s</code>. Try /help.", esc(name)),
			Silent: true,
		})
	}
}

func (b *Bot) cmdStatus(ctx context.Context, msg telegram.Message, tenant string) error {
	settings, err := b.store.Settings(tenant)
	if err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Settings</b>\nsource: <code>%s</code>\nbranch: <code>%s</code>\nautomation: <code>%s</code>\napprovals: %s\n",
		esc(orDash(settings.DefaultSource)), esc(orDash(settings.DefaultBranch)),
		esc(orDash(settings.Automation)), onOff(settings.ApprovalRequired))
	if _, ok, err := b.store.Credential(tenant); err != nil {
		return err
	} else if ok {
		sb.WriteString("API key: set\n")
	} else {
		sb.WriteString("API key: <b>not set</b>\n")
	}

	if msg.ThreadID != 0 {
		rec, ok, err := b.store.Session(tenant, msg.ThreadID)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(&sb, "\n<b>Session</b> <code>%s</code>\nstatus: %s on <code>%s</code>",
				esc(rec.RemoteID), esc(rec.Status), esc(rec.SourceRef))
			if pending, _ := b.store.PendingPlan(tenant, msg.ThreadID); pending {
				sb.WriteString("\n📋 a plan is awaiting approval")
			}
			if ready, _ := b.store.ReadyForReview(tenant, msg.ThreadID); ready {
				sb.WriteString("\n🔍 changes are ready for review")
			}
		} else {
			sb.WriteString("\nNo session in this topic.")
		}
	}
	return b.reply(ctx, msg, format.Message{HTML: sb.String(), Silent: true})
}

func (b *Bot) cmdNew(ctx context.Context, msg telegram.Message, tenant, prompt string) error {
	if msg.ThreadID == 0 {
		return b.reply(ctx, msg, format.Message{
			HTML:   "Sessions live in topics. Open a topic and run /new there.",
			Silent: true,
		})
	}
	if prompt == "" {
		return b.reply(ctx, msg, format.Message{HTML: "Usage: /new &lt;prompt&gt;", Silent: true})
	}
	if _, ok, err := b.store.Session(tenant, msg.ThreadID); err != nil {
		return err
	} else if ok {
		return b.reply(ctx, msg, format.Message{
			HTML:   "This topic already has a session. /stop it first.",
			Silent: true,
		})
	}
	return b.startSession(ctx, msg, tenant, prompt)
}

func (b *Bot) cmdStop(ctx context.Context, msg telegram.Message, tenant string) error {
	if msg.ThreadID == 0 {
		return b.reply(ctx, msg, format.Message{HTML: "Run /stop inside the topic to stop.", Silent: true})
	}
	_, ok, err := b.store.Session(tenant, msg.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, msg, format.Message{HTML: "No session in this topic.", Silent: true})
	}
	if err := b.store.DeleteSession(tenant, msg.ThreadID); err != nil {
		return err
	}
	return b.reply(ctx, msg, format.Message{
		HTML:   "🛑 Stopped tracking this topic's session. The remote session itself keeps running.",
		Silent: true,
	})
}

func (b *Bot) cmdSources(ctx context.Context, msg telegram.Message, tenant string) error {
	api, err := b.apiFor(ctx, msg, tenant)
	if err != nil {
		return err
	}
	sources, err := b.sources.Sources(ctx, tenant, b.fetchSources(api))
	if err != nil {
		b.log.Error("source catalog fetch failed", zap.String("tenant", tenant), zap.Error(err))
		return b.reply(ctx, msg, format.Message{
			HTML: "⚠️ Could not load the source catalog. Try again in a minute.",
		})
	}
	if len(sources) == 0 {
		return b.reply(ctx, msg, format.Message{HTML: "The catalog has no sources.", Silent: true})
	}
	return b.reply(ctx, msg, format.Message{
		HTML:     "Pick the default source for this chat:",
		Silent:   true,
		Keyboard: sourceKeyboard(sources, 0),
	})
}

func (b *Bot) cmdSetting(ctx context.Context, msg telegram.Message, tenant, field, value string) error {
	if !b.isAdmin(msg.From) {
		return b.reply(ctx, msg, format.Message{HTML: "Only admins can change settings.", Silent: true})
	}
	if value == "" {
		return b.reply(ctx, msg, format.Message{
			HTML:   fmt.Sprintf("Usage: /%s &lt;value&gt;", commandFor(field)),
			Silent: true,
		})
	}
	settings, err := b.store.Settings(tenant)
	if err != nil {
		return err
	}
	switch field {
	case "source":
		settings.DefaultSource = value
	case "branch":
		settings.DefaultBranch = value
	case "automation":
		settings.Automation = value
	case "approvals":
		switch strings.ToLower(value) {
		case "on":
			settings.ApprovalRequired = true
		case "off":
			settings.ApprovalRequired = false
		default:
			return b.reply(ctx, msg, format.Message{HTML: "Usage: /approvals on|off", Silent: true})
		}
	}
	if err := b.store.SetSettings(tenant, settings); err != nil {
		return err
	}
	return b.reply(ctx, msg, format.Message{
		HTML:   fmt.Sprintf("✅ %s set to <code>%s</code>.", field, esc(value)),
		Silent: true,
	})
}

func (b *Bot) cmdSetKey(ctx context.Context, msg telegram.Message, tenant, key string) error {
	if !b.isAdmin(msg.From) {
		return b.reply(ctx, msg, format.Message{HTML: "Only admins can set the API key.", Silent: true})
	}
	if key == "" {
		return b.reply(ctx, msg, format.Message{HTML: "Usage: /setkey &lt;key&gt;", Silent: true})
	}
	if err := b.store.SetCredential(tenant, key); err != nil {
		return err
	}
	return b.reply(ctx, msg, format.Message{
		HTML:   "🔑 API key stored. Delete your message to keep the key out of the chat history.",
		Silent: true,
	})
}

func commandFor(field string) string {
	switch field {
	case "source":
		return "setsource"
	case "branch":
		return "setbranch"
	default:
		return field
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
