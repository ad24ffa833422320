// Package format renders classified activities to Telegram HTML.
//
// Long content is collapsed behind an expandable blockquote, never
// truncated: the full body is always present inside the collapsed region.
// Inline renderings are truncated only when Telegram's hard message-length
// limit would otherwise be exceeded.
package format

import (
	"fmt"
	"html"
	"strings"

	"github.com/signalpost/signalpost/internal/activity"
	"github.com/signalpost/signalpost/internal/notify"
	"github.com/signalpost/signalpost/internal/remote"
)

// MaxMessageLen is Telegram's hard limit for one message.
const MaxMessageLen = 4096

// Callback-data prefixes for inline keyboard buttons. The bot layer parses
// these back out of incoming callback queries.
const (
	CallbackApprovePlan   = "approve_plan"
	CallbackPublishBranch = "publish_branch"
	CallbackPublishPR     = "publish_pr"
	CallbackSelectSource  = "select_source"
	CallbackSourcesPage   = "sources_page"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Message is a fully rendered chat message ready for the Telegram adapter.
type Message struct {
	HTML     string
	Silent   bool
	ImageURL string     // when set, delivered as a photo with HTML as caption
	Keyboard [][]Button // optional inline keyboard rows
}

// Options adjusts rendering for the owning thread.
type Options struct {
	ThreadID         int64 // used in callback payloads
	ApprovalRequired bool  // adds the approve button to generated plans
}

// Render produces the chat message for one classified activity.
func Render(act remote.Activity, kind activity.Kind, dec notify.Decision, opts Options) Message {
	msg := Message{Silent: !dec.Loud}

	if dec.AsImage && act.ImageURL != "" {
		msg.ImageURL = act.ImageURL
		msg.HTML = clamp(fmt.Sprintf("<b>%s</b>", esc(title(act, kind))), 1024)
		return msg
	}

	switch kind {
	case activity.KindPlanGenerated:
		msg.HTML = compose("📋 "+esc(titleOr(act, "Plan generated")), planBody(act), dec.Collapse)
		if opts.ApprovalRequired {
			msg.Keyboard = [][]Button{{
				{Text: "✅ Approve plan", Data: payload(CallbackApprovePlan, opts.ThreadID)},
			}}
		}

	case activity.KindPlanApproved:
		msg.HTML = compose("✅ "+esc(titleOr(act, "Plan approved")), esc(act.Description), dec.Collapse)

	case activity.KindReadyForReview:
		msg.HTML = compose("🔍 "+esc(titleOr(act, "Ready for review")), reviewBody(act), dec.Collapse)
		msg.Keyboard = [][]Button{{
			{Text: "🌿 Publish branch", Data: payload(CallbackPublishBranch, opts.ThreadID)},
			{Text: "🔀 Open PR", Data: payload(CallbackPublishPR, opts.ThreadID)},
		}}

	case activity.KindProgressUpdate:
		msg.HTML = compose(progressTitle(act), progressBody(act), dec.Collapse)

	case activity.KindSessionCompleted:
		msg.HTML = compose("🏁 "+esc(titleOr(act, "Session completed")), esc(act.Description), dec.Collapse)

	default:
		msg.HTML = compose(esc(titleOr(act, "Update")), esc(act.Description), dec.Collapse)
	}
	return msg
}

// compose joins an escaped title and an escaped body. Collapsed
// presentations keep the complete body inside an expandable blockquote;
// inline presentations are clamped to the hard message limit.
func compose(escTitle, escBody string, collapse bool) string {
	if escBody == "" {
		return clamp(fmt.Sprintf("<b>%s</b>", escTitle), MaxMessageLen)
	}
	if collapse {
		return fmt.Sprintf("<b>%s</b>\n<blockquote expandable>%s</blockquote>", escTitle, escBody)
	}
	return clamp(fmt.Sprintf("<b>%s</b>\n%s", escTitle, escBody), MaxMessageLen)
}

func title(act remote.Activity, kind activity.Kind) string {
	if act.Title != "" {
		return act.Title
	}
	return string(kind)
}

func titleOr(act remote.Activity, fallback string) string {
	if act.Title != "" {
		return act.Title
	}
	return fallback
}

func planBody(act remote.Activity) string {
	if act.Plan == nil || len(act.Plan.Steps) == 0 {
		return esc(act.Description)
	}
	var b strings.Builder
	for i, step := range act.Plan.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, esc(step.Title))
		if step.Detail != "" {
			fmt.Fprintf(&b, " — %s", esc(step.Detail))
		}
		if i < len(act.Plan.Steps)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func reviewBody(act remote.Activity) string {
	var parts []string
	if act.Description != "" {
		parts = append(parts, esc(act.Description))
	}
	if len(act.FileChanges) > 0 {
		var b strings.Builder
		for i, fc := range act.FileChanges {
			fmt.Fprintf(&b, "<code>%s</code> (%s)", esc(fc.Path), esc(fc.Kind))
			if i < len(act.FileChanges)-1 {
				b.WriteByte('\n')
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

func progressTitle(act remote.Activity) string {
	if act.ExitCode != nil && *act.ExitCode != 0 {
		return fmt.Sprintf("⚠️ Command failed (exit %d)", *act.ExitCode)
	}
	return "⚙️ " + esc(titleOr(act, "Progress update"))
}

func progressBody(act remote.Activity) string {
	var parts []string
	if act.CommandRun != "" {
		parts = append(parts, fmt.Sprintf("<code>%s</code>", esc(act.CommandRun)))
	}
	if act.CommandOutput != "" {
		parts = append(parts, esc(act.CommandOutput))
	} else if act.Description != "" {
		parts = append(parts, esc(act.Description))
	}
	if len(act.FileChanges) > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) changed", len(act.FileChanges)))
	}
	return strings.Join(parts, "\n")
}

// payload builds callback data like "approve_plan:42".
func payload(prefix string, threadID int64) string {
	return fmt.Sprintf("%s:%d", prefix, threadID)
}

func esc(s string) string {
	return html.EscapeString(s)
}

// clamp truncates s to at most limit bytes, appending an ellipsis marker.
// Only used for inline renderings that would exceed the platform limit.
func clamp(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "…"
	cut := limit - len(marker)
	// Back off to a rune boundary.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + marker
}
