// Package activity classifies raw remote events into a closed set of
// semantic kinds.
//
// The remote API offers no discriminated event type, so classification is an
// ordered rule table: structural signals (a populated plan, command output,
// or file-change set) outrank free-text matching, except that review and
// completion phrasing anywhere in the text wins outright — a "ready for
// review" event frequently also carries command output, and burying it as a
// plain progress update would hide the one event the user is waiting on.
package activity

import (
	"strings"

	"github.com/signalpost/signalpost/internal/remote"
)

// Kind is the semantic category of a remote activity.
type Kind string

const (
	KindPlanGenerated    Kind = "plan_generated"
	KindPlanApproved     Kind = "plan_approved"
	KindReadyForReview   Kind = "ready_for_review"
	KindProgressUpdate   Kind = "progress_update"
	KindSessionCompleted Kind = "session_completed"
	KindGeneric          Kind = "generic"
)

// Phrase sets for free-text matching, lowercase. Matching is
// case-insensitive substring search over title plus description.
var (
	reviewPhrases = []string{
		"ready for review",
		"ready to review",
		"awaiting review",
		"awaiting your review",
	}
	completedPhrases = []string{
		"session completed",
		"session complete",
		"task completed",
		"task complete",
		"finished the task",
		"all done",
	}
	planApprovedPhrases = []string{
		"plan approved",
		"approved the plan",
	}
	planPhrases = []string{
		"generated a plan",
		"created a plan",
		"plan generated",
		"proposed plan",
		"here's the plan",
		"here is the plan",
	}
	progressPhrases = []string{
		"running",
		"executing",
		"working on",
		"in progress",
		"installing",
		"building",
	}
)

// Classify maps a raw remote activity to a Kind. First match wins.
func Classify(act remote.Activity) Kind {
	text := strings.ToLower(act.Title + "\n" + act.Description)

	// Review and completion phrasing outrank every other signal.
	if containsAny(text, reviewPhrases) {
		return KindReadyForReview
	}
	if containsAny(text, completedPhrases) {
		return KindSessionCompleted
	}
	if containsAny(text, planApprovedPhrases) {
		return KindPlanApproved
	}

	// Structural signals next: these fields only appear on the event kinds
	// that produce them, so they beat the looser phrase heuristics below.
	if act.Plan != nil && len(act.Plan.Steps) > 0 {
		return KindPlanGenerated
	}
	if act.CommandOutput != "" || act.CommandRun != "" || len(act.FileChanges) > 0 {
		return KindProgressUpdate
	}

	if containsAny(text, planPhrases) {
		return KindPlanGenerated
	}
	if containsAny(text, progressPhrases) {
		return KindProgressUpdate
	}
	return KindGeneric
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
