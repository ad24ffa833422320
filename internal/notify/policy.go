// Package notify decides how loudly and how compactly an activity is
// presented in chat.
package notify

import (
	"strings"

	"github.com/signalpost/signalpost/internal/activity"
	"github.com/signalpost/signalpost/internal/remote"
)

// Default thresholds. Both are presentation constants, not computed values.
const (
	DefaultCollapseThreshold = 300 // chars of body before collapsing
	DefaultPlanStepLimit     = 5   // plan steps before collapsing
)

// Config holds the policy thresholds.
type Config struct {
	CollapseThreshold int
	PlanStepLimit     int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		CollapseThreshold: DefaultCollapseThreshold,
		PlanStepLimit:     DefaultPlanStepLimit,
	}
}

// Decision is the presentation verdict for one activity.
type Decision struct {
	Loud     bool // audible notification vs silent delivery
	Collapse bool // expandable block vs inline text
	AsImage  bool // deliver as a photo attachment
}

// Keywords that make an otherwise-generic activity audible.
var attentionKeywords = []string{"error", "failed", "failure", "question"}

// Decide applies the policy table to a classified activity.
//
//	kind             condition                    loud   collapse
//	PlanGenerated    always                       yes    if steps > limit
//	PlanApproved     always                       no     no
//	ReadyForReview   always                       yes    no
//	ProgressUpdate   exit code != 0               yes    if output > threshold
//	ProgressUpdate   exit code == 0               no     if output > threshold
//	ProgressUpdate   media attached               yes    n/a (image)
//	SessionCompleted always                       yes    if detail > threshold
//	Generic          attention keyword present    yes    if body > threshold
//	Generic          otherwise                    no     if body > threshold
func Decide(kind activity.Kind, act remote.Activity, cfg Config) Decision {
	if cfg.CollapseThreshold <= 0 {
		cfg.CollapseThreshold = DefaultCollapseThreshold
	}
	if cfg.PlanStepLimit <= 0 {
		cfg.PlanStepLimit = DefaultPlanStepLimit
	}

	switch kind {
	case activity.KindPlanGenerated:
		steps := 0
		if act.Plan != nil {
			steps = len(act.Plan.Steps)
		}
		return Decision{Loud: true, Collapse: steps > cfg.PlanStepLimit}

	case activity.KindPlanApproved:
		return Decision{}

	case activity.KindReadyForReview:
		return Decision{Loud: true}

	case activity.KindProgressUpdate:
		if act.ImageURL != "" {
			return Decision{Loud: true, AsImage: true}
		}
		failed := act.ExitCode != nil && *act.ExitCode != 0
		return Decision{
			Loud:     failed,
			Collapse: len(act.CommandOutput) > cfg.CollapseThreshold,
		}

	case activity.KindSessionCompleted:
		return Decision{Loud: true, Collapse: len(act.Description) > cfg.CollapseThreshold}

	default:
		text := strings.ToLower(act.Title + "\n" + act.Description)
		loud := false
		for _, kw := range attentionKeywords {
			if strings.Contains(text, kw) {
				loud = true
				break
			}
		}
		return Decision{
			Loud:     loud,
			Collapse: len(act.Description) > cfg.CollapseThreshold,
		}
	}
}
