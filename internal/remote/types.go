package remote

import "time"

// Source is one entry in the remote source catalog (a connectable repository).
type Source struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// Session is a remote coding task.
type Session struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	SourceRef        string    `json:"source_ref"`
	BaseBranch       string    `json:"base_branch,omitempty"`
	Automation       string    `json:"automation,omitempty"`
	ApprovalRequired bool      `json:"approval_required"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PlanStep is one step of a generated plan.
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Plan is a generated plan awaiting (or past) approval.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// FileChange describes one file touched by the session.
type FileChange struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"` // "added", "modified", "deleted"
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// Activity is one discrete event reported by a remote session. The ID is an
// opaque identifier whose lexicographic order matches creation order;
// timestamps alone can tie, so ordering decisions use the ID.
type Activity struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Plan          *Plan        `json:"plan,omitempty"`
	CommandRun    string       `json:"command_run,omitempty"`
	CommandOutput string       `json:"command_output,omitempty"`
	ExitCode      *int         `json:"exit_code,omitempty"`
	FileChanges   []FileChange `json:"file_changes,omitempty"`
	ImageURL      string       `json:"image_url,omitempty"`
}

// CreateSessionRequest holds parameters for starting a remote session.
type CreateSessionRequest struct {
	SourceRef        string `json:"source_ref"`
	BaseBranch       string `json:"base_branch,omitempty"`
	Automation       string `json:"automation,omitempty"`
	ApprovalRequired bool   `json:"approval_required"`
	Prompt           string `json:"prompt"`
}

// PublishResult is returned by the publish-branch and publish-PR operations.
type PublishResult struct {
	BranchName string `json:"branch_name,omitempty"`
	URL        string `json:"url,omitempty"`
}
