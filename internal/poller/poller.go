// Package poller drives the incremental activity sweep: it walks every
// registered tenant, fetches the activity window for each live session,
// and dispatches notifications for everything past the stored cursor.
package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/activity"
	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/notify"
	"github.com/signalpost/signalpost/internal/pagination"
	"github.com/signalpost/signalpost/internal/remote"
	"github.com/signalpost/signalpost/internal/retry"
	"github.com/signalpost/signalpost/internal/store"
)

// DefaultMaxDispatchFailures is how many times a single activity may fail
// to dispatch before it is dead-lettered and the cursor moves past it.
const DefaultMaxDispatchFailures = 5

// RemoteAPI is the slice of the remote assistant client the poller needs.
type RemoteAPI interface {
	ListActivities(ctx context.Context, sessionID, pageToken string) ([]remote.Activity, string, error)
	GetSession(ctx context.Context, sessionID string) (*remote.Session, error)
}

// RemoteFactory builds a tenant-scoped remote client from that tenant's
// stored credential.
type RemoteFactory func(apiKey string) RemoteAPI

// Notifier delivers a rendered message into a tenant's thread. Thread 0
// addresses the tenant's general chat.
type Notifier interface {
	Send(ctx context.Context, tenantID string, threadID int64, msg format.Message) error
}

// Poller owns one sweep's worth of state. Safe to reuse across runs.
type Poller struct {
	store     *store.Store
	notifier  Notifier
	newRemote RemoteFactory

	retry     retry.Policy
	pageOpts  pagination.Opts
	notifyCfg notify.Config

	maxFailures int
	leaseTTL    time.Duration
	owner       string
	clock       func() time.Time
	log         *zap.Logger
}

// Opts holds parameters for creating a Poller.
type Opts struct {
	Store     *store.Store
	Notifier  Notifier
	NewRemote RemoteFactory

	Retry       retry.Policy    // zero value means retry.DefaultPolicy()
	Pagination  pagination.Opts // zero value uses the package defaults
	NotifyCfg   notify.Config   // zero value means notify.DefaultConfig()
	MaxFailures int             // defaults to DefaultMaxDispatchFailures
	LeaseTTL    time.Duration   // defaults to store.DefaultLeaseTTL
	Owner       string          // lease owner id; defaults to a random uuid
	Clock       func() time.Time
	Logger      *zap.Logger
}

// New creates a Poller.
func New(opts Opts) (*Poller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("poller: store is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("poller: notifier is required")
	}
	if opts.NewRemote == nil {
		return nil, fmt.Errorf("poller: remote factory is required")
	}
	pol := opts.Retry
	if pol.MaxAttempts == 0 {
		pol = retry.DefaultPolicy()
	}
	cfg := opts.NotifyCfg
	if cfg.CollapseThreshold == 0 {
		cfg = notify.DefaultConfig()
	}
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxDispatchFailures
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = store.DefaultLeaseTTL
	}
	owner := opts.Owner
	if owner == "" {
		owner = uuid.NewString()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		store:       opts.Store,
		notifier:    opts.Notifier,
		newRemote:   opts.NewRemote,
		retry:       pol,
		pageOpts:    opts.Pagination,
		notifyCfg:   cfg,
		maxFailures: maxFailures,
		leaseTTL:    ttl,
		owner:       owner,
		clock:       clock,
		log:         log,
	}, nil
}

// RunOnce performs one full sweep across all registered tenants. Tenant
// failures are isolated: an error in one tenant never stops the others.
func (p *Poller) RunOnce(ctx context.Context) error {
	tenants, err := p.store.Tenants()
	if err != nil {
		return fmt.Errorf("poller: list tenants: %w", err)
	}
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pollTenant(ctx, tenant); err != nil {
			p.log.Error("tenant sweep failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}
	return nil
}

func (p *Poller) pollTenant(ctx context.Context, tenantID string) error {
	apiKey, ok, err := p.store.Credential(tenantID)
	if err != nil {
		return err
	}
	if !ok {
		p.log.Debug("tenant has no credential, skipping", zap.String("tenant", tenantID))
		return nil
	}
	threads, err := p.store.SessionsIndex(tenantID)
	if err != nil {
		return err
	}
	api := p.newRemote(apiKey)
	for _, thread := range threads {
		err := p.pollThread(ctx, api, tenantID, thread)
		if remote.IsAuth(err) {
			// Credential rejected: halt this tenant for the rest of the
			// run and tell the chat once, audibly.
			p.log.Warn("credential rejected, halting tenant",
				zap.String("tenant", tenantID), zap.Int64("thread", thread))
			notice := format.Message{
				HTML: "⚠️ <b>Remote API rejected the stored credential.</b> Polling is paused for this chat until the key is updated.",
			}
			if sendErr := p.notifier.Send(ctx, tenantID, 0, notice); sendErr != nil {
				p.log.Error("credential notice failed", zap.String("tenant", tenantID), zap.Error(sendErr))
			}
			return nil
		}
		if err != nil {
			p.log.Error("thread sweep failed",
				zap.String("tenant", tenantID), zap.Int64("thread", thread), zap.Error(err))
		}
	}
	return nil
}

func (p *Poller) pollThread(ctx context.Context, api RemoteAPI, tenantID string, threadID int64) error {
	rec, ok, err := p.store.Session(tenantID, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	acquired, err := p.store.AcquireLease(tenantID, threadID, p.owner, p.leaseTTL, p.clock())
	if err != nil {
		return err
	}
	if !acquired {
		p.log.Debug("thread leased elsewhere, skipping",
			zap.String("tenant", tenantID), zap.Int64("thread", threadID))
		return nil
	}
	defer func() {
		if err := p.store.ReleaseLease(tenantID, threadID, p.owner); err != nil {
			p.log.Error("lease release failed",
				zap.String("tenant", tenantID), zap.Int64("thread", threadID), zap.Error(err))
		}
	}()

	window, err := p.fetchWindow(ctx, api, rec.RemoteID)
	if err != nil {
		if remote.IsNotFound(err) {
			// Session gone upstream; reconciliation archives it.
			p.log.Info("remote session missing, deferring to reconciliation",
				zap.String("tenant", tenantID), zap.Int64("thread", threadID))
			return nil
		}
		return err
	}

	cursor, err := p.store.Cursor(tenantID, threadID)
	if err != nil {
		return err
	}
	fresh := afterCursor(window, cursor)
	if len(fresh) == 0 {
		return nil
	}
	p.log.Info("dispatching activities",
		zap.String("tenant", tenantID), zap.Int64("thread", threadID),
		zap.Int("count", len(fresh)), zap.String("cursor", cursor))

	return p.dispatch(ctx, tenantID, threadID, rec, fresh)
}

// fetchWindow pulls the full activity window for a session, newest pages
// retried on transient failures.
func (p *Poller) fetchWindow(ctx context.Context, api RemoteAPI, sessionID string) ([]remote.Activity, error) {
	result, err := pagination.Collect(ctx, p.pageOpts, func(ctx context.Context, token string) ([]remote.Activity, string, error) {
		var (
			acts []remote.Activity
			next string
		)
		err := p.retry.DoIf(ctx, func() error {
			var callErr error
			acts, next, callErr = api.ListActivities(ctx, sessionID, token)
			return callErr
		}, remote.IsRetryable)
		return acts, next, err
	})
	if err != nil {
		return nil, err
	}
	// Ascending creation order; ids are opaque, so they only break ties.
	sort.SliceStable(result.Items, func(i, j int) bool {
		if !result.Items[i].CreatedAt.Equal(result.Items[j].CreatedAt) {
			return result.Items[i].CreatedAt.Before(result.Items[j].CreatedAt)
		}
		return result.Items[i].ID < result.Items[j].ID
	})
	return result.Items, nil
}

// afterCursor returns the activities strictly past the cursor. A cursor
// that no longer appears in the window means the window rolled past it,
// so everything present counts as new.
func afterCursor(window []remote.Activity, cursor string) []remote.Activity {
	if cursor == "" {
		return window
	}
	for i, act := range window {
		if act.ID == cursor {
			return window[i+1:]
		}
	}
	return window
}

// dispatch sends each fresh activity in order. The cursor advances after
// every successful send, but stops at the first failure in the batch:
// later items still go out (tolerating a re-send next run) while the
// failed one stays in the window to be retried. An activity that fails
// maxFailures times is dead-lettered and treated as dispatched.
func (p *Poller) dispatch(ctx context.Context, tenantID string, threadID int64, rec *store.SessionRecord, fresh []remote.Activity) error {
	blocked := false
	for _, act := range fresh {
		kind := activity.Classify(act)
		dec := notify.Decide(kind, act, p.notifyCfg)
		msg := format.Render(act, kind, dec, format.Options{
			ThreadID:         threadID,
			ApprovalRequired: rec.ApprovalRequired,
		})

		if err := p.notifier.Send(ctx, tenantID, threadID, msg); err != nil {
			count, incErr := p.store.IncrementDispatchFailure(tenantID, threadID, act.ID)
			if incErr != nil {
				return incErr
			}
			if count >= p.maxFailures {
				p.log.Warn("dead-lettering activity",
					zap.String("tenant", tenantID), zap.Int64("thread", threadID),
					zap.String("activity", act.ID), zap.Int("failures", count), zap.Error(err))
				if clearErr := p.store.ClearDispatchFailures(tenantID, threadID, act.ID); clearErr != nil {
					return clearErr
				}
				if !blocked {
					if curErr := p.store.SetCursor(tenantID, threadID, act.ID); curErr != nil {
						return curErr
					}
				}
				continue
			}
			p.log.Error("dispatch failed, will retry next run",
				zap.String("tenant", tenantID), zap.Int64("thread", threadID),
				zap.String("activity", act.ID), zap.Int("failures", count), zap.Error(err))
			blocked = true
			continue
		}

		if err := p.store.ClearDispatchFailures(tenantID, threadID, act.ID); err != nil {
			return err
		}
		if !blocked {
			if err := p.store.SetCursor(tenantID, threadID, act.ID); err != nil {
				return err
			}
		}
		if err := p.applyFlags(tenantID, threadID, rec, kind); err != nil {
			return err
		}
	}
	return nil
}

// applyFlags keeps the per-thread approval and review state in step with
// what was just announced.
func (p *Poller) applyFlags(tenantID string, threadID int64, rec *store.SessionRecord, kind activity.Kind) error {
	switch kind {
	case activity.KindPlanGenerated:
		if rec.ApprovalRequired {
			return p.store.SetPendingPlan(tenantID, threadID, true)
		}
	case activity.KindPlanApproved:
		return p.store.SetPendingPlan(tenantID, threadID, false)
	case activity.KindReadyForReview:
		return p.store.SetReadyForReview(tenantID, threadID, true)
	case activity.KindSessionCompleted:
		rec.Status = "completed"
		rec.UpdatedAt = p.clock()
		return p.store.SaveSession(tenantID, threadID, *rec)
	}
	return nil
}
