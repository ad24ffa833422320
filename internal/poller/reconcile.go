package poller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/format"
	"github.com/signalpost/signalpost/internal/remote"
)

// Reconcile audits every tracked session against the remote service.
// Sessions the service no longer knows about are archived locally and the
// thread gets one quiet notice; status drift is folded back into the
// local record. Runs on a slower cadence than the activity sweep.
func (p *Poller) Reconcile(ctx context.Context) error {
	tenants, err := p.store.Tenants()
	if err != nil {
		return fmt.Errorf("poller: list tenants: %w", err)
	}
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.reconcileTenant(ctx, tenant); err != nil {
			p.log.Error("tenant reconcile failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}
	return nil
}

func (p *Poller) reconcileTenant(ctx context.Context, tenantID string) error {
	apiKey, ok, err := p.store.Credential(tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	threads, err := p.store.SessionsIndex(tenantID)
	if err != nil {
		return err
	}
	api := p.newRemote(apiKey)
	for _, thread := range threads {
		err := p.reconcileThread(ctx, api, tenantID, thread)
		if remote.IsAuth(err) {
			// The sweep already announces rejected credentials; the
			// audit just stops touching this tenant.
			p.log.Warn("credential rejected during reconcile, halting tenant",
				zap.String("tenant", tenantID))
			return nil
		}
		if err != nil {
			p.log.Error("thread reconcile failed",
				zap.String("tenant", tenantID), zap.Int64("thread", thread), zap.Error(err))
		}
	}
	return nil
}

func (p *Poller) reconcileThread(ctx context.Context, api RemoteAPI, tenantID string, threadID int64) error {
	rec, ok, err := p.store.Session(tenantID, threadID)
	if err != nil || !ok {
		return err
	}

	var sess *remote.Session
	err = p.retry.DoIf(ctx, func() error {
		var callErr error
		sess, callErr = api.GetSession(ctx, rec.RemoteID)
		return callErr
	}, remote.IsRetryable)
	if remote.IsNotFound(err) {
		p.log.Info("archiving session missing upstream",
			zap.String("tenant", tenantID), zap.Int64("thread", threadID),
			zap.String("session", rec.RemoteID))
		if delErr := p.store.DeleteSession(tenantID, threadID); delErr != nil {
			return delErr
		}
		notice := format.Message{
			HTML:   "🗄 <b>Session archived.</b> The remote service no longer has this session, so tracking here has stopped. Send a message to start a new one.",
			Silent: true,
		}
		if sendErr := p.notifier.Send(ctx, tenantID, threadID, notice); sendErr != nil {
			p.log.Error("archive notice failed",
				zap.String("tenant", tenantID), zap.Int64("thread", threadID), zap.Error(sendErr))
		}
		return nil
	}
	if err != nil {
		return err
	}

	if sess.Status != rec.Status {
		rec.Status = sess.Status
		rec.UpdatedAt = p.clock()
		return p.store.SaveSession(tenantID, threadID, *rec)
	}
	return nil
}
