package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/store"
	"github.com/nexcrm/mailgate/pkg/types"
)

const syncPageSize = 50

// SyncStatus returns the sync status of one account.
func (o *Orchestrator) SyncStatus(accountID string) (*types.MailSyncStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status, ok := o.statuses[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	out := *status
	if status.Progress != nil {
		p := *status.Progress
		out.Progress = &p
	}
	return &out, nil
}

// AllSyncStatuses returns the status of every account in registration order.
func (o *Orchestrator) AllSyncStatuses() []types.MailSyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.MailSyncStatus, 0, len(o.order))
	for _, id := range o.order {
		status := *o.statuses[id]
		if o.statuses[id].Progress != nil {
			p := *o.statuses[id].Progress
			status.Progress = &p
		}
		out = append(out, status)
	}
	return out
}

// Sync runs the full synchronization state machine for one account:
// connecting, authenticating, syncing_folders, syncing_messages, complete.
// Any stage failure parks the account in the error stage; the error is
// reported on the status and returned, not fatal to the process.
func (o *Orchestrator) Sync(ctx context.Context, accountID string) error {
	o.mu.Lock()
	status, ok := o.statuses[accountID]
	if !ok {
		o.mu.Unlock()
		return store.ErrAccountNotFound
	}
	if status.IsActive {
		o.mu.Unlock()
		return nil
	}
	status.IsActive = true
	status.Error = ""
	o.mu.Unlock()

	err := o.runSync(ctx, accountID)

	o.mu.Lock()
	if status, ok := o.statuses[accountID]; ok {
		status.IsActive = false
		if err != nil {
			status.Error = err.Error()
			o.setStageLocked(status, types.StageError)
		} else {
			status.LastSync = time.Now().UTC()
			o.setStageLocked(status, types.StageComplete)
			if acc, ok := o.accounts[accountID]; ok {
				acc.LastSync = status.LastSync
			}
		}
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.WithError(err).WithField("account_id", accountID).Warn("Sync failed")
		return err
	}
	if o.store != nil {
		if acc, getErr := o.GetAccount(accountID); getErr == nil {
			o.store.SaveAccount(acc) //nolint:errcheck
		}
	}
	o.logger.WithField("account_id", accountID).Info("Sync complete")
	return nil
}

func (o *Orchestrator) runSync(ctx context.Context, accountID string) error {
	o.setStage(accountID, types.StageConnecting, 0, 0)
	cl, err := o.clientFor(accountID)
	if err != nil {
		return err
	}

	// The client authenticates lazily; listing folders drives both the
	// connect and the login.
	o.setStage(accountID, types.StageAuthenticating, 0, 0)
	if err := ctx.Err(); err != nil {
		return err
	}

	o.setStage(accountID, types.StageSyncingFolders, 0, 0)
	folders, err := cl.ListFolders(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.folders[accountID] = folders
	unread, total := 0, 0
	for _, f := range folders {
		unread += f.UnreadCount
		total += f.TotalCount
	}
	if acc, ok := o.accounts[accountID]; ok {
		acc.UnreadCount = unread
		acc.TotalCount = total
	}
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveFolders(accountID, folders); err != nil {
			o.logger.WithError(err).Warn("Failed to persist folders")
		}
	}

	for i, folder := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.setStage(accountID, types.StageSyncingMessages, i, len(folders))

		page, _, err := cl.ListMessages(ctx, folder.ID, syncPageSize, 0)
		if err != nil {
			return err
		}
		o.mu.Lock()
		if o.messages[accountID] == nil {
			o.messages[accountID] = map[string][]types.MailMessage{}
		}
		o.messages[accountID][folder.ID] = page
		o.mu.Unlock()

		if o.store != nil {
			// Replace the stored page wholesale so deletions and moves on
			// the server do not leave stale rows behind.
			if err := o.store.DeleteMessages(accountID, folder.ID); err != nil {
				o.logger.WithError(err).Debug("Failed to clear cached folder")
			}
			for j := range page {
				if err := o.store.SaveMessage(&page[j]); err != nil {
					o.logger.WithError(err).Debug("Failed to cache message")
				}
			}
		}
	}
	return nil
}

// SyncAll syncs every account concurrently. Per-account failures are kept on
// the individual statuses; SyncAll itself never fails.
func (o *Orchestrator) SyncAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			if err := o.Sync(ctx, accountID); err != nil {
				o.logger.WithError(err).WithField("account_id", accountID).Debug("Account sync error")
			}
		}(id)
	}
	wg.Wait()
	o.logger.WithField("accounts", len(ids)).Info("Sync all finished")
}

func (o *Orchestrator) setStage(accountID string, stage types.SyncStage, current, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status, ok := o.statuses[accountID]
	if !ok {
		return
	}
	status.Progress = &types.SyncProgress{Current: current, Total: total, Stage: stage}
	o.logger.WithFields(logrus.Fields{"account_id": accountID, "stage": stage}).Debug("Sync stage")
}

func (o *Orchestrator) setStageLocked(status *types.MailSyncStatus, stage types.SyncStage) {
	if status.Progress == nil {
		status.Progress = &types.SyncProgress{}
	}
	status.Progress.Stage = stage
}
