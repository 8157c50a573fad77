package orchestrator

import (
	"context"

	"github.com/nexcrm/mailgate/internal/mailbox"
	"github.com/nexcrm/mailgate/internal/store"
	"github.com/nexcrm/mailgate/pkg/types"
)

// Messages returns a newest-first page of messages for a folder, fetched live
// and mirrored into the in-memory cache. When the live client fails, the page
// is served from the persistent store instead so cached reads survive an
// outage.
func (o *Orchestrator) Messages(ctx context.Context, accountID, folderID string, limit, offset int) ([]types.MailMessage, int, error) {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return nil, 0, err
	}
	page, total, err := cl.ListMessages(ctx, folderID, limit, offset)
	if err != nil {
		if stored, ok := o.storedMessages(accountID, folderID, limit, offset); ok {
			o.logger.WithError(err).Debug("Live listing failed, serving stored page")
			total := offset + len(stored)
			if ft := o.folderTotal(accountID, folderID); ft > total {
				total = ft
			}
			return stored, total, nil
		}
		return nil, 0, err
	}

	if offset == 0 {
		o.mu.Lock()
		if o.messages[accountID] == nil {
			o.messages[accountID] = map[string][]types.MailMessage{}
		}
		o.messages[accountID][folderID] = page
		o.mu.Unlock()
	}
	return page, total, nil
}

// GetMessage returns the full message. A cached partial copy is refined, not
// replaced: if the live fetch fails but a cached copy exists, the cached copy
// is returned instead of the error.
func (o *Orchestrator) GetMessage(ctx context.Context, accountID, folderID, messageID string) (*types.MailMessage, error) {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return nil, err
	}

	full, err := cl.GetMessage(ctx, folderID, messageID)
	if err != nil {
		if cached := o.cachedMessage(accountID, folderID, messageID); cached != nil {
			o.logger.WithError(err).Debug("Full fetch failed, serving cached copy")
			return cached, nil
		}
		return nil, err
	}

	// Merge the body into the cached summary so list views pick it up.
	o.mu.Lock()
	if msgs, ok := o.messages[accountID][folderID]; ok {
		for i := range msgs {
			if msgs[i].ID == messageID {
				msgs[i].Body = full.Body
				msgs[i].Attachments = full.Attachments
				msgs[i].Snippet = full.Snippet
				break
			}
		}
	}
	o.mu.Unlock()
	return full, nil
}

// SendMessage submits a composed message through the account's client.
func (o *Orchestrator) SendMessage(ctx context.Context, msg *types.ComposerData) error {
	cl, err := o.clientFor(msg.AccountID)
	if err != nil {
		return err
	}
	return cl.SendMessage(ctx, msg)
}

// SaveDraft stores a composed message in the account's drafts folder and
// mirrors the stored draft into the folder cache.
func (o *Orchestrator) SaveDraft(ctx context.Context, msg *types.ComposerData) (*types.MailMessage, error) {
	cl, err := o.clientFor(msg.AccountID)
	if err != nil {
		return nil, err
	}
	draft, err := cl.SaveDraft(ctx, msg)
	if err != nil {
		return nil, err
	}
	if draft.FolderID != "" {
		o.mu.Lock()
		if o.messages[msg.AccountID] == nil {
			o.messages[msg.AccountID] = map[string][]types.MailMessage{}
		}
		o.messages[msg.AccountID][draft.FolderID] = append(o.messages[msg.AccountID][draft.FolderID], *draft)
		o.mu.Unlock()
	}
	return draft, nil
}

// GetAttachment downloads one attachment body of a message.
func (o *Orchestrator) GetAttachment(ctx context.Context, accountID, folderID, messageID, attachmentID string) (*mailbox.AttachmentData, error) {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return nil, err
	}
	return cl.GetAttachment(ctx, folderID, messageID, attachmentID)
}

// MarkRead flips the read flag optimistically: the prior value is snapshotted,
// local state changes first, and the snapshot is restored if the server
// rejects the change. Restoring the snapshot rather than inverting the request
// keeps a message that was already in the target state intact.
func (o *Orchestrator) MarkRead(ctx context.Context, accountID, folderID, messageID string, read bool) error {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return err
	}
	prevRead, _, cached := o.flagSnapshot(accountID, folderID, messageID)
	return o.optimistic(
		func() { o.applyRead(accountID, folderID, messageID, read) },
		func() error { return cl.MarkRead(ctx, folderID, messageID, read) },
		func() {
			if cached {
				o.applyRead(accountID, folderID, messageID, prevRead)
			}
		},
	)
}

// MarkStarred flips the starred flag optimistically with the same snapshot
// restore as MarkRead.
func (o *Orchestrator) MarkStarred(ctx context.Context, accountID, folderID, messageID string, starred bool) error {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return err
	}
	_, prevStarred, cached := o.flagSnapshot(accountID, folderID, messageID)
	return o.optimistic(
		func() { o.applyStarred(accountID, folderID, messageID, starred) },
		func() error { return cl.MarkStarred(ctx, folderID, messageID, starred) },
		func() {
			if cached {
				o.applyStarred(accountID, folderID, messageID, prevStarred)
			}
		},
	)
}

// MoveMessage removes the message from its source folder optimistically. On
// failure the source folder is reconciled by reloading it rather than by
// restoring the snapshot, since the server-side position is unknown.
func (o *Orchestrator) MoveMessage(ctx context.Context, accountID, messageID, fromFolderID, toFolderID string) error {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return err
	}
	return o.optimistic(
		func() { o.removeLocal(accountID, fromFolderID, messageID) },
		func() error { return cl.MoveMessage(ctx, messageID, fromFolderID, toFolderID) },
		func() { o.reloadFolder(ctx, cl, accountID, fromFolderID) },
	)
}

// DeleteMessage deletes optimistically with the same reload reconciliation as
// MoveMessage.
func (o *Orchestrator) DeleteMessage(ctx context.Context, accountID, folderID, messageID string, permanent bool) error {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return err
	}
	return o.optimistic(
		func() { o.removeLocal(accountID, folderID, messageID) },
		func() error { return cl.DeleteMessage(ctx, folderID, messageID, permanent) },
		func() { o.reloadFolder(ctx, cl, accountID, folderID) },
	)
}

// Search runs a search in one folder of an account.
func (o *Orchestrator) Search(ctx context.Context, accountID, folderID, query string) ([]types.MailMessage, error) {
	cl, err := o.clientFor(accountID)
	if err != nil {
		return nil, err
	}
	return cl.Search(ctx, folderID, query)
}

// SearchCached runs a full-text search over the persistent message cache.
// An empty accountID searches across all accounts. Without a store the result
// is empty rather than an error.
func (o *Orchestrator) SearchCached(accountID, query string, limit int) ([]store.SearchHit, error) {
	if o.store == nil {
		return []store.SearchHit{}, nil
	}
	return o.store.SearchMessages(accountID, query, limit)
}

// optimistic applies a local change, attempts the remote operation, and
// reverts the local change when the remote side fails.
func (o *Orchestrator) optimistic(apply func(), attempt func() error, revert func()) error {
	apply()
	if err := attempt(); err != nil {
		revert()
		return err
	}
	return nil
}

// storedMessages serves a page from the persistent cache. The second return
// is false when no store is configured or the stored page is empty.
func (o *Orchestrator) storedMessages(accountID, folderID string, limit, offset int) ([]types.MailMessage, bool) {
	if o.store == nil {
		return nil, false
	}
	stored, err := o.store.ListMessages(accountID, folderID, limit, offset)
	if err != nil || len(stored) == 0 {
		return nil, false
	}
	return stored, true
}

func (o *Orchestrator) folderTotal(accountID, folderID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.folders[accountID] {
		if f.ID == folderID {
			return f.TotalCount
		}
	}
	return 0
}

// flagSnapshot captures the cached read/starred state of a message so an
// optimistic mutation can restore it. ok is false when the message is not in
// the cache.
func (o *Orchestrator) flagSnapshot(accountID, folderID, messageID string) (isRead, isStarred, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, msg := range o.messages[accountID][folderID] {
		if msg.ID == messageID {
			return msg.IsRead, msg.IsStarred, true
		}
	}
	return false, false, false
}

func (o *Orchestrator) cachedMessage(accountID, folderID, messageID string) *types.MailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, msg := range o.messages[accountID][folderID] {
		if msg.ID == messageID {
			out := msg
			return &out
		}
	}
	return nil
}

func (o *Orchestrator) applyRead(accountID, folderID, messageID string, read bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.messages[accountID][folderID]
	for i := range msgs {
		if msgs[i].ID != messageID || msgs[i].IsRead == read {
			continue
		}
		msgs[i].IsRead = read
		delta := -1
		if !read {
			delta = 1
		}
		o.adjustUnreadLocked(accountID, folderID, delta)
		break
	}
}

func (o *Orchestrator) applyStarred(accountID, folderID, messageID string, starred bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.messages[accountID][folderID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].IsStarred = starred
			msgs[i].IsFlagged = starred
			break
		}
	}
}

func (o *Orchestrator) removeLocal(accountID, folderID, messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.messages[accountID][folderID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		if !msgs[i].IsRead {
			o.adjustUnreadLocked(accountID, folderID, -1)
		}
		o.adjustTotalLocked(accountID, folderID, -1)
		o.messages[accountID][folderID] = append(msgs[:i], msgs[i+1:]...)
		break
	}
}

// reloadFolder refreshes a folder's message cache from the client after a
// failed destructive mutation.
func (o *Orchestrator) reloadFolder(ctx context.Context, cl mailbox.Client, accountID, folderID string) {
	page, _, err := cl.ListMessages(ctx, folderID, syncPageSize, 0)
	if err != nil {
		o.logger.WithError(err).WithField("folder_id", folderID).Warn("Failed to reconcile folder after mutation failure")
		return
	}
	o.mu.Lock()
	if o.messages[accountID] == nil {
		o.messages[accountID] = map[string][]types.MailMessage{}
	}
	o.messages[accountID][folderID] = page
	o.mu.Unlock()
}

func (o *Orchestrator) adjustUnreadLocked(accountID, folderID string, delta int) {
	for i := range o.folders[accountID] {
		if o.folders[accountID][i].ID == folderID {
			o.folders[accountID][i].UnreadCount += delta
			if o.folders[accountID][i].UnreadCount < 0 {
				o.folders[accountID][i].UnreadCount = 0
			}
			break
		}
	}
	if acc, ok := o.accounts[accountID]; ok {
		acc.UnreadCount += delta
		if acc.UnreadCount < 0 {
			acc.UnreadCount = 0
		}
	}
}

func (o *Orchestrator) adjustTotalLocked(accountID, folderID string, delta int) {
	for i := range o.folders[accountID] {
		if o.folders[accountID][i].ID == folderID {
			o.folders[accountID][i].TotalCount += delta
			if o.folders[accountID][i].TotalCount < 0 {
				o.folders[accountID][i].TotalCount = 0
			}
			break
		}
	}
	if acc, ok := o.accounts[accountID]; ok {
		acc.TotalCount += delta
		if acc.TotalCount < 0 {
			acc.TotalCount = 0
		}
	}
}
