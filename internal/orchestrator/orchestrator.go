package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/connection"
	"github.com/nexcrm/mailgate/internal/discovery"
	"github.com/nexcrm/mailgate/internal/mailbox"
	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/internal/store"
	"github.com/nexcrm/mailgate/pkg/types"
)

// Orchestrator owns all mail state: accounts, the current selection, cached
// folders and messages, and per-account sync status. All state is guarded by
// a single mutex; network work happens outside the lock.
type Orchestrator struct {
	mu sync.Mutex

	factory   *mailbox.Factory
	store     *store.Store
	engine    *discovery.Engine
	tester    *connection.Tester
	confCache *discovery.ConfigCache
	logger    *logrus.Logger

	accounts map[string]*types.MailAccount
	order    []string
	clients  map[string]mailbox.Client
	folders  map[string][]types.MailFolder
	messages map[string]map[string][]types.MailMessage
	statuses map[string]*types.MailSyncStatus

	currentAccountID string
	currentFolderID  string
}

// New creates an orchestrator and loads previously registered accounts from
// the store.
func New(factory *mailbox.Factory, st *store.Store, engine *discovery.Engine, tester *connection.Tester, confCache *discovery.ConfigCache, logger *logrus.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		factory:   factory,
		store:     st,
		engine:    engine,
		tester:    tester,
		confCache: confCache,
		logger:    logger,
		accounts:  map[string]*types.MailAccount{},
		clients:   map[string]mailbox.Client{},
		folders:   map[string][]types.MailFolder{},
		messages:  map[string]map[string][]types.MailMessage{},
		statuses:  map[string]*types.MailSyncStatus{},
	}

	if st != nil {
		accounts, err := st.ListAccounts()
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		for i := range accounts {
			acc := accounts[i]
			o.accounts[acc.ID] = &acc
			o.order = append(o.order, acc.ID)
			o.statuses[acc.ID] = &types.MailSyncStatus{AccountID: acc.ID, LastSync: acc.LastSync}
			if acc.IsDefault && o.currentAccountID == "" {
				o.currentAccountID = acc.ID
			}
			if stored, err := st.ListFolders(acc.ID); err == nil && len(stored) > 0 {
				o.folders[acc.ID] = stored
			}
		}
		if o.currentAccountID == "" && len(o.order) > 0 {
			o.currentAccountID = o.order[0]
		}
	}
	return o, nil
}

// DiscoverConfig runs the autodiscovery cascade for an address.
func (o *Orchestrator) DiscoverConfig(ctx context.Context, email, displayName string) *types.DiscoveredConfig {
	return o.engine.Discover(ctx, email, displayName)
}

// TestConnection verifies settings end to end. Verified settings are put in
// the discovery cache so later setups for the same domain skip the cascade.
func (o *Orchestrator) TestConnection(ctx context.Context, email string, settings types.AccountSettings) connection.Result {
	result := o.tester.Test(ctx, settings)
	if result.Success && o.confCache != nil {
		o.confCache.Put(email, settings)
	}
	return result
}

// AddAccount registers a new account. The first account automatically becomes
// the default and the current account, and gets the standard folder set until
// a sync replaces it.
func (o *Orchestrator) AddAccount(ctx context.Context, acc types.MailAccount) (*types.MailAccount, error) {
	if !providers.ValidEmail(acc.Email) {
		return nil, fmt.Errorf("invalid email address %q", acc.Email)
	}

	acc.ID = uuid.NewString()
	acc.IsActive = true
	acc.CreatedAt = time.Now().UTC()

	o.mu.Lock()
	// Only the first account is the default; later registrations never
	// displace it, whatever the caller set on the flag.
	acc.IsDefault = len(o.order) == 0
	o.accounts[acc.ID] = &acc
	o.order = append(o.order, acc.ID)
	o.statuses[acc.ID] = &types.MailSyncStatus{AccountID: acc.ID}
	o.folders[acc.ID] = defaultFolders(acc.ID)
	if o.currentAccountID == "" {
		o.currentAccountID = acc.ID
		o.currentFolderID = "INBOX"
	}
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveAccount(&acc); err != nil {
			o.logger.WithError(err).Error("Failed to persist account")
		}
	}
	o.logger.WithFields(logrus.Fields{"account_id": acc.ID, "email": acc.Email}).Info("Account added")
	out := acc
	return &out, nil
}

// UpdateAccount applies changed fields of an existing account.
func (o *Orchestrator) UpdateAccount(ctx context.Context, acc types.MailAccount) (*types.MailAccount, error) {
	o.mu.Lock()
	existing, ok := o.accounts[acc.ID]
	if !ok {
		o.mu.Unlock()
		return nil, store.ErrAccountNotFound
	}
	if acc.Name != "" {
		existing.Name = acc.Name
	}
	if acc.Email != "" {
		existing.Email = acc.Email
	}
	if acc.Provider != "" {
		existing.Provider = acc.Provider
	}
	if acc.Settings.Incoming.Server != "" {
		existing.Settings = acc.Settings
	}
	existing.IsActive = acc.IsActive
	// A settings change invalidates the cached client connection.
	if cl, ok := o.clients[acc.ID]; ok {
		cl.Close() //nolint:errcheck
		delete(o.clients, acc.ID)
	}
	updated := *existing
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveAccount(&updated); err != nil {
			o.logger.WithError(err).Error("Failed to persist account update")
		}
	}
	return &updated, nil
}

// DeleteAccount removes an account and purges every trace of its state. When
// the default account is deleted the oldest remaining account is promoted so
// there is always exactly one default while accounts exist.
func (o *Orchestrator) DeleteAccount(ctx context.Context, accountID string) error {
	o.mu.Lock()
	acc, ok := o.accounts[accountID]
	if !ok {
		o.mu.Unlock()
		return store.ErrAccountNotFound
	}
	wasDefault := acc.IsDefault
	if cl, ok := o.clients[accountID]; ok {
		cl.Close() //nolint:errcheck
	}
	delete(o.accounts, accountID)
	delete(o.clients, accountID)
	delete(o.folders, accountID)
	delete(o.messages, accountID)
	delete(o.statuses, accountID)
	for i, id := range o.order {
		if id == accountID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	if o.currentAccountID == accountID {
		o.currentAccountID = ""
		o.currentFolderID = ""
		if len(o.order) > 0 {
			o.currentAccountID = o.order[0]
			o.currentFolderID = "INBOX"
		}
	}
	var promoted *types.MailAccount
	if wasDefault && len(o.order) > 0 {
		o.accounts[o.order[0]].IsDefault = true
		copied := *o.accounts[o.order[0]]
		promoted = &copied
	}
	o.mu.Unlock()

	if o.store != nil && promoted != nil {
		if err := o.store.SaveAccount(promoted); err != nil {
			o.logger.WithError(err).Error("Failed to persist promoted default account")
		}
	}

	if o.store != nil {
		if err := o.store.DeleteAccount(accountID); err != nil && err != store.ErrAccountNotFound {
			return err
		}
	}
	o.logger.WithField("account_id", accountID).Info("Account deleted")
	return nil
}

// GetAccount returns a copy of one account, falling back to the persistent
// store for accounts not held in memory.
func (o *Orchestrator) GetAccount(accountID string) (*types.MailAccount, error) {
	o.mu.Lock()
	acc, ok := o.accounts[accountID]
	if ok {
		out := *acc
		o.mu.Unlock()
		return &out, nil
	}
	o.mu.Unlock()
	if o.store != nil {
		return o.store.GetAccount(accountID)
	}
	return nil, store.ErrAccountNotFound
}

// ListAccounts returns all accounts in registration order.
func (o *Orchestrator) ListAccounts() []types.MailAccount {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.MailAccount, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.accounts[id])
	}
	return out
}

// CurrentAccount returns the currently selected account, if any.
func (o *Orchestrator) CurrentAccount() *types.MailAccount {
	o.mu.Lock()
	defer o.mu.Unlock()
	if acc, ok := o.accounts[o.currentAccountID]; ok {
		out := *acc
		return &out
	}
	return nil
}

// SetCurrentAccount switches the current selection.
func (o *Orchestrator) SetCurrentAccount(accountID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.accounts[accountID]; !ok {
		return store.ErrAccountNotFound
	}
	o.currentAccountID = accountID
	o.currentFolderID = "INBOX"
	return nil
}

// SetCurrentFolder switches the selected folder of the current account.
func (o *Orchestrator) SetCurrentFolder(folderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentFolderID = folderID
}

// Folders returns the account's folders. Until a sync has loaded the real
// list this is the synthesized standard set.
func (o *Orchestrator) Folders(accountID string) ([]types.MailFolder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.accounts[accountID]; !ok {
		return nil, store.ErrAccountNotFound
	}
	folders, ok := o.folders[accountID]
	if !ok || len(folders) == 0 {
		folders = defaultFolders(accountID)
	}
	out := make([]types.MailFolder, len(folders))
	copy(out, folders)
	return out, nil
}

// clientFor returns the cached mailbox client for the account, creating one
// on first use. Callers must not hold the mutex around the returned client's
// network calls.
func (o *Orchestrator) clientFor(accountID string) (mailbox.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cl, ok := o.clients[accountID]; ok {
		return cl, nil
	}
	acc, ok := o.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cl, err := o.factory.ClientFor(acc)
	if err != nil {
		return nil, err
	}
	o.clients[accountID] = cl
	return cl, nil
}

// Close releases all mailbox connections.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cl := range o.clients {
		cl.Close() //nolint:errcheck
		delete(o.clients, id)
	}
	return nil
}

func defaultFolders(accountID string) []types.MailFolder {
	out := make([]types.MailFolder, 0, len(providers.DefaultFolders))
	for _, f := range providers.DefaultFolders {
		out = append(out, types.MailFolder{
			ID:          f.Name,
			AccountID:   accountID,
			Name:        f.Name,
			DisplayName: f.DisplayName,
			Type:        f.Type,
			Path:        f.Name,
			Attributes:  f.Attributes,
		})
	}
	return out
}
