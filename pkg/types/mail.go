package types

import "time"

// AuthType indicates how a provider expects clients to authenticate.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthOAuth2   AuthType = "oauth2"
)

// ServerSettings holds the endpoint and credentials for one protocol leg.
type ServerSettings struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	SSL      bool   `json:"ssl"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// AccountSettings pairs the incoming (IMAP) and outgoing (SMTP) legs.
type AccountSettings struct {
	Incoming ServerSettings `json:"incoming"`
	Outgoing ServerSettings `json:"outgoing"`
}

// MailProviderConfig is a static directory entry for a known mail provider.
type MailProviderConfig struct {
	Name     string         `json:"name"`
	Domains  []string       `json:"domains"`
	Incoming ServerSettings `json:"incoming"`
	Outgoing ServerSettings `json:"outgoing"`
	AuthType AuthType       `json:"auth_type"`
}

// MailAccount is a configured mailbox.
type MailAccount struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Provider    string          `json:"provider"`
	Settings    AccountSettings `json:"settings"`
	IsActive    bool            `json:"is_active"`
	IsDefault   bool            `json:"is_default"`
	LastSync    time.Time       `json:"last_sync"`
	UnreadCount int             `json:"unread_count"`
	TotalCount  int             `json:"total_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DiscoveryMethod identifies which strategy produced a discovered config.
type DiscoveryMethod string

const (
	MethodCache          DiscoveryMethod = "cache"
	MethodProviderDB     DiscoveryMethod = "provider-db"
	MethodDNSSRV         DiscoveryMethod = "dns-srv"
	MethodAutodiscover   DiscoveryMethod = "autodiscover"
	MethodISPDB          DiscoveryMethod = "ispdb"
	MethodWellKnown      DiscoveryMethod = "well-known"
	MethodGenericPattern DiscoveryMethod = "generic-pattern"
)

// DiscoveredConfig is the transient result of running the discovery cascade.
// Credentials inside Config are always empty; the user supplies them later.
type DiscoveredConfig struct {
	Success       bool            `json:"success"`
	Config        *MailAccount    `json:"config,omitempty"`
	Method        DiscoveryMethod `json:"method,omitempty"`
	RequiresOAuth bool            `json:"requires_oauth,omitempty"`
	OAuthProvider string          `json:"oauth_provider,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// FolderType classifies a mailbox folder.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// MailFolder is one folder of an account's mailbox.
type MailFolder struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Type        FolderType `json:"type"`
	UnreadCount int        `json:"unread_count"`
	TotalCount  int        `json:"total_count"`
	Path        string     `json:"path"`
	Attributes  []string   `json:"attributes,omitempty"`
}

// MailContact is a name/address pair on a message.
type MailContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// MailAttachment describes one attachment of a message.
type MailAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	IsInline    bool   `json:"is_inline"`
}

// MailBody carries both renderings of a message body.
type MailBody struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// MailMessage is one email message.
type MailMessage struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	MessageID   string           `json:"message_id"`
	Subject     string           `json:"subject"`
	From        MailContact      `json:"from"`
	To          []MailContact    `json:"to"`
	Cc          []MailContact    `json:"cc,omitempty"`
	Bcc         []MailContact    `json:"bcc,omitempty"`
	Body        MailBody         `json:"body"`
	Attachments []MailAttachment `json:"attachments,omitempty"`
	IsRead      bool             `json:"is_read"`
	IsStarred   bool             `json:"is_starred"`
	IsFlagged   bool             `json:"is_flagged"`
	IsImportant bool             `json:"is_important"`
	Labels      []string         `json:"labels,omitempty"`
	FolderID    string           `json:"folder_id"`
	ReceivedAt  time.Time        `json:"received_at"`
	Size        int64            `json:"size"`
	Snippet     string           `json:"snippet"`
}

// ComposerData is the payload for sending a message.
type ComposerData struct {
	AccountID          string               `json:"account_id"`
	To                 []MailContact        `json:"to"`
	Cc                 []MailContact        `json:"cc,omitempty"`
	Bcc                []MailContact        `json:"bcc,omitempty"`
	Subject            string               `json:"subject"`
	Body               MailBody             `json:"body"`
	Attachments        []ComposerAttachment `json:"attachments,omitempty"`
	Priority           string               `json:"priority,omitempty"`
	RequestReadReceipt bool                 `json:"request_read_receipt,omitempty"`
	ReplyToMessageID   string               `json:"reply_to_message_id,omitempty"`
}

// ComposerAttachment is an attachment supplied at compose time.
type ComposerAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// SyncStage is one step of the per-account synchronization state machine.
type SyncStage string

const (
	StageIdle            SyncStage = "idle"
	StageConnecting      SyncStage = "connecting"
	StageAuthenticating  SyncStage = "authenticating"
	StageSyncingFolders  SyncStage = "syncing_folders"
	StageSyncingMessages SyncStage = "syncing_messages"
	StageComplete        SyncStage = "complete"
	StageError           SyncStage = "error"
)

// SyncProgress reports how far a sync run has advanced.
type SyncProgress struct {
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Stage   SyncStage `json:"stage"`
}

// MailSyncStatus is the transient synchronization state of one account.
type MailSyncStatus struct {
	AccountID string        `json:"account_id"`
	IsActive  bool          `json:"is_active"`
	LastSync  time.Time     `json:"last_sync"`
	Error     string        `json:"error,omitempty"`
	Progress  *SyncProgress `json:"progress,omitempty"`
}
