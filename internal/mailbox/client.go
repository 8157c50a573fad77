package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/pkg/types"
)

var (
	// ErrNoRecipients is returned by SendMessage before any network traffic
	// when the composed message has no recipient in To, Cc or Bcc.
	ErrNoRecipients = errors.New("message has no recipients")

	// ErrMessageNotFound is returned when a message id does not exist in the
	// addressed folder.
	ErrMessageNotFound = errors.New("message not found")

	// ErrFolderNotFound is returned when a folder id does not exist for the
	// account.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrAttachmentNotFound is returned when a message exists but carries no
	// attachment with the given id.
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// AttachmentData is a downloaded attachment body.
type AttachmentData struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Client is the mailbox contract for a single account. Implementations are
// selected by configuration: direct IMAP/SMTP, an HTTP gateway delegate, or a
// deterministic in-memory mock.
type Client interface {
	// ListFolders returns the account's folders with counts.
	ListFolders(ctx context.Context) ([]types.MailFolder, error)

	// ListMessages returns a newest-first page of messages from a folder and
	// the folder's total message count. Listed messages carry headers and
	// flags only; bodies come from GetMessage.
	ListMessages(ctx context.Context, folderID string, limit, offset int) ([]types.MailMessage, int, error)

	// GetMessage returns the full message including its parsed body.
	GetMessage(ctx context.Context, folderID, messageID string) (*types.MailMessage, error)

	// SendMessage submits a composed message. It fails with ErrNoRecipients
	// before touching the network when no recipient is present.
	SendMessage(ctx context.Context, msg *types.ComposerData) error

	// SaveDraft stores a composed message in the drafts folder without
	// sending it and returns the stored draft.
	SaveDraft(ctx context.Context, msg *types.ComposerData) (*types.MailMessage, error)

	// GetAttachment downloads one attachment body of a message.
	GetAttachment(ctx context.Context, folderID, messageID, attachmentID string) (*AttachmentData, error)

	// MarkRead sets or clears the read flag.
	MarkRead(ctx context.Context, folderID, messageID string, read bool) error

	// MarkStarred sets or clears the starred flag.
	MarkStarred(ctx context.Context, folderID, messageID string, starred bool) error

	// MoveMessage moves a message between folders.
	MoveMessage(ctx context.Context, messageID, fromFolderID, toFolderID string) error

	// DeleteMessage deletes a message. Without permanent it is moved to the
	// trash folder instead.
	DeleteMessage(ctx context.Context, folderID, messageID string, permanent bool) error

	// Search returns messages in a folder matching the query.
	Search(ctx context.Context, folderID, query string) ([]types.MailMessage, error)

	// Close releases any held connections.
	Close() error
}

// Mode selects a Client implementation.
type Mode string

const (
	ModeIMAP    Mode = "imap"
	ModeGateway Mode = "gateway"
	ModeMock    Mode = "mock"
)

// Factory builds clients for accounts. The gateway base URL is only used in
// gateway mode.
type Factory struct {
	mode           Mode
	gatewayBaseURL string
	logger         *logrus.Logger
}

// NewFactory creates a client factory for the given mode.
func NewFactory(mode Mode, gatewayBaseURL string, logger *logrus.Logger) (*Factory, error) {
	switch mode {
	case ModeIMAP, ModeMock:
	case ModeGateway:
		if gatewayBaseURL == "" {
			return nil, fmt.Errorf("gateway mode requires a base URL")
		}
	default:
		return nil, fmt.Errorf("unknown mailbox client mode %q", mode)
	}
	return &Factory{mode: mode, gatewayBaseURL: gatewayBaseURL, logger: logger}, nil
}

// ClientFor returns a client bound to the account.
func (f *Factory) ClientFor(account *types.MailAccount) (Client, error) {
	switch f.mode {
	case ModeIMAP:
		return NewIMAPMailbox(account, f.logger), nil
	case ModeGateway:
		return NewGatewayMailbox(f.gatewayBaseURL, account, f.logger), nil
	case ModeMock:
		return NewMockMailbox(account), nil
	}
	return nil, fmt.Errorf("unknown mailbox client mode %q", f.mode)
}

// recipientCount totals the addresses across all recipient fields.
func recipientCount(msg *types.ComposerData) int {
	return len(msg.To) + len(msg.Cc) + len(msg.Bcc)
}
