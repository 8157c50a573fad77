package mailbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

// MockMailbox is a deterministic in-memory mailbox for tests and local
// development. It seeds the standard folders with a fixed set of messages and
// implements the full Client contract against them.
type MockMailbox struct {
	mu          sync.Mutex
	account     *types.MailAccount
	folders     []types.MailFolder
	messages    map[string][]types.MailMessage
	attachments map[string][]byte
	sendLog     []types.ComposerData
	draftSeq    int
}

// NewMockMailbox creates a mock seeded with the default folder layout and
// three inbox messages.
func NewMockMailbox(account *types.MailAccount) *MockMailbox {
	m := &MockMailbox{
		account:     account,
		messages:    map[string][]types.MailMessage{},
		attachments: map[string][]byte{},
	}
	for _, f := range providers.DefaultFolders {
		m.folders = append(m.folders, types.MailFolder{
			ID:          f.Name,
			AccountID:   account.ID,
			Name:        f.Name,
			DisplayName: f.DisplayName,
			Type:        f.Type,
			Path:        f.Name,
			Attributes:  f.Attributes,
		})
	}

	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	seed := []struct {
		subject string
		from    types.MailContact
		text    string
		read    bool
	}{
		{"Welcome to your mailbox", types.MailContact{Name: "Postmaster", Email: "postmaster@example.com"}, "Your account is ready.", true},
		{"Quarterly report draft", types.MailContact{Name: "Dana Reeve", Email: "dana@example.com"}, "Attached is the draft for review.", false},
		{"Lunch on Thursday?", types.MailContact{Name: "Sam Ortiz", Email: "sam@example.com"}, "Does noon work for you?", false},
	}
	for i, s := range seed {
		msg := types.MailMessage{
			ID:         fmt.Sprintf("%d", i+1),
			AccountID:  account.ID,
			MessageID:  fmt.Sprintf("<seed-%d@example.com>", i+1),
			Subject:    s.subject,
			From:       s.from,
			To:         []types.MailContact{{Name: account.Name, Email: account.Email}},
			Body:       types.MailBody{Text: s.text},
			Snippet:    s.text,
			IsRead:     s.read,
			FolderID:   "INBOX",
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
			Size:       int64(512 + i*128),
		}
		m.messages["INBOX"] = append(m.messages["INBOX"], msg)
	}
	return m
}

// SentMessages returns everything passed to SendMessage, oldest first.
func (m *MockMailbox) SentMessages() []types.ComposerData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ComposerData, len(m.sendLog))
	copy(out, m.sendLog)
	return out
}

func (m *MockMailbox) Close() error { return nil }

func (m *MockMailbox) ListFolders(ctx context.Context) ([]types.MailFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.MailFolder, len(m.folders))
	copy(out, m.folders)
	for i := range out {
		total, unread := 0, 0
		for _, msg := range m.messages[out[i].ID] {
			total++
			if !msg.IsRead {
				unread++
			}
		}
		out[i].TotalCount = total
		out[i].UnreadCount = unread
	}
	return out, nil
}

func (m *MockMailbox) ListMessages(ctx context.Context, folderID string, limit, offset int) ([]types.MailMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.folderExists(folderID) {
		return nil, 0, ErrFolderNotFound
	}
	msgs := append([]types.MailMessage(nil), m.messages[folderID]...)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})

	total := len(msgs)
	if limit <= 0 {
		limit = 50
	}
	if offset >= total {
		return []types.MailMessage{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return msgs[offset:end], total, nil
}

func (m *MockMailbox) GetMessage(ctx context.Context, folderID, messageID string) (*types.MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, _, err := m.find(folderID, messageID)
	if err != nil {
		return nil, err
	}
	out := *msg
	return &out, nil
}

func (m *MockMailbox) SendMessage(ctx context.Context, msg *types.ComposerData) error {
	if recipientCount(msg) == 0 {
		return ErrNoRecipients
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendLog = append(m.sendLog, *msg)

	sent := types.MailMessage{
		ID:         fmt.Sprintf("sent-%d", len(m.sendLog)),
		AccountID:  m.account.ID,
		Subject:    msg.Subject,
		From:       types.MailContact{Name: m.account.Name, Email: m.account.Email},
		To:         msg.To,
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		Body:       msg.Body,
		Snippet:    msg.Body.Text,
		IsRead:     true,
		FolderID:   "Sent",
		ReceivedAt: time.Now().UTC(),
	}
	m.messages["Sent"] = append(m.messages["Sent"], sent)
	return nil
}

func (m *MockMailbox) SaveDraft(ctx context.Context, msg *types.ComposerData) (*types.MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.draftSeq++
	draft := types.MailMessage{
		ID:         fmt.Sprintf("draft-%d", m.draftSeq),
		AccountID:  m.account.ID,
		Subject:    msg.Subject,
		From:       types.MailContact{Name: m.account.Name, Email: m.account.Email},
		To:         msg.To,
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		Body:       msg.Body,
		Snippet:    msg.Body.Text,
		IsRead:     true,
		FolderID:   "Drafts",
		ReceivedAt: time.Now().UTC(),
	}
	for i, att := range msg.Attachments {
		attID := fmt.Sprintf("%s-att-%d", draft.ID, i)
		draft.Attachments = append(draft.Attachments, types.MailAttachment{
			ID:          attID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        int64(len(att.Content)),
		})
		m.attachments[attID] = att.Content
	}
	m.messages["Drafts"] = append(m.messages["Drafts"], draft)
	out := draft
	return &out, nil
}

func (m *MockMailbox) GetAttachment(ctx context.Context, folderID, messageID, attachmentID string) (*AttachmentData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, _, err := m.find(folderID, messageID)
	if err != nil {
		return nil, err
	}
	for _, att := range msg.Attachments {
		if att.ID == attachmentID {
			return &AttachmentData{
				Filename:    att.Filename,
				ContentType: att.ContentType,
				Content:     m.attachments[att.ID],
			}, nil
		}
	}
	return nil, ErrAttachmentNotFound
}

func (m *MockMailbox) MarkRead(ctx context.Context, folderID, messageID string, read bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, _, err := m.find(folderID, messageID)
	if err != nil {
		return err
	}
	msg.IsRead = read
	return nil
}

func (m *MockMailbox) MarkStarred(ctx context.Context, folderID, messageID string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, _, err := m.find(folderID, messageID)
	if err != nil {
		return err
	}
	msg.IsStarred = starred
	msg.IsFlagged = starred
	return nil
}

func (m *MockMailbox) MoveMessage(ctx context.Context, messageID, fromFolderID, toFolderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.folderExists(toFolderID) {
		return ErrFolderNotFound
	}
	msg, idx, err := m.find(fromFolderID, messageID)
	if err != nil {
		return err
	}
	moved := *msg
	moved.FolderID = toFolderID
	m.messages[fromFolderID] = append(m.messages[fromFolderID][:idx], m.messages[fromFolderID][idx+1:]...)
	m.messages[toFolderID] = append(m.messages[toFolderID], moved)
	return nil
}

func (m *MockMailbox) DeleteMessage(ctx context.Context, folderID, messageID string, permanent bool) error {
	if !permanent {
		return m.MoveMessage(ctx, messageID, folderID, "Trash")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, idx, err := m.find(folderID, messageID)
	if err != nil {
		return err
	}
	m.messages[folderID] = append(m.messages[folderID][:idx], m.messages[folderID][idx+1:]...)
	return nil
}

func (m *MockMailbox) Search(ctx context.Context, folderID, query string) ([]types.MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.folderExists(folderID) {
		return nil, ErrFolderNotFound
	}
	needle := strings.ToLower(query)
	var out []types.MailMessage
	for _, msg := range m.messages[folderID] {
		haystack := strings.ToLower(msg.Subject + " " + msg.From.Email + " " + msg.From.Name + " " + msg.Body.Text)
		if strings.Contains(haystack, needle) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MockMailbox) folderExists(folderID string) bool {
	for _, f := range m.folders {
		if f.ID == folderID {
			return true
		}
	}
	return false
}

func (m *MockMailbox) find(folderID, messageID string) (*types.MailMessage, int, error) {
	if !m.folderExists(folderID) {
		return nil, 0, ErrFolderNotFound
	}
	for i := range m.messages[folderID] {
		if m.messages[folderID][i].ID == messageID {
			return &m.messages[folderID][i], i, nil
		}
	}
	return nil, 0, ErrMessageNotFound
}
