package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/pkg/types"
)

const snippetLength = 160

// IMAPMailbox talks IMAP for reads and SMTP submission for sends, using the
// account's own server settings.
type IMAPMailbox struct {
	account   *types.MailAccount
	client    *client.Client
	logger    *logrus.Logger
	connected bool
}

// NewIMAPMailbox creates a client for the account. It does not connect until
// the first operation.
func NewIMAPMailbox(account *types.MailAccount, logger *logrus.Logger) *IMAPMailbox {
	return &IMAPMailbox{account: account, logger: logger}
}

func (m *IMAPMailbox) connect() error {
	if m.connected && m.client != nil {
		return nil
	}

	in := m.account.Settings.Incoming
	addr := fmt.Sprintf("%s:%d", in.Server, in.Port)

	var cl *client.Client
	var err error
	if in.SSL {
		cl, err = client.DialTLS(addr, &tls.Config{
			ServerName: in.Server,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(in.Username, in.Password); err != nil {
		m.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	m.client = cl
	m.connected = true
	m.logger.WithField("account", m.account.Email).Info("Connected to IMAP server")
	return nil
}

// Close logs out of the IMAP session.
func (m *IMAPMailbox) Close() error {
	if m.client != nil {
		err := m.client.Logout()
		m.client = nil
		m.connected = false
		return err
	}
	return nil
}

// ListFolders lists all mailboxes with their counts and classified types.
func (m *IMAPMailbox) ListFolders(ctx context.Context) ([]types.MailFolder, error) {
	if err := m.connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for mb := range mailboxes {
		infos = append(infos, mb)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make([]types.MailFolder, 0, len(infos))
	for _, mb := range infos {
		folder := types.MailFolder{
			ID:          mb.Name,
			AccountID:   m.account.ID,
			Name:        mb.Name,
			DisplayName: displayNameOf(mb.Name),
			Type:        providers.ClassifyFolder(mb.Name, mb.Attributes),
			Path:        mb.Name,
			Attributes:  mb.Attributes,
		}

		status, err := m.client.Status(mb.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
		if err != nil {
			m.logger.WithError(err).WithField("folder", mb.Name).Warn("Failed to get folder status")
		} else {
			folder.TotalCount = int(status.Messages)
			folder.UnreadCount = int(status.Unseen)
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// ListMessages fetches a newest-first page of message headers from a folder.
func (m *IMAPMailbox) ListMessages(ctx context.Context, folderID string, limit, offset int) ([]types.MailMessage, int, error) {
	if err := m.connect(); err != nil {
		return nil, 0, err
	}

	mbox, err := m.client.Select(folderID, false)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select folder: %w", err)
	}
	total := int(mbox.Messages)
	if total == 0 || offset >= total {
		return []types.MailMessage{}, total, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// Sequence numbers grow oldest to newest; a newest-first page is a range
	// counted back from the top.
	end := total - offset
	start := end - limit + 1
	if start < 1 {
		start = 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(uint32(start), uint32(end))

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, imap.FetchRFC822Size}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.Fetch(seqSet, items, messages)
	}()

	var page []types.MailMessage
	for msg := range messages {
		page = append(page, m.summarize(msg, folderID))
	}
	if err := <-done; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Reverse into newest-first order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, total, nil
}

// fetchFull fetches one message including its raw body section.
func (m *IMAPMailbox) fetchFull(folderID, messageID string) (*imap.Message, *imap.BodySectionName, error) {
	if err := m.connect(); err != nil {
		return nil, nil, err
	}

	uid, err := parseUID(messageID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.client.Select(folderID, false); err != nil {
		return nil, nil, fmt.Errorf("failed to select folder: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem()}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		found = msg
	}
	if err := <-done; err != nil {
		return nil, nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if found == nil {
		return nil, nil, ErrMessageNotFound
	}
	return found, section, nil
}

// GetMessage fetches one message in full and parses its MIME body.
func (m *IMAPMailbox) GetMessage(ctx context.Context, folderID, messageID string) (*types.MailMessage, error) {
	found, section, err := m.fetchFull(folderID, messageID)
	if err != nil {
		return nil, err
	}

	full := m.summarize(found, folderID)
	if literal := found.GetBody(section); literal != nil {
		env, err := enmime.ReadEnvelope(literal)
		if err != nil {
			m.logger.WithError(err).Debug("Failed to parse message with enmime")
		} else {
			full.Body = types.MailBody{Text: env.Text, HTML: env.HTML}
			full.Snippet = makeSnippet(env.Text)
			for i, att := range env.Attachments {
				full.Attachments = append(full.Attachments, types.MailAttachment{
					ID:          fmt.Sprintf("%s-att-%d", messageID, i),
					Filename:    att.FileName,
					ContentType: att.ContentType,
					Size:        int64(len(att.Content)),
					ContentID:   att.ContentID,
				})
			}
			for i, inl := range env.Inlines {
				full.Attachments = append(full.Attachments, types.MailAttachment{
					ID:          fmt.Sprintf("%s-inl-%d", messageID, i),
					Filename:    inl.FileName,
					ContentType: inl.ContentType,
					Size:        int64(len(inl.Content)),
					ContentID:   inl.ContentID,
					IsInline:    true,
				})
			}
		}
	}
	return &full, nil
}

// buildMIME renders the composed message into raw RFC 5322 bytes.
func (m *IMAPMailbox) buildMIME(msg *types.ComposerData) ([]byte, error) {
	builder := enmime.Builder().
		From(m.account.Name, m.account.Email).
		Subject(msg.Subject)
	for _, to := range msg.To {
		builder = builder.To(to.Name, to.Email)
	}
	for _, cc := range msg.Cc {
		builder = builder.CC(cc.Name, cc.Email)
	}
	for _, bcc := range msg.Bcc {
		builder = builder.BCC(bcc.Name, bcc.Email)
	}
	if msg.Body.Text != "" {
		builder = builder.Text([]byte(msg.Body.Text))
	}
	if msg.Body.HTML != "" {
		builder = builder.HTML([]byte(msg.Body.HTML))
	}
	for _, att := range msg.Attachments {
		builder = builder.AddAttachment(att.Content, att.ContentType, att.Filename)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// SendMessage builds a MIME message with enmime and submits it over SMTP.
func (m *IMAPMailbox) SendMessage(ctx context.Context, msg *types.ComposerData) error {
	if recipientCount(msg) == 0 {
		return ErrNoRecipients
	}

	out := m.account.Settings.Outgoing

	raw, err := m.buildMIME(msg)
	if err != nil {
		return err
	}

	recipients := make([]string, 0, recipientCount(msg))
	for _, c := range msg.To {
		recipients = append(recipients, c.Email)
	}
	for _, c := range msg.Cc {
		recipients = append(recipients, c.Email)
	}
	for _, c := range msg.Bcc {
		recipients = append(recipients, c.Email)
	}

	if err := m.submit(out, recipients, raw); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"account":    m.account.Email,
		"recipients": len(recipients),
	}).Info("Message sent")
	return nil
}

// submit pushes raw message bytes through the SMTP leg. Port 465 gets
// implicit TLS, everything else upgrades via STARTTLS.
func (m *IMAPMailbox) submit(out types.ServerSettings, recipients []string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", out.Server, out.Port)
	tlsConfig := &tls.Config{
		ServerName: out.Server,
		MinVersion: tls.VersionTLS12,
	}

	var cl *smtp.Client
	if out.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		cl, err = smtp.NewClient(conn, out.Server)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		var err error
		cl, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		if err := cl.StartTLS(tlsConfig); err != nil {
			cl.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	defer cl.Close()

	if out.Password != "" {
		auth := smtp.PlainAuth("", out.Username, out.Password, out.Server)
		if err := cl.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := cl.Mail(m.account.Email); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range recipients {
		if err := cl.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}
	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return cl.Quit()
}

// SaveDraft appends the composed message to the drafts folder with the \Draft
// flag set.
func (m *IMAPMailbox) SaveDraft(ctx context.Context, msg *types.ComposerData) (*types.MailMessage, error) {
	if err := m.connect(); err != nil {
		return nil, err
	}

	raw, err := m.buildMIME(msg)
	if err != nil {
		return nil, err
	}
	folder, err := m.draftsFolder(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.client.Append(folder, []string{imap.DraftFlag}, now, bytes.NewBuffer(raw)); err != nil {
		return nil, fmt.Errorf("failed to append draft: %w", err)
	}

	return &types.MailMessage{
		AccountID:  m.account.ID,
		Subject:    msg.Subject,
		From:       types.MailContact{Name: m.account.Name, Email: m.account.Email},
		To:         msg.To,
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		Body:       msg.Body,
		Snippet:    makeSnippet(msg.Body.Text),
		IsRead:     true,
		FolderID:   folder,
		ReceivedAt: now,
	}, nil
}

// GetAttachment fetches the message body and extracts one attachment. The
// attachment id encodes the part's position, matching the ids handed out by
// GetMessage.
func (m *IMAPMailbox) GetAttachment(ctx context.Context, folderID, messageID, attachmentID string) (*AttachmentData, error) {
	found, section, err := m.fetchFull(folderID, messageID)
	if err != nil {
		return nil, err
	}
	literal := found.GetBody(section)
	if literal == nil {
		return nil, ErrAttachmentNotFound
	}
	env, err := enmime.ReadEnvelope(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	for i, att := range env.Attachments {
		if fmt.Sprintf("%s-att-%d", messageID, i) == attachmentID {
			return &AttachmentData{Filename: att.FileName, ContentType: att.ContentType, Content: att.Content}, nil
		}
	}
	for i, inl := range env.Inlines {
		if fmt.Sprintf("%s-inl-%d", messageID, i) == attachmentID {
			return &AttachmentData{Filename: inl.FileName, ContentType: inl.ContentType, Content: inl.Content}, nil
		}
	}
	return nil, ErrAttachmentNotFound
}

// MarkRead toggles the \Seen flag.
func (m *IMAPMailbox) MarkRead(ctx context.Context, folderID, messageID string, read bool) error {
	return m.storeFlag(folderID, messageID, imap.SeenFlag, read)
}

// MarkStarred toggles the \Flagged flag.
func (m *IMAPMailbox) MarkStarred(ctx context.Context, folderID, messageID string, starred bool) error {
	return m.storeFlag(folderID, messageID, imap.FlaggedFlag, starred)
}

func (m *IMAPMailbox) storeFlag(folderID, messageID, flag string, set bool) error {
	if err := m.connect(); err != nil {
		return err
	}
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	if _, err := m.client.Select(folderID, false); err != nil {
		return fmt.Errorf("failed to select folder: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if !set {
		op = imap.FormatFlagsOp(imap.RemoveFlags, true)
	}
	if err := m.client.UidStore(seqSet, op, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}
	return nil
}

// MoveMessage copies the message to the destination, then deletes and
// expunges the source copy.
func (m *IMAPMailbox) MoveMessage(ctx context.Context, messageID, fromFolderID, toFolderID string) error {
	if err := m.connect(); err != nil {
		return err
	}
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	if _, err := m.client.Select(fromFolderID, false); err != nil {
		return fmt.Errorf("failed to select folder: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	if err := m.client.UidCopy(seqSet, toFolderID); err != nil {
		return fmt.Errorf("failed to copy message: %w", err)
	}
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqSet, op, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag message deleted: %w", err)
	}
	if err := m.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge folder: %w", err)
	}
	return nil
}

// DeleteMessage moves the message to trash, or expunges it when permanent.
func (m *IMAPMailbox) DeleteMessage(ctx context.Context, folderID, messageID string, permanent bool) error {
	if !permanent {
		trash, err := m.trashFolder(ctx)
		if err != nil {
			return err
		}
		return m.MoveMessage(ctx, messageID, folderID, trash)
	}

	if err := m.connect(); err != nil {
		return err
	}
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	if _, err := m.client.Select(folderID, false); err != nil {
		return fmt.Errorf("failed to select folder: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqSet, op, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag message deleted: %w", err)
	}
	if err := m.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge folder: %w", err)
	}
	return nil
}

func (m *IMAPMailbox) trashFolder(ctx context.Context) (string, error) {
	return m.folderOfType(ctx, types.FolderTrash, "Trash")
}

func (m *IMAPMailbox) draftsFolder(ctx context.Context) (string, error) {
	return m.folderOfType(ctx, types.FolderDrafts, "Drafts")
}

func (m *IMAPMailbox) folderOfType(ctx context.Context, typ types.FolderType, fallback string) (string, error) {
	folders, err := m.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if f.Type == typ {
			return f.Name, nil
		}
	}
	return fallback, nil
}

// Search runs a server-side TEXT search in a folder and returns summaries of
// the matching messages.
func (m *IMAPMailbox) Search(ctx context.Context, folderID, query string) ([]types.MailMessage, error) {
	if err := m.connect(); err != nil {
		return nil, err
	}
	if _, err := m.client.Select(folderID, false); err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Text = []string{query}
	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []types.MailMessage{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, imap.FetchRFC822Size}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var results []types.MailMessage
	for msg := range messages {
		results = append(results, m.summarize(msg, folderID))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch search results: %w", err)
	}
	return results, nil
}

// summarize maps the fetched IMAP envelope and flags into a message summary.
func (m *IMAPMailbox) summarize(msg *imap.Message, folderID string) types.MailMessage {
	out := types.MailMessage{
		ID:        strconv.FormatUint(uint64(msg.Uid), 10),
		AccountID: m.account.ID,
		FolderID:  folderID,
		Size:      int64(msg.Size),
	}

	if msg.Envelope != nil {
		out.MessageID = msg.Envelope.MessageId
		out.Subject = msg.Envelope.Subject
		out.ReceivedAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			out.From = toContact(msg.Envelope.From[0])
		}
		out.To = toContacts(msg.Envelope.To)
		out.Cc = toContacts(msg.Envelope.Cc)
		out.Bcc = toContacts(msg.Envelope.Bcc)
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = msg.InternalDate
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			out.IsRead = true
		case imap.FlaggedFlag:
			out.IsStarred = true
			out.IsFlagged = true
		}
	}
	return out
}

func toContact(addr *imap.Address) types.MailContact {
	return types.MailContact{Name: addr.PersonalName, Email: addr.Address()}
}

func toContacts(addrs []*imap.Address) []types.MailContact {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]types.MailContact, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, toContact(a))
	}
	return out
}

func parseUID(messageID string) (uint32, error) {
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	return uint32(uid), nil
}

func makeSnippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetLength {
		return text
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func displayNameOf(name string) string {
	if name == "INBOX" {
		return "Inbox"
	}
	if i := strings.LastIndexAny(name, "/."); i >= 0 && i+1 < len(name) {
		return name[i+1:]
	}
	return name
}
