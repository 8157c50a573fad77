package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/pkg/types"
)

const gatewayTimeout = 30 * time.Second

// GatewayMailbox delegates mailbox operations to a backend mail gateway over
// its REST dialect instead of speaking IMAP/SMTP directly.
type GatewayMailbox struct {
	baseURL    string
	account    *types.MailAccount
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewGatewayMailbox creates a client for the account against the gateway at
// baseURL.
func NewGatewayMailbox(baseURL string, account *types.MailAccount, logger *logrus.Logger) *GatewayMailbox {
	return &GatewayMailbox{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		account:    account,
		httpClient: &http.Client{Timeout: gatewayTimeout},
		logger:     logger,
	}
}

// SetHTTPClient replaces the HTTP client. Used by tests.
func (g *GatewayMailbox) SetHTTPClient(c *http.Client) { g.httpClient = c }

// Close is a no-op; the gateway client holds no persistent connection.
func (g *GatewayMailbox) Close() error { return nil }

func (g *GatewayMailbox) accountPath() string {
	return "/api/mail/accounts/" + url.PathEscape(g.account.ID)
}

func (g *GatewayMailbox) ListFolders(ctx context.Context) ([]types.MailFolder, error) {
	var out struct {
		Folders []types.MailFolder `json:"folders"`
	}
	if err := g.doJSON(ctx, http.MethodGet, g.accountPath()+"/folders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

func (g *GatewayMailbox) ListMessages(ctx context.Context, folderID string, limit, offset int) ([]types.MailMessage, int, error) {
	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	path := g.accountPath() + "/folders/" + url.PathEscape(folderID) + "/messages"
	var out struct {
		Messages []types.MailMessage `json:"messages"`
		Total    int                 `json:"total"`
	}
	if err := g.doJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Messages, out.Total, nil
}

func (g *GatewayMailbox) GetMessage(ctx context.Context, folderID, messageID string) (*types.MailMessage, error) {
	path := g.accountPath() + "/folders/" + url.PathEscape(folderID) + "/messages/" + url.PathEscape(messageID)
	var out types.MailMessage
	if err := g.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts the composed message as a multipart form: accountId,
// subject, and the to/cc/bcc and body fields as JSON, attachments as file
// parts.
func (g *GatewayMailbox) SendMessage(ctx context.Context, msg *types.ComposerData) error {
	if recipientCount(msg) == 0 {
		return ErrNoRecipients
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("accountId", g.account.ID); err != nil {
		return fmt.Errorf("failed to write accountId field: %w", err)
	}
	if err := writer.WriteField("subject", msg.Subject); err != nil {
		return fmt.Errorf("failed to write subject field: %w", err)
	}
	recipientFields := []struct {
		name     string
		contacts []types.MailContact
	}{{"to", msg.To}, {"cc", msg.Cc}, {"bcc", msg.Bcc}}
	for _, f := range recipientFields {
		if len(f.contacts) == 0 {
			continue
		}
		encoded, err := json.Marshal(f.contacts)
		if err != nil {
			return fmt.Errorf("failed to encode %s field: %w", f.name, err)
		}
		if err := writer.WriteField(f.name, string(encoded)); err != nil {
			return fmt.Errorf("failed to write %s field: %w", f.name, err)
		}
	}
	bodyJSON, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to encode body field: %w", err)
	}
	if err := writer.WriteField("body", string(bodyJSON)); err != nil {
		return fmt.Errorf("failed to write body field: %w", err)
	}
	for _, att := range msg.Attachments {
		part, err := writer.CreateFormFile("attachments", att.Filename)
		if err != nil {
			return fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/mail/send", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mail gateway: %w", err)
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (g *GatewayMailbox) MarkRead(ctx context.Context, folderID, messageID string, read bool) error {
	body := map[string]interface{}{"folder_id": folderID, "is_read": read}
	return g.doJSON(ctx, http.MethodPatch, g.accountPath()+"/messages/"+url.PathEscape(messageID)+"/read", nil, body, nil)
}

func (g *GatewayMailbox) MarkStarred(ctx context.Context, folderID, messageID string, starred bool) error {
	body := map[string]interface{}{"folder_id": folderID, "is_starred": starred}
	return g.doJSON(ctx, http.MethodPatch, g.accountPath()+"/messages/"+url.PathEscape(messageID)+"/star", nil, body, nil)
}

func (g *GatewayMailbox) MoveMessage(ctx context.Context, messageID, fromFolderID, toFolderID string) error {
	body := map[string]interface{}{"from_folder_id": fromFolderID, "folder_id": toFolderID}
	return g.doJSON(ctx, http.MethodPatch, g.accountPath()+"/messages/"+url.PathEscape(messageID)+"/move", nil, body, nil)
}

func (g *GatewayMailbox) DeleteMessage(ctx context.Context, folderID, messageID string, permanent bool) error {
	body := map[string]interface{}{"folder_id": folderID, "permanent": permanent}
	return g.doJSON(ctx, http.MethodDelete, g.accountPath()+"/messages/"+url.PathEscape(messageID), nil, body, nil)
}

// SaveDraft posts the composed message to the drafts endpoint and returns the
// stored draft.
func (g *GatewayMailbox) SaveDraft(ctx context.Context, msg *types.ComposerData) (*types.MailMessage, error) {
	payload := *msg
	payload.AccountID = g.account.ID
	var out types.MailMessage
	if err := g.doJSON(ctx, http.MethodPost, g.accountPath()+"/drafts", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAttachment downloads one attachment body from the gateway.
func (g *GatewayMailbox) GetAttachment(ctx context.Context, folderID, messageID, attachmentID string) (*AttachmentData, error) {
	endpoint := g.baseURL + g.accountPath() +
		"/folders/" + url.PathEscape(folderID) +
		"/messages/" + url.PathEscape(messageID) +
		"/attachments/" + url.PathEscape(attachmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach mail gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAttachmentNotFound
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	att := &AttachmentData{ContentType: resp.Header.Get("Content-Type"), Content: content}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		att.Filename = params["filename"]
	}
	return att, nil
}

func (g *GatewayMailbox) Search(ctx context.Context, folderID, query string) ([]types.MailMessage, error) {
	values := url.Values{
		"folderId": {folderID},
		"q":        {query},
	}
	var out struct {
		Messages []types.MailMessage `json:"messages"`
	}
	if err := g.doJSON(ctx, http.MethodGet, g.accountPath()+"/search", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// doJSON performs one request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (g *GatewayMailbox) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mail gateway: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

// checkResponse maps non-2xx responses to errors, surfacing the gateway's
// error message when it sent one.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrMessageNotFound
	}

	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("mail gateway: %s", payload.Error)
	}
	return fmt.Errorf("mail gateway returned status %d", resp.StatusCode)
}
