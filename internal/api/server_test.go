package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"path/filepath"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcrm/mailgate/internal/connection"
	"github.com/nexcrm/mailgate/internal/discovery"
	"github.com/nexcrm/mailgate/internal/mailbox"
	"github.com/nexcrm/mailgate/internal/orchestrator"
	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/internal/store"
	"github.com/nexcrm/mailgate/pkg/types"
)

func newTestServer(t *testing.T, authToken string) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	confCache := discovery.NewConfigCache()
	engine := discovery.NewEngine(providers.NewDirectory(), confCache, logger)

	tester := connection.NewTester(logger)
	tester.SetDialers(
		func(ctx context.Context, s types.ServerSettings) error { return nil },
		func(ctx context.Context, s types.ServerSettings) error { return nil },
	)

	factory, err := mailbox.NewFactory(mailbox.ModeMock, "", logger)
	require.NoError(t, err)
	orch, err := orchestrator.New(factory, nil, engine, tester, confCache, logger)
	require.NoError(t, err)

	return NewServer(orch, logger, authToken), orch
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func addTestAccount(t *testing.T, s *Server) types.MailAccount {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/mail/accounts", types.MailAccount{
		Name:  "Test User",
		Email: "test@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acc types.MailAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	return acc
}

func TestDiscoverEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/mail/discover", map[string]string{
		"email":        "someone@gmail.com",
		"display_name": "Someone",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.DiscoveredConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, types.MethodProviderDB, result.Method)
	assert.True(t, result.RequiresOAuth)

	rec = doJSON(t, s, http.MethodPost, "/api/mail/discover", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestConnectionEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/mail/test-connection", map[string]interface{}{
		"email": "test@example.com",
		"settings": types.AccountSettings{
			Incoming: types.ServerSettings{Server: "imap.example.com", Port: 993, SSL: true, Username: "u", Password: "p"},
			Outgoing: types.ServerSettings{Server: "smtp.example.com", Port: 587, SSL: true, Username: "u", Password: "p"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result connection.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestAccountLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")

	acc := addTestAccount(t, s)
	assert.True(t, acc.IsDefault)

	rec := doJSON(t, s, http.MethodGet, "/api/mail/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Accounts []types.MailAccount `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Accounts, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	rec = doJSON(t, s, http.MethodPatch, "/api/mail/accounts/"+acc.ID, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed types.MailAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renamed))
	assert.Equal(t, "Renamed", renamed.Name)

	rec = doJSON(t, s, http.MethodDelete, "/api/mail/accounts/"+acc.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFoldersEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID+"/folders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Folders []types.MailFolder `json:"folders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Folders, 4)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/missing/folders", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)
	base := "/api/mail/accounts/" + acc.ID

	rec := doJSON(t, s, http.MethodGet, base+"/folders/INBOX/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []types.MailMessage `json:"messages"`
		Total    int                 `json:"total"`
		Limit    int                 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Messages, 2)

	msgID := page.Messages[0].ID
	rec = doJSON(t, s, http.MethodGet, base+"/folders/INBOX/messages/"+msgID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, base+"/messages/"+msgID+"/read", map[string]interface{}{
		"folder_id": "INBOX", "is_read": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, base+"/messages/"+msgID+"/star", map[string]interface{}{
		"folder_id": "INBOX", "is_starred": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, base+"/messages/"+msgID+"/move", map[string]interface{}{
		"from_folder_id": "INBOX", "folder_id": "Drafts",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, base+"/messages/"+msgID, map[string]interface{}{
		"folder_id": "Drafts", "permanent": false,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, base+"/folders/Trash/messages/"+msgID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID+"/search?q=quarterly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Messages []types.MailMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Messages, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID+"/search?q=example.com&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out.Messages = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Messages, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID+"/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("accountId", acc.ID))
	require.NoError(t, writer.WriteField("subject", "hello"))
	to, _ := json.Marshal([]types.MailContact{{Email: "dest@example.com"}})
	require.NoError(t, writer.WriteField("to", string(to)))
	msgBody, _ := json.Marshal(types.MailBody{Text: "hi"})
	require.NoError(t, writer.WriteField("body", string(msgBody)))
	part, err := writer.CreateFormFile("attachments", "a.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("attachment body"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/mail/send", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSendEndpointRejectsNoRecipients(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("accountId", acc.ID))
	require.NoError(t, writer.WriteField("subject", "empty"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/mail/send", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipients")
}

func TestSyncEndpoints(t *testing.T) {
	s, orch := newTestServer(t, "")
	acc := addTestAccount(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/mail/accounts/"+acc.ID+"/sync", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		status, err := orch.SyncStatus(acc.ID)
		return err == nil && status.Progress != nil && status.Progress.Stage == types.StageComplete
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/accounts/"+acc.ID+"/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status types.MailSyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, acc.ID, status.AccountID)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/sync/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/mail/sync", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/mail/accounts/missing/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftAndAttachmentEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")
	acc := addTestAccount(t, s)
	base := "/api/mail/accounts/" + acc.ID

	rec := doJSON(t, s, http.MethodPost, base+"/drafts", types.ComposerData{
		To:      []types.MailContact{{Email: "dest@example.com"}},
		Subject: "unfinished reply",
		Body:    types.MailBody{Text: "still thinking"},
		Attachments: []types.ComposerAttachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("scratch notes")},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft types.MailMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "Drafts", draft.FolderID)
	require.Len(t, draft.Attachments, 1)

	attPath := base + "/folders/Drafts/messages/" + draft.ID + "/attachments/" + draft.Attachments[0].ID
	rec = doJSON(t, s, http.MethodGet, attPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scratch notes", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "notes.txt")

	rec = doJSON(t, s, http.MethodGet, base+"/folders/Drafts/messages/"+draft.ID+"/attachments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCachedSearchEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st, err := store.Open(filepath.Join(t.TempDir(), "mail.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	factory, err := mailbox.NewFactory(mailbox.ModeMock, "", logger)
	require.NoError(t, err)
	orch, err := orchestrator.New(factory, st, nil, nil, nil, logger)
	require.NoError(t, err)
	s := NewServer(orch, logger, "")

	acc := addTestAccount(t, s)
	require.NoError(t, st.SaveMessage(&types.MailMessage{
		ID:         "301",
		AccountID:  acc.ID,
		FolderID:   "INBOX",
		Subject:    "invoice for march",
		From:       types.MailContact{Email: "billing@example.com"},
		Snippet:    "your invoice is attached",
		ReceivedAt: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/mail/search?q=invoice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Hits []store.SearchHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "301", out.Hits[0].MessageID)

	rec = doJSON(t, s, http.MethodGet, "/api/mail/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	s, _ := newTestServer(t, "sekrit")

	rec := doJSON(t, s, http.MethodGet, "/api/mail/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/mail/accounts", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
