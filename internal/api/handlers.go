package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nexcrm/mailgate/internal/mailbox"
	"github.com/nexcrm/mailgate/internal/store"
	"github.com/nexcrm/mailgate/pkg/types"
)

const maxAttachmentSize = 25 << 20

func (s *Server) handleDiscover(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := s.orch.DiscoverConfig(c.Request.Context(), req.Email, req.DisplayName)
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTestConnection(c *gin.Context) {
	var req struct {
		Email    string                `json:"email"`
		Settings types.AccountSettings `json:"settings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := s.orch.TestConnection(c.Request.Context(), req.Email, req.Settings)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.orch.ListAccounts()})
}

func (s *Server) handleAddAccount(c *gin.Context) {
	var acc types.MailAccount
	if err := c.ShouldBindJSON(&acc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.orch.AddAccount(c.Request.Context(), acc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	acc, err := s.orch.GetAccount(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	var acc types.MailAccount
	if err := c.ShouldBindJSON(&acc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc.ID = c.Param("id")
	updated, err := s.orch.UpdateAccount(c.Request.Context(), acc)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	if err := s.orch.DeleteAccount(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListFolders(c *gin.Context) {
	folders, err := s.orch.Folders(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, total, err := s.orch.Messages(c.Request.Context(), c.Param("id"), c.Param("folderId"), limit, offset)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleGetMessage(c *gin.Context) {
	msg, err := s.orch.GetMessage(c.Request.Context(), c.Param("id"), c.Param("folderId"), c.Param("messageId"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleGetAttachment(c *gin.Context) {
	att, err := s.orch.GetAttachment(c.Request.Context(), c.Param("id"), c.Param("folderId"), c.Param("messageId"), c.Param("attachmentId"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	c.Data(http.StatusOK, contentType, att.Content)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req struct {
		FolderID string `json:"folder_id" binding:"required"`
		IsRead   bool   `json:"is_read"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.MarkRead(c.Request.Context(), c.Param("id"), req.FolderID, c.Param("messageId"), req.IsRead); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleMarkStarred(c *gin.Context) {
	var req struct {
		FolderID  string `json:"folder_id" binding:"required"`
		IsStarred bool   `json:"is_starred"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.MarkStarred(c.Request.Context(), c.Param("id"), req.FolderID, c.Param("messageId"), req.IsStarred); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleMoveMessage(c *gin.Context) {
	var req struct {
		FromFolderID string `json:"from_folder_id" binding:"required"`
		FolderID     string `json:"folder_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.MoveMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), req.FromFolderID, req.FolderID); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	var req struct {
		FolderID  string `json:"folder_id" binding:"required"`
		Permanent bool   `json:"permanent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.DeleteMessage(c.Request.Context(), c.Param("id"), req.FolderID, c.Param("messageId"), req.Permanent); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSaveDraft(c *gin.Context) {
	var msg types.ComposerData
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg.AccountID = c.Param("id")
	draft, err := s.orch.SaveDraft(c.Request.Context(), &msg)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draft)
}

// handleSend accepts a multipart form: an accountId field, a subject field,
// to/cc/bcc and body fields holding JSON, and zero or more "attachments" file
// parts.
func (s *Server) handleSend(c *gin.Context) {
	var msg types.ComposerData
	msg.AccountID = c.PostForm("accountId")
	if msg.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId field is required"})
		return
	}
	msg.Subject = c.PostForm("subject")
	for _, field := range []struct {
		name string
		dst  *[]types.MailContact
	}{{"to", &msg.To}, {"cc", &msg.Cc}, {"bcc", &msg.Bcc}} {
		raw := c.PostForm(field.name)
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), field.dst); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field.name + " field"})
			return
		}
	}
	if raw := c.PostForm("body"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body field"})
			return
		}
	}

	form, err := c.MultipartForm()
	if err == nil && form != nil {
		for _, fh := range form.File["attachments"] {
			if fh.Size > maxAttachmentSize {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read attachment"})
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read attachment"})
				return
			}
			msg.Attachments = append(msg.Attachments, types.ComposerAttachment{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     content,
			})
		}
	}

	if err := s.orch.SendMessage(c.Request.Context(), &msg); err != nil {
		if errors.Is(err, mailbox.ErrNoRecipients) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	folderID := c.DefaultQuery("folderId", "INBOX")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	messages, err := s.orch.Search(c.Request.Context(), c.Param("id"), folderID, query)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// handleSearchCached searches the persistent message cache across accounts
// with SQLite full-text search.
func (s *Server) handleSearchCached(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	hits, err := s.orch.SearchCached(c.Query("account_id"), query, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	status, err := s.orch.SyncStatus(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAllSyncStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": s.orch.AllSyncStatuses()})
}

// handleTriggerSync starts a sync for one account in the background and
// returns immediately.
func (s *Server) handleTriggerSync(c *gin.Context) {
	accountID := c.Param("id")
	if _, err := s.orch.GetAccount(accountID); err != nil {
		s.renderError(c, err)
		return
	}
	go func() {
		s.orch.Sync(context.Background(), accountID) //nolint:errcheck
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

func (s *Server) handleSyncAll(c *gin.Context) {
	go s.orch.SyncAll(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, mailbox.ErrMessageNotFound),
		errors.Is(err, mailbox.ErrFolderNotFound),
		errors.Is(err, mailbox.ErrAttachmentNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
