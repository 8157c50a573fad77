package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nexcrm/mailgate/pkg/types"
)

// SaveFolders replaces the stored folder list of an account.
func (s *Store) SaveFolders(accountID string, folders []types.MailFolder) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM folders WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}
	for _, f := range folders {
		_, err := tx.Exec(`
			INSERT INTO folders (id, account_id, name, display_name, type, path, unread_count, total_count, last_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			f.ID, accountID, f.Name, f.DisplayName, string(f.Type), f.Path, f.UnreadCount, f.TotalCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert folder %s: %w", f.Name, err)
		}
	}
	return tx.Commit()
}

// ListFolders returns the stored folders of an account.
func (s *Store) ListFolders(accountID string) ([]types.MailFolder, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, name, display_name, type, path, unread_count, total_count
		FROM folders WHERE account_id = ? ORDER BY path`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	var folders []types.MailFolder
	for rows.Next() {
		var f types.MailFolder
		var typ string
		if err := rows.Scan(&f.ID, &f.AccountID, &f.Name, &f.DisplayName, &typ, &f.Path, &f.UnreadCount, &f.TotalCount); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		f.Type = types.FolderType(typ)
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SaveMessage inserts or updates one cached message.
func (s *Store) SaveMessage(msg *types.MailMessage) error {
	recipients, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	query := `
		INSERT INTO messages (id, account_id, folder_id, message_id, subject,
			sender_name, sender_email, recipients, body_text, body_html,
			is_read, is_starred, received_at, size, snippet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id, id) DO UPDATE SET
			message_id = excluded.message_id,
			subject = excluded.subject,
			sender_name = excluded.sender_name,
			sender_email = excluded.sender_email,
			recipients = excluded.recipients,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			received_at = excluded.received_at,
			size = excluded.size,
			snippet = excluded.snippet,
			cached_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.Exec(query,
		msg.ID, msg.AccountID, msg.FolderID, msg.MessageID, msg.Subject,
		msg.From.Name, msg.From.Email, string(recipients), msg.Body.Text, msg.Body.HTML,
		msg.IsRead, msg.IsStarred, msg.ReceivedAt, msg.Size, msg.Snippet,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListMessages returns a newest-first page of cached messages for a folder.
func (s *Store) ListMessages(accountID, folderID string, limit, offset int) ([]types.MailMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(messageSelect+`
		WHERE account_id = ? AND folder_id = ?
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?`, accountID, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteMessages removes cached messages of one folder.
func (s *Store) DeleteMessages(accountID, folderID string) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE account_id = ? AND folder_id = ?", accountID, folderID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

const messageSelect = `
	SELECT id, account_id, folder_id, message_id, subject,
		sender_name, sender_email, recipients, body_text, body_html,
		is_read, is_starred, received_at, size, snippet
	FROM messages`

func scanMessages(rows *sql.Rows) ([]types.MailMessage, error) {
	var messages []types.MailMessage
	for rows.Next() {
		var msg types.MailMessage
		var recipients, receivedAt string
		err := rows.Scan(
			&msg.ID, &msg.AccountID, &msg.FolderID, &msg.MessageID, &msg.Subject,
			&msg.From.Name, &msg.From.Email, &recipients, &msg.Body.Text, &msg.Body.HTML,
			&msg.IsRead, &msg.IsStarred, &receivedAt, &msg.Size, &msg.Snippet,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ReceivedAt = parseStoredTime(receivedAt)
		if recipients != "" {
			if err := json.Unmarshal([]byte(recipients), &msg.To); err != nil {
				return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
			}
		}
		msg.IsFlagged = msg.IsStarred
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
