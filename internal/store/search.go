package store

import (
	"fmt"
	"strings"
)

// SearchMessages runs a full-text search over subject, sender and body of the
// cached messages. An empty accountID searches all accounts.
func (s *Store) SearchMessages(accountID, query string, limit int) ([]SearchHit, error) {
	// FTS5 treats quotes as syntax.
	query = strings.ReplaceAll(query, "\"", "\"\"")
	query = "\"" + query + "\""

	conditions := []string{"m.rowid IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)"}
	args := []interface{}{query}
	if accountID != "" {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, accountID)
	}

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)

	sqlQuery := fmt.Sprintf(`
		SELECT m.id, m.account_id, m.folder_id, m.subject, m.sender_name, m.sender_email, m.snippet
		FROM messages m
		WHERE %s
		ORDER BY m.received_at DESC
		LIMIT ?`, strings.Join(conditions, " AND "))

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MessageID, &h.AccountID, &h.FolderID, &h.Subject, &h.SenderName, &h.SenderEmail, &h.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchHit is one full-text search result.
type SearchHit struct {
	MessageID   string `json:"message_id"`
	AccountID   string `json:"account_id"`
	FolderID    string `json:"folder_id"`
	Subject     string `json:"subject"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderEmail string `json:"sender_email"`
	Snippet     string `json:"snippet,omitempty"`
}
