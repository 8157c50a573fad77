package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nexcrm/mailgate/pkg/types"
)

// ErrAccountNotFound is returned when no account row matches the id.
var ErrAccountNotFound = fmt.Errorf("account not found")

// SaveAccount inserts or updates an account row.
func (s *Store) SaveAccount(acc *types.MailAccount) error {
	query := `
		INSERT INTO accounts (id, name, email, provider,
			imap_server, imap_port, imap_ssl, imap_username, imap_password,
			smtp_server, smtp_port, smtp_ssl, smtp_username, smtp_password,
			is_active, is_default, last_sync, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			provider = excluded.provider,
			imap_server = excluded.imap_server,
			imap_port = excluded.imap_port,
			imap_ssl = excluded.imap_ssl,
			imap_username = excluded.imap_username,
			imap_password = excluded.imap_password,
			smtp_server = excluded.smtp_server,
			smtp_port = excluded.smtp_port,
			smtp_ssl = excluded.smtp_ssl,
			smtp_username = excluded.smtp_username,
			smtp_password = excluded.smtp_password,
			is_active = excluded.is_active,
			is_default = excluded.is_default,
			last_sync = excluded.last_sync,
			updated_at = CURRENT_TIMESTAMP
	`
	in, out := acc.Settings.Incoming, acc.Settings.Outgoing
	_, err := s.db.Exec(query,
		acc.ID, acc.Name, acc.Email, acc.Provider,
		in.Server, in.Port, in.SSL, in.Username, in.Password,
		out.Server, out.Port, out.SSL, out.Username, out.Password,
		acc.IsActive, acc.IsDefault, nullTime(acc.LastSync), acc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(id string) (*types.MailAccount, error) {
	row := s.db.QueryRow(accountSelect+" WHERE id = ?", id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts() ([]types.MailAccount, error) {
	rows, err := s.db.Query(accountSelect + " ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.MailAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account. Folder and message rows cascade.
func (s *Store) DeleteAccount(id string) error {
	result, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const accountSelect = `
	SELECT id, name, email, provider,
		imap_server, imap_port, imap_ssl, imap_username, imap_password,
		smtp_server, smtp_port, smtp_ssl, smtp_username, smtp_password,
		is_active, is_default, last_sync, created_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*types.MailAccount, error) {
	var acc types.MailAccount
	var lastSync, createdAt sql.NullString
	err := row.Scan(
		&acc.ID, &acc.Name, &acc.Email, &acc.Provider,
		&acc.Settings.Incoming.Server, &acc.Settings.Incoming.Port, &acc.Settings.Incoming.SSL,
		&acc.Settings.Incoming.Username, &acc.Settings.Incoming.Password,
		&acc.Settings.Outgoing.Server, &acc.Settings.Outgoing.Port, &acc.Settings.Outgoing.SSL,
		&acc.Settings.Outgoing.Username, &acc.Settings.Outgoing.Password,
		&acc.IsActive, &acc.IsDefault, &lastSync, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		acc.LastSync = parseStoredTime(lastSync.String)
	}
	if createdAt.Valid {
		acc.CreatedAt = parseStoredTime(createdAt.String)
	}
	return &acc, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// SQLite hands datetimes back as text; the layout depends on whether the
// value came from a bound time.Time or from CURRENT_TIMESTAMP.
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseStoredTime(s string) time.Time {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
