package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var credentialTable = historizedTable{
	head:    "credentials",
	history: "historical_credentials",
	key:     "credential_id",
	columns: []string{"credential_id", "username", "platform", "name", "token", "is_active", "history_note", "date_added", "date_updated"},
}

func credentialArgs(c *Credential) []any {
	token := c.Token
	if token == "" {
		token = "{}"
	}
	return []any{
		c.CredentialID,
		c.Username,
		c.Platform,
		c.Name,
		token,
		boolToInt(c.IsActive),
		c.HistoryNote,
		formatTime(c.DateAdded),
		formatTime(c.DateUpdated),
	}
}

type credentialColumns struct {
	active         int
	added, updated string
}

func (cols *credentialColumns) dest(c *Credential) []any {
	return []any{&c.CredentialID, &c.Username, &c.Platform, &c.Name, &c.Token, &cols.active, &c.HistoryNote, &cols.added, &cols.updated}
}

func (cols *credentialColumns) apply(c *Credential) {
	c.IsActive = cols.active != 0
	c.DateAdded = parseTime(cols.added)
	c.DateUpdated = parseTime(cols.updated)
}

func scanCredential(scanner rowScanner) (*Credential, error) {
	var (
		c    Credential
		cols credentialColumns
	)
	if err := scanner.Scan(append([]any{&c.ID}, cols.dest(&c)...)...); err != nil {
		return nil, err
	}
	cols.apply(&c)
	return &c, nil
}

func scanHistoricalCredential(scanner rowScanner) (*HistoricalCredential, error) {
	var (
		h                 HistoricalCredential
		cols              credentialColumns
		historyDate, kind string
	)
	if err := scanner.Scan(append([]any{&h.HistoryID, &historyDate, &kind}, cols.dest(&h.Credential)...)...); err != nil {
		return nil, err
	}
	cols.apply(&h.Credential)
	h.HistoryDate = parseTime(historyDate)
	h.HistoryType = HistoryType(kind)
	return &h, nil
}

// GetCredential fetches a credential by id. It returns (nil, nil) when absent.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, credentialTable.selectHead()+` WHERE credential_id = ?`, credentialID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// CredentialExists reports whether a credential with the id exists.
func (s *Store) CredentialExists(ctx context.Context, credentialID string) (bool, error) {
	return s.headExists(ctx, credentialTable, credentialID)
}

// CreateCredential stores a new credential and its first version.
func (s *Store) CreateCredential(ctx context.Context, c *Credential) error {
	if c == nil || strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Platform) == "" {
		return errors.New("credential username and platform are required")
	}
	if c.CredentialID == "" {
		c.CredentialID = NewID()
	}
	now := s.stamp()
	c.DateAdded, c.DateUpdated = now, now
	id, err := s.create(ctx, credentialTable, c.CredentialID, credentialArgs(c), now)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	c.ID = id
	return nil
}

// SaveCredential persists changes and appends a version.
func (s *Store) SaveCredential(ctx context.Context, c *Credential) error {
	if c == nil {
		return errors.New("credential is nil")
	}
	c.DateUpdated = s.stamp()
	if err := s.save(ctx, credentialTable, c.CredentialID, credentialArgs(c), c.DateUpdated); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the head row and records the deletion in history.
func (s *Store) DeleteCredential(ctx context.Context, c *Credential) (bool, error) {
	if c == nil {
		return false, errors.New("credential is nil")
	}
	removed, err := s.remove(ctx, credentialTable, c.CredentialID, credentialArgs(c), s.stamp())
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	return removed, nil
}

// CredentialHistory returns every version of the credential, oldest first.
func (s *Store) CredentialHistory(ctx context.Context, credentialID string) ([]*HistoricalCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		credentialTable.selectHistory()+` WHERE credential_id = ? ORDER BY history_date, history_id`,
		credentialID,
	)
	if err != nil {
		return nil, fmt.Errorf("credential history: %w", err)
	}
	defer rows.Close()

	var history []*HistoricalCredential
	for rows.Next() {
		h, err := scanHistoricalCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan historical credential: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// InsertCredential stores a credential verbatim without writing history.
func (s *Store) InsertCredential(ctx context.Context, c *Credential) error {
	if c == nil || c.CredentialID == "" {
		return errors.New("credential id is required")
	}
	id, err := credentialTable.insertHead(ctx, s.db, credentialArgs(c))
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// InsertHistoricalCredential appends a version verbatim. It reports false
// when the version is already present.
func (s *Store) InsertHistoricalCredential(ctx context.Context, h *HistoricalCredential) (bool, error) {
	if h == nil || h.CredentialID == "" {
		return false, errors.New("historical credential id is required")
	}
	return s.insertVersion(ctx, credentialTable, credentialArgs(&h.Credential), h.HistoryDate, h.HistoryType)
}
