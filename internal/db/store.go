package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store holds the tables of the reference services.
type Store struct {
	db *Database
}

// Account is a login known to the auth service.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Display      string    `json:"display"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item is one inventory row.
type Item struct {
	Name     string `json:"name"`
	Quantity uint32 `json:"quantity"`
}

// ChatLine is one entry of the chat history.
type ChatLine struct {
	ID     int64     `json:"id"`
	From   string    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// OpenStore opens the database at path and brings the schema up to date.
func OpenStore(path string) (*Store, error) {
	database, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			display TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS inventory (
			account_id TEXT NOT NULL,
			item TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			PRIMARY KEY (account_id, item),
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS chat_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_name ON accounts(name);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Debug().Msg("database schema migrated")
	return nil
}

// CreateAccount adds a login. Names are case-insensitive and unique.
func (s *Store) CreateAccount(ctx context.Context, name, display, passwordHash string) (Account, error) {
	acct := Account{
		ID:           uuid.New(),
		Name:         strings.ToLower(strings.TrimSpace(name)),
		Display:      display,
		PasswordHash: passwordHash,
	}
	if acct.Name == "" {
		return Account{}, fmt.Errorf("account name is required")
	}
	if acct.Display == "" {
		acct.Display = name
	}

	_, err := s.db.Exec(ctx,
		"INSERT INTO accounts (id, name, display, password_hash) VALUES (?, ?, ?, ?)",
		acct.ID.String(), acct.Name, acct.Display, acct.PasswordHash)
	if err != nil {
		return Account{}, fmt.Errorf("failed to create account %q: %w", acct.Name, err)
	}

	log.Info().Str("name", acct.Name).Str("display", acct.Display).Msg("account created")
	return s.AccountByName(ctx, acct.Name)
}

// AccountByName looks up a login by name.
func (s *Store) AccountByName(ctx context.Context, name string) (Account, error) {
	row := s.db.QueryRow(ctx,
		"SELECT id, name, display, password_hash, created_at FROM accounts WHERE name = ?",
		strings.ToLower(strings.TrimSpace(name)))

	var (
		acct Account
		id   string
	)
	err := row.Scan(&id, &acct.Name, &acct.Display, &acct.PasswordHash, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account lookup failed: %w", err)
	}
	if acct.ID, err = uuid.Parse(id); err != nil {
		return Account{}, fmt.Errorf("corrupt account id %q: %w", id, err)
	}
	return acct, nil
}

// Accounts lists every login, oldest first.
func (s *Store) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, display, created_at FROM accounts ORDER BY created_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var (
			acct Account
			id   string
		)
		if err := rows.Scan(&id, &acct.Name, &acct.Display, &acct.CreatedAt); err != nil {
			return nil, err
		}
		if acct.ID, err = uuid.Parse(id); err != nil {
			continue
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// AddItem changes the quantity of item held by account by delta. A row
// that reaches zero is removed; going below zero is an error.
func (s *Store) AddItem(ctx context.Context, account uuid.UUID, item string, delta int) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx,
			"SELECT quantity FROM inventory WHERE account_id = ? AND item = ?",
			account.String(), item).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		next := current + delta
		switch {
		case next < 0:
			return fmt.Errorf("account holds %d %s, cannot remove %d", current, item, -delta)
		case next == 0:
			_, err = tx.ExecContext(ctx,
				"DELETE FROM inventory WHERE account_id = ? AND item = ?", account.String(), item)
		default:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO inventory (account_id, item, quantity) VALUES (?, ?, ?)
				 ON CONFLICT(account_id, item) DO UPDATE SET quantity = excluded.quantity`,
				account.String(), item, next)
		}
		return err
	})
}

// Inventory returns the items held by account, sorted by name.
func (s *Store) Inventory(ctx context.Context, account uuid.UUID) ([]Item, error) {
	rows, err := s.db.Query(ctx,
		"SELECT item, quantity FROM inventory WHERE account_id = ? ORDER BY item",
		account.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Name, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// AppendChat records a chat line.
func (s *Store) AppendChat(ctx context.Context, from, text string) error {
	_, err := s.db.Exec(ctx, "INSERT INTO chat_log (sender, text) VALUES (?, ?)", from, text)
	return err
}

// PruneChat deletes chat lines sent before the cutoff and returns how many
// were removed.
func (s *Store) PruneChat(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM chat_log WHERE sent_at < ?", before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecentChat returns up to limit of the newest chat lines, oldest first.
func (s *Store) RecentChat(ctx context.Context, limit int) ([]ChatLine, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender, text, sent_at FROM (
			SELECT id, sender, text, sent_at FROM chat_log ORDER BY id DESC LIMIT ?
		) ORDER BY id`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ChatLine
	for rows.Next() {
		var l ChatLine
		if err := rows.Scan(&l.ID, &l.From, &l.Text, &l.SentAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
