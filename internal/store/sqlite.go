package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// SQLStore persists users, chats, messages and forms. Every exported
// method is its own atomic unit; nothing spans calls.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// NewSQLStore opens databaseURL, a postgres:// URL or a sqlite file path,
// and ensures the schema exists.
func NewSQLStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	d, driver := dialectFor(databaseURL)
	dsn := databaseURL
	if d == dialectSQLite {
		dsn = sqliteDSN(databaseURL)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectPostgres {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err = s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys") || strings.Contains(path, "_fk") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.schema())
	return err
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// User methods
func (s *SQLStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	_, err := s.db.ExecContext(ctx, s.q("INSERT INTO users (id, email, hashed_password, created_at) VALUES (?, ?, ?, ?)"),
		user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user %s: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) getUser(ctx context.Context, column, value string) (*User, error) {
	var user User
	query := s.q("SELECT id, email, hashed_password, created_at FROM users WHERE " + column + " = ?")
	err := s.db.QueryRowContext(ctx, query, value).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Chat methods

// CreateChat stores a chat owned by ownerID, or an anonymous chat when
// ownerID is nil.
func (s *SQLStore) CreateChat(ctx context.Context, ownerID *string) (*Chat, error) {
	chat := Chat{
		ID:          uuid.NewString(),
		UserID:      ownerID,
		IsAnonymous: ownerID == nil,
		CreatedAt:   s.now(),
	}
	_, err := s.db.ExecContext(ctx, s.q("INSERT INTO chats (id, user_id, is_anonymous, created_at) VALUES (?, ?, ?, ?)"),
		chat.ID, nullString(ownerID), chat.IsAnonymous, chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return &chat, nil
}

func (s *SQLStore) GetChatByID(ctx context.Context, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT id, user_id, is_anonymous, created_at FROM chats WHERE id = ?"), chatID)
	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

// ListChatsByOwner returns the chats owned by ownerID, newest first.
func (s *SQLStore) ListChatsByOwner(ctx context.Context, ownerID string, offset, limit int) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT id, user_id, is_anonymous, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?"),
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and all of its messages in one transaction.
func (s *SQLStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM messages WHERE chat_id = ?"), chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q("DELETE FROM chats WHERE id = ?"), chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat tx: %w", err)
	}
	return nil
}

// Message methods

// CreateMessage inserts msg and fills in its ID and Timestamp.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.Timestamp = s.now()
	err := s.db.QueryRowContext(ctx,
		s.q("INSERT INTO messages (chat_id, content, is_assistant, timestamp) VALUES (?, ?, ?, ?) RETURNING id"),
		msg.ChatID, msg.Content, msg.IsAssistant, msg.Timestamp).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// GetMessagesByChatID returns the full history of a chat, oldest first.
func (s *SQLStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT id, chat_id, content, is_assistant, timestamp FROM messages WHERE chat_id = ? ORDER BY timestamp ASC, id ASC"),
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.IsAssistant, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Form methods
func (s *SQLStore) CreateForm(ctx context.Context, form *Form) error {
	form.ID = uuid.NewString()
	form.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO forms (id, name, email, phone, company, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		form.ID, form.Name, form.Email, form.Phone, nullString(form.Company), nullString(form.Description), form.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute form insert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var owner sql.NullString
	if err := row.Scan(&chat.ID, &owner, &chat.IsAnonymous, &chat.CreatedAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		chat.UserID = &owner.String
	}
	return &chat, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
