package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is either owned by exactly one user or anonymous; IsAnonymous is
// true iff UserID is nil.
type Chat struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"user_id"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	Content     string    `json:"content"`
	IsAssistant bool      `json:"is_assistant"`
	Timestamp   time.Time `json:"timestamp"`
}

type Form struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Company     *string   `json:"company"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
