package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"neuroprom.com/chat-api/internal/logging"
	"neuroprom.com/chat-api/internal/store"
)

// ChatStore is the part of the durable store the chat service needs.
type ChatStore interface {
	CreateChat(ctx context.Context, ownerID *string) (*store.Chat, error)
	GetChatByID(ctx context.Context, chatID string) (*store.Chat, error)
	ListChatsByOwner(ctx context.Context, ownerID string, offset, limit int) ([]store.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessagesByChatID(ctx context.Context, chatID string) ([]store.Message, error)
}

type ChatService struct {
	store     ChatStore
	completer Completer
	timeout   time.Duration
}

// NewChatService wires the store and completion backend; timeout bounds
// each completion call.
func NewChatService(s ChatStore, completer Completer, timeout time.Duration) *ChatService {
	return &ChatService{
		store:     s,
		completer: completer,
		timeout:   timeout,
	}
}

// CreateChat creates an anonymous chat for anonymous callers, and for
// authenticated callers who ask for one; otherwise the caller owns it.
func (s *ChatService) CreateChat(ctx context.Context, caller Caller, wantsAnonymous bool) (*store.Chat, error) {
	var owner *string
	if id, ok := caller.UserID(); ok && !wantsAnonymous {
		owner = &id
	}

	chat, err := s.store.CreateChat(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w: %w", ErrUpstream, err)
	}
	return chat, nil
}

// ListChats returns the caller's own chats. Anonymous callers cannot
// enumerate anything.
func (s *ChatService) ListChats(ctx context.Context, caller Caller, offset, limit int) ([]store.Chat, error) {
	id, ok := caller.UserID()
	if !ok {
		return nil, ErrUnauthenticated
	}
	offset = max(offset, 0)
	limit = max(limit, 0)

	chats, err := s.store.ListChatsByOwner(ctx, id, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w: %w", ErrUpstream, err)
	}
	return chats, nil
}

// GetChat returns the chat and its ordered history.
func (s *ChatService) GetChat(ctx context.Context, caller Caller, chatID string) (*store.Chat, []store.Message, error) {
	chat, err := s.authorizedChat(ctx, caller, chatID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.store.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w: %w", ErrUpstream, err)
	}
	return chat, messages, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, caller Caller, chatID string) error {
	chat, err := s.authorizedChat(ctx, caller, chatID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteChat(ctx, chat.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete chat: %w: %w", ErrUpstream, err)
	}
	return nil
}

// SubmitTurn records the user's message, asks the completion backend for
// a reply and records that reply. The two writes commit independently so
// the user's message survives any provider failure; provider failures
// become apology content instead of errors.
func (s *ChatService) SubmitTurn(ctx context.Context, caller Caller, chatID, userText string) (*store.Message, *store.Message, error) {
	chat, err := s.authorizedChat(ctx, caller, chatID)
	if err != nil {
		return nil, nil, err
	}

	// The turn runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)
	l := logging.Ctx(ctx).With().Str(logging.FieldChatID, chat.ID).Logger()

	userMsg := &store.Message{
		ChatID:  chat.ID,
		Content: userText,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("store user message: %w: %w", ErrUpstream, err)
	}

	history, err := s.store.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load chat history: %w: %w", ErrUpstream, err)
	}

	outcome := s.completer.Complete(ctx, buildCompletionContext(history), s.timeout)
	if outcome.Kind != OutcomeSuccess {
		l.Error().
			Str("outcome", outcome.Kind.String()).
			Int("status_code", outcome.StatusCode).
			Str("detail", outcome.Detail).
			Msg("completion failed, recording apology")
	}

	assistantMsg := &store.Message{
		ChatID:      chat.ID,
		Content:     outcome.ReplyText(),
		IsAssistant: true,
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return nil, nil, fmt.Errorf("store assistant message: %w: %w", ErrUpstream, err)
	}

	return userMsg, assistantMsg, nil
}

// authorizedChat resolves chatID and applies CanAccess.
func (s *ChatService) authorizedChat(ctx context.Context, caller Caller, chatID string) (*store.Chat, error) {
	// Chat ids are UUIDs; anything else cannot name a chat.
	if _, err := uuid.Parse(chatID); err != nil {
		return nil, ErrNotFound
	}
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load chat: %w: %w", ErrUpstream, err)
	}
	if !CanAccess(caller, chat) {
		return nil, ErrForbidden
	}
	return chat, nil
}
