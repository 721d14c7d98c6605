package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"neuroprom.com/chat-api/internal/store"
)

type fakeCompleter struct {
	outcome Outcome
	calls   int
	turns   []ChatTurn
	timeout time.Duration
	onCall  func(ctx context.Context)
}

func (f *fakeCompleter) Complete(ctx context.Context, turns []ChatTurn, timeout time.Duration) Outcome {
	f.calls++
	f.turns = turns
	f.timeout = timeout
	if f.onCall != nil {
		f.onCall(ctx)
	}
	return f.outcome
}

// faultyStore fails assistant-message writes.
type faultyStore struct {
	*store.SQLStore
}

func (f faultyStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.IsAssistant {
		return errors.New("disk full")
	}
	return f.SQLStore.CreateMessage(ctx, msg)
}

// uuidColumnStore rejects ids that are not UUIDs the way a Postgres UUID
// column does, instead of reporting them as missing.
type uuidColumnStore struct {
	*store.SQLStore
	lookups int
}

func (u *uuidColumnStore) GetChatByID(ctx context.Context, chatID string) (*store.Chat, error) {
	u.lookups++
	if _, err := uuid.Parse(chatID); err != nil {
		return nil, fmt.Errorf("invalid input syntax for type uuid: %q", chatID)
	}
	return u.SQLStore.GetChatByID(ctx, chatID)
}

func newTestSQLStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLStore(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestChatService(t *testing.T, outcome Outcome) (*ChatService, *store.SQLStore, *fakeCompleter) {
	t.Helper()
	s := newTestSQLStore(t)
	fc := &fakeCompleter{outcome: outcome}
	return NewChatService(s, fc, 30*time.Second), s, fc
}

func mustUser(t *testing.T, s *store.SQLStore, email string) string {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "hash")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u.ID
}

func TestCreateChatOwnership(t *testing.T) {
	svc, s, _ := newTestChatService(t, Outcome{})
	alice := mustUser(t, s, "alice@x.com")

	cases := []struct {
		name           string
		caller         Caller
		wantsAnonymous bool
		wantAnonymous  bool
	}{
		{name: "anonymous caller", caller: Anonymous(), wantAnonymous: true},
		{name: "anonymous caller asks for owned", caller: Anonymous(), wantsAnonymous: false, wantAnonymous: true},
		{name: "user", caller: AuthenticatedAs(alice), wantAnonymous: false},
		{name: "user wants throwaway chat", caller: AuthenticatedAs(alice), wantsAnonymous: true, wantAnonymous: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat, err := svc.CreateChat(context.Background(), tc.caller, tc.wantsAnonymous)
			if err != nil {
				t.Fatalf("CreateChat() error = %v", err)
			}
			if chat.IsAnonymous != tc.wantAnonymous {
				t.Fatalf("IsAnonymous = %v, want %v", chat.IsAnonymous, tc.wantAnonymous)
			}
			if chat.IsAnonymous != (chat.UserID == nil) {
				t.Fatalf("ownership invariant broken: %+v", chat)
			}
			if !chat.IsAnonymous && *chat.UserID != alice {
				t.Fatalf("owner = %q, want %q", *chat.UserID, alice)
			}
		})
	}
}

func TestListChats(t *testing.T) {
	svc, s, _ := newTestChatService(t, Outcome{})
	ctx := context.Background()
	alice := mustUser(t, s, "alice@x.com")
	bob := mustUser(t, s, "bob@x.com")

	if _, err := svc.ListChats(ctx, Anonymous(), 0, 100); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateChat(ctx, AuthenticatedAs(alice), false); err != nil {
			t.Fatalf("CreateChat() error = %v", err)
		}
	}
	if _, err := svc.CreateChat(ctx, AuthenticatedAs(alice), true); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := svc.CreateChat(ctx, AuthenticatedAs(bob), false); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	chats, err := svc.ListChats(ctx, AuthenticatedAs(alice), -5, 100)
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 owned chats, got %d", len(chats))
	}
	for _, c := range chats {
		if c.UserID == nil || *c.UserID != alice {
			t.Fatalf("listed a chat alice does not own: %+v", c)
		}
	}

	chats, err = svc.ListChats(ctx, AuthenticatedAs(alice), 0, -1)
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("negative limit should clamp to 0, got %d chats", len(chats))
	}
}

func TestSubmitTurnAnonymousChatTimeout(t *testing.T) {
	svc, s, fc := newTestChatService(t, Outcome{Kind: OutcomeTimeout})
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, Anonymous(), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	userMsg, assistantMsg, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "hi")
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if userMsg.Content != "hi" || userMsg.IsAssistant {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}
	if assistantMsg.Content != replyTimeout || !assistantMsg.IsAssistant {
		t.Fatalf("unexpected assistant message: %+v", assistantMsg)
	}
	if fc.timeout != 30*time.Second {
		t.Fatalf("completion timeout = %v", fc.timeout)
	}

	stored, err := s.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessagesByChatID() error = %v", err)
	}
	if len(stored) != 2 || stored[0].ID != userMsg.ID || stored[1].ID != assistantMsg.ID {
		t.Fatalf("unexpected stored history: %+v", stored)
	}
}

func TestSubmitTurnForbiddenForNonOwner(t *testing.T) {
	svc, s, fc := newTestChatService(t, Outcome{Kind: OutcomeSuccess, Text: "hello"})
	ctx := context.Background()
	alice := mustUser(t, s, "alice@x.com")
	bob := mustUser(t, s, "bob@x.com")

	chat, err := svc.CreateChat(ctx, AuthenticatedAs(alice), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	for _, caller := range []Caller{AuthenticatedAs(bob), Anonymous()} {
		if _, _, err := svc.SubmitTurn(ctx, caller, chat.ID, "x"); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	}
	if fc.calls != 0 {
		t.Fatalf("completer called %d times for a forbidden turn", fc.calls)
	}
	stored, err := s.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessagesByChatID() error = %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("forbidden turn stored %d messages", len(stored))
	}

	if _, _, err := svc.SubmitTurn(ctx, AuthenticatedAs(alice), chat.ID, "x"); err != nil {
		t.Fatalf("owner SubmitTurn() error = %v", err)
	}
}

func TestSubmitTurnUnknownChat(t *testing.T) {
	svc, _, _ := newTestChatService(t, Outcome{})
	if _, _, err := svc.SubmitTurn(context.Background(), Anonymous(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitTurnRecordsApologyForEveryFailure(t *testing.T) {
	cases := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{name: "success", outcome: Outcome{Kind: OutcomeSuccess, Text: "Hello there"}, want: "Hello there"},
		{name: "malformed", outcome: Outcome{Kind: OutcomeMalformed}, want: replyMalformed},
		{name: "provider error", outcome: Outcome{Kind: OutcomeProviderError, Detail: "quota exceeded"},
			want: "The AI service returned an error: quota exceeded"},
		{name: "http error", outcome: Outcome{Kind: OutcomeHTTPError, StatusCode: 502, Detail: "bad gateway"},
			want: "Sorry, the AI service failed to process the request. Code: 502. Details: bad gateway"},
		{name: "timeout", outcome: Outcome{Kind: OutcomeTimeout}, want: replyTimeout},
		{name: "transport", outcome: Outcome{Kind: OutcomeTransportFault, Detail: "connection refused"},
			want: "Sorry, a network error occurred while contacting the AI service: connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, s, _ := newTestChatService(t, tc.outcome)
			ctx := context.Background()
			chat, err := svc.CreateChat(ctx, Anonymous(), true)
			if err != nil {
				t.Fatalf("CreateChat() error = %v", err)
			}
			_, assistantMsg, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "question")
			if err != nil {
				t.Fatalf("SubmitTurn() error = %v", err)
			}
			if assistantMsg.Content != tc.want {
				t.Fatalf("assistant content = %q, want %q", assistantMsg.Content, tc.want)
			}

			stored, err := s.GetMessagesByChatID(ctx, chat.ID)
			if err != nil {
				t.Fatalf("GetMessagesByChatID() error = %v", err)
			}
			if len(stored) != 2 {
				t.Fatalf("expected 2 stored messages, got %+v", stored)
			}
			if stored[0].Content != "question" || stored[0].IsAssistant {
				t.Fatalf("stored user message = %+v", stored[0])
			}
			if stored[1].Content != tc.want || !stored[1].IsAssistant {
				t.Fatalf("stored assistant message = %+v", stored[1])
			}
		})
	}
}

func TestSubmitTurnSendsFullHistory(t *testing.T) {
	svc, _, fc := newTestChatService(t, Outcome{Kind: OutcomeSuccess, Text: "reply"})
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, Anonymous(), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	if _, _, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "first"); err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if _, _, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "second"); err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	want := []ChatTurn{
		{Role: RoleSystem, Content: chatSystemInstruction},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
	}
	if len(fc.turns) != len(want) {
		t.Fatalf("got %d turns, want %d: %+v", len(fc.turns), len(want), fc.turns)
	}
	for i := range want {
		if fc.turns[i] != want[i] {
			t.Fatalf("turn %d = %+v, want %+v", i, fc.turns[i], want[i])
		}
	}
}

func TestSubmitTurnIgnoresClientCancellation(t *testing.T) {
	svc, s, fc := newTestChatService(t, Outcome{Kind: OutcomeSuccess, Text: "done"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat, err := svc.CreateChat(ctx, Anonymous(), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	var completionErr error
	fc.onCall = func(callCtx context.Context) {
		cancel()
		completionErr = callCtx.Err()
	}

	_, assistantMsg, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "hi")
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if completionErr != nil {
		t.Fatalf("completion context canceled: %v", completionErr)
	}
	if assistantMsg.Content != "done" {
		t.Fatalf("assistant content = %q", assistantMsg.Content)
	}
	stored, err := s.GetMessagesByChatID(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("GetMessagesByChatID() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected both messages stored, got %d", len(stored))
	}
}

func TestSubmitTurnStorageFaultKeepsUserMessage(t *testing.T) {
	s := newTestSQLStore(t)
	svc := NewChatService(faultyStore{s}, &fakeCompleter{outcome: Outcome{Kind: OutcomeSuccess, Text: "ok"}}, time.Second)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, Anonymous(), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, _, err := svc.SubmitTurn(ctx, Anonymous(), chat.ID, "hi"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	stored, err := s.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessagesByChatID() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "hi" || stored[0].IsAssistant {
		t.Fatalf("expected only the user message to survive, got %+v", stored)
	}
}

func TestGetChat(t *testing.T) {
	svc, s, _ := newTestChatService(t, Outcome{Kind: OutcomeSuccess, Text: "pong"})
	ctx := context.Background()
	alice := mustUser(t, s, "alice@x.com")

	chat, err := svc.CreateChat(ctx, AuthenticatedAs(alice), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, _, err := svc.SubmitTurn(ctx, AuthenticatedAs(alice), chat.ID, "ping"); err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	got, messages, err := svc.GetChat(ctx, AuthenticatedAs(alice), chat.ID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if got.ID != chat.ID {
		t.Fatalf("GetChat() returned chat %q", got.ID)
	}
	if len(messages) != 2 || messages[0].Content != "ping" || messages[1].Content != "pong" {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	if _, _, err := svc.GetChat(ctx, Anonymous(), chat.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := svc.GetChat(ctx, Anonymous(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	svc, s, _ := newTestChatService(t, Outcome{Kind: OutcomeSuccess, Text: "ok"})
	ctx := context.Background()
	alice := mustUser(t, s, "alice@x.com")
	bob := mustUser(t, s, "bob@x.com")

	chat, err := svc.CreateChat(ctx, AuthenticatedAs(alice), false)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, _, err := svc.SubmitTurn(ctx, AuthenticatedAs(alice), chat.ID, "hi"); err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}

	if err := svc.DeleteChat(ctx, AuthenticatedAs(bob), chat.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteChat(ctx, AuthenticatedAs(alice), chat.ID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if err := svc.DeleteChat(ctx, AuthenticatedAs(alice), chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	stored, err := s.GetMessagesByChatID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessagesByChatID() error = %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("messages survived chat deletion: %+v", stored)
	}
}

func TestMalformedChatIDIsNotFound(t *testing.T) {
	us := &uuidColumnStore{SQLStore: newTestSQLStore(t)}
	fc := &fakeCompleter{outcome: Outcome{Kind: OutcomeSuccess, Text: "ok"}}
	svc := NewChatService(us, fc, time.Second)
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "", "123"} {
		if _, _, err := svc.GetChat(ctx, Anonymous(), id); !errors.Is(err, ErrNotFound) || errors.Is(err, ErrUpstream) {
			t.Fatalf("GetChat(%q) error = %v, want ErrNotFound", id, err)
		}
		if _, _, err := svc.SubmitTurn(ctx, Anonymous(), id, "hi"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("SubmitTurn(%q) error = %v, want ErrNotFound", id, err)
		}
		if err := svc.DeleteChat(ctx, Anonymous(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("DeleteChat(%q) error = %v, want ErrNotFound", id, err)
		}
	}
	if us.lookups != 0 {
		t.Fatalf("malformed ids reached the store %d times", us.lookups)
	}
	if fc.calls != 0 {
		t.Fatalf("completer called %d times", fc.calls)
	}

	if _, _, err := svc.GetChat(ctx, Anonymous(), uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChat(unknown uuid) error = %v, want ErrNotFound", err)
	}
}
