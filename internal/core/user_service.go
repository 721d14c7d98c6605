package core

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"neuroprom.com/chat-api/internal/auth"
	"neuroprom.com/chat-api/internal/store"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

// CredentialService hashes passwords and issues opaque bearer tokens.
type CredentialService interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	Issue(subject string) (string, error)
	Validate(token string) (string, error)
}

type UserService struct {
	store UserStore
	creds CredentialService
}

func NewUserService(s UserStore, creds CredentialService) *UserService {
	return &UserService{store: s, creds: creds}
}

// Register creates a user with a unique email.
func (s *UserService) Register(ctx context.Context, email, password string) (*store.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hash, err := s.creds.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, email, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w: %w", ErrUpstream, err)
	}
	return user, nil
}

// Authenticate checks the password and returns a fresh access token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("load user: %w: %w", ErrUpstream, err)
	}
	if !s.creds.Verify(password, user.PasswordHash) {
		return "", ErrUnauthenticated
	}

	token, err := s.creds.Issue(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// ResolveCaller turns a bearer token into a Caller. An empty token is an
// anonymous caller; a token that fails validation or names a user that
// no longer exists is rejected.
func (s *UserService) ResolveCaller(ctx context.Context, token string) (Caller, error) {
	if token == "" {
		return Anonymous(), nil
	}

	subject, err := s.creds.Validate(token)
	if err != nil {
		return Anonymous(), fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if _, err := uuid.Parse(subject); err != nil {
		return Anonymous(), ErrUnauthenticated
	}

	user, err := s.store.GetUserByID(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Anonymous(), ErrUnauthenticated
		}
		return Anonymous(), fmt.Errorf("load user: %w: %w", ErrUpstream, err)
	}
	return AuthenticatedAs(user.ID), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
