package core

import (
	"context"
	"fmt"
	"strings"

	"neuroprom.com/chat-api/internal/store"
)

type FormStore interface {
	CreateForm(ctx context.Context, form *store.Form) error
}

// FormInput is a contact-form submission as received from the client.
type FormInput struct {
	Name        string
	Email       string
	Phone       string
	Company     *string
	Description *string
}

type FormService struct {
	store FormStore
}

func NewFormService(s FormStore) *FormService {
	return &FormService{store: s}
}

func (s *FormService) SubmitForm(ctx context.Context, in FormInput) (*store.Form, error) {
	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.Phone)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	form := &store.Form{
		Name:        name,
		Email:       email,
		Phone:       phone,
		Company:     in.Company,
		Description: in.Description,
	}
	if err := s.store.CreateForm(ctx, form); err != nil {
		return nil, fmt.Errorf("store form: %w: %w", ErrUpstream, err)
	}
	return form, nil
}
