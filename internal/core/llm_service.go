package core

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one provider-facing entry of the conversation context.
type ChatTurn struct {
	Role    Role
	Content string
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeMalformed
	OutcomeProviderError
	OutcomeHTTPError
	OutcomeTimeout
	OutcomeTransportFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeMalformed:
		return "malformed_success"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportFault:
		return "transport_fault"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the uniform result of one completion call. Only the fields
// relevant to Kind are set.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	StatusCode int
	Detail     string
}

// Completer sends a conversation to a completion provider. It never
// returns an error: every failure is reported as an Outcome kind.
type Completer interface {
	Complete(ctx context.Context, turns []ChatTurn, timeout time.Duration) Outcome
}

const (
	replyMalformed       = "Sorry, the AI service returned a response in an unexpected format."
	replyProviderError   = "The AI service returned an error: %s"
	replyHTTPError       = "Sorry, the AI service failed to process the request. Code: %d. Details: %s"
	replyTimeout         = "Sorry, the AI service did not respond in time. Please try again later."
	replyTransportFault  = "Sorry, a network error occurred while contacting the AI service: %s"
	detailNotProvided    = "details not provided"
	providerErrorUnknown = "unknown error in response body"
)

// ReplyText is the assistant content recorded for this outcome. All
// provider failures end up here as an apology.
func (o Outcome) ReplyText() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Text
	case OutcomeProviderError:
		detail := o.Detail
		if detail == "" {
			detail = providerErrorUnknown
		}
		return fmt.Sprintf(replyProviderError, detail)
	case OutcomeHTTPError:
		detail := o.Detail
		if detail == "" {
			detail = detailNotProvided
		}
		return fmt.Sprintf(replyHTTPError, o.StatusCode, detail)
	case OutcomeTimeout:
		return replyTimeout
	case OutcomeTransportFault:
		return fmt.Sprintf(replyTransportFault, o.Detail)
	default:
		return replyMalformed
	}
}
