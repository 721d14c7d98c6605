package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"neuroprom.com/chat-api/internal/config"
)

// OpenRouterCompleter talks to an OpenAI-compatible chat completions
// endpoint (OpenRouter by default).
type OpenRouterCompleter struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewOpenRouterCompleter(cfg *config.Config, opts ...option.RequestOption) *OpenRouterCompleter {
	cc := cfg.Completion
	base := []option.RequestOption{
		option.WithBaseURL(cc.URL),
		option.WithAPIKey(cc.APIKey),
		option.WithMaxRetries(0),
	}
	if cc.Referer != "" {
		base = append(base, option.WithHeader("HTTP-Referer", cc.Referer))
	}
	if cc.Title != "" {
		base = append(base, option.WithHeader("X-Title", cc.Title))
	}

	return &OpenRouterCompleter{
		client:      openai.NewClient(append(base, opts...)...),
		model:       cc.Model,
		temperature: cc.Temperature,
		maxTokens:   int64(cc.MaxTokens),
	}
}

// capturedResponse holds the raw status and body of the provider reply so
// that classification does not depend on how the SDK decodes it.
type capturedResponse struct {
	ok     bool
	status int
	body   []byte
}

func (c *OpenRouterCompleter) Complete(ctx context.Context, turns []ChatTurn, timeout time.Duration) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var captured capturedResponse
	capture := func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		res, err := next(req)
		if err != nil {
			return res, err
		}
		body, err := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if err != nil {
			return nil, err
		}
		captured = capturedResponse{ok: true, status: res.StatusCode, body: body}
		res.Body = io.NopCloser(bytes.NewReader(body))
		return res, nil
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(turns),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}

	_, err := c.client.Chat.Completions.New(callCtx, params, option.WithMiddleware(capture))
	if captured.ok {
		return classifyCompletionResponse(captured.status, captured.body)
	}
	if err == nil {
		return Outcome{Kind: OutcomeMalformed}
	}
	return classifyTransportError(callCtx, err)
}

func toOpenAIMessages(turns []ChatTurn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}

type completionPayload struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// classifyCompletionResponse maps a raw provider reply onto an Outcome.
func classifyCompletionResponse(status int, body []byte) Outcome {
	if status < 200 || status > 299 {
		return Outcome{Kind: OutcomeHTTPError, StatusCode: status, Detail: errorDetail(body)}
	}

	var payload completionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Outcome{Kind: OutcomeMalformed}
	}
	if len(payload.Choices) > 0 {
		msg := payload.Choices[0].Message
		if msg == nil || msg.Content == nil {
			return Outcome{Kind: OutcomeMalformed}
		}
		return Outcome{Kind: OutcomeSuccess, Text: *msg.Content}
	}
	if len(payload.Error) > 0 && string(payload.Error) != "null" {
		return Outcome{Kind: OutcomeProviderError, Detail: errorMessage(payload.Error)}
	}
	return Outcome{Kind: OutcomeMalformed}
}

// errorDetail extracts error.message from a failed response body.
func errorDetail(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	return errorMessage(envelope.Error)
}

// errorMessage accepts both {"message": "..."} and a bare string.
func errorMessage(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// classifyTransportError handles calls that never produced an HTTP response.
func classifyTransportError(callCtx context.Context, err error) Outcome {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeTimeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Kind: OutcomeTimeout}
	}
	return Outcome{Kind: OutcomeTransportFault, Detail: err.Error()}
}
