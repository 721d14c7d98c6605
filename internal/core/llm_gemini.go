package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"neuroprom.com/chat-api/internal/config"
	"neuroprom.com/chat-api/internal/logging"
)

// GeminiCompleter is the alternative backend selected with
// COMPLETION_PROVIDER=gemini.
type GeminiCompleter struct {
	client      *genai.Client
	modelName   string
	temperature float32
	maxTokens   int32
}

func NewGeminiCompleter(ctx context.Context, cfg *config.Config) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Completion.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiCompleter{
		client:      client,
		modelName:   cfg.Completion.GeminiModel,
		temperature: float32(cfg.Completion.Temperature),
		maxTokens:   int32(cfg.Completion.MaxTokens),
	}, nil
}

func (c *GeminiCompleter) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			l := logging.L()
			l.Error().Err(err).Msg("error closing GenAI client")
		}
	}
}

func (c *GeminiCompleter) Complete(ctx context.Context, turns []ChatTurn, timeout time.Duration) Outcome {
	system, history, last := splitForGemini(turns)
	if last == nil {
		return Outcome{Kind: OutcomeTransportFault, Detail: "conversation has no user turn to send"}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.modelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	temp := c.temperature
	maxTokens := c.maxTokens
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	chatSession := model.StartChat()
	chatSession.History = history

	resp, err := chatSession.SendMessage(callCtx, last.Parts...)
	if err != nil {
		return classifyGeminiError(callCtx, err)
	}
	return geminiOutcome(resp)
}

// splitForGemini folds system turns into one instruction and separates the
// final turn, which Gemini expects to be sent rather than replayed.
func splitForGemini(turns []ChatTurn) (string, []*genai.Content, *genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			system = append(system, t.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(t.Content)}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(t.Content)}})
		}
	}
	if len(contents) == 0 {
		return strings.Join(system, "\n"), nil, nil
	}
	return strings.Join(system, "\n"), contents[:len(contents)-1], contents[len(contents)-1]
}

func geminiOutcome(resp *genai.GenerateContentResponse) Outcome {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Outcome{Kind: OutcomeMalformed}
	}

	var responseText strings.Builder
	sawText := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sawText = true
			responseText.WriteString(string(txt))
		}
	}
	if !sawText {
		return Outcome{Kind: OutcomeMalformed}
	}
	return Outcome{Kind: OutcomeSuccess, Text: responseText.String()}
}

func classifyGeminiError(callCtx context.Context, err error) Outcome {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Outcome{Kind: OutcomeProviderError, Detail: blocked.Error()}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return Outcome{Kind: OutcomeHTTPError, StatusCode: apiErr.Code, Detail: apiErr.Message}
	}
	return classifyTransportError(callCtx, err)
}
