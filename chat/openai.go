package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible chat backend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. a local gateway's "/v1" URL.
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

// OpenAIAgent streams replies from the chat completions API.
type OpenAIAgent struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	log         *zap.Logger
}

func NewOpenAIAgent(cfg OpenAIConfig) (*OpenAIAgent, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("[CHAT] initializing OpenAI agent", zap.String("model", model))
	return &OpenAIAgent{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log,
	}, nil
}

func toOpenAI(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (a *OpenAIAgent) Reply(ctx context.Context, req Request, onToken TokenFunc) (string, error) {
	creq := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    toOpenAI(req.messages()),
		Temperature: a.temperature,
		Stream:      true,
	}
	if a.maxTokens > 0 {
		creq.MaxCompletionTokens = a.maxTokens
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply.String(), fmt.Errorf("OpenAI stream interrupted: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		reply.WriteString(token)
		if onToken != nil {
			if err := onToken(token); err != nil {
				return reply.String(), err
			}
		}
	}
	if reply.Len() == 0 {
		return "", ErrEmptyReply
	}
	a.log.Debug("[CHAT] reply complete", zap.String("vault", req.VaultID), zap.Int("chars", reply.Len()))
	return reply.String(), nil
}
