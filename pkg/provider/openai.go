package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter calls the OpenAI Chat Completions API via the official
// openai-go SDK.

type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
	allowList    *AllowList
}

func NewOpenAIAdapter(apiKey, defaultModel string, allowList *AllowList) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		allowList:    allowList,
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) IsAvailable() bool {
	return os.Getenv("OPENAI_API_KEY") != ""
}

func (a *OpenAIAdapter) ChatComplete(ctx context.Context, req Request) (Result, error) {
	if a.allowList != nil {
		if err := a.allowList.Check("https://api.openai.com"); err != nil {
			return Result{}, err
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "tool":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai: empty choices in response")
	}

	return Result{
		Provider: "openai",
		Model:    resp.Model,
		Content:  resp.Choices[0].Message.Content,
		Tokens:   int(resp.Usage.TotalTokens),
	}, nil
}
