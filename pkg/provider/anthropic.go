package provider

import (
	"context"
	"fmt"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	client       *sdk.Client
	defaultModel string
	allowList    *AllowList
}

func NewAnthropicAdapter(apiKey, defaultModel string, allowList *AllowList) *AnthropicAdapter {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: &c, defaultModel: defaultModel, allowList: allowList}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) IsAvailable() bool {
	return os.Getenv("ANTHROPIC_API_KEY") != "" || a.client != nil
}

func (a *AnthropicAdapter) ChatComplete(ctx context.Context, req Request) (Result, error) {
	if a.allowList != nil {
		if err := a.allowList.Check("https://api.anthropic.com"); err != nil {
			return Result{}, err
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Text != "" {
			text += block.Text
		}
	}

	return Result{
		Provider: "anthropic",
		Model:    string(msg.Model),
		Content:  text,
		Tokens:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}
