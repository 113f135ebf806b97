package provider

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiAdapter calls the Gemini API via the official
// google.golang.org/genai SDK.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	allowList    *AllowList
}

func NewGeminiAdapter(apiKey, defaultModel string, allowList *AllowList) (*GeminiAdapter, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiAdapter{client: client, defaultModel: defaultModel, allowList: allowList}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) IsAvailable() bool {
	return os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != ""
}

func (a *GeminiAdapter) ChatComplete(ctx context.Context, req Request) (Result, error) {
	if a.allowList != nil {
		if err := a.allowList.Check("https://generativelanguage.googleapis.com"); err != nil {
			return Result{}, err
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	var contents []*genai.Content
	var systemInstruction *genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Result{}, fmt.Errorf("gemini: empty candidates in response")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return Result{
		Provider: "gemini",
		Model:    model,
		Content:  text,
		Tokens:   tokens,
	}, nil
}
