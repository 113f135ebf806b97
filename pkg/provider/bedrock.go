package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAdapter calls AWS Bedrock's Converse API.
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	defaultModel string
	allowList    *AllowList
}

func NewBedrockAdapter(ctx context.Context, region, defaultModel string, allowList *AllowList) (*BedrockAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}
	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: defaultModel,
		allowList:    allowList,
	}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) IsAvailable() bool {
	return os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != ""
}

func (a *BedrockAdapter) ChatComplete(ctx context.Context, req Request) (Result, error) {
	if a.allowList != nil {
		if err := a.allowList.Check("https://bedrock-runtime.us-east-1.amazonaws.com"); err != nil {
			return Result{}, err
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	var messages []types.Message
	var system []types.SystemContentBlock
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}

	inferenceConfig := &types.InferenceConfiguration{}
	configSet := false
	if req.MaxTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
		configSet = true
	}
	if req.Temperature > 0 {
		inferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
		configSet = true
	}
	if configSet {
		input.InferenceConfig = inferenceConfig
	}

	output, err := a.client.Converse(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("bedrock: converse error: %w", err)
	}
	if output.Output == nil {
		return Result{}, fmt.Errorf("bedrock: no output in response")
	}

	var content string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				content += b.Value
			}
		}
	default:
		return Result{}, fmt.Errorf("bedrock: unexpected output type")
	}

	result := Result{Provider: "bedrock", Model: model, Content: content}
	if output.Usage != nil {
		result.Tokens = int(*output.Usage.TotalTokens)
	}
	return result, nil
}
