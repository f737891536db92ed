package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"imagin3d/internal/types"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cli   openai.Client
	model string
}

func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{cli: openai.NewClient(opts...), model: model}, nil
}

func (c *OpenAIClient) Name() string { return "OpenAI:" + c.model }
func (c *OpenAIClient) Close() error { return nil }

// Client exposes the underlying SDK client for the embedding service.
func (c *OpenAIClient) Client() *openai.Client { return &c.cli }

func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, input any, images ...types.Image) (json.RawMessage, error) {
	full, err := fullPrompt(prompt, input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	var user openai.ChatCompletionMessageParamUnion
	if len(images) == 0 {
		user = openai.UserMessage(full)
	} else {
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
		parts = append(parts, openai.TextContentPart(full))
		for _, img := range images {
			url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		user = openai.UserMessage(parts)
	}

	resp, err := c.cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Respond with a single JSON object and nothing else."),
			user,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrInvalidJSON
	}
	txt := strings.TrimSpace(resp.Choices[0].Message.Content)
	if txt == "" {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(txt), nil
}
