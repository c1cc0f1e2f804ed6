package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
)

const DefaultModelID = "anthropic.claude-v2"

// bedrockAPI is the minimal Bedrock Runtime interface required by Client.
// *bedrockruntime.Client from aws-sdk-go-v2 satisfies this interface.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// invokeRequest is the Anthropic text-completion body accepted by Claude
// models on Bedrock.
type invokeRequest struct {
	Prompt            string  `json:"prompt"`
	MaxTokensToSample int     `json:"max_tokens_to_sample"`
	Temperature       float64 `json:"temperature"`
}

// invokeResponse is the minimal response shape returned by Claude models.
type invokeResponse struct {
	Completion string `json:"completion"`
}

// Client invokes an Anthropic Claude model hosted on Amazon Bedrock.
type Client struct {
	api     bedrockAPI
	modelID string
}

type Option func(*Client)

func WithModelID(modelID string) Option {
	return func(c *Client) {
		c.modelID = strings.TrimSpace(modelID)
	}
}

// NewClient creates a Client for the given Bedrock Runtime API.
func NewClient(api bedrockAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	c := &Client{api: api, modelID: DefaultModelID}
	for _, opt := range opts {
		opt(c)
	}
	if c.modelID == "" {
		return nil, errors.New("bedrock: model id must not be empty")
	}
	return c, nil
}

// Invoke sends the prompt to the model and returns the trimmed completion.
func (c *Client) Invoke(ctx context.Context, prompt string, params domain.InferenceParams) (string, error) {
	body, err := json.Marshal(invokeRequest{
		Prompt:            prompt,
		MaxTokensToSample: params.MaxTokens,
		Temperature:       params.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: invoke %s: %w", c.modelID, err)
	}

	var payload invokeResponse
	if decErr := json.Unmarshal(out.Body, &payload); decErr != nil {
		return "", fmt.Errorf("bedrock: decode response: %w", decErr)
	}
	completion := strings.TrimSpace(payload.Completion)
	if completion == "" {
		return "", errors.New("bedrock: empty completion in response")
	}
	return completion, nil
}
