package llm

import (
	"context"
	"fmt"
	"strings"

	httputils "inspo/inspo/utils/http"
	"inspo/inspo/utils/logging"
)

const defaultGPTURL = "https://api.openai.com/v1"

// GPTClient talks to any OpenAI-compatible chat completions endpoint.
type GPTClient struct {
	apiKey  string
	baseURL string
}

func NewGPTClient(baseURL, apiKey string) (*GPTClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider needs LLM_API_KEY")
	}
	if baseURL == "" {
		baseURL = defaultGPTURL
	}
	return &GPTClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

type gptChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type gptResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *GPTClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "gpt_complete")()

	gptReq := gptChatRequest{Model: req.Model, Messages: req.Messages}
	if t, ok := req.Options["temperature"].(float64); ok {
		gptReq.Temperature = &t
	}

	var parsed gptResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := httputils.PostJSON(ctx, nil, c.baseURL+"/chat/completions", headers, gptReq, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no content in GPT response")
	}
	return parsed.Choices[0].Message.Content, nil
}
