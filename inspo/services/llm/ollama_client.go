package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"inspo/inspo/utils/logging"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

type OllamaClient struct {
	client *api.Client
}

func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	// Deadlines come from the caller's context.
	return &OllamaClient{client: api.NewClient(u, &http.Client{})}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "ollama_complete")()

	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  req.Options,
	}

	var out strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
