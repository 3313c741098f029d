// inspo/services/llm/llm.go
package llm

import (
	"context"
	"errors"
	"fmt"

	"inspo/inspo/config"
)

// ErrUnavailable means the provider could not produce an answer at all.
var ErrUnavailable = errors.New("llm provider unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string
	Messages []Message
	Options  map[string]any
	// WorkDir is only used by providers that run a local process.
	WorkDir string
}

// Completer is a single non-streaming chat completion.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// New builds the completer named by cfg.Provider. "none" yields a nil Completer.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case "ollama":
		c, err = NewOllamaClient(cfg.BaseURL)
	case "openai":
		c, err = NewGPTClient(cfg.BaseURL, cfg.APIKey)
	case "ark":
		c, err = NewArkClient(ctx, cfg)
	case "cli":
		c, err = NewCLIClient(cfg.CLICommand)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
