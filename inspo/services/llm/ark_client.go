package llm

import (
	"context"
	"fmt"

	"inspo/inspo/config"
	"inspo/inspo/utils/logging"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/schema"
)

// ArkClient calls a Volcengine Ark model through eino.
type ArkClient struct {
	model *ark.ChatModel
}

func NewArkClient(ctx context.Context, cfg config.LLMConfig) (*ArkClient, error) {
	region := cfg.Region
	if region == "" {
		region = "cn-beijing"
	}
	m, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Region:  region,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("ark chat model: %w", err)
	}
	return &ArkClient{model: m}, nil
}

func (c *ArkClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "ark_complete")()

	resp, err := c.model.Generate(ctx, toSchemaMessages(req.Messages))
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func toSchemaMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "assistant":
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
