package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"inspo/inspo/utils/logging"

	"go.uber.org/zap"
)

// CLIClient runs a local command-line assistant with the rendered conversation as
// its last argument, inside the project folder when that folder exists.
type CLIClient struct {
	name string
	args []string
}

func NewCLIClient(command string) (*CLIClient, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("cli provider needs LLM_CLI_COMMAND")
	}
	return &CLIClient{name: fields[0], args: fields[1:]}, nil
}

func (c *CLIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "cli_complete")()

	args := append(append([]string{}, c.args...), RenderTranscript(req.Messages))
	cmd := exec.CommandContext(ctx, c.name, args...)
	if info, err := os.Stat(req.WorkDir); err == nil && info.IsDir() {
		cmd.Dir = req.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s not installed", ErrUnavailable, c.name)
		}
		logging.ErrorLogger.Error("cli assistant failed",
			zap.String("command", c.name),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RenderTranscript flattens messages into one prompt for tools that take plain text.
func RenderTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if m.Role == "system" {
			b.WriteString(m.Content)
			continue
		}
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		b.WriteString(role + ": " + m.Content)
	}
	return b.String()
}
