package ai

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
}

// NewExecGenerator shells out to a local model CLI; the prompt goes to
// stdin, the completion is read from stdout.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse coach command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("coach command is empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}

	command := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	command.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("coach command failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
