package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Runner executes an external command and captures its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandLog, error)
}

// ExecRunner runs commands via os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	log := CommandLog{
		Command: name,
		Args:    args,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}
	return log, nil
}
