package client

import (
	"os/exec"
	"strings"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// CmdExecutor runs shell commands and captures their output. It implements
// the structs.CmdExecutor interface and is the single subprocess boundary of
// the application.
type CmdExecutor struct{}

// NewCmdExecutor returns a production command executor.
func NewCmdExecutor() *CmdExecutor {
	return &CmdExecutor{}
}

// Execute runs a command through the shell and returns its stdout. A
// non-zero exit code is translated into an *structs.ExecutionError carrying
// both output streams.
func (e *CmdExecutor) Execute(command string) (string, error) {
	cmd := exec.Command("sh", "-c", command)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		execErr := &structs.ExecutionError{
			Command: command,
			Stdout:  strings.TrimRight(stdout.String(), "\n"),
			Stderr:  strings.TrimRight(stderr.String(), "\n"),
			Err:     err,
		}
		logging.Warning("client/executor: %v", execErr)
		return "", execErr
	}

	return stdout.String(), nil
}

// ExecuteToLines runs a command and returns its non-empty stdout lines.
func (e *CmdExecutor) ExecuteToLines(command string) ([]string, error) {
	out, err := e.Execute(command)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
