package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// EchoDefinition returns the "echo" kind, which returns its params.
func EchoDefinition() Definition {
	return Definition{
		ID:          "echo",
		Description: "return params as the result",
		Execute: func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
			if len(params) == 0 {
				return json.RawMessage("null"), nil
			}
			return params, nil
		},
	}
}

type sleepParams struct {
	DurationMs int  `json:"duration_ms"`
	Fail       bool `json:"fail,omitempty"`
}

// SleepDefinition returns the "sleep" kind. It waits duration_ms and then
// returns its params, or fails when "fail" is true.
func SleepDefinition() Definition {
	return Definition{
		ID:          "sleep",
		Description: "wait duration_ms, then return params",
		Validate: func(params json.RawMessage) error {
			var p sleepParams
			if err := json.Unmarshal(params, &p); err != nil {
				return err
			}
			if p.DurationMs < 0 {
				return fmt.Errorf("duration_ms must be non-negative")
			}
			return nil
		},
		Execute: func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
			var p sleepParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
			timer := time.NewTimer(time.Duration(p.DurationMs) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
			if p.Fail {
				return nil, fmt.Errorf("sleep task asked to fail")
			}
			return params, nil
		},
	}
}

// ExecParams are the params of the "exec" kind.
type ExecParams struct {
	Command []string          `json:"command"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExecResult is the result of the "exec" kind.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ExecDefinition returns the "exec" kind, which runs params.command.
// A non-zero exit status is an error carrying the captured stderr.
func ExecDefinition() Definition {
	return Definition{
		ID:          "exec",
		Description: "run a command and capture its output",
		Validate: func(params json.RawMessage) error {
			var p ExecParams
			if err := json.Unmarshal(params, &p); err != nil {
				return err
			}
			if len(p.Command) == 0 || p.Command[0] == "" {
				return fmt.Errorf("command is required")
			}
			return nil
		},
		Execute: runExec,
	}
}

func runExec(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p ExecParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(p.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("run %s: %w", p.Command[0], runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		return nil, fmt.Errorf("%s exited with status %d: %s", p.Command[0], res.ExitCode, bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}
