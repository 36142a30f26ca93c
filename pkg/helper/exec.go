package helper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/whitekid/goxp/log"
)

var (
	loggerExec = log.New(log.AddCallerSkip(1))
)

func Execute(command ...string) *Executer { return &Executer{command: command} }

type Executer struct {
	shell   bool
	command []string
	dir     string
	env     []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func (exc *Executer) Shell() *Executer            { exc.shell = true; return exc }
func (exc *Executer) Dir(dir string) *Executer    { exc.dir = dir; return exc }
func (exc *Executer) Stdin(r io.Reader) *Executer { exc.stdin = r; return exc }
func (exc *Executer) Env(kv ...string) *Executer  { exc.env = append(exc.env, kv...); return exc }
func (exc *Executer) String() string              { return strings.Join(exc.command, " ") }
func (exc *Executer) Command() []string           { return exc.command }

// Stdout and Stderr redirect output of Do, default to os.Stdout and os.Stderr
func (exc *Executer) Stdout(w io.Writer) *Executer { exc.stdout = w; return exc }
func (exc *Executer) Stderr(w io.Writer) *Executer { exc.stderr = w; return exc }

func (exc *Executer) buildCmd(ctx context.Context) *exec.Cmd {
	var name string
	var args []string

	if exc.shell {
		name = "sh"
		args = append([]string{"-c"}, exc.command...)
	} else if len(exc.command) > 0 {
		name = exc.command[0]

		if len(exc.command) > 1 {
			args = exc.command[1:]
		} else {
			args = nil
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = exc.dir
	cmd.Stdin = exc.stdin
	if len(exc.env) > 0 {
		cmd.Env = append(os.Environ(), exc.env...)
	}

	return cmd
}

func (exc *Executer) logCommand() {
	dir := exc.dir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	loggerExec.Debugf("execute: %s", exc.String())
	loggerExec.Debugf("dir: %s", dir)
}

// Do execute command, output stdout to stdout and stderr to stderr
func (exc *Executer) Do(ctx context.Context) error {
	exc.logCommand()

	cmd := exc.buildCmd(ctx)

	cmd.Stdout = exc.stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = exc.stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return err
	}

	return nil
}

// Output run command and return stdout
// if command fails, error is *ExecError that holds captured stderr
func (exc *Executer) Output(ctx context.Context) ([]byte, error) {
	exc.logCommand()

	var stdout, stderr bytes.Buffer
	cmd := exc.buildCmd(ctx)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &ExecError{Command: exc.command, Stderr: stderr.Bytes(), Err: err}
	}

	return stdout.Bytes(), nil
}

// ExecError command failed with non-zero exit or could not be started
type ExecError struct {
	Command []string
	Stderr  []byte
	Err     error
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Command[0], e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command[0], e.Err, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExitCode returns process exit code, -1 if process was not started
func (e *ExecError) ExitCode() int {
	if ee, ok := e.Err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
