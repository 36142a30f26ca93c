package helper

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := Execute("ls /not-found").Shell().Dir("").Do(ctx)
	require.Error(t, err)
	require.IsType(t, &exec.ExitError{}, err)
}

func TestExecuterOutput(t *testing.T) {
	type args struct {
		command []string
		env     []string
		stdin   string
	}
	tests := [...]struct {
		name     string
		args     args
		want     string
		wantErr  bool
		wantCode int
	}{
		{`valid`, args{[]string{"echo hello"}, nil, ""}, "hello\n", false, 0},
		{`env`, args{[]string{"echo $CAPKI_TEST"}, []string{"CAPKI_TEST=world"}, ""}, "world\n", false, 0},
		{`stdin`, args{[]string{"cat"}, nil, "from stdin"}, "from stdin", false, 0},
		{`exit code`, args{[]string{"echo failed >&2; exit 3"}, nil, ""}, "", true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exc := Execute(tt.args.command...).Shell().Env(tt.args.env...)
			if tt.args.stdin != "" {
				exc.Stdin(strings.NewReader(tt.args.stdin))
			}

			got, err := exc.Output(ctx)
			require.Truef(t, (err != nil) == tt.wantErr, `Output() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				var execErr *ExecError
				require.True(t, errors.As(err, &execErr))
				require.Equal(t, tt.wantCode, execErr.ExitCode())
				require.Contains(t, execErr.Error(), "failed")
				return
			}

			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestExecuterDo(t *testing.T) {
	tests := [...]struct {
		name       string
		command    string
		wantStdout string
		wantStderr string
		wantErr    bool
	}{
		{`stdout`, "echo out", "out\n", "", false},
		{`stderr`, "echo err >&2", "", "err\n", false},
		{`both`, "echo out; echo err >&2; exit 1", "out\n", "err\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var stdout, stderr bytes.Buffer
			err := Execute(tt.command).Shell().Stdout(&stdout).Stderr(&stderr).Do(ctx)
			require.Truef(t, (err != nil) == tt.wantErr, `Do() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			require.Equal(t, tt.wantStdout, stdout.String())
			require.Equal(t, tt.wantStderr, stderr.String())
		})
	}
}
