package toolbox

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

type ExecPythonInput struct {
	Code string `json:"code" jsonschema:"description=The python code to execute"`
}

type ExecPythonOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ExecPython runs the code in a separate interpreter. A non-zero exit is a
// result, not an error, so the model sees the traceback.
func (t *Toolbox) ExecPython(ctx context.Context, in ExecPythonInput) (*ExecPythonOutput, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, errors.New("no code given")
	}

	cmd := exec.CommandContext(ctx, t.python, "-c", in.Code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &ExecPythonOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, errors.Wrap(err, "run python")
	}
	return out, nil
}
