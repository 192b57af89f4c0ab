package embedder

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/worker"
)

// Launcher builds the command that runs one worker process for a variant. The command
// must be created with exec.CommandContext(ctx, ...) so that cancellation reaches it.
type Launcher interface {
	Command(ctx context.Context, spec faceid.VariantSpec, requestPath, resultPath string) (*exec.Cmd, error)
}

// ExecLauncher starts real workers: native variants re-execute the rollcall binary's
// hidden worker command, python variants run the embedded script.
type ExecLauncher struct {
	Executable string
	Python     string
	WorkerDir  string
	ModelsDir  string
}

// NewExecLauncher returns a launcher that re-executes the running binary.
func NewExecLauncher(python, workerDir, modelsDir string) (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate rollcall binary: %w", err)
	}
	return &ExecLauncher{
		Executable: exe,
		Python:     python,
		WorkerDir:  workerDir,
		ModelsDir:  modelsDir,
	}, nil
}

func (l *ExecLauncher) Command(ctx context.Context, spec faceid.VariantSpec, requestPath, resultPath string) (*exec.Cmd, error) {
	switch spec.Runner {
	case faceid.RunnerPython:
		script, err := worker.EnsureScript(l.WorkerDir)
		if err != nil {
			return nil, err
		}
		return exec.CommandContext(ctx, l.Python, worker.PythonArgs(script, requestPath, resultPath)...), nil //nolint:gosec // interpreter comes from config
	case faceid.RunnerNative:
		return exec.CommandContext(ctx, l.Executable, //nolint:gosec // re-exec of our own binary
			"worker", "--request", requestPath, "--result", resultPath, "--models-dir", l.ModelsDir), nil
	default:
		return nil, fmt.Errorf("unknown runner %q for variant %q", spec.Runner, spec.Name)
	}
}
