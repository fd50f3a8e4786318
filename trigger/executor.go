package trigger

import (
	"bytes"
	"context"
	"os/exec"
)

// Executor runs a trigger's handler command and captures its combined
// output. Abstracted as an interface (grounded on the same mockable-
// dependency pattern used by txn.Dependencies) so tests can substitute a
// fake without shelling out.
type Executor interface {
	Run(ctx context.Context, handler string) (output string, err error)
}

// ShellExecutor runs a handler through "/bin/sh -c", the same invocation
// convention package-manager scriptlets use across the ecosystem.
type ShellExecutor struct{}

// Run implements Executor.
func (ShellExecutor) Run(ctx context.Context, handler string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", handler)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
