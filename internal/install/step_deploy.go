package install

import (
	"context"
	"fmt"
	"path/filepath"
)

// deployStep extracts the product image onto the mounted target.
type deployStep struct{}

func (s *deployStep) Name() string      { return StepDeploy }
func (s *deployStep) Destructive() bool { return true }
func (s *deployStep) Idempotent() bool  { return true }

func (s *deployStep) Run(ctx context.Context, e *Executor) (string, error) {
	if e.layout == nil {
		return "", Preconditionf("no layout planned, select-disk did not run")
	}

	image := filepath.Join(e.Env.Locations.ISO, e.Env.Product.Product+".squashfs")

	e.BeginDestructive()
	e.emitProgress(StepDeploy, 0.1, "extracting product image")
	if _, err := e.run(ctx, "unsquashfs", "-force", "-dest", e.TargetDir, image); err != nil {
		return "", err
	}

	e.emitProgress(StepDeploy, 0.9, "image extracted")
	return fmt.Sprintf("deployed %s to %s", filepath.Base(image), e.TargetDir), nil
}
