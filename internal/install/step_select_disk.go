package install

import (
	"context"
	"fmt"
	"strings"
)

// selectDiskStep resolves the configured target disks against the
// environment snapshot and plans the partition layout. It touches nothing.
type selectDiskStep struct{}

func (s *selectDiskStep) Name() string      { return StepSelectDisk }
func (s *selectDiskStep) Destructive() bool { return false }
func (s *selectDiskStep) Idempotent() bool  { return true }

func (s *selectDiskStep) Run(ctx context.Context, e *Executor) (string, error) {
	for _, path := range e.Config.TargetDisks {
		if _, ok := e.Env.FindDisk(path); !ok {
			return "", Preconditionf("target disk %s is no longer present", path)
		}
	}

	layout, err := PlanLayout(e.Config, e.Env, e.rng)
	if err != nil {
		return "", Preconditionf("planning layout: %v", err)
	}
	e.layout = layout

	var disks []string
	for _, table := range layout.Tables {
		disks = append(disks, table.Device)
	}
	return fmt.Sprintf("planned %s layout on %s", layout.Filesystem, strings.Join(disks, ", ")), nil
}
