package install

import (
	"context"
	"fmt"
	"strings"
)

// partitionStep writes the planned GPT onto every target disk. Destructive
// from the first wipefs on.
type partitionStep struct{}

func (s *partitionStep) Name() string      { return StepPartition }
func (s *partitionStep) Destructive() bool { return true }
func (s *partitionStep) Idempotent() bool  { return true }

func (s *partitionStep) Run(ctx context.Context, e *Executor) (string, error) {
	if e.layout == nil {
		return "", Preconditionf("no layout planned, select-disk did not run")
	}

	total := len(e.layout.Tables)
	for i, table := range e.layout.Tables {
		e.emitProgress(StepPartition, float64(i)/float64(total), fmt.Sprintf("partitioning %s", table.Device))

		e.BeginDestructive()
		if _, err := e.run(ctx, "wipefs", "--all", table.Device); err != nil {
			return "", err
		}
		if _, err := e.Runner.Run(ctx, strings.NewReader(table.SfdiskScript()), "sfdisk", table.Device); err != nil {
			return "", err
		}
		if _, err := e.run(ctx, "blockdev", "--rereadpt", table.Device); err != nil {
			return "", err
		}
	}

	e.emitProgress(StepPartition, 1, "partitioning done")
	return fmt.Sprintf("wrote gpt on %d disk(s)", total), nil
}
