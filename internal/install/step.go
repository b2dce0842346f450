package install

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/environment"
)

// The fixed installation steps, in execution order.
const (
	StepSelectDisk = "select-disk"
	StepPartition  = "partition"
	StepFormat     = "format"
	StepDeploy     = "deploy"
	StepBootloader = "configure-bootloader"
	StepFinalize   = "finalize"
)

// Failure kinds attached to a failed step result.
const (
	FailureCommand      = "command-failed"
	FailureIO           = "io-fault"
	FailurePanic        = "panic"
	FailurePrecondition = "precondition-failed"
)

// Step is one unit of the installation sequence. Destructive steps modify
// the target disks, idempotent steps may be retried after a failure.
type Step interface {
	Name() string
	Destructive() bool
	Idempotent() bool
	Run(ctx context.Context, e *Executor) (string, error)
}

// Steps returns the full installation sequence in execution order.
func Steps() []Step {
	return []Step{
		&selectDiskStep{},
		&partitionStep{},
		&formatStep{},
		&deployStep{},
		&bootloaderStep{},
		&finalizeStep{},
	}
}

// StepError tags a step failure with its kind. Steps return it when the
// plain error would be misclassified.
type StepError struct {
	Kind string
	Err  error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Preconditionf builds a precondition failure, e.g. a target disk that
// vanished between configuration and execution.
func Preconditionf(format string, args ...interface{}) *StepError {
	return &StepError{Kind: FailurePrecondition, Err: fmt.Errorf(format, args...)}
}

func classifyFailure(err error) string {
	var stepError *StepError
	if errors.As(err, &stepError) {
		return stepError.Kind
	}
	var commandError *CommandError
	if errors.As(err, &commandError) {
		return FailureCommand
	}
	return FailureIO
}

// StepResult is the recorded outcome of one step run.
type StepResult struct {
	Step           string `json:"step"`
	Success        bool   `json:"success"`
	Output         string `json:"output,omitempty"`
	FailureKind    string `json:"failure_kind,omitempty"`
	WasDestructive bool   `json:"was_destructive"`
	Retried        bool   `json:"retried,omitempty"`
}

// ProgressFunc receives intermediate progress from within a running step.
// ratio is in [0, 1].
type ProgressFunc func(step string, ratio float64, text string)

// Executor carries everything the steps need: the frozen configuration,
// the environment snapshot, the runner and the mount target. One executor
// serves one session.
type Executor struct {
	Env       *environment.Snapshot
	Config    *Config
	Runner    Runner
	TargetDir string
	Log       *logrus.Entry
	Progress  ProgressFunc

	layout      *Layout
	rng         *rand.Rand
	destructive bool
	diskTouched bool
}

// NewExecutor builds an executor for one installation run. The seed feeds
// every generated identifier, equal seeds give identical plans.
func NewExecutor(env *environment.Snapshot, cfg *Config, runner Runner, targetDir string, seed int64, log *logrus.Entry) *Executor {
	return &Executor{
		Env:       env,
		Config:    cfg,
		Runner:    runner,
		TargetDir: targetDir,
		Log:       log,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Layout returns the plan produced by the select-disk step, nil before it
// ran.
func (e *Executor) Layout() *Layout {
	return e.layout
}

// DiskTouched reports whether any destructive action has been taken on the
// target disks so far. Once true it stays true.
func (e *Executor) DiskTouched() bool {
	return e.diskTouched
}

// BeginDestructive marks the running step destructive from this point on.
// Steps call it immediately before their first destructive command.
func (e *Executor) BeginDestructive() {
	e.destructive = true
	e.diskTouched = true
}

func (e *Executor) emitProgress(step string, ratio float64, text string) {
	if e.Progress != nil {
		e.Progress(step, ratio, text)
	}
}

func (e *Executor) run(ctx context.Context, name string, arg ...string) ([]byte, error) {
	return e.Runner.Run(ctx, nil, name, arg...)
}

// RunStep executes one step to completion and records its outcome. A panic
// inside a step is contained and reported as a failed result, the target
// disk state it may have left behind is classified through the destructive
// marker.
func (e *Executor) RunStep(ctx context.Context, step Step) (result StepResult) {
	e.destructive = false

	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("step", step.Name())

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("step panicked: %v", p)
			// an uncontrolled crash, assume the worst of a destructive step
			wasDestructive := e.destructive || step.Destructive()
			if wasDestructive {
				e.diskTouched = true
			}
			result = StepResult{
				Step:           step.Name(),
				Success:        false,
				Output:         fmt.Sprintf("step panicked: %v", p),
				FailureKind:    FailurePanic,
				WasDestructive: wasDestructive,
			}
		}
	}()

	log.Info("step started")
	output, err := step.Run(ctx, e)
	if err != nil {
		log.WithField("kind", classifyFailure(err)).Errorf("step failed: %v", err)
		return StepResult{
			Step:           step.Name(),
			Success:        false,
			Output:         err.Error(),
			FailureKind:    classifyFailure(err),
			WasDestructive: e.destructive,
		}
	}

	log.Info("step finished")
	wasDestructive := e.destructive || step.Destructive()
	if wasDestructive {
		e.diskTouched = true
	}
	return StepResult{
		Step:           step.Name(),
		Success:        true,
		Output:         output,
		WasDestructive: wasDestructive,
	}
}
