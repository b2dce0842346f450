// Package session implements the installation session: the state machine
// that turns commands arriving on the wire into an ordered, fail-safe run
// of the installation steps.
package session

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/protocol"
)

// Failure severities forwarded to the front-end. They tell it whether
// retrying or rebooting is the sane offer to make.
const (
	SeverityRecoverable = "recoverable"
	SeverityUnsafeState = "unsafe-state"
)

// Options wire a session to its environment.
type Options struct {
	Env       *environment.Snapshot
	Runner    install.Runner
	TargetDir string
	LogPath   string
	Seed      int64
	Log       *logrus.Entry
}

// Session is one installation lifecycle. One process owns exactly one
// session, its lifetime is the process lifetime.
type Session struct {
	id    uuid.UUID
	opts  Options
	log   *logrus.Entry
	codec *protocol.Codec

	state   State
	config  *install.Config
	exec    *install.Executor
	steps   []install.Step
	cursor  int
	results []install.StepResult
	failed  *install.StepResult
}

func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	id := uuid.New()
	return &Session{
		id:     id,
		opts:   opts,
		log:    log.WithField("session", id.String()),
		state:  StateIdle,
		config: &install.Config{},
		steps:  install.Steps(),
	}
}

func (s *Session) setState(next State) {
	if !transitionValid(s.state, next) {
		// no handler produces this; if it happens the machine is wedged
		s.log.Errorf("illegal state transition %s -> %s", s.state, next)
		s.state = StateFailed
		return
	}
	s.log.Debugf("state %s -> %s", s.state, next)
	s.state = next
}

func (s *Session) guardState(wanted ...State) *protocol.Error {
	for _, state := range wanted {
		if s.state == state {
			return nil
		}
	}
	return protocol.Errorf(protocol.KindInvalidStateError,
		"command not valid in state %s", s.state)
}

// Run drives the session loop: read one request, process it to completion,
// answer it, repeat. It returns the process exit code. The channel closing
// before a terminal state counts as an abort.
func (s *Session) Run(ctx context.Context, codec *protocol.Codec) int {
	s.codec = codec
	s.log.Info("session started")

	for {
		request, err := codec.ReadRequest()
		if err == io.EOF {
			if !s.state.Terminal() {
				s.log.Warn("channel closed before a terminal state, aborting")
				s.setState(StateAborted)
				return 1
			}
			s.log.Infof("session finished in state %s", s.state)
			return 0
		}
		if err != nil {
			// the channel itself is broken, no recovery from here
			werr := protocol.AsError(err, protocol.KindProtocolError)
			_ = codec.SendError("", werr)
			s.log.Errorf("protocol failure: %s", werr.Reason)
			if !s.state.Terminal() {
				s.setState(StateAborted)
			}
			return 1
		}

		op := common.GenerateOperationID()
		log := s.log.WithField("op", op).WithField("command", request.Command)
		log.Info("processing command")

		if request.Version != nil && *request.Version != protocol.APIVersion {
			_ = codec.SendError(op, protocol.Errorf(protocol.KindValidationError,
				"unsupported protocol version %d, this backend speaks %d", *request.Version, protocol.APIVersion))
			continue
		}

		result, werr := s.dispatch(common.WithOperationID(ctx, op), request)
		if werr != nil {
			log.Warnf("command rejected: %s", werr.Reason)
			_ = codec.SendError(op, werr)
			if werr.Kind.IsFatal() {
				return 1
			}
			continue
		}
		_ = codec.SendResult(op, result)
	}
}

func (s *Session) dispatch(ctx context.Context, request *protocol.Request) (interface{}, *protocol.Error) {
	switch request.Command {
	case "configure":
		return s.handleConfigure(request.Args)
	case "begin":
		return s.handleBegin()
	case "step":
		return s.handleStep(ctx)
	case "retry":
		return s.handleRetry(ctx)
	case "query-state":
		return s.handleQueryState()
	case "query-log":
		return s.handleQueryLog()
	case "abort":
		return s.handleAbort()
	default:
		return nil, protocol.NewError(protocol.KindValidationError,
			fmt.Sprintf("unknown command %q", request.Command),
			map[string]interface{}{"known": []string{
				"configure", "begin", "step", "retry", "query-state", "query-log", "abort",
			}})
	}
}

type configureReply struct {
	State State `json:"state"`
}

// handleConfigure merges one configure command into the accumulated config.
// The command is applied to a clone first, a rejected command leaves every
// previously accepted field untouched.
func (s *Session) handleConfigure(args []byte) (interface{}, *protocol.Error) {
	if err := s.guardState(StateIdle, StateConfiguring); err != nil {
		return nil, err
	}

	parsed, err := install.ParseConfigArgs(args)
	if err != nil {
		return nil, protocol.AsError(err, protocol.KindValidationError)
	}

	next := s.config.Clone()
	if err := next.Apply(parsed, s.opts.Env); err != nil {
		return nil, protocol.AsError(err, protocol.KindValidationError)
	}
	if err := next.Validate(s.opts.Env); err != nil {
		return nil, protocol.AsError(err, protocol.KindValidationError)
	}

	s.config = next
	if s.state == StateIdle {
		s.setState(StateConfiguring)
	}
	return configureReply{State: s.state}, nil
}

// planEntry describes one step of the plan to the front-end, enough to
// render what is coming and whether a retry offer would be honored.
type planEntry struct {
	Name        string `json:"name"`
	Destructive bool   `json:"destructive"`
	Idempotent  bool   `json:"idempotent"`
}

type beginReply struct {
	State State       `json:"state"`
	Plan  []planEntry `json:"plan"`
}

// handleBegin freezes the configuration and arms the executor. It runs no
// step itself, the front-end drives those one step command at a time.
func (s *Session) handleBegin() (interface{}, *protocol.Error) {
	if err := s.guardState(StateIdle, StateConfiguring); err != nil {
		return nil, err
	}

	if missing := s.config.MissingFields(); len(missing) > 0 {
		return nil, protocol.NewError(protocol.KindIncompleteConfigError,
			"configuration is incomplete",
			map[string]interface{}{"missing": missing})
	}

	cfg := s.config.Clone()
	cfg.ApplyDefaults(s.opts.Env)
	if err := cfg.Validate(s.opts.Env); err != nil {
		return nil, protocol.AsError(err, protocol.KindValidationError)
	}

	s.exec = install.NewExecutor(s.opts.Env, cfg, s.opts.Runner, s.opts.TargetDir, s.opts.Seed, s.log)
	s.exec.Progress = func(step string, ratio float64, text string) {
		_ = s.codec.SendProgress(step, ratio, text)
	}

	s.setState(StateExecuting)
	return beginReply{State: s.state, Plan: s.plan()}, nil
}

func (s *Session) plan() []planEntry {
	plan := make([]planEntry, len(s.steps))
	for i, step := range s.steps {
		plan[i] = planEntry{
			Name:        step.Name(),
			Destructive: step.Destructive(),
			Idempotent:  step.Idempotent(),
		}
	}
	return plan
}

type stepReply struct {
	State  State              `json:"state"`
	Cursor int                `json:"cursor"`
	Result install.StepResult `json:"result"`
}

// handleStep runs exactly the next step of the plan.
func (s *Session) handleStep(ctx context.Context) (interface{}, *protocol.Error) {
	if err := s.guardState(StateExecuting); err != nil {
		return nil, err
	}
	return s.runCurrentStep(ctx, false)
}

// handleRetry re-runs the step that failed. Only the failing step may run
// again, and only if it declares itself idempotent.
func (s *Session) handleRetry(ctx context.Context) (interface{}, *protocol.Error) {
	if err := s.guardState(StateFailed); err != nil {
		return nil, err
	}

	step := s.steps[s.cursor]
	if !step.Idempotent() {
		return nil, protocol.Errorf(protocol.KindInvalidStateError,
			"step %s is not idempotent, retry refused", step.Name())
	}

	s.setState(StateExecuting)
	return s.runCurrentStep(ctx, true)
}

func (s *Session) runCurrentStep(ctx context.Context, retried bool) (interface{}, *protocol.Error) {
	step := s.steps[s.cursor]
	result := s.exec.RunStep(ctx, step)
	result.Retried = retried
	s.results = append(s.results, result)

	if !result.Success {
		s.failed = &result
		s.setState(StateFailed)
		return nil, s.stepFailure(step, result)
	}

	s.failed = nil
	s.cursor++
	if s.cursor == len(s.steps) {
		s.setState(StateCompleted)
	}
	return stepReply{State: s.state, Cursor: s.cursor, Result: result}, nil
}

type stepFailureDetails struct {
	Step           string `json:"step"`
	Kind           string `json:"kind"`
	Severity       string `json:"severity"`
	WasDestructive bool   `json:"was_destructive"`
	Retryable      bool   `json:"retryable"`
}

func (s *Session) stepFailure(step install.Step, result install.StepResult) *protocol.Error {
	return protocol.NewError(protocol.KindStepFailure,
		fmt.Sprintf("step %s failed: %s", result.Step, result.Output),
		stepFailureDetails{
			Step:           result.Step,
			Kind:           result.FailureKind,
			Severity:       severity(result),
			WasDestructive: result.WasDestructive,
			Retryable:      step.Idempotent(),
		})
}

// severity classifies a failure by what the failing step had already done
// to the disks when it gave up.
func severity(result install.StepResult) string {
	if result.WasDestructive {
		return SeverityUnsafeState
	}
	return SeverityRecoverable
}

type stateReply struct {
	SessionID   string               `json:"session_id"`
	API         int                  `json:"api"`
	Version     string               `json:"version"`
	State       State                `json:"state"`
	Cursor      int                  `json:"cursor"`
	Plan        []planEntry          `json:"plan"`
	Results     []install.StepResult `json:"results"`
	DiskTouched bool                 `json:"disk_touched"`
	Severity    string               `json:"severity,omitempty"`
}

func (s *Session) handleQueryState() (interface{}, *protocol.Error) {
	reply := stateReply{
		SessionID: s.id.String(),
		API:       protocol.APIVersion,
		Version:   common.Version,
		State:     s.state,
		Cursor:    s.cursor,
		Plan:      s.plan(),
		Results:   s.results,
	}
	if s.exec != nil {
		reply.DiskTouched = s.exec.DiskTouched()
	}
	if s.failed != nil {
		reply.Severity = severity(*s.failed)
	}
	return reply, nil
}

type logReply struct {
	Path      string               `json:"path"`
	SizeBytes int64                `json:"size_bytes"`
	Results   []install.StepResult `json:"results"`
}

// handleQueryLog hands out the full step log plus where the invocation log
// file lives, so a front-end can offer it to the user after a failure.
func (s *Session) handleQueryLog() (interface{}, *protocol.Error) {
	reply := logReply{Path: s.opts.LogPath, Results: s.results}
	if info, err := os.Stat(s.opts.LogPath); err == nil {
		reply.SizeBytes = info.Size()
	}
	return reply, nil
}

type abortReply struct {
	State          State `json:"state"`
	CompletedSteps int   `json:"completed_steps"`
}

// handleAbort stops the session between steps. Nothing is rolled back,
// the reply names how far the plan got.
func (s *Session) handleAbort() (interface{}, *protocol.Error) {
	if s.state.Terminal() {
		return nil, protocol.Errorf(protocol.KindInvalidStateError,
			"session is already %s", s.state)
	}
	s.setState(StateAborted)
	return abortReply{State: s.state, CompletedSteps: s.cursor}, nil
}
