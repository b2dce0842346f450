package autoinst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/protocol"
)

// Report results.
const (
	ReportSuccess = "success"
	ReportFailure = "failure"
)

// Report is the final outcome document, logged and posted to the webhook.
type Report struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`

	Product environment.IsoInfo `json:"product"`
	FQDN    string              `json:"fqdn,omitempty"`

	SessionID      string               `json:"session_id,omitempty"`
	BackendVersion string               `json:"backend_version,omitempty"`
	State          string               `json:"state,omitempty"`
	DiskTouched    bool                 `json:"disk_touched"`
	Severity       string               `json:"severity,omitempty"`
	Steps          []install.StepResult `json:"steps"`

	DurationSeconds float64 `json:"duration_seconds"`
}

// Client-side views of the session's reply payloads.
type planEntry struct {
	Name        string `json:"name"`
	Destructive bool   `json:"destructive"`
	Idempotent  bool   `json:"idempotent"`
}

type beginView struct {
	State string      `json:"state"`
	Plan  []planEntry `json:"plan"`
}

type stepView struct {
	State  string             `json:"state"`
	Cursor int                `json:"cursor"`
	Result install.StepResult `json:"result"`
}

type stateView struct {
	SessionID   string               `json:"session_id"`
	Version     string               `json:"version"`
	State       string               `json:"state"`
	Results     []install.StepResult `json:"results"`
	DiskTouched bool                 `json:"disk_touched"`
	Severity    string               `json:"severity,omitempty"`
}

type failureView struct {
	Step      string `json:"step"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Retryable bool   `json:"retryable"`
}

// Run drives one answer through a session: a single configure carrying the
// lowered answer, begin, then step until the session is terminal. A failed
// idempotent step is retried once before giving up. The returned report is
// non-nil whenever the conversation reached the backend; a nil report means
// the transport itself broke.
func Run(ctx context.Context, client *Client, ans *answer.Answer, env *environment.Snapshot, log *logrus.Entry) (*Report, error) {
	start := time.Now()
	report := &Report{
		Product: env.Iso,
		FQDN:    ans.Global.FQDN,
		Steps:   []install.StepResult{},
	}

	finish := func(result, message string) (*Report, error) {
		if reply, err := client.Call("query-state", nil); err == nil && reply.Status == protocol.StatusOk {
			var state stateView
			if err := reply.DecodeResult(&state); err == nil {
				report.SessionID = state.SessionID
				report.BackendVersion = state.Version
				report.State = state.State
				report.DiskTouched = state.DiskTouched
				report.Severity = state.Severity
				if state.Results != nil {
					report.Steps = state.Results
				}
			}
		}
		report.Result = result
		report.Message = message
		report.DurationSeconds = time.Since(start).Seconds()
		return report, nil
	}

	args, err := ans.ConfigArgs(env)
	if err != nil {
		return nil, fmt.Errorf("lowering answer file: %w", err)
	}

	reply, err := client.Call("configure", args)
	if err != nil {
		return nil, err
	}
	if e := reply.AsError(); e != nil {
		return finish(ReportFailure, fmt.Sprintf("configuration rejected: %s", e.Reason))
	}

	reply, err = client.Call("begin", nil)
	if err != nil {
		return nil, err
	}
	if e := reply.AsError(); e != nil {
		return finish(ReportFailure, fmt.Sprintf("cannot begin installation: %s", e.Reason))
	}

	var begin beginView
	if err := reply.DecodeResult(&begin); err != nil {
		return nil, fmt.Errorf("bad begin reply: %w", err)
	}
	names := make([]string, len(begin.Plan))
	for i, entry := range begin.Plan {
		names[i] = entry.Name
	}
	log.Infof("installation plan: %s", strings.Join(names, ", "))

	retried := map[string]bool{}
	for {
		reply, err := client.Call("step", nil)
		if err != nil {
			return nil, err
		}

		if e := reply.AsError(); e != nil {
			if e.Kind != protocol.KindStepFailure {
				return finish(ReportFailure, e.Reason)
			}

			var failure failureView
			if len(reply.Details) > 0 {
				if err := json.Unmarshal(reply.Details, &failure); err != nil {
					return nil, fmt.Errorf("bad step failure details: %w", err)
				}
			}
			if !failure.Retryable || retried[failure.Step] {
				return finish(ReportFailure, e.Reason)
			}

			retried[failure.Step] = true
			log.WithField("step", failure.Step).Warnf("step failed, retrying once: %s", e.Reason)

			// A successful retry answers with the same step reply shape,
			// so it falls through to the decoding below.
			reply, err = client.Call("retry", nil)
			if err != nil {
				return nil, err
			}
			if e := reply.AsError(); e != nil {
				return finish(ReportFailure, e.Reason)
			}
		}

		var step stepView
		if err := reply.DecodeResult(&step); err != nil {
			return nil, fmt.Errorf("bad step reply: %w", err)
		}
		entry := log.WithField("step", step.Result.Step)
		if step.Result.Output != "" {
			entry.Infof("step succeeded: %s", step.Result.Output)
		} else {
			entry.Info("step succeeded")
		}

		if step.State == "Completed" {
			return finish(ReportSuccess, "")
		}
	}
}
