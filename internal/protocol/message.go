package protocol

import (
	"encoding/json"

	"github.com/osinstall/osinstall/internal/common"
)

// APIVersion is the protocol version this backend speaks. Requests may pin
// it explicitly; query-state reports it.
const APIVersion = 1

// Status is the type of an outbound message.
type Status int

const (
	StatusOk Status = iota
	StatusError
	StatusProgress
)

func getStatusMapping() map[string]int {
	return map[string]int{
		"ok":       int(StatusOk),
		"error":    int(StatusError),
		"progress": int(StatusProgress),
	}
}

func (s Status) String() string {
	str, ok := common.EnumToString(getStatusMapping(), int(s))
	if !ok {
		panic("invalid status value")
	}
	return str
}

func (s Status) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(s), getStatusMapping(), "is not a valid status value")
}

func (s *Status) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid status string", " is not a valid status", getStatusMapping())
	if err != nil {
		return err
	}
	*s = Status(value)
	return nil
}

// Request is one inbound command. Args are left raw, every command parses
// its own argument shape.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
	Version *int            `json:"version,omitempty"`
}

// resultMessage answers a request successfully.
type resultMessage struct {
	Op     string      `json:"op"`
	Status Status      `json:"status"`
	Result interface{} `json:"result,omitempty"`
}

// errorMessage answers a request with a structured error.
type errorMessage struct {
	Op      string      `json:"op"`
	Status  Status      `json:"status"`
	Kind    ErrorKind   `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// progressMessage is emitted unsolicited while a step runs. It carries no
// operation id, it belongs to no request/response pair.
type progressMessage struct {
	Status Status  `json:"status"`
	Step   string  `json:"step"`
	Ratio  float64 `json:"ratio"`
	Text   string  `json:"text,omitempty"`
}

// Reply is the decoded form of any outbound message, used by clients driving
// a session (and by the tests).
type Reply struct {
	Op      string          `json:"op,omitempty"`
	Status  Status          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Kind    *ErrorKind      `json:"kind,omitempty"`
	Msg     string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
	Step    string          `json:"step,omitempty"`
	Ratio   float64         `json:"ratio,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// DecodeResult unmarshals the result payload of an ok reply.
func (r *Reply) DecodeResult(v interface{}) error {
	return json.Unmarshal(r.Result, v)
}

// AsError reconstructs the wire error of an error reply.
func (r *Reply) AsError() *Error {
	if r.Status != StatusError || r.Kind == nil {
		return nil
	}
	e := &Error{Kind: *r.Kind, Reason: r.Msg}
	if len(r.Details) > 0 {
		var details interface{}
		if err := json.Unmarshal(r.Details, &details); err == nil {
			e.Details = details
		}
	}
	return e
}
