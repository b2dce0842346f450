// Package protocol implements the newline-delimited JSON wire protocol the
// session controller speaks over stdin/stdout: one request per line in, one
// response per request out, with unsolicited progress messages interleaved
// while a step runs.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Lines above this size mean the channel is broken, not that a command is
// unusually chatty.
const maxLineSize = 1024 * 1024

// Codec frames and parses messages on the session channel. It serves both
// ends: the backend reads requests and sends replies, a driving client does
// the reverse over the same pipe pair.
type Codec struct {
	scanner *bufio.Scanner
	encoder *json.Encoder
}

func NewCodec(r io.Reader, w io.Writer) *Codec {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	return &Codec{
		scanner: scanner,
		encoder: encoder,
	}
}

// ReadRequest returns the next inbound command. Blank lines are skipped, a
// line that does not parse as a request is a ProtocolError and io.EOF marks
// the end of the channel.
func (c *Codec) ReadRequest() (*Request, error) {
	line, err := c.nextLine()
	if err != nil {
		return nil, err
	}

	var request Request
	if err := json.Unmarshal(line, &request); err != nil {
		return nil, Errorf(KindProtocolError, "malformed message: %v", err)
	}
	if request.Command == "" {
		return nil, NewError(KindProtocolError, "message carries no command")
	}
	return &request, nil
}

// ReadReply returns the next outbound message, decoded for the client side.
func (c *Codec) ReadReply() (*Reply, error) {
	line, err := c.nextLine()
	if err != nil {
		return nil, err
	}

	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, Errorf(KindProtocolError, "malformed reply: %v", err)
	}
	return &reply, nil
}

func (c *Codec) nextLine() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, Errorf(KindProtocolError, "reading channel: %v", err)
	}
	return nil, io.EOF
}

// WriteRequest sends a command, client side.
func (c *Codec) WriteRequest(request *Request) error {
	return c.encoder.Encode(request)
}

// SendResult answers a request successfully.
func (c *Codec) SendResult(op string, result interface{}) error {
	return c.encoder.Encode(resultMessage{
		Op:     op,
		Status: StatusOk,
		Result: result,
	})
}

// SendError answers a request with a structured error.
func (c *Codec) SendError(op string, e *Error) error {
	return c.encoder.Encode(errorMessage{
		Op:      op,
		Status:  StatusError,
		Kind:    e.Kind,
		Message: e.Reason,
		Details: e.Details,
	})
}

// SendProgress emits an unsolicited progress message for a running step.
func (c *Codec) SendProgress(step string, ratio float64, text string) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("progress ratio %v out of range", ratio)
	}
	return c.encoder.Encode(progressMessage{
		Status: StatusProgress,
		Step:   step,
		Ratio:  ratio,
		Text:   text,
	})
}
