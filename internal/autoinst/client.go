// Package autoinst drives an unattended installation: it feeds an answer
// file into a backend session over the regular wire protocol, relays
// progress into the log and reports the outcome to an optional webhook.
package autoinst

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/protocol"
)

// Client speaks the session protocol from the UI side.
type Client struct {
	codec *protocol.Codec
	log   *logrus.Entry
}

// NewClient wraps the backend's stdout/stdin pair.
func NewClient(r io.Reader, w io.Writer, log *logrus.Entry) *Client {
	return &Client{
		codec: protocol.NewCodec(r, w),
		log:   log,
	}
}

// Call sends one command and waits for its reply. Progress messages
// arriving in between are logged and skipped, they answer no request.
func (c *Client) Call(command string, args interface{}) (*protocol.Reply, error) {
	request := &protocol.Request{
		Command: command,
		Version: common.ToPtr(protocol.APIVersion),
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding %s arguments: %w", command, err)
		}
		request.Args = raw
	}

	if err := c.codec.WriteRequest(request); err != nil {
		return nil, fmt.Errorf("sending %s: %w", command, err)
	}

	for {
		reply, err := c.codec.ReadReply()
		if err != nil {
			return nil, fmt.Errorf("waiting for %s reply: %w", command, err)
		}
		if reply.Status == protocol.StatusProgress {
			c.log.WithField("step", reply.Step).Infof("%3.0f%% %s", reply.Ratio*100, reply.Text)
			continue
		}
		return reply, nil
	}
}
