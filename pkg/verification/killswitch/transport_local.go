package killswitch

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/aigos/cga-engine/pkg/errs"
)

// LocalFileTransport exercises the LOCAL_FILE channel: the test command is
// written to CommandPath and the transport polls AckPath until a matching
// acknowledgement appears or the context is done. It exists for
// air-gapped/offline agents and for tests that don't want a real network
// round trip.
type LocalFileTransport struct {
	CommandPath string
	AckPath     string
	PollEvery   func() <-chan struct{} // injected so tests don't sleep real time
}

func (t *LocalFileTransport) Channel() Channel { return LocalFile }

func (t *LocalFileTransport) RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(t.CommandPath, payload, 0o600); err != nil {
		return nil, err
	}

	type wireAck struct {
		TestID string `json:"test_id"`
	}
	for {
		data, err := os.ReadFile(t.AckPath)
		if err == nil {
			var ack wireAck
			if err := json.Unmarshal(data, &ack); err == nil && ack.TestID == cmd.TestID {
				return &Acknowledgement{TestID: ack.TestID}, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.Timeout, "killswitch: local file channel timed out waiting for ack")
		case <-tick(t.PollEvery):
		}
	}
}

func tick(poll func() <-chan struct{}) <-chan struct{} {
	if poll != nil {
		return poll()
	}
	return time.After(10 * time.Millisecond)
}
