package killswitch

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/aigos/cga-engine/pkg/errs"
)

// WebSocketTransport sends the test command as a JSON text frame over an
// established gorilla/websocket connection and waits for a JSON
// acknowledgement frame back. The caller owns connection lifecycle (dial,
// close); the transport only performs one request/response exchange per
// RoundTrip call.
type WebSocketTransport struct {
	Conn *websocket.Conn
}

func (t *WebSocketTransport) Channel() Channel { return WebSocket }

func (t *WebSocketTransport) RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error) {
	if t.Conn == nil {
		return nil, errs.New(errs.Cancelled, "killswitch: websocket connection is nil")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.Conn.SetWriteDeadline(deadline)
		_ = t.Conn.SetReadDeadline(deadline)
	}
	if err := t.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, err
	}

	type wireAck struct {
		TestID string `json:"test_id"`
	}
	_, data, err := t.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ack wireAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, errs.New(errs.BadFormat, "killswitch: malformed websocket acknowledgement: %v", err)
	}
	return &Acknowledgement{TestID: ack.TestID}, nil
}
