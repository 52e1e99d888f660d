package killswitch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aigos/cga-engine/pkg/errs"
)

// HTTPClient is the minimal surface the SSE and POLLING transports need
// from an HTTP client, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type wireAck struct {
	TestID string `json:"test_id"`
}

// SSETransport posts the test command to CommandURL, then reads the
// agent's Server-Sent Events stream at StreamURL for a "data:" line whose
// JSON payload's test_id matches.
type SSETransport struct {
	Client     HTTPClient
	CommandURL string
	StreamURL  string
}

func (t *SSETransport) Channel() Channel { return SSE }

func (t *SSETransport) RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error) {
	if err := postJSON(ctx, t.Client, t.CommandURL, cmd); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.StreamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ack wireAck
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := json.Unmarshal([]byte(payload), &ack); err != nil {
			continue
		}
		if ack.TestID == cmd.TestID {
			return &Acknowledgement{TestID: ack.TestID}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errs.New(errs.Timeout, "killswitch: sse stream closed before a matching acknowledgement arrived")
}

// PollTransport posts the test command once, then polls StatusURL at
// Interval (default 250ms) until it returns a matching acknowledgement or
// the context is done.
type PollTransport struct {
	Client     HTTPClient
	CommandURL string
	StatusURL  string
	Interval   time.Duration
}

func (t *PollTransport) Channel() Channel { return Polling }

func (t *PollTransport) interval() time.Duration {
	if t.Interval <= 0 {
		return 250 * time.Millisecond
	}
	return t.Interval
}

func (t *PollTransport) RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error) {
	if err := postJSON(ctx, t.Client, t.CommandURL, cmd); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(t.interval())
	defer ticker.Stop()
	for {
		ack, err := t.pollOnce(ctx, cmd.TestID)
		if err != nil {
			return nil, err
		}
		if ack != nil {
			return ack, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *PollTransport) pollOnce(ctx context.Context, testID string) (*Acknowledgement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.StatusURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ack wireAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, nil
	}
	if ack.TestID == testID {
		return &Acknowledgement{TestID: ack.TestID}, nil
	}
	return nil, nil
}

func postJSON(ctx context.Context, client HTTPClient, url string, cmd TestCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.New(errs.BadFormat, "killswitch: command post to %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
