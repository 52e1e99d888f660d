package killswitch

import (
	"context"
	"testing"
	"time"
)

// fakeTransport acknowledges immediately after a fixed delay, for
// exercising Execute/ExecuteMultiple without any real channel.
type fakeTransport struct {
	channel Channel
	delay   time.Duration
	fail    bool
}

func (f *fakeTransport) Channel() Channel { return f.channel }

func (f *fakeTransport) RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.fail {
		return nil, errNotAcked
	}
	return &Acknowledgement{TestID: cmd.TestID}, nil
}

var errNotAcked = &testErr{"not acked"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func TestExecute_PassesOnMatchingAck(t *testing.T) {
	reports, err := Execute(context.Background(), Config{
		Transports: []Transport{&fakeTransport{channel: Polling, delay: time.Millisecond}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || !reports[0].Passed {
		t.Fatalf("expected single passing report, got %+v", reports)
	}
}

func TestExecute_FailsOnTransportError(t *testing.T) {
	reports, err := Execute(context.Background(), Config{
		Transports: []Transport{&fakeTransport{channel: SSE, fail: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reports[0].Passed {
		t.Fatalf("expected failing report")
	}
}

func TestExecute_TimesOutSlowChannel(t *testing.T) {
	reports, err := Execute(context.Background(), Config{
		TimeoutMs:  5,
		Transports: []Transport{&fakeTransport{channel: SSE, delay: 50 * time.Millisecond}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reports[0].Passed {
		t.Fatalf("expected timeout to fail the channel")
	}
}

func TestExecuteMultiple_AggregatesPercentiles(t *testing.T) {
	// ~100ms responses over several iterations.
	agg, err := ExecuteMultiple(context.Background(), Config{
		Transports: []Transport{&fakeTransport{channel: Polling, delay: 100 * time.Millisecond}},
	}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Passed != 3 || agg.Failed != 0 {
		t.Fatalf("expected 3 passes, got %+v", agg)
	}
	if !agg.OverallOK {
		t.Fatalf("expected overall success")
	}
	if agg.P99Ms < agg.P50Ms {
		t.Fatalf("p99 should be >= p50: %+v", agg)
	}
}

func TestExecuteMultiple_RejectsNonPositiveIterations(t *testing.T) {
	if _, err := ExecuteMultiple(context.Background(), Config{Transports: []Transport{&fakeTransport{}}}, 0); err == nil {
		t.Fatalf("expected error for zero iterations")
	}
}
