// Package killswitch implements the kill-switch live-test sub-protocol:
// send a signed test command over one of several channel transports,
// measure end-to-end latency, and aggregate pass/fail and percentile
// statistics across repeated iterations.
//
// The WEBSOCKET channel is backed by gorilla/websocket for duplex agent
// connections; SSE and POLLING are plain HTTP and need no extra library;
// LOCAL_FILE is a filesystem round trip used in tests and air-gapped
// deployments.
package killswitch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"time"

	"github.com/aigos/cga-engine/pkg/errs"
)

// Channel identifies the transport used to reach an agent's kill-switch
// endpoint.
type Channel string

const (
	SSE       Channel = "SSE"
	WebSocket Channel = "WEBSOCKET"
	Polling   Channel = "POLLING"
	LocalFile Channel = "LOCAL_FILE"
)

// DefaultTimeout is the default per-channel round-trip budget.
const DefaultTimeout = 60 * time.Second

// TestCommand is the signed command sent to the agent's kill-switch
// endpoint.
type TestCommand struct {
	Type      string    `json:"type"`
	TestID    string    `json:"test_id"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature"`
}

// Acknowledgement is what a channel transport must return for the test to
// PASS: a matching test_id observed before the timeout.
type Acknowledgement struct {
	TestID string
}

// Transport sends a TestCommand over one channel and waits for the
// acknowledgement. Each channel (SSE/WEBSOCKET/POLLING/LOCAL_FILE) supplies
// its own Transport; the engine is agnostic to how the round trip happens.
type Transport interface {
	Channel() Channel
	RoundTrip(ctx context.Context, cmd TestCommand) (*Acknowledgement, error)
}

// Config configures one or more live-test invocations.
type Config struct {
	Transports []Transport
	TimeoutMs  int64 // 0 => DefaultTimeout
	Sign       func(cmd TestCommand) (string, error)
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ChannelReport is the per-channel outcome of one test iteration.
type ChannelReport struct {
	Channel   Channel
	Passed    bool
	LatencyMs float64
	Error     string
}

// Aggregate summarizes statistics across channels/iterations.
type Aggregate struct {
	Passed       int
	Failed       int
	OverallOK    bool
	P50Ms, P99Ms float64
	MinMs, MaxMs float64
	Channels     []ChannelReport
}

func newTestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Execute sends one signed test command to every configured transport and
// returns a report per channel. A channel that returns before its timeout
// with a matching test_id PASSes; anything else (error, mismatched id,
// timeout) FAILs that channel.
func Execute(ctx context.Context, cfg Config) ([]ChannelReport, error) {
	if len(cfg.Transports) == 0 {
		return nil, errs.New(errs.BadFormat, "killswitch: at least one transport is required")
	}

	testID := newTestID()
	cmd := TestCommand{Type: "TEST", TestID: testID, Timestamp: time.Now().UTC()}
	if cfg.Sign != nil {
		sig, err := cfg.Sign(cmd)
		if err != nil {
			return nil, errs.New(errs.SignerUnavailable, "killswitch: sign test command: %v", err)
		}
		cmd.Signature = sig
	}

	reports := make([]ChannelReport, 0, len(cfg.Transports))
	for _, transport := range cfg.Transports {
		reports = append(reports, runOne(ctx, transport, cmd, cfg.timeout()))
	}
	return reports, nil
}

func runOne(ctx context.Context, transport Transport, cmd TestCommand, timeout time.Duration) ChannelReport {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ack, err := transport.RoundTrip(callCtx, cmd)
	latency := time.Since(start)
	latencyMs := float64(latency.Microseconds()) / 1000.0

	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return ChannelReport{Channel: transport.Channel(), Passed: false, LatencyMs: latencyMs, Error: "timeout"}
		}
		return ChannelReport{Channel: transport.Channel(), Passed: false, LatencyMs: latencyMs, Error: err.Error()}
	}
	if ack == nil || ack.TestID != cmd.TestID {
		return ChannelReport{Channel: transport.Channel(), Passed: false, LatencyMs: latencyMs, Error: "test_id mismatch or missing acknowledgement"}
	}
	return ChannelReport{Channel: transport.Channel(), Passed: true, LatencyMs: latencyMs}
}

// interIterationGap is the pause between iterations of ExecuteMultiple,
// applied deliberately (not as a rate limit) so each iteration's latency
// stays attributable and iterations never self-induce congestion.
const interIterationGap = 100 * time.Millisecond

// ExecuteMultiple runs Execute serially `iterations` times, waiting
// interIterationGap between each, and returns the aggregate statistics.
// It never parallelizes across iterations or channels.
func ExecuteMultiple(ctx context.Context, cfg Config, iterations int) (*Aggregate, error) {
	if iterations <= 0 {
		return nil, errs.New(errs.BadFormat, "killswitch: iterations must be positive")
	}

	var all []ChannelReport
	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return nil, errs.New(errs.Cancelled, "killswitch: cancelled after %d/%d iterations", i, iterations)
		}
		reports, err := Execute(ctx, cfg)
		if err != nil {
			return nil, err
		}
		all = append(all, reports...)
		if i < iterations-1 {
			select {
			case <-time.After(interIterationGap):
			case <-ctx.Done():
				return nil, errs.New(errs.Cancelled, "killswitch: cancelled during inter-iteration gap")
			}
		}
	}
	return aggregate(all), nil
}

func aggregate(reports []ChannelReport) *Aggregate {
	agg := &Aggregate{Channels: reports}
	var latencies []float64
	for _, r := range reports {
		if r.Passed {
			agg.Passed++
			latencies = append(latencies, r.LatencyMs)
		} else {
			agg.Failed++
		}
	}
	agg.OverallOK = agg.Passed > 0

	if len(latencies) == 0 {
		return agg
	}
	sort.Float64s(latencies)
	agg.MinMs = latencies[0]
	agg.MaxMs = latencies[len(latencies)-1]
	agg.P50Ms = percentile(latencies, 0.50)
	agg.P99Ms = percentile(latencies, 0.99)
	return agg
}

// percentile interpolates linearly between the two nearest ranks of an
// already-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
