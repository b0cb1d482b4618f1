package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedDialer returns the scripted results in order, repeating the last
// one once exhausted. true means the probe succeeds.
func scriptedDialer(script []bool) Dialer {
	i := 0
	return func(ctx context.Context, addr string) error {
		ok := script[len(script)-1]
		if i < len(script) {
			ok = script[i]
			i++
		}
		if ok {
			return nil
		}
		return errors.New("dial timeout")
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Debounce = 3
	return cfg
}

func TestMonitor_TransientBlipDoesNotFlip(t *testing.T) {
	m := NewMonitor(testConfig(), nil, WithDialer(scriptedDialer([]bool{false, false, true})))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}

	if !m.Reachable() {
		t.Fatal("two failed probes followed by a success should not flip offline")
	}
	select {
	case v := <-m.Updates():
		t.Fatalf("unexpected update %v", v)
	default:
	}
}

func TestMonitor_SustainedOutageFlips(t *testing.T) {
	m := NewMonitor(testConfig(), nil, WithDialer(scriptedDialer([]bool{false, false, false})))

	ctx := context.Background()
	m.Probe(ctx)
	m.Probe(ctx)
	if !m.Reachable() {
		t.Fatal("flipped before debounce threshold")
	}
	m.Probe(ctx)
	if m.Reachable() {
		t.Fatal("expected offline after third consecutive failure")
	}

	select {
	case v := <-m.Updates():
		if v {
			t.Fatal("expected offline update")
		}
	default:
		t.Fatal("expected an update on the channel")
	}
}

func TestMonitor_RecoveryFlipsBackOnline(t *testing.T) {
	script := []bool{false, false, false, true, true, true}
	m := NewMonitor(testConfig(), nil, WithDialer(scriptedDialer(script)))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}
	if m.Reachable() {
		t.Fatal("expected offline")
	}
	<-m.Updates()

	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}
	if !m.Reachable() {
		t.Fatal("expected online after three successful probes")
	}
	select {
	case v := <-m.Updates():
		if !v {
			t.Fatal("expected online update")
		}
	default:
		t.Fatal("expected an update on the channel")
	}
}

func TestMonitor_DisagreeResetOnAgreement(t *testing.T) {
	// down, down, up, down, down: never three in a row, never flips.
	script := []bool{false, false, true, false, false, true}
	m := NewMonitor(testConfig(), nil, WithDialer(scriptedDialer(script)))

	ctx := context.Background()
	for i := 0; i < len(script); i++ {
		m.Probe(ctx)
	}
	if !m.Reachable() {
		t.Fatal("interleaved failures should not flip offline")
	}
}

func TestMonitor_InitialReachableOption(t *testing.T) {
	m := NewMonitor(testConfig(), nil,
		WithDialer(scriptedDialer([]bool{true})),
		WithInitialReachable(false))

	if m.Reachable() {
		t.Fatal("expected initial offline")
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Probe(ctx)
	}
	if !m.Reachable() {
		t.Fatal("expected online after debounced successes")
	}
}

func TestMonitor_SlowConsumerStillSeesLatestFlip(t *testing.T) {
	// Alternate three-failure and three-success runs so every third probe
	// flips the state, with nobody reading the updates channel.
	var script []bool
	for i := 0; i < 8; i++ {
		up := i%2 == 1
		script = append(script, up, up, up)
	}
	m := NewMonitor(testConfig(), nil, WithDialer(scriptedDialer(script)))

	ctx := context.Background()
	for i := 0; i < len(script); i++ {
		m.Probe(ctx)
	}

	// Eight flips into a four-slot channel: old ones may be evicted, but
	// draining must end on the state the monitor currently reports.
	var last, got bool
	drained := 0
	for {
		select {
		case last = <-m.Updates():
			got = true
			drained++
			continue
		default:
		}
		break
	}
	if !got {
		t.Fatal("expected queued updates")
	}
	if drained > 4 {
		t.Fatalf("drained %d updates from a four-slot channel", drained)
	}
	if last != m.Reachable() {
		t.Fatalf("last delivered flip %v does not match current state %v", last, m.Reachable())
	}
}

func TestMonitor_RunHonoursContext(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	m := NewMonitor(cfg, nil, WithDialer(scriptedDialer([]bool{true})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
