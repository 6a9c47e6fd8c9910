package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/requester"
)

// countSensor encodes its name as the request payload and counts updates.
type countSensor struct {
	name     string
	buildErr error

	mu      sync.Mutex
	updates int
	lastErr error
	lastCC  nsm.CompletionCode
}

func (s *countSensor) Name() string { return s.name }

func (s *countSensor) Command() (nsm.MessageType, uint8, []byte, error) {
	if s.buildErr != nil {
		return 0, 0, nil, s.buildErr
	}
	return nsm.TypePlatformEnvironmental, nsm.CmdGetTemperatureReading, []byte(s.name), nil
}

func (s *countSensor) Update(resp *nsm.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.lastErr = err
	if resp != nil {
		s.lastCC = resp.CC
	}
}

func (s *countSensor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// fakeExchanger records the sensor name of each exchange and answers with
// the configured outcome for that name.
type fakeExchanger struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	cc    map[string]nsm.CompletionCode
}

func (f *fakeExchanger) Exchange(_ context.Context, _ uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error) {
	name := string(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return &nsm.Response{MessageType: msgType, Command: command, CC: f.cc[name]}, nil
}

func (f *fakeExchanger) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls
	f.calls = nil
	return c
}

type fixture struct {
	dev     *device.Device
	sensors map[string]*countSensor
}

func newFixture(t *testing.T, tiers map[device.Tier][]string) fixture {
	t.Helper()
	reg := device.NewRegistry(nil)
	dev, err := reg.Register("gpu-0")
	if err != nil {
		t.Fatal(err)
	}
	fx := fixture{dev: dev, sensors: make(map[string]*countSensor)}
	for _, tier := range []device.Tier{device.TierPriority, device.TierRoundRobin, device.TierStatic} {
		for _, n := range tiers[tier] {
			s := &countSensor{name: n}
			fx.sensors[n] = s
			if err := reg.AddSensor(dev, s, tier); err != nil {
				t.Fatalf("AddSensor(%s) error = %v", n, err)
			}
		}
	}
	return fx
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunCycleOrder(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{
		device.TierPriority:   {"p0", "p1"},
		device.TierRoundRobin: {"r0", "r1", "r2"},
		device.TierStatic:     {"s0"},
	})
	ex := &fakeExchanger{}
	p := NewPoller(fx.dev, ex, time.Millisecond, nil)
	ctx := context.Background()

	want := [][]string{
		{"s0", "p0", "p1", "r0"},
		{"p0", "p1", "r1"},
		{"p0", "p1", "r2"},
		{"p0", "p1", "r0"},
	}
	for i, w := range want {
		p.RunCycle(ctx)
		if got := ex.takeCalls(); !equal(got, w) {
			t.Errorf("cycle %d calls = %v, want %v", i+1, got, w)
		}
	}
	if fx.sensors["s0"].count() != 1 {
		t.Errorf("static sensor ran %d times, want 1", fx.sensors["s0"].count())
	}
	if st := p.Stats(); st.Cycles != 4 || st.Invocations != 13 {
		t.Errorf("Stats() = %+v", st)
	}
	if !fx.dev.Online() {
		t.Error("device not marked online after successful exchanges")
	}
}

func TestRoundRobinFairness(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	fx := newFixture(t, map[device.Tier][]string{device.TierRoundRobin: names})
	p := NewPoller(fx.dev, &fakeExchanger{}, time.Millisecond, nil)

	for round := 1; round <= 3; round++ {
		for range names {
			p.RunCycle(context.Background())
		}
		for _, n := range names {
			if got := fx.sensors[n].count(); got != round {
				t.Fatalf("after %d rounds sensor %s ran %d times", round, n, got)
			}
		}
	}
}

func TestFailuresDoNotStopCycle(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{
		device.TierPriority:   {"p0", "p1"},
		device.TierRoundRobin: {"r0"},
	})
	ex := &fakeExchanger{
		errs: map[string]error{"p0": requester.ErrTimeout},
		cc:   map[string]nsm.CompletionCode{"p1": nsm.CCUnsupportedCommandCode},
	}
	p := NewPoller(fx.dev, ex, time.Millisecond, nil)

	p.RunCycle(context.Background())
	p.RunCycle(context.Background())

	for _, n := range []string{"p0", "p1", "r0"} {
		if got := fx.sensors[n].count(); got != 2 {
			t.Errorf("sensor %s ran %d times, want 2", n, got)
		}
	}
	if !errors.Is(fx.sensors["p0"].lastErr, requester.ErrTimeout) {
		t.Errorf("p0 last error = %v", fx.sensors["p0"].lastErr)
	}
	if fx.sensors["p1"].lastCC != nsm.CCUnsupportedCommandCode {
		t.Errorf("p1 last cc = %s", fx.sensors["p1"].lastCC)
	}
	if st := p.Stats(); st.Failures != 4 {
		t.Errorf("Failures = %d, want 4", st.Failures)
	}
}

func TestSkipWithoutInstanceID(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{device.TierRoundRobin: {"r0", "r1", "r2"}})
	ex := &fakeExchanger{errs: map[string]error{"r0": requester.ErrNoInstanceID}}
	p := NewPoller(fx.dev, ex, time.Millisecond, nil)

	for range 3 {
		p.RunCycle(context.Background())
	}
	if got := ex.takeCalls(); !equal(got, []string{"r0", "r1", "r2"}) {
		t.Errorf("calls = %v", got)
	}
	if fx.sensors["r0"].count() != 0 {
		t.Error("skipped sensor received an update")
	}
	if fx.sensors["r1"].count() != 1 || fx.sensors["r2"].count() != 1 {
		t.Error("skip disturbed the rotation")
	}
	if p.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", p.Stats().Skipped)
	}
}

func TestSkipWhenRequestNotBuilt(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{device.TierPriority: {"p0", "p1"}})
	fx.sensors["p0"].buildErr = nsm.ErrData
	ex := &fakeExchanger{}
	p := NewPoller(fx.dev, ex, time.Millisecond, nil)

	p.RunCycle(context.Background())
	if got := ex.takeCalls(); !equal(got, []string{"p1"}) {
		t.Errorf("calls = %v, want [p1]", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{device.TierPriority: {"p0"}})
	p := NewPoller(fx.dev, &fakeExchanger{}, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Cycles < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not cycle")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerStartsOncePerDevice(t *testing.T) {
	fx := newFixture(t, map[device.Tier][]string{device.TierPriority: {"p0"}})
	m := NewManager(&fakeExchanger{}, time.Millisecond)

	if !m.Start(context.Background(), fx.dev) {
		t.Fatal("first Start() = false")
	}
	if m.Start(context.Background(), fx.dev) {
		t.Error("second Start() = true, want false")
	}
	if !m.Running("gpu-0") {
		t.Error("Running() = false")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, ok := m.Stats("gpu-0")
		if ok && st.Cycles > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("managed poller did not cycle")
		}
		time.Sleep(time.Millisecond)
	}

	m.StopAll()
	if m.Running("gpu-0") {
		t.Error("Running() = true after StopAll")
	}
	if _, ok := m.Stats("gpu-0"); ok {
		t.Error("Stats() found a stopped poller")
	}
}
