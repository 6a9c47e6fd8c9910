package asyncop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// waitTerminal polls until the record reaches a terminal status.
func waitTerminal(t *testing.T, m *Manager, id string) Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", id, err)
		}
		if rec.Status.Terminal() {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation %s stuck in %s", id, rec.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

type memHistory struct {
	mu   sync.Mutex
	recs []Record
}

func (h *memHistory) Save(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *memHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recs)
}

func succeed(context.Context) error { return nil }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{fmt.Errorf("wrapped: %w", ErrInvalidArgument), StatusInvalidArgument},
		{ErrUnavailable, StatusUnavailable},
		{errors.New("requester: response timeout"), StatusWriteFailure},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if StatusInProgress.Terminal() || StatusNotStarted.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
}

func TestBeginRunsToTerminalOnce(t *testing.T) {
	h := &memHistory{}
	m := NewManager(Options{}, h)
	var notified []Record
	var mu sync.Mutex
	m.SetNotifier(func(r Record) {
		mu.Lock()
		notified = append(notified, r)
		mu.Unlock()
	})

	id, err := m.Begin(context.Background(), "gpu-0", Operation{Kind: "test", Value: 7, Run: succeed})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	rec := waitTerminal(t, m, id)
	if rec.Status != StatusSuccess || rec.Device != "gpu-0" || rec.Value != 7 {
		t.Errorf("record = %+v", rec)
	}
	if rec.FinishedAt.IsZero() || rec.StartedAt.IsZero() {
		t.Error("timestamps not set")
	}

	m.Close()
	if h.len() != 1 {
		t.Errorf("history saved %d records, want 1", h.len())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0].ID != id {
		t.Errorf("notified %+v", notified)
	}
}

func TestBeginDetachesFromCallerContext(t *testing.T) {
	m := NewManager(Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	id, err := m.Begin(ctx, "gpu-0", Operation{Kind: "test", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	cancel()
	close(release)

	if rec := waitTerminal(t, m, id); rec.Status != StatusSuccess {
		t.Errorf("status = %s after caller cancel, want success", rec.Status)
	}
}

func TestValidationFailure(t *testing.T) {
	m := NewManager(Options{}, nil)
	ran := false
	id, err := m.Begin(context.Background(), "gpu-0", Operation{
		Kind:     "test",
		Validate: func() error { return errors.New("value 9 out of range") },
		Run:      func(context.Context) error { ran = true; return nil },
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Begin() error = %v, want ErrInvalidArgument", err)
	}
	rec, serr := m.Status(id)
	if serr != nil || rec.Status != StatusInvalidArgument {
		t.Errorf("Status() = %+v, %v", rec, serr)
	}
	m.Close()
	if ran {
		t.Error("operation ran after failed validation")
	}
}

func TestTargetConflict(t *testing.T) {
	m := NewManager(Options{}, nil)
	release := make(chan struct{})
	slow := Operation{Kind: "pm", Target: "power_mode", Run: func(context.Context) error {
		<-release
		return nil
	}}

	first, err := m.Begin(context.Background(), "sw-0", slow)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Begin(context.Background(), "sw-0", slow)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second Begin() error = %v, want ErrUnavailable", err)
	}
	if rec, _ := m.Status(second); rec.Status != StatusUnavailable { //nolint:errcheck // id just returned
		t.Errorf("second status = %s", rec.Status)
	}

	// Another device is a different target.
	other, err := m.Begin(context.Background(), "sw-1", slow)
	if err != nil {
		t.Fatalf("Begin(other device) error = %v", err)
	}

	close(release)
	waitTerminal(t, m, first)
	waitTerminal(t, m, other)

	// The target is free again.
	third, err := m.Begin(context.Background(), "sw-0", Operation{Kind: "pm", Target: "power_mode", Run: succeed})
	if err != nil {
		t.Fatalf("Begin() after release error = %v", err)
	}
	waitTerminal(t, m, third)
}

func TestCapacityRecyclesOldestTerminal(t *testing.T) {
	m := NewManager(Options{Capacity: 2}, nil)
	a, _ := m.Begin(context.Background(), "d", Operation{Kind: "a", Run: succeed}) //nolint:errcheck // checked below
	waitTerminal(t, m, a)

	release := make(chan struct{})
	defer close(release)
	block := func(context.Context) error { <-release; return nil }

	b, err := m.Begin(context.Background(), "d", Operation{Kind: "b", Run: block})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Begin(context.Background(), "d", Operation{Kind: "c", Run: block}); err != nil {
		t.Fatalf("Begin() with one terminal slot error = %v", err)
	}
	if _, err := m.Status(a); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest terminal record not recycled: %v", err)
	}
	if m.Live() != 2 || m.InProgress() != 2 {
		t.Errorf("Live() = %d InProgress() = %d", m.Live(), m.InProgress())
	}

	if _, err := m.Begin(context.Background(), "d", Operation{Kind: "d", Run: succeed}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Begin() with all slots in progress error = %v, want ErrUnavailable", err)
	}
	if err := m.Discard(b); !errors.Is(err, ErrInProgress) {
		t.Errorf("Discard(in progress) error = %v", err)
	}
}

func TestDiscard(t *testing.T) {
	m := NewManager(Options{}, nil)
	id, _ := m.Begin(context.Background(), "d", Operation{Kind: "a", Run: succeed}) //nolint:errcheck // checked below
	waitTerminal(t, m, id)

	if err := m.Discard(id); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := m.Status(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() after Discard error = %v", err)
	}
	if err := m.Discard(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Discard() error = %v", err)
	}
}

func TestPanickingOperationFails(t *testing.T) {
	m := NewManager(Options{}, nil)
	id, err := m.Begin(context.Background(), "d", Operation{Kind: "boom", Run: func(context.Context) error {
		panic("bad handler")
	}})
	if err != nil {
		t.Fatal(err)
	}
	if rec := waitTerminal(t, m, id); rec.Status != StatusWriteFailure {
		t.Errorf("status = %s, want write_failure", rec.Status)
	}
}

func TestOperationTimeout(t *testing.T) {
	m := NewManager(Options{Timeout: 10 * time.Millisecond}, nil)
	id, err := m.Begin(context.Background(), "d", Operation{Kind: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}
	if rec := waitTerminal(t, m, id); rec.Status != StatusWriteFailure {
		t.Errorf("status = %s, want write_failure", rec.Status)
	}
}

func TestBeginAfterClose(t *testing.T) {
	m := NewManager(Options{}, nil)
	m.Close()
	if _, err := m.Begin(context.Background(), "d", Operation{Run: succeed}); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() error = %v, want ErrClosed", err)
	}
}
