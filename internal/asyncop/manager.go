package asyncop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default configuration values.
const (
	DefaultCapacity = 32
	DefaultTimeout  = 30 * time.Second

	historyTimeout = 5 * time.Second
)

// Status is the lifecycle state of an operation record.
type Status string

// Operation statuses.
const (
	StatusNotStarted      Status = "not_started"
	StatusInProgress      Status = "in_progress"
	StatusSuccess         Status = "success"
	StatusWriteFailure    Status = "write_failure"
	StatusInvalidArgument Status = "invalid_argument"
	StatusUnavailable     Status = "unavailable"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusWriteFailure, StatusInvalidArgument, StatusUnavailable:
		return true
	default:
		return false
	}
}

// statusFor maps the outcome of an operation to its terminal status.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrUnavailable):
		return StatusUnavailable
	default:
		return StatusWriteFailure
	}
}

// Record is a snapshot of one operation.
type Record struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Value      any       `json:"value,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Operation describes one "set" request.
type Operation struct {
	// Kind names the operation, e.g. "write_protect".
	Kind string

	// Target, when set, serialises operations: a second operation with the
	// same device and target is rejected while the first is in progress.
	Target string

	// Value is the caller-supplied argument, kept in the record.
	Value any

	// Validate runs before anything is sent. A failure ends the record in
	// StatusInvalidArgument.
	Validate func() error

	// Run performs the wire exchange(s).
	Run func(ctx context.Context) error
}

// History persists terminal records.
type History interface {
	Save(ctx context.Context, rec Record) error
}

// Notifier is called with every terminal record.
type Notifier func(Record)

// Logger defines the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager.
type Options struct {
	// Capacity is the number of records held at once.
	Capacity int

	// Timeout bounds a single operation's Run.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Manager owns the operation record table.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	opts    Options
	logger  Logger
	history History
	notify  Notifier
	newID   func() string
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*Record
	order   []string          // allocation order, oldest first
	targets map[string]string // device/target -> in-progress id
	closed  bool

	wg sync.WaitGroup
}

// NewManager creates a manager. history may be nil.
func NewManager(opts Options, history History) *Manager {
	return &Manager{
		opts:    opts.withDefaults(),
		logger:  noopLogger{},
		history: history,
		newID:   uuid.NewString,
		now:     time.Now,
		records: make(map[string]*Record),
		targets: make(map[string]string),
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) { m.logger = logger }

// SetNotifier sets the function called with each terminal record.
func (m *Manager) SetNotifier(n Notifier) { m.notify = n }

// Begin allocates a record for op and starts it.
//
// The operation runs detached from ctx's cancellation; only its values are
// inherited. A validation failure or a target conflict still allocates a
// terminal record, and its id is returned with the error.
//
// Returns:
//   - string: the operation id
//   - error: ErrUnavailable (no free slot, or target busy),
//     ErrInvalidArgument, or ErrClosed
func (m *Manager) Begin(ctx context.Context, device string, op Operation) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if !m.reserveLocked() {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: all %d operation slots in progress", ErrUnavailable, m.opts.Capacity)
	}

	rec := &Record{
		ID:        m.newID(),
		Device:    device,
		Kind:      op.Kind,
		Status:    StatusNotStarted,
		Value:     op.Value,
		StartedAt: m.now(),
	}
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)

	if op.Validate != nil {
		if err := op.Validate(); err != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidArgument, err)
			snap := m.finishLocked(rec, err)
			m.mu.Unlock()
			m.publish(snap)
			return rec.ID, err
		}
	}

	key := ""
	if op.Target != "" {
		key = device + "/" + op.Target
		if owner, busy := m.targets[key]; busy {
			err := fmt.Errorf("%w: %s already being written by %s", ErrUnavailable, op.Target, owner)
			snap := m.finishLocked(rec, err)
			m.mu.Unlock()
			m.publish(snap)
			return rec.ID, err
		}
		m.targets[key] = rec.ID
	}

	rec.Status = StatusInProgress
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("async operation started", "id", rec.ID, "device", device, "kind", op.Kind)
	go m.run(context.WithoutCancel(ctx), rec.ID, key, op.Run)
	return rec.ID, nil
}

// reserveLocked makes room for one record, recycling the oldest terminal
// record when the table is full.
func (m *Manager) reserveLocked() bool {
	if len(m.records) < m.opts.Capacity {
		return true
	}
	for i, id := range m.order {
		if m.records[id].Status.Terminal() {
			delete(m.records, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) run(ctx context.Context, id, key string, fn func(context.Context) error) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operation panicked: %v", r)
			}
		}()
		if fn == nil {
			err = errors.New("operation has no handler")
			return
		}
		err = fn(ctx)
	}()

	m.mu.Lock()
	if key != "" && m.targets[key] == id {
		delete(m.targets, key)
	}
	rec, ok := m.records[id]
	if !ok || rec.Status != StatusInProgress {
		m.mu.Unlock()
		return
	}
	snap := m.finishLocked(rec, err)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("async operation failed", "id", id, "kind", snap.Kind, "status", snap.Status, "error", err)
	} else {
		m.logger.Info("async operation succeeded", "id", id, "kind", snap.Kind, "device", snap.Device)
	}
	m.publish(snap)
}

// finishLocked sets the terminal status once and returns a snapshot.
func (m *Manager) finishLocked(rec *Record, err error) Record {
	rec.Status = statusFor(err)
	if err != nil {
		rec.Error = err.Error()
	}
	rec.FinishedAt = m.now()
	return *rec
}

func (m *Manager) publish(rec Record) {
	if m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := m.history.Save(ctx, rec); err != nil {
			m.logger.Error("saving operation history", "id", rec.ID, "error", err)
		}
		cancel()
	}
	if m.notify != nil {
		m.notify(rec)
	}
}

// Status returns a snapshot of the record with id.
func (m *Manager) Status(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// Discard releases a terminal record.
func (m *Manager) Discard(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.Terminal() {
		return ErrInProgress
	}
	delete(m.records, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Live returns the number of records currently held.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// InProgress returns the number of records not yet terminal.
func (m *Manager) InProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if !rec.Status.Terminal() {
			n++
		}
	}
	return n
}

// Close rejects new operations and waits for running ones to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}
