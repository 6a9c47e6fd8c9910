package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for the demultiplexer connection.
const (
	// DefaultConnection is the local MCTP demultiplexer socket.
	DefaultConnection = "unix:///run/mctp-mux.sock"

	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 2 * time.Second

	// maxReconnectInterval caps the reconnection backoff.
	maxReconnectInterval = 60 * time.Second

	defaultEventQueueSize = 100
	defaultEventWorkers   = 4
)

// Config holds demultiplexer connection configuration.
type Config struct {
	// Connection is the demultiplexer URL.
	// Supported formats:
	//   - "unix:///run/mctp-mux.sock" (Unix socket)
	//   - "tcp://localhost:7000" (TCP)
	Connection string

	// ConnectTimeout bounds each dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle read deadline. A timeout is not an error;
	// the loop simply reads again. Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the first reconnection delay. Each failed
	// attempt multiplies it by 1.5 up to 60 seconds. Default: 2 seconds.
	ReconnectInterval time.Duration

	// EventWorkers is the number of goroutines running the event callback.
	EventWorkers int

	// EventQueueSize bounds queued events; overflow is dropped and counted.
	EventQueueSize int
}

func (c Config) withDefaults() Config {
	if c.Connection == "" {
		c.Connection = DefaultConnection
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.EventWorkers <= 0 {
		c.EventWorkers = defaultEventWorkers
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = defaultEventQueueSize
	}
	return c
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64    `json:"frames_tx"`
	FramesRx        uint64    `json:"frames_rx"`
	ResponsesRx     uint64    `json:"responses_rx"`
	EventsRx        uint64    `json:"events_rx"`
	EventsDropped   uint64    `json:"events_dropped"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
	Connected       bool      `json:"connected"`
	Reconnecting    bool      `json:"reconnecting"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MessageFunc receives one NSM message from eid. The message slice is owned
// by the callee.
type MessageFunc func(eid uint8, msg []byte)

type inbound struct {
	eid uint8
	msg []byte
}

// Client is a connection to the MCTP demultiplexer. It implements the send
// half of the transport primitive and classifies inbound traffic: responses
// go to the response callback on the receive goroutine, events go through a
// bounded worker pool to the event callback.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The response callback must not block; it runs on the receive loop.
//
// Auto-Reconnection:
//   - When the connection is lost the receive loop redials with
//     exponential backoff until it succeeds or Close is called.
type Client struct {
	cfg Config

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	// writeMu keeps frames from concurrent senders contiguous.
	writeMu sync.Mutex

	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	callbackMu sync.RWMutex
	onResponse MessageFunc
	onEvent    MessageFunc

	eventQueue chan inbound

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	responsesRx     atomic.Uint64
	eventsRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Connect dials the demultiplexer and starts the receive loop and event
// workers.
//
// Parameters:
//   - ctx: Context for the initial dial
//   - cfg: Connection configuration; zero fields take defaults
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the URL is invalid or the dial fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}
	return newClient(cfg, conn), nil
}

// newClient starts the goroutines for an established connection.
func newClient(cfg Config, conn net.Conn) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:        cfg,
		conn:       conn,
		connected:  true,
		done:       newCloseOnce(),
		eventQueue: make(chan inbound, cfg.EventQueueSize),
	}
	c.lastActivity.Store(time.Now().Unix())

	for range c.cfg.EventWorkers {
		c.wg.Add(1)
		go c.eventWorker()
	}
	c.wg.Add(1)
	go c.receiveLoop()
	return c
}

// parseConnectionURL parses a demultiplexer URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", errors.New("unix URL without socket path")
		}
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", errors.New("tcp URL without host")
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Send transmits one NSM message to eid. It satisfies requester.Sender.
//
// Returns:
//   - error: ErrNotConnected while disconnected, ErrSendFailed wrapping the
//     write or context error otherwise
func (c *Client) Send(ctx context.Context, eid uint8, msg []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	frame, err := EncodeFrame(eid, msg)
	if err != nil {
		return err
	}

	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// receiveLoop reads frames until Close, reconnecting on fatal errors.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, MaxFrameSize)
	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		eid, msg, err := c.readFrame(buf)
		if err != nil {
			if !c.handleReadError(err) {
				continue
			}
			if c.isClosed() || !c.reconnect() {
				return
			}
			continue
		}
		if msg != nil {
			c.route(eid, msg)
		}
	}
}

// readFrame reads one frame. A nil message with a nil error means the frame
// was skipped.
func (c *Client) readFrame(buf []byte) (uint8, []byte, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return 0, nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := io.ReadFull(conn, buf[:lengthSize]); err != nil {
		return 0, nil, fmt.Errorf("read length: %w", err)
	}

	n := int(binary.BigEndian.Uint16(buf[:lengthSize]))
	if lengthSize+n > len(buf) {
		c.errorsTotal.Add(1)
		return 0, nil, ErrProtocolDesync
	}
	body := buf[lengthSize : lengthSize+n]
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}

	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	eid, msg, err := DecodeFrame(body)
	if err != nil {
		// Non-NSM traffic shares the socket; skip it.
		c.logDebug("skipping frame", "error", err)
		return 0, nil, nil
	}
	return eid, msg, nil
}

// route classifies one inbound NSM message.
func (c *Client) route(eid uint8, msg []byte) {
	h, err := nsm.ParseHeader(msg)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logDebug("dropping malformed message", "eid", eid, "error", err)
		return
	}

	owned := make([]byte, len(msg))
	copy(owned, msg)

	switch h.Class() {
	case nsm.ClassResponse:
		c.responsesRx.Add(1)
		c.callbackMu.RLock()
		fn := c.onResponse
		c.callbackMu.RUnlock()
		if fn != nil {
			fn(eid, owned)
		}
	case nsm.ClassEvent:
		c.eventsRx.Add(1)
		c.callbackMu.RLock()
		hasCallback := c.onEvent != nil
		c.callbackMu.RUnlock()
		if !hasCallback {
			return
		}
		select {
		case c.eventQueue <- inbound{eid: eid, msg: owned}:
		default:
			c.eventsDropped.Add(1)
			c.errorsTotal.Add(1)
			c.logWarn("event queue full, dropping event", "eid", eid)
		}
	default:
		c.logDebug("ignoring message", "eid", eid, "class", h.Class().String())
	}
}

// eventWorker runs the event callback for queued events.
func (c *Client) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainEventQueue()
			return
		case ev := <-c.eventQueue:
			c.callbackMu.RLock()
			fn := c.onEvent
			c.callbackMu.RUnlock()
			if fn == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("event callback panic", fmt.Errorf("%v", r))
					}
				}()
				fn(ev.eid, ev.msg)
			}()
		}
	}
}

// handleReadError reports whether err requires a reconnect.
func (c *Client) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	if errors.Is(err, ErrProtocolDesync) {
		c.logError("protocol desync detected, closing socket", err)
	} else {
		c.logError("read failed", err)
		c.errorsTotal.Add(1)
	}
	c.handleDisconnect()
	return true
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection")
	}
}

// reconnect redials with exponential backoff. It returns false once Close
// has been called.
func (c *Client) reconnect() bool {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		conn, err := c.dial(network, address)
		if err == nil {
			c.connMu.Lock()
			c.conn = conn
			c.connected = true
			c.connMu.Unlock()

			c.reconnectCount.Store(0)
			c.reconnectsTotal.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
			return true
		}

		c.logError("reconnect: dial failed", err)
		c.errorsTotal.Add(1)
		select {
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff grows d by half, capped at maxReconnectInterval.
func nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * 1.5)
	if next > maxReconnectInterval {
		return maxReconnectInterval
	}
	return next
}

func (c *Client) dial(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

func (c *Client) drainEventQueue() {
	for {
		select {
		case <-c.eventQueue:
		default:
			return
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive loop and event workers and closes the socket.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.logInfo("connection closed")
	return nil
}

// SetOnResponse sets the callback for response messages.
func (c *Client) SetOnResponse(fn MessageFunc) {
	c.callbackMu.Lock()
	c.onResponse = fn
	c.callbackMu.Unlock()
}

// SetOnEvent sets the callback for event messages. Panics in the callback
// are recovered and logged.
func (c *Client) SetOnEvent(fn MessageFunc) {
	c.callbackMu.Lock()
	c.onEvent = fn
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while a connection is established.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck returns ErrNotConnected while disconnected.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		ResponsesRx:     c.responsesRx.Load(),
		EventsRx:        c.eventsRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

func (c *Client) log(level func(Logger) func(string, ...any), msg string, kv ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		level(logger)(msg, kv...)
	}
}

func (c *Client) logDebug(msg string, kv ...any) {
	c.log(func(l Logger) func(string, ...any) { return l.Debug }, msg, kv...)
}

func (c *Client) logInfo(msg string, kv ...any) {
	c.log(func(l Logger) func(string, ...any) { return l.Info }, msg, kv...)
}

func (c *Client) logWarn(msg string, kv ...any) {
	c.log(func(l Logger) func(string, ...any) { return l.Warn }, msg, kv...)
}

func (c *Client) logError(msg string, err error) {
	c.log(func(l Logger) func(string, ...any) { return l.Error }, msg, "error", err)
}
