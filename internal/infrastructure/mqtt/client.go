package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nsm-core/internal/infrastructure/config"
)

// Client is nsmd's broker connection. Every (re)connect announces the
// daemon on Topics.SystemStatus and re-arms the command subscriptions
// (rediscovery) the broker forgot with the clean session.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	up       atomic.Bool
	connects atomic.Uint64
	drops    atomic.Uint64

	mu            sync.RWMutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// ConnStats counts broker connection transitions since Connect.
type ConnStats struct {
	Connects      uint64 `json:"connects"`
	Drops         uint64 `json:"drops"`
	Subscriptions int    `json:"subscriptions"`
}

// Connect dials the broker and waits for the first session. The Last Will
// is a retained offline status so subscribers see a crash as "offline".
//
// Parameters:
//   - cfg: mqtt section of the daemon configuration
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed if the broker is not reached in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no session with %s:%d after %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// handleConnect runs on a paho goroutine and may still be pending.
	c.up.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.up.Store(true)
	c.connects.Add(1)

	c.restoreSubscriptions()
	c.announce(StatusOnline, "")

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.up.Store(false)
	c.drops.Add(1)

	c.mu.RLock()
	fn, logger := c.onDisconnect, c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Warn("mqtt connection lost", "error", err, "drops", c.drops.Load())
	}
	if fn != nil {
		fn(err)
	}
}

// announce publishes the retained daemon status and returns the token,
// or nil before the first connect.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	if c.paho == nil {
		return nil
	}
	return c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(status, c.cfg.Broker.ClientID, reason))
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		if token := c.announce(StatusOffline, "graceful_shutdown"); token != nil {
			token.WaitTimeout(defaultPublishTimeout)
		}
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.paho != nil && c.paho.IsConnectionOpen()
}

// Stats returns connection counters.
func (c *Client) Stats() ConnStats {
	c.mu.RLock()
	n := len(c.subscriptions)
	c.mu.RUnlock()
	return ConnStats{Connects: c.connects.Load(), Drops: c.drops.Load(), Subscriptions: n}
}

// SetOnConnect sets a callback run on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and connection loss.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
