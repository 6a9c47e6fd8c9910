package discovery

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/sensor"
)

// DefaultConcurrency bounds DiscoverAll when Options.Concurrency is unset.
const DefaultConcurrency = 4

// Exchanger performs one correlated request/response exchange.
type Exchanger interface {
	Exchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error)
}

// Starter starts polling a device. It reports false when the device is
// already being polled.
type Starter interface {
	Start(ctx context.Context, dev *device.Device) bool
}

// Logger defines the logging interface used by discovery.
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

// Endpoint is one entry of the static endpoint table.
type Endpoint struct {
	EID     uint8
	UUID    string
	Name    string
	Sensors []sensor.Spec
}

// Options configures a Discoverer.
type Options struct {
	// Concurrency bounds how many endpoints DiscoverAll probes at once.
	Concurrency int

	// ReceiverEID is the EID events are pushed to. Zero disables event
	// subscription.
	ReceiverEID uint8
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Discoverer runs discovery against the endpoint table.
//
// Thread Safety: all methods are safe for concurrent use.
type Discoverer struct {
	reg       *device.Registry
	ex        Exchanger
	scheduler Starter
	sink      sensor.Sink
	opts      Options
	logger    Logger

	mu        sync.Mutex
	endpoints map[uint8]Endpoint
}

// New creates a Discoverer. scheduler and sink may be nil.
func New(reg *device.Registry, ex Exchanger, scheduler Starter, sink sensor.Sink, endpoints []Endpoint, opts Options) *Discoverer {
	d := &Discoverer{
		reg:       reg,
		ex:        ex,
		scheduler: scheduler,
		sink:      sink,
		opts:      opts.withDefaults(),
		logger:    noopLogger{},
		endpoints: make(map[uint8]Endpoint, len(endpoints)),
	}
	for _, ep := range endpoints {
		d.endpoints[ep.EID] = ep
	}
	return d
}

// SetLogger sets the logger.
func (d *Discoverer) SetLogger(logger Logger) { d.logger = logger }

// Endpoints returns the endpoint table.
func (d *Discoverer) Endpoints() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	return out
}

// DiscoverAll discovers every endpoint, at most Options.Concurrency at a
// time. A failing endpoint does not stop the others; all failures are
// returned joined.
func (d *Discoverer) DiscoverAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(d.opts.Concurrency)

	for _, ep := range d.Endpoints() {
		g.Go(func() error {
			if _, err := d.Discover(ctx, ep); err != nil {
				d.logger.Warn("endpoint discovery failed", "eid", ep.EID, "uuid", ep.UUID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("eid %d: %w", ep.EID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through errs
	return errors.Join(errs...)
}

// Rediscover repeats discovery for the endpoint at eid. Sensors and the
// poller of an already known device are left as they are.
func (d *Discoverer) Rediscover(ctx context.Context, eid uint8) error {
	d.mu.Lock()
	ep, ok := d.endpoints[eid]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: eid %d", ErrUnknownEndpoint, eid)
	}
	d.logger.Info("rediscovering endpoint", "eid", eid, "uuid", ep.UUID)
	_, err := d.Discover(ctx, ep)
	return err
}

// Discover runs the full sequence for one endpoint.
//
// Returns:
//   - *device.Device: the registered device
//   - error: ErrNotResponding, ErrCapability or a registry error
func (d *Discoverer) Discover(ctx context.Context, ep Endpoint) (*device.Device, error) {
	if _, err := d.exchange(ctx, ep.EID, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdPing, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotResponding, err)
	}

	var types nsm.Bitmap
	if err := d.query(ctx, ep.EID, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdSupportedMessageTypes, nil, &types); err != nil {
		return nil, fmt.Errorf("%w: message types: %w", ErrCapability, err)
	}

	commands := make(map[nsm.MessageType]nsm.Bitmap)
	for _, m := range types.Members() {
		t := nsm.MessageType(m)
		arg, _ := nsm.MessageTypeArg(t).MarshalBinary() //nolint:errcheck // cannot fail
		var cmds nsm.Bitmap
		if err := d.query(ctx, ep.EID, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdSupportedCommandCodes, arg, &cmds); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("command code query failed", "eid", ep.EID, "msg_type", t.String(), "error", err)
			continue
		}
		commands[t] = cmds
	}

	id := nsm.DeviceIdentity{Identification: nsm.DeviceUnknown}
	if err := d.query(ctx, ep.EID, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdQueryDeviceIdentification, nil, &id); err != nil {
		if !nsm.IsUnsupported(err) {
			return nil, fmt.Errorf("%w: identification: %w", ErrCapability, err)
		}
		d.logger.Debug("device identification unsupported", "eid", ep.EID)
	}

	dev, err := d.reg.Register(ep.UUID)
	if err != nil {
		return nil, err
	}
	if ep.Name != "" {
		dev.SetName(ep.Name)
	}
	d.reg.SetEID(dev, ep.EID)
	dev.SetMessageTypes(types)
	for t, cmds := range commands {
		dev.SetCommands(t, cmds)
	}
	dev.SetIdentity(id)
	dev.MarkSeen(time.Now())

	if err := d.reg.Save(ctx, dev); err != nil {
		d.logger.Error("persisting device", "uuid", ep.UUID, "error", err)
	}

	d.subscribe(ctx, dev)
	d.attachSensors(dev, ep.Sensors)

	if d.scheduler != nil && d.scheduler.Start(ctx, dev) {
		d.logger.Info("device polling started", "uuid", ep.UUID, "eid", ep.EID)
	}
	d.logger.Info("device discovered",
		"uuid", ep.UUID,
		"eid", ep.EID,
		"device_type", id.Identification.String(),
		"instance", id.Instance,
		"msg_types", len(types.Members()),
	)
	return dev, nil
}

// subscribe asks the device to push events to us when it can.
func (d *Discoverer) subscribe(ctx context.Context, dev *device.Device) {
	if d.opts.ReceiverEID == 0 || !dev.IsCommandSupported(nsm.TypeDeviceCapabilityDiscovery, nsm.CmdSetEventSubscription) {
		return
	}
	sub := nsm.EventSubscription{Setting: nsm.EventGenerationPush, ReceiverEID: d.opts.ReceiverEID}
	payload, _ := sub.MarshalBinary() //nolint:errcheck // valid setting
	if _, err := d.exchange(ctx, dev.EID(), nsm.TypeDeviceCapabilityDiscovery, nsm.CmdSetEventSubscription, payload); err != nil {
		d.logger.Warn("event subscription failed", "uuid", dev.UUID(), "error", err)
		return
	}
	if err := dev.SetEventMode(nsm.EventGenerationPush); err != nil {
		d.logger.Warn("setting event mode", "uuid", dev.UUID(), "error", err)
	}
}

// attachSensors adds each configured sensor the device supports. Sensors
// already attached are left alone.
func (d *Discoverer) attachSensors(dev *device.Device, specs []sensor.Spec) {
	for _, spec := range specs {
		if dev.HasSensor(spec.Name) {
			continue
		}
		s, err := sensor.New(dev.UUID(), spec, d.sink)
		if err != nil {
			d.logger.Warn("invalid sensor configuration", "uuid", dev.UUID(), "sensor", spec.Name, "error", err)
			continue
		}
		mt, cmd, _, _ := s.Command() //nolint:errcheck // sensor.Sensor never fails here
		if !dev.IsCommandSupported(mt, cmd) {
			d.logger.Info("sensor not supported by device",
				"uuid", dev.UUID(), "sensor", spec.Name, "msg_type", mt.String(), "command", cmd)
			continue
		}
		tier, err := spec.Resolve()
		if err != nil {
			d.logger.Warn("invalid sensor tier", "uuid", dev.UUID(), "sensor", spec.Name, "error", err)
			continue
		}
		if err := d.reg.AddSensor(dev, s, tier); err != nil {
			d.logger.Warn("attaching sensor", "uuid", dev.UUID(), "sensor", spec.Name, "error", err)
		}
	}
}

// exchange sends one request and returns the response if it succeeded.
func (d *Discoverer) exchange(ctx context.Context, eid uint8, t nsm.MessageType, cmd uint8, payload []byte) (*nsm.Response, error) {
	resp, err := d.ex.Exchange(ctx, eid, t, cmd, payload)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// query performs an exchange and decodes the payload into v.
func (d *Discoverer) query(ctx context.Context, eid uint8, t nsm.MessageType, cmd uint8, payload []byte, v encoding.BinaryUnmarshaler) error {
	resp, err := d.exchange(ctx, eid, t, cmd, payload)
	if err != nil {
		return err
	}
	return v.UnmarshalBinary(resp.Payload)
}
