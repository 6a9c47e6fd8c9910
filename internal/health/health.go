// Package health assembles the nsmd health report and publishes it on a
// fixed interval.
//
// The report is served by GET /api/v1/health and, when MQTT is enabled,
// published retained on nsm/system/health. The MQTT Last Will on
// nsm/system/status covers the case where the daemon dies between
// reports.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/event"
	"github.com/nerrad567/nsm-core/internal/requester"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 30 * time.Second

const checkTimeout = 5 * time.Second

// Status is the overall daemon status.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

// Publisher sends the report. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Devices lists registered devices.
type Devices interface {
	Infos() []device.Info
}

// Exchanges reports per-EID correlator counters.
type Exchanges interface {
	AllStats() map[uint8]requester.Stats
}

// Operations reports async operation table usage.
type Operations interface {
	Live() int
	InProgress() int
}

// Events reports dispatcher counters.
type Events interface {
	Stats() event.Stats
}

// StatsWriter persists exchange counters, e.g. to InfluxDB.
type StatsWriter interface {
	WriteStats(stats map[uint8]requester.Stats)
}

// Check is a named dependency probe. A failing check degrades the report.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Logger is the logging interface used by the reporter.
type Logger interface {
	Error(msg string, args ...any)
}

// Config wires a Reporter. Every source is optional.
type Config struct {
	Daemon   string
	Version  string
	Interval time.Duration
	Topic    string

	Publisher  Publisher
	Devices    Devices
	Exchanges  Exchanges
	Operations Operations
	Events     Events
	Stats      StatsWriter
	Checks     []Check
}

// DeviceHealth is the per-device part of a report.
type DeviceHealth struct {
	UUID      string          `json:"uuid"`
	EID       uint8           `json:"eid"`
	Online    bool            `json:"online"`
	Exchanges requester.Stats `json:"exchanges"`
}

// OperationHealth summarises the async operation table.
type OperationHealth struct {
	Live       int `json:"live"`
	InProgress int `json:"in_progress"`
}

// Report is one health snapshot.
type Report struct {
	Daemon        string            `json:"daemon"`
	Version       string            `json:"version"`
	Status        Status            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	DeviceCount   int               `json:"device_count"`
	OnlineCount   int               `json:"online_count"`
	Devices       []DeviceHealth    `json:"devices"`
	Operations    OperationHealth   `json:"operations"`
	Events        *event.Stats      `json:"events,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Reporter builds and publishes health reports.
//
// Thread Safety: all methods are safe for concurrent use.
type Reporter struct {
	cfg       Config
	startTime time.Time
	now       func() time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a Reporter. Call Start to begin periodic publishing.
func NewReporter(cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Topic == "" {
		cfg.Topic = "nsm/system/health"
	}
	return &Reporter{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for publish failures.
func (r *Reporter) SetLogger(l Logger) { r.logger = l }

// Start publishes immediately and then every interval until ctx is
// cancelled or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop and publishes a final stopping report. Safe to call
// more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		rep := r.Snapshot(context.Background())
		rep.Status, rep.Reason = StatusStopping, "daemon shutting down"
		r.publish(rep)
	})
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.PublishNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.PublishNow(ctx)
		}
	}
}

// PublishNow builds a report, writes exchange counters and publishes it.
func (r *Reporter) PublishNow(ctx context.Context) {
	rep := r.Snapshot(ctx)
	if r.cfg.Stats != nil && r.cfg.Exchanges != nil {
		r.cfg.Stats.WriteStats(r.cfg.Exchanges.AllStats())
	}
	r.publish(rep)
}

func (r *Reporter) publish(rep Report) {
	if r.cfg.Publisher == nil {
		return
	}
	if err := r.cfg.Publisher.PublishJSON(r.cfg.Topic, rep, true); err != nil && r.logger != nil {
		r.logger.Error("failed to publish health", "error", err)
	}
}

// Snapshot builds the current report. Status is degraded when any check
// fails; the reason names the first failing check.
func (r *Reporter) Snapshot(ctx context.Context) Report {
	now := r.now()
	rep := Report{
		Daemon:        r.cfg.Daemon,
		Version:       r.cfg.Version,
		Status:        StatusHealthy,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(r.startTime).Seconds()),
	}

	var stats map[uint8]requester.Stats
	if r.cfg.Exchanges != nil {
		stats = r.cfg.Exchanges.AllStats()
	}
	if r.cfg.Devices != nil {
		for _, info := range r.cfg.Devices.Infos() {
			rep.Devices = append(rep.Devices, DeviceHealth{
				UUID:      info.UUID,
				EID:       info.EID,
				Online:    info.Online,
				Exchanges: stats[info.EID],
			})
			if info.Online {
				rep.OnlineCount++
			}
		}
	}
	rep.DeviceCount = len(rep.Devices)

	if r.cfg.Operations != nil {
		rep.Operations = OperationHealth{Live: r.cfg.Operations.Live(), InProgress: r.cfg.Operations.InProgress()}
	}
	if r.cfg.Events != nil {
		es := r.cfg.Events.Stats()
		rep.Events = &es
	}

	if len(r.cfg.Checks) > 0 {
		rep.Checks = make(map[string]string, len(r.cfg.Checks))
		var failed []string
		for _, c := range r.cfg.Checks {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Probe(cctx)
			cancel()
			if err != nil {
				rep.Checks[c.Name] = err.Error()
				failed = append(failed, c.Name)
				continue
			}
			rep.Checks[c.Name] = "ok"
		}
		if len(failed) > 0 {
			rep.Status = StatusDegraded
			rep.Reason = fmt.Sprintf("%s check failed", failed[0])
		}
	}
	return rep
}
