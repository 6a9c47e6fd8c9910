package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SensorReading", topics.SensorReading("gpu-0", "temp"), "nsm/sensor/gpu-0/temp"},
		{"DeviceEvent", topics.DeviceEvent("gpu-0"), "nsm/event/gpu-0"},
		{"AsyncStatus", topics.AsyncStatus("op-1"), "nsm/async/op-1"},
		{"SystemStatus", topics.SystemStatus(), "nsm/system/status"},
		{"SystemHealth", topics.SystemHealth(), "nsm/system/health"},
		{"Rediscover", topics.Rediscover(14), "nsm/command/rediscover/14"},
		{"AllRediscover", topics.AllRediscover(), "nsm/command/rediscover/+"},
		{"AllSensorReadings", topics.AllSensorReadings(), "nsm/sensor/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseRediscover(t *testing.T) {
	tests := []struct {
		topic   string
		want    uint8
		wantErr bool
	}{
		{"nsm/command/rediscover/14", 14, false},
		{"nsm/command/rediscover/255", 255, false},
		{"nsm/command/rediscover/256", 0, true},
		{"nsm/command/rediscover/", 0, true},
		{"nsm/command/reset/14", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseRediscover(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseRediscover() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseRediscover() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var msg StatusMessage
	if err := json.Unmarshal(statusPayload(StatusOffline, "nsmd", "unexpected_disconnect"), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != StatusOffline || msg.ClientID != "nsmd" || msg.Reason != "unexpected_disconnect" || msg.Timestamp == "" {
		t.Errorf("status = %+v", msg)
	}

	if strings.Contains(string(statusPayload(StatusOnline, "nsmd", "")), "reason") {
		t.Error("online payload should omit an empty reason")
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"valid", "nsm/system/health", []byte("{}"), 1, nil},
		{"nil payload", "nsm/system/health", nil, 0, nil},
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "nsm/system/health", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized", "nsm/system/health", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("nsm/system/health", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("nsm/system/health", map[string]int{"devices": 1}, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("nsm/system/health", make(chan int), true); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(chan) error = %v, want ErrPublishFailed", err)
	}
	if err := c.Subscribe("nsm/#", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("nsm/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
	if c.HasSubscription("nsm/#") {
		t.Error("failed subscription was tracked")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "nsm/command/rediscover/1", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad eid") }, "nsm/command/rediscover/1", nil)
	c.dispatch(func(string, []byte) error { return nil }, "nsm/command/rediscover/1", nil)

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors %v warns %v", logger.errors, logger.warns)
	}
}

func TestConnectionLossCounted(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)
	c.up.Store(true)

	var lost []error
	c.SetOnDisconnect(func(err error) { lost = append(lost, err) })
	c.track(Topics{}.AllRediscover(), subscription{qos: 1, handler: func(string, []byte) error { return nil }})

	broker := errors.New("broker restarted")
	c.handleDisconnect(broker)
	c.handleDisconnect(broker)

	if c.up.Load() {
		t.Error("client still marked up after connection loss")
	}
	if st := c.Stats(); st.Drops != 2 || st.Connects != 0 || st.Subscriptions != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if len(lost) != 2 || !errors.Is(lost[0], broker) {
		t.Errorf("disconnect callbacks = %v", lost)
	}
	if len(logger.warns) != 2 {
		t.Errorf("warns = %v", logger.warns)
	}
	// Tracked filters survive the drop so the next session re-arms them.
	if !c.HasSubscription(Topics{}.AllRediscover()) {
		t.Error("rediscover subscription lost on disconnect")
	}
	c.untrack(Topics{}.AllRediscover())
	if c.HasSubscription(Topics{}.AllRediscover()) {
		t.Error("untrack() left the subscription")
	}
}
