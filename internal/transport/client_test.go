package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{name: "unix socket", url: "unix:///run/mctp-mux.sock", wantNetwork: "unix", wantAddress: "/run/mctp-mux.sock"},
		{name: "tcp", url: "tcp://127.0.0.1:7000", wantNetwork: "tcp", wantAddress: "127.0.0.1:7000"},
		{name: "tcp without host", url: "tcp://", wantErr: true},
		{name: "unix without path", url: "unix://", wantErr: true},
		{name: "unsupported scheme", url: "http://localhost", wantErr: true},
		{name: "invalid URL", url: "://invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Error("parseConnectionURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConnectionURL() unexpected error: %v", err)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL() = %q %q, want %q %q", network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	msg := []byte{0xDE, 0x10, 0x85, 0x89, 0x03, 0x01, 0x01, 0x00, 0x00}
	frame, err := EncodeFrame(12, msg)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if got := binary.BigEndian.Uint16(frame[:2]); int(got) != len(msg)+2 {
		t.Errorf("length prefix = %d, want %d", got, len(msg)+2)
	}
	if frame[3] != nsm.MCTPMessageType {
		t.Errorf("mctp type = 0x%02x", frame[3])
	}

	eid, got, err := DecodeFrame(frame[2:])
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if eid != 12 || !bytes.Equal(got, msg) {
		t.Errorf("DecodeFrame() = %d %x", eid, got)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"eid only", []byte{8}},
		{"wrong mctp type", []byte{8, 0x01, 0xDE, 0x10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeFrame(tt.body); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("DecodeFrame() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
	if _, err := EncodeFrame(1, make([]byte, MaxFrameSize)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("EncodeFrame(oversized) error = %v, want ErrInvalidFrame", err)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{2 * time.Second, 3 * time.Second},
		{10 * time.Second, 15 * time.Second},
		{50 * time.Second, 60 * time.Second},
		{60 * time.Second, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.in); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// mockMux is a demultiplexer stand-in that accepts connections on a local
// TCP port.
type mockMux struct {
	ln    net.Listener
	conns chan net.Conn
}

func newMockMux(t *testing.T) *mockMux {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockMux{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			m.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return m
}

func (m *mockMux) url() string { return "tcp://" + m.ln.Addr().String() }

func (m *mockMux) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-m.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func writeFrame(t *testing.T, c net.Conn, eid uint8, msg []byte) {
	t.Helper()
	frame, err := EncodeFrame(eid, msg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func connectTest(t *testing.T, m *mockMux, cfg Config) (*Client, net.Conn) {
	t.Helper()
	cfg.Connection = m.url()
	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, m.accept(t)
}

func TestClientSend(t *testing.T) {
	m := newMockMux(t)
	c, server := connectTest(t, m, Config{})

	msg, _ := nsm.EncodeRequest(3, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdPing, nil) //nolint:errcheck // fixed input
	if err := c.Send(context.Background(), 9, msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(server, hdr); err != nil {
		t.Fatalf("read length: %v", err)
	}
	body := make([]byte, binary.BigEndian.Uint16(hdr))
	if _, err := io.ReadFull(server, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	eid, got, err := DecodeFrame(body)
	if err != nil || eid != 9 || !bytes.Equal(got, msg) {
		t.Errorf("server got eid %d msg %x err %v", eid, got, err)
	}
	if c.Stats().FramesTx != 1 {
		t.Errorf("FramesTx = %d, want 1", c.Stats().FramesTx)
	}
}

func TestClientRoutesResponsesAndEvents(t *testing.T) {
	m := newMockMux(t)
	c, server := connectTest(t, m, Config{})

	responses := make(chan []byte, 1)
	events := make(chan []byte, 1)
	c.SetOnResponse(func(eid uint8, msg []byte) {
		if eid == 8 {
			responses <- msg
		}
	})
	c.SetOnEvent(func(eid uint8, msg []byte) {
		if eid == 8 {
			events <- msg
		}
	})

	resp, _ := nsm.EncodeResponse(3, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdPing, nsm.CCSuccess, 0, nil)       //nolint:errcheck // fixed input
	ev, _ := nsm.EncodeEvent(nsm.Event{MessageType: nsm.TypeDeviceCapabilityDiscovery, ID: nsm.EventRediscovery}) //nolint:errcheck // fixed input
	req, _ := nsm.EncodeRequest(1, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdPing, nil)                           //nolint:errcheck // fixed input

	writeFrame(t, server, 8, req) // requests from a device are ignored
	writeFrame(t, server, 8, resp)
	writeFrame(t, server, 8, ev)

	select {
	case got := <-responses:
		if !bytes.Equal(got, resp) {
			t.Errorf("response = %x, want %x", got, resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("response not routed")
	}
	select {
	case got := <-events:
		if !bytes.Equal(got, ev) {
			t.Errorf("event = %x, want %x", got, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not routed")
	}

	st := c.Stats()
	if st.ResponsesRx != 1 || st.EventsRx != 1 || st.FramesRx != 3 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRouteDropsEventsWhenQueueFull(t *testing.T) {
	c := &Client{
		cfg:        Config{}.withDefaults(),
		done:       newCloseOnce(),
		eventQueue: make(chan inbound, 1),
	}
	c.SetOnEvent(func(uint8, []byte) {})

	ev, _ := nsm.EncodeEvent(nsm.Event{MessageType: nsm.TypeDeviceCapabilityDiscovery, ID: nsm.EventRediscovery}) //nolint:errcheck // fixed input
	c.route(8, ev)
	c.route(8, ev)

	st := c.Stats()
	if st.EventsRx != 2 || st.EventsDropped != 1 {
		t.Errorf("Stats() = %+v, want 2 received 1 dropped", st)
	}
}

func TestClientReconnects(t *testing.T) {
	m := newMockMux(t)
	c, server := connectTest(t, m, Config{ReconnectInterval: 10 * time.Millisecond})

	server.Close()
	second := m.accept(t)

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().ReconnectsTotal == 0 || !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect: %+v", c.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	c.SetOnResponse(func(_ uint8, msg []byte) {
		mu.Lock()
		got = msg
		mu.Unlock()
		close(done)
	})
	resp, _ := nsm.EncodeResponse(0, nsm.TypeDeviceCapabilityDiscovery, nsm.CmdPing, nsm.CCSuccess, 0, nil) //nolint:errcheck // fixed input
	writeFrame(t, second, 8, resp)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("response not routed after reconnect")
	}
	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(got, resp) {
		t.Errorf("response = %x", got)
	}
}

func TestSendAfterClose(t *testing.T) {
	m := newMockMux(t)
	c, _ := connectTest(t, m, Config{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Send(context.Background(), 1, []byte{0}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after Close error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v", err)
	}
	// Second Close is safe.
	_ = c.Close() //nolint:errcheck // idempotent
}

func TestConnectFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), Config{Connection: "tcp://" + addr, ConnectTimeout: time.Second})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if _, err := Connect(context.Background(), Config{Connection: "ftp://x"}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect(bad scheme) error = %v", err)
	}
}
