package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CK6170/roverlink/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hello = `{"Name":"GalaxyRVR","Type":"Mars Rover","video":"http://cam","Check":"SC"}`

// fakeCar mimics the firmware side of the socket.
type fakeCar struct {
	up       websocket.Upgrader
	mu       sync.Mutex
	writeMu  sync.Mutex
	conns    []*websocket.Conn
	accepted atomic.Int32
	binary   chan []byte
	text     chan string
}

func newFakeCar() *fakeCar {
	return &fakeCar{
		up:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		binary: make(chan []byte, 256),
		text:   make(chan string, 64),
	}
}

func (f *fakeCar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := f.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	f.accepted.Add(1)
	f.write(c, websocket.TextMessage, []byte(hello))

	for {
		kind, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.BinaryMessage {
			select {
			case f.binary <- msg:
			default:
			}
			continue
		}
		s := string(msg)
		switch {
		case s == "ping":
			f.write(c, websocket.TextMessage, []byte("pong"))
		case strings.HasPrefix(s, SetDeviceField):
			f.write(c, websocket.TextMessage, []byte(`{"state":"ok","ip":"10.0.0.9"}`))
		}
		select {
		case f.text <- s:
		default:
		}
	}
}

func (f *fakeCar) write(c *websocket.Conn, kind int, b []byte) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = c.WriteMessage(kind, b)
}

func (f *fakeCar) push(b []byte) {
	f.mu.Lock()
	c := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	f.write(c, websocket.BinaryMessage, b)
}

func (f *fakeCar) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startCar(t *testing.T) (*fakeCar, *httptest.Server) {
	t.Helper()
	car := newFakeCar()
	srv := httptest.NewServer(car)
	t.Cleanup(srv.Close)
	return car, srv
}

func TestWebSocketHelloAndTelemetry(t *testing.T) {
	car, srv := startCar(t)
	ws := NewWebSocket(wsURL(srv), nil, WithReadTimeout(0))
	got := make(chan []byte, 1)
	ws.OnReceive(func(b []byte) { got <- b })

	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()
	assert.Equal(t, StateConnected, ws.State())

	require.Eventually(t, func() bool { _, ok := ws.Info(); return ok }, time.Second, 10*time.Millisecond)
	info, _ := ws.Info()
	assert.Equal(t, "GalaxyRVR", info.Name)
	assert.Equal(t, "Mars Rover", info.Type)
	assert.Equal(t, "127.0.0.1", info.IP)
	assert.True(t, info.PingPong())

	telemetry := frame.Encode([]byte{0x81, 0x00, 0x96})
	car.push(telemetry)
	select {
	case b := <-got:
		assert.Equal(t, telemetry, b)
	case <-time.After(time.Second):
		t.Fatal("telemetry not delivered")
	}
}

func TestWebSocketResendsPayload(t *testing.T) {
	car, srv := startCar(t)
	ws := NewWebSocket(wsURL(srv), nil, WithSendInterval(10*time.Millisecond), WithReadTimeout(0))
	payload := frame.Encode([]byte{0x01, 0x50, 0x50})
	ws.SetPayload(func() []byte { return payload })
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	for i := 0; i < 3; i++ {
		select {
		case b := <-car.binary:
			assert.Equal(t, payload, b)
		case <-time.After(time.Second):
			t.Fatalf("resend %d missing", i)
		}
	}
}

func TestWebSocketPingsWhenIdle(t *testing.T) {
	car, srv := startCar(t)
	ws := NewWebSocket(wsURL(srv), nil, WithSendInterval(10*time.Millisecond), WithPingInterval(20*time.Millisecond))
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	select {
	case s := <-car.text:
		assert.Equal(t, "ping", s)
	case <-time.After(time.Second):
		t.Fatal("no keepalive ping")
	}
	assert.Equal(t, StateConnected, ws.State())
}

func TestWebSocketSetDeviceField(t *testing.T) {
	car, srv := startCar(t)
	ws := NewWebSocket(wsURL(srv), nil, WithReadTimeout(0))
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	require.NoError(t, ws.SetDeviceField(map[string]string{"name": "rover-2"}))
	var set string
	require.Eventually(t, func() bool {
		select {
		case s := <-car.text:
			if strings.HasPrefix(s, SetDeviceField) {
				set = s
			}
		default:
		}
		return set != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `SET+{"name":"rover-2"}`, set)
	require.Eventually(t, func() bool { _, ok := ws.LastStatus(); return ok }, time.Second, 10*time.Millisecond)
	st, _ := ws.LastStatus()
	assert.Equal(t, "ok", st.State)
	assert.Equal(t, "10.0.0.9", st.IP)
}

func TestWebSocketReconnectsAfterDrop(t *testing.T) {
	car, srv := startCar(t)
	ws := NewWebSocket(wsURL(srv), nil, WithReadTimeout(0), WithRetryDelay(10*time.Millisecond))
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()
	require.Eventually(t, func() bool { return car.accepted.Load() == 1 }, time.Second, 5*time.Millisecond)

	car.dropAll()
	require.Eventually(t, func() bool { return car.accepted.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return ws.State() == StateConnected }, time.Second, 10*time.Millisecond)
	assert.NoError(t, ws.Send([]byte{1}))
}

func TestWebSocketGivesUpAfterMaxReconnects(t *testing.T) {
	car, srv := startCar(t)
	var states []ConnectionState
	var mu sync.Mutex
	ws := NewWebSocket(wsURL(srv), nil,
		WithReadTimeout(0), WithRetryDelay(5*time.Millisecond), WithMaxReconnects(2))
	ws.OnStateChange(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	srv.Close()
	car.dropAll()
	require.Eventually(t, func() bool { return ws.State() == StateFailed }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ws.Send([]byte{1}), ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateFailed, states[len(states)-1])
	assert.Contains(t, states, StateConnecting)
}

func TestWebSocketNotConnected(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1", nil)
	assert.ErrorIs(t, ws.Send([]byte{1}), ErrNotConnected)
	assert.NoError(t, ws.Close())
	assert.Equal(t, StateDisconnected, ws.State())
}

func TestDeviceURL(t *testing.T) {
	assert.Equal(t, "ws://192.168.4.1:30102", DeviceURL(DefaultAPAddress))
}

func TestSubnetHosts(t *testing.T) {
	hosts, err := SubnetHosts("192.168.1.37")
	require.NoError(t, err)
	require.Len(t, hosts, 254)
	assert.Equal(t, "192.168.1.1", hosts[0])
	assert.Equal(t, "192.168.1.254", hosts[253])

	hosts, err = SubnetHosts("10.0.7")
	require.NoError(t, err)
	assert.Equal(t, "10.0.7.1", hosts[0])

	_, err = SubnetHosts("not-an-ip")
	assert.Error(t, err)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return p
}

func TestScanFindsCar(t *testing.T) {
	_, srv := startCar(t)
	port := serverPort(t, srv)

	info, err := Scan(context.Background(), []string{"127.0.0.1"},
		WithScanPort(port), WithHelloTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "GalaxyRVR", info.Name)
	assert.Equal(t, "127.0.0.1", info.IP)
}

func TestScanNoDevice(t *testing.T) {
	_, srv := startCar(t)
	port := serverPort(t, srv)
	srv.Close()

	_, err := Scan(context.Background(), []string{"127.0.0.1"},
		WithScanPort(port), WithHelloTimeout(200*time.Millisecond))
	assert.ErrorIs(t, err, ErrNoDevice)
}

type pipeRW struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p pipeRW) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeRW) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeRW) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

func TestSerialSplitsFramesAndSends(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := NewSerial("test", pipeRW{r: inR, w: outW}, nil)

	got := make(chan []byte, 4)
	s.OnReceive(func(b []byte) { got <- b })
	s.Start()

	good := frame.Encode([]byte{0x81, 0x00, 0x96})
	stream := append([]byte{0x13, 0x37}, good...)
	go func() { _, _ = inW.Write(stream) }()

	select {
	case b := <-got:
		assert.Equal(t, good, b)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	sent := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := outR.Read(buf)
		sent <- buf[:n]
	}()
	cmd := frame.Encode([]byte{0x01, 0x10, 0x10})
	require.NoError(t, s.Send(cmd))
	assert.Equal(t, cmd, <-sent)

	require.NoError(t, s.Close())
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.Send(cmd), ErrNotConnected)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}

func TestSerialSkipsBareBursts(t *testing.T) {
	inR, inW := io.Pipe()
	_, outW := io.Pipe()
	s := NewSerial("test", pipeRW{r: inR, w: outW}, nil)

	got := make(chan []byte, 64)
	s.OnReceive(func(b []byte) { got <- b })
	s.Start()
	t.Cleanup(func() { _ = s.Close() })

	good := frame.Encode([]byte{0x81, 0x00, 0x96})
	stream := []byte{frame.Start, 0x81, 0x00, 0x96, frame.End}
	for i := 0; i < 30; i++ {
		stream = append(stream, good...)
	}
	go func() { _, _ = inW.Write(stream) }()

	for i := 0; i < 30; i++ {
		select {
		case b := <-got:
			require.Equal(t, good, b, "frame %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 30 frames delivered", i)
		}
	}
	assert.Len(t, got, 0, "bare burst is never delivered")
}
