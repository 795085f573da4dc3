package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultSendInterval  = 100 * time.Millisecond
	DefaultPingInterval  = 500 * time.Millisecond
	DefaultReadTimeout   = 2 * time.Second
	DefaultMaxReconnects = 3
	defaultRetryDelay    = 500 * time.Millisecond
	dialTimeout          = 5 * time.Second
)

// SetDeviceField prefixes configuration writes such as Wi-Fi credentials or
// a new device name.
const SetDeviceField = "SET+"

// Status is the car's answer to a configuration write.
type Status struct {
	State    string            `json:"state"`
	IP       string            `json:"ip,omitempty"`
	Networks []json.RawMessage `json:"networks,omitempty"`
}

// WebSocket is a client link to one car.
//
// Once connected it re-sends the current payload every send interval, which
// is how the car knows it is still being driven. Without a payload it sends
// "ping" at the ping interval instead. A link that goes quiet for the read
// timeout, or drops, is redialled up to the reconnect limit.
type WebSocket struct {
	url           string
	log           *zap.Logger
	dialer        *websocket.Dialer
	sendInterval  time.Duration
	pingInterval  time.Duration
	readTimeout   time.Duration
	maxReconnects int
	retryDelay    time.Duration

	state atomic.Int32

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	payload   func() []byte
	info      *DeviceInfo
	status    *Status
	receivers []func([]byte)
	onState   func(ConnectionState)

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

type WSOption func(*WebSocket)

func WithSendInterval(d time.Duration) WSOption {
	return func(w *WebSocket) { w.sendInterval = d }
}

func WithPingInterval(d time.Duration) WSOption {
	return func(w *WebSocket) { w.pingInterval = d }
}

func WithReadTimeout(d time.Duration) WSOption {
	return func(w *WebSocket) { w.readTimeout = d }
}

func WithMaxReconnects(n int) WSOption {
	return func(w *WebSocket) { w.maxReconnects = n }
}

func WithRetryDelay(d time.Duration) WSOption {
	return func(w *WebSocket) { w.retryDelay = d }
}

// NewWebSocket returns an unconnected client for rawURL.
func NewWebSocket(rawURL string, log *zap.Logger, opts ...WSOption) *WebSocket {
	if log == nil {
		log = zap.NewNop()
	}
	w := &WebSocket{
		url:           rawURL,
		log:           log,
		dialer:        &websocket.Dialer{HandshakeTimeout: dialTimeout},
		sendInterval:  DefaultSendInterval,
		pingInterval:  DefaultPingInterval,
		readTimeout:   DefaultReadTimeout,
		maxReconnects: DefaultMaxReconnects,
		retryDelay:    defaultRetryDelay,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WebSocket) URL() string { return w.url }

func (w *WebSocket) State() ConnectionState {
	return ConnectionState(w.state.Load())
}

func (w *WebSocket) setState(s ConnectionState) {
	if ConnectionState(w.state.Swap(int32(s))) == s {
		return
	}
	w.mu.Lock()
	fn := w.onState
	w.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// OnStateChange registers a callback for link state transitions.
func (w *WebSocket) OnStateChange(fn func(ConnectionState)) {
	w.mu.Lock()
	w.onState = fn
	w.mu.Unlock()
}

// OnReceive registers fn for every inbound binary message.
func (w *WebSocket) OnReceive(fn func([]byte)) {
	w.mu.Lock()
	w.receivers = append(w.receivers, fn)
	w.mu.Unlock()
}

// SetPayload installs the frame source for the periodic resend. Passing nil
// falls back to ping keepalives.
func (w *WebSocket) SetPayload(fn func() []byte) {
	w.mu.Lock()
	w.payload = fn
	w.mu.Unlock()
}

// Info returns the car's hello message, if one arrived.
func (w *WebSocket) Info() (DeviceInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.info == nil {
		return DeviceInfo{}, false
	}
	return *w.info, true
}

// LastStatus returns the car's last configuration status reply.
func (w *WebSocket) LastStatus() (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == nil {
		return Status{}, false
	}
	return *w.status, true
}

// Connect dials the car and starts the send and receive loops.
func (w *WebSocket) Connect(ctx context.Context) error {
	if w.State() == StateConnected {
		return nil
	}
	w.setState(StateConnecting)
	conn, err := w.dial(ctx)
	if err != nil {
		w.setState(StateFailed)
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.mu.Unlock()
	w.setState(StateConnected)
	w.log.Info("ws: connected", zap.String("url", w.url))

	w.wg.Add(1)
	go w.run(runCtx, conn)
	return nil
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", w.url, err)
	}
	return conn, nil
}

// Close stops the loops and closes the socket. No reconnect follows.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	conn := w.conn
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		_ = conn.Close()
	}
	w.wg.Wait()
	w.setState(StateDisconnected)
	w.log.Info("ws: closed", zap.String("url", w.url))
	return nil
}

// Send writes one binary message.
func (w *WebSocket) Send(b []byte) error {
	return w.write(websocket.BinaryMessage, b)
}

// SetDeviceField sends a "SET+" JSON configuration write, e.g. a rename or
// station Wi-Fi credentials.
func (w *WebSocket) SetDeviceField(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: encode device field: %w", err)
	}
	return w.write(websocket.TextMessage, append([]byte(SetDeviceField), raw...))
}

func (w *WebSocket) write(kind int, b []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(kind, b); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

func (w *WebSocket) run(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()
	attempts := 0
	for {
		err := w.serve(ctx, conn)
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("ws: connection lost", zap.String("url", w.url), zap.Error(err))

		conn = nil
		for conn == nil {
			if attempts >= w.maxReconnects {
				w.log.Warn("ws: giving up", zap.Int("attempts", attempts))
				w.setState(StateFailed)
				return
			}
			attempts++
			w.setState(StateConnecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			c, err := w.dial(ctx)
			if err != nil {
				w.log.Info("ws: reconnect failed", zap.Int("attempt", attempts), zap.Error(err))
				continue
			}
			conn = c
		}
		attempts = 0
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.setState(StateConnected)
		w.log.Info("ws: reconnected", zap.String("url", w.url))
	}
}

// serve runs the writer loop and reads until the connection fails or ctx ends.
func (w *WebSocket) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go w.sendLoop(conn, done)

	for {
		if w.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		}
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		switch kind {
		case websocket.BinaryMessage:
			w.mu.Lock()
			fns := append([]func([]byte){}, w.receivers...)
			w.mu.Unlock()
			for _, fn := range fns {
				fn(msg)
			}
		case websocket.TextMessage:
			w.handleText(msg)
		}
	}
}

func (w *WebSocket) sendLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(w.sendInterval)
	defer t.Stop()
	var lastPing time.Time
	for {
		select {
		case <-done:
			return
		case now := <-t.C:
			w.mu.Lock()
			payload := w.payload
			w.mu.Unlock()

			var err error
			switch {
			case payload != nil:
				err = w.writeConn(conn, websocket.BinaryMessage, payload())
			case now.Sub(lastPing) >= w.pingInterval:
				lastPing = now
				err = w.writeConn(conn, websocket.TextMessage, []byte("ping"))
			}
			if err != nil {
				w.log.Debug("ws: periodic send", zap.Error(err))
			}
		}
	}
}

func (w *WebSocket) writeConn(conn *websocket.Conn, kind int, b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	return conn.WriteMessage(kind, b)
}

func (w *WebSocket) handleText(msg []byte) {
	s := strings.TrimSpace(string(msg))
	if strings.HasPrefix(s, "pong") || s == "" {
		return
	}
	var info DeviceInfo
	var st Status
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		w.log.Debug("ws: unparsed text", zap.String("msg", s), zap.Error(err))
		return
	}
	_ = json.Unmarshal([]byte(s), &st)

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.Name != "" {
		info.IP = hostOf(w.url)
		w.info = &info
		w.log.Info("ws: device hello", zap.String("name", info.Name), zap.String("type", info.Type))
	}
	if st.State != "" {
		w.status = &st
		w.log.Info("ws: device status", zap.String("state", st.State), zap.String("ip", st.IP))
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
