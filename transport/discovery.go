package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultScanBatch    = 50
	DefaultHelloTimeout = 5 * time.Second
)

type scanConfig struct {
	port    int
	batch   int
	timeout time.Duration
}

type ScanOption func(*scanConfig)

func WithScanPort(port int) ScanOption {
	return func(c *scanConfig) { c.port = port }
}

func WithScanBatch(n int) ScanOption {
	return func(c *scanConfig) { c.batch = n }
}

func WithHelloTimeout(d time.Duration) ScanOption {
	return func(c *scanConfig) { c.timeout = d }
}

// SubnetHosts expands an address like "192.168.1.37" or "192.168.1" into
// the 254 host addresses of its /24.
func SubnetHosts(base string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(base), ".")
	if len(parts) == 4 {
		parts = parts[:3]
	}
	if len(parts) != 3 || net.ParseIP(strings.Join(parts, ".")+".0") == nil {
		return nil, fmt.Errorf("transport: bad subnet %q", base)
	}
	prefix := strings.Join(parts, ".")
	hosts := make([]string, 0, 254)
	for i := 1; i < 255; i++ {
		hosts = append(hosts, fmt.Sprintf("%s.%d", prefix, i))
	}
	return hosts, nil
}

// Discover scans the /24 around base for a car and returns the first hello.
func Discover(ctx context.Context, base string, opts ...ScanOption) (DeviceInfo, error) {
	hosts, err := SubnetHosts(base)
	if err != nil {
		return DeviceInfo{}, err
	}
	return Scan(ctx, hosts, opts...)
}

// Scan dials hosts in parallel, at most batch at a time, and returns the
// first device that answers with a hello. Remaining attempts are cancelled.
func Scan(ctx context.Context, hosts []string, opts ...ScanOption) (DeviceInfo, error) {
	cfg := scanConfig{port: DefaultPort, batch: DefaultScanBatch, timeout: DefaultHelloTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.batch)

	var (
		once  sync.Once
		found DeviceInfo
		hit   bool
	)
	for _, host := range hosts {
		if gctx.Err() != nil {
			break
		}
		host := host
		g.Go(func() error {
			info, err := Identify(gctx, host, cfg.port, cfg.timeout)
			if err != nil {
				return nil
			}
			once.Do(func() {
				found, hit = info, true
				cancel()
			})
			return nil
		})
	}
	_ = g.Wait()
	if !hit {
		if err := parent.Err(); err != nil {
			return DeviceInfo{}, err
		}
		return DeviceInfo{}, ErrNoDevice
	}
	return found, nil
}

// Identify opens a WebSocket to host:port and waits for the car's hello.
func Identify(ctx context.Context, host string, port int, timeout time.Duration) (DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s", net.JoinHostPort(host, fmt.Sprint(port)))
	d := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return DeviceInfo{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var info DeviceInfo
		if json.Unmarshal(msg, &info) != nil || info.Name == "" {
			continue
		}
		info.IP = host
		return info, nil
	}
}
