package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/transport"
	"github.com/CK6170/roverlink/vehicle"
)

const (
	linkWebSocket = "websocket"
	linkSerial    = "serial"
)

// Target says how to reach a car.
type Target struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Baud    int    `json:"baud,omitempty"`
}

// Dialer opens a link to target. The server uses DialLink unless a test
// swaps it out.
type Dialer func(ctx context.Context, target Target, p *models.PARAMETERS) (transport.Link, error)

// DeviceSession is the one connected car. Only one is driven at a time.
type DeviceSession struct {
	mu sync.Mutex

	configID string
	target   Target
	veh      *vehicle.Vehicle
	link     transport.Link
	unsub    func()
}

// current returns the vehicle and link, or nil when disconnected.
func (d *DeviceSession) current() (*vehicle.Vehicle, transport.Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.veh, d.link
}

func (d *DeviceSession) disconnectLocked() error {
	var err error
	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
	if d.veh != nil {
		_ = d.veh.StopAll()
		d.veh.Reset()
	}
	if d.link != nil {
		err = d.link.Close()
	}
	d.veh = nil
	d.link = nil
	d.target = Target{}
	d.configID = ""
	return err
}

// DialLink opens a WebSocket or serial link using the send cadence and baud
// rate from p.
func DialLink(ctx context.Context, target Target, p *models.PARAMETERS) (transport.Link, error) {
	switch target.Kind {
	case linkWebSocket:
		interval := time.Duration(models.DEFAULTSENDMS) * time.Millisecond
		if p != nil && p.WEBSOCKET != nil && p.WEBSOCKET.SEND_INTERVAL_MS > 0 {
			interval = time.Duration(p.WEBSOCKET.SEND_INTERVAL_MS) * time.Millisecond
		}
		ws := transport.NewWebSocket(target.Address, nil, transport.WithSendInterval(interval))
		if err := ws.Connect(ctx); err != nil {
			return nil, err
		}
		return ws, nil
	case linkSerial:
		return transport.OpenSerial(target.Address, target.Baud, nil)
	}
	return nil, fmt.Errorf("unknown link kind %q", target.Kind)
}

// resolveTarget picks the link from the request, then the cache, then the
// configuration.
func resolveTarget(req ConnectRequest, p *models.PARAMETERS, cached Target) (Target, error) {
	baud := req.Baud
	if baud <= 0 && p != nil && p.SERIAL != nil {
		baud = p.SERIAL.BAUDRATE
	}
	wsPort := models.DEFAULTWSPORT
	if p != nil && p.WEBSOCKET != nil && p.WEBSOCKET.PORT > 0 {
		wsPort = p.WEBSOCKET.PORT
	}

	switch {
	case strings.TrimSpace(req.Port) != "":
		return Target{Kind: linkSerial, Address: strings.TrimSpace(req.Port), Baud: baud}, nil
	case strings.TrimSpace(req.URL) != "":
		return Target{Kind: linkWebSocket, Address: strings.TrimSpace(req.URL)}, nil
	case strings.TrimSpace(req.IP) != "":
		return Target{Kind: linkWebSocket, Address: hostURL(strings.TrimSpace(req.IP), wsPort)}, nil
	case cached.Address != "":
		return cached, nil
	case p != nil && p.WEBSOCKET != nil && p.WEBSOCKET.HOST != "":
		return Target{Kind: linkWebSocket, Address: hostURL(p.WEBSOCKET.HOST, wsPort)}, nil
	case p != nil && p.SERIAL != nil && p.SERIAL.PORT != "":
		return Target{Kind: linkSerial, Address: p.SERIAL.PORT, Baud: baud}, nil
	}
	return Target{}, fmt.Errorf("no car address: give url, ip or port, or run discover")
}

func hostURL(host string, port int) string {
	return fmt.Sprintf("ws://%s:%d", host, port)
}
