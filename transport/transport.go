// Package transport moves frames between the host and a car: a WebSocket
// client for the Wi-Fi cars, a subnet scanner to find them, and a serial
// byte-stream link for cars wired over USB.
package transport

import (
	"errors"
	"fmt"
)

// ConnectionState describes the current link status.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrNoDevice     = errors.New("transport: no device found")
)

// Link is what a vehicle session needs from any transport.
type Link interface {
	Send(b []byte) error
	OnReceive(fn func([]byte))
	State() ConnectionState
	Close() error
}

// DefaultPort is the WebSocket port the car firmware listens on.
const DefaultPort = 30102

// DefaultAPAddress is the car's own address when it runs as an access point.
const DefaultAPAddress = "192.168.4.1"

// DeviceURL returns the WebSocket endpoint for a car at ip.
func DeviceURL(ip string) string {
	return fmt.Sprintf("ws://%s:%d", ip, DefaultPort)
}

// DeviceInfo is the hello message a car sends after the socket opens.
type DeviceInfo struct {
	Name  string `json:"Name"`
	Type  string `json:"Type"`
	Video any    `json:"video,omitempty"`
	Check any    `json:"Check,omitempty"`
	IP    string `json:"ip,omitempty"`
}

// pingPongTypes answer "ping" with "pong" while no frames are streaming.
var pingPongTypes = map[string]struct{}{
	"Zeus_Car":     {},
	"Mars Rover":   {},
	"PICO-4WD Car": {},
	"Nano Sloth":   {},
}

// PingPong reports whether the device keeps the link alive with ping/pong.
func (d DeviceInfo) PingPong() bool {
	_, ok := pingPongTypes[d.Type]
	return ok
}
