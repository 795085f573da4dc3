package server

import (
	"time"

	"github.com/CK6170/roverlink/transport"
	"github.com/CK6170/roverlink/vehicle"
)

// APIError is the canonical error envelope returned by JSON endpoints.
// The frontend expects the `error` field and will surface it to the user.
type APIError struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// UploadResponse is returned by the config upload endpoint.
// ConfigID is the opaque ID used for subsequent connects.
type UploadResponse struct {
	ConfigID string `json:"configId"`
	Family   string `json:"family"`
}

type PortsResponse struct {
	Ports []string `json:"ports"`
}

// DiscoverRequest names the subnet to scan, e.g. "192.168.1.0".
type DiscoverRequest struct {
	Base string `json:"base"`
}

type DiscoverResponse struct {
	Device transport.DeviceInfo `json:"device"`
	URL    string               `json:"url"`
}

// ConnectRequest picks the car. At most one of URL, IP or Port is needed;
// when all are empty the last working link for the family is reused, then
// the configured WEBSOCKET.HOST or SERIAL.PORT.
type ConnectRequest struct {
	ConfigID string `json:"configId,omitempty"`
	Family   string `json:"family,omitempty"`
	URL      string `json:"url,omitempty"`
	IP       string `json:"ip,omitempty"`
	Port     string `json:"port,omitempty"`
	Baud     int    `json:"baud,omitempty"`
}

// ConnectResponse is returned by /api/connect.
type ConnectResponse struct {
	Connected     bool                  `json:"connected"`
	Family        string                `json:"family"`
	Kind          string                `json:"kind"`
	Address       string                `json:"address"`
	Device        *transport.DeviceInfo `json:"device,omitempty"`
	AutoDetectLog []string              `json:"autoDetectLog,omitempty"`
}

type MoveRequest struct {
	Direction string `json:"direction"`
	Speed     int    `json:"speed,omitempty"`
}

type WheelsRequest struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// DriveRequest is a mecanum drive vector for cars with four wheels.
type DriveRequest struct {
	Angle    float64 `json:"angle"`
	Speed    float64 `json:"speed"`
	Rotation float64 `json:"rotation"`
}

type ServoRequest struct {
	Angle    int  `json:"angle"`
	Relative bool `json:"relative,omitempty"`
}

// ColorRequest takes either Hex or all of R, G and B.
type ColorRequest struct {
	Hex string `json:"hex,omitempty"`
	R   *int   `json:"r,omitempty"`
	G   *int   `json:"g,omitempty"`
	B   *int   `json:"b,omitempty"`
}

type ValueRequest struct {
	Value    int  `json:"value"`
	Relative bool `json:"relative,omitempty"`
}

type HeadlightsRequest struct {
	On bool `json:"on"`
}

type CalibrateRequest struct {
	Enable bool `json:"enable"`
}

// DeviceFieldRequest is forwarded to the car as a SET+ write.
type DeviceFieldRequest struct {
	Fields map[string]any `json:"fields"`
}

// VehicleStateResponse is the control state plus the latest telemetry.
type VehicleStateResponse struct {
	Family       string                `json:"family"`
	Link         string                `json:"link"`
	Speed        int                   `json:"speed"`
	Brightness   int                   `json:"brightness"`
	Color        string                `json:"color"`
	Servo        int                   `json:"servo"`
	Command      *vehicle.SendState    `json:"command"`
	Telemetry    *vehicle.ReceiveState `json:"telemetry,omitempty"`
	BatteryVolts *float64              `json:"batteryVolts,omitempty"`
}

// TelemetryEvent is the data of a "telemetry" WebSocket message.
type TelemetryEvent struct {
	Family       string                `json:"family"`
	State        *vehicle.ReceiveState `json:"state"`
	BatteryVolts *float64              `json:"batteryVolts,omitempty"`
}

// KakaConnectRequest names the hub to attach to. The BLE central decides
// what an empty name means.
type KakaConnectRequest struct {
	Name string `json:"name,omitempty"`
}

// KakaOutputRequest actuates one hub device. Device is one of digital, pwm,
// servo, motor, ltmotor, buzzer or segment; Pins holds its pin numbers in
// order (none for the buzzer).
type KakaOutputRequest struct {
	Device   string `json:"device"`
	Pins     []int  `json:"pins,omitempty"`
	Value    int    `json:"value,omitempty"`
	Tone     int    `json:"tone,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Text     string `json:"text,omitempty"`
}

// KakaInputRequest polls one hub sensor: digital, analog, sound,
// ultrasonic, color or button.
type KakaInputRequest struct {
	Device string `json:"device"`
	Pins   []int  `json:"pins,omitempty"`
}

type KakaInputResponse struct {
	Device string `json:"device"`
	Value  int    `json:"value"`
	Color  string `json:"color,omitempty"`
	Event  string `json:"event,omitempty"`
}

// KakaDevice is a registry entry with pins as numbers rather than base64.
type KakaDevice struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Pins  []int  `json:"pins"`
	Value *int   `json:"value,omitempty"`
}

type KakaStateResponse struct {
	Connected  bool         `json:"connected"`
	LowVoltage bool         `json:"lowVoltage"`
	InputMode  string       `json:"inputMode"`
	Devices    []KakaDevice `json:"devices"`
}

type KakaRenameRequest struct {
	Name string `json:"name"`
}
