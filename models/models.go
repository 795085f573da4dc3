// Package models defines the JSON-serialized configuration structures shared
// between the teleop CLI and the web server.
//
// These types mirror the shape of `config.json`.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Defaults applied by SetDefaults.
const (
	DEFAULTFAMILY     = "galaxyrvr"
	DEFAULTSPEED      = 80
	DEFAULTBRIGHTNESS = 80
	DEFAULTBATTERY    = "centi+6"
	DEFAULTWSPORT     = 30102
	DEFAULTSENDMS     = 100
	DEFAULTBAUDRATE   = 115200
	DEFAULTRATELIMIT  = 20
	DEFAULTINPUTMODE  = "notify"
	DEFAULTADDR       = "127.0.0.1:8080"
	DEFAULTDB         = "roverlink.db"
	DEFAULTRETENTIONH = 168
)

var ErrInvalid = errors.New("models: invalid parameters")

// PARAMETERS is the primary configuration model (the typical `config.json`).
type PARAMETERS struct {
	VEHICLE   *VEHICLE   `json:"VEHICLE"`
	WEBSOCKET *WEBSOCKET `json:"WEBSOCKET"`
	SERIAL    *SERIAL    `json:"SERIAL,omitempty"`
	KAKA      *KAKA      `json:"KAKA,omitempty"`
	SERVER    *SERVER    `json:"SERVER,omitempty"`
	DEBUG     bool       `json:"DEBUG"`
}

// VEHICLE selects the car family and its starting control values.
// BATTERY picks how the raw battery reading maps to volts.
type VEHICLE struct {
	FAMILY     string `json:"FAMILY"`
	SPEED      int    `json:"SPEED"`
	BRIGHTNESS int    `json:"BRIGHTNESS"`
	BATTERY    string `json:"BATTERY,omitempty"`
	COLOR      string `json:"COLOR,omitempty"`
}

// WEBSOCKET locates the car on the network. An empty HOST means discover.
type WEBSOCKET struct {
	HOST             string `json:"HOST"`
	PORT             int    `json:"PORT"`
	SEND_INTERVAL_MS int    `json:"SEND_INTERVAL_MS"`
}

// SERIAL contains the serial-port settings for a wired car.
type SERIAL struct {
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE"`
}

// KAKA configures the BLE hub peripheral.
type KAKA struct {
	RATE_LIMIT int    `json:"RATE_LIMIT"`
	INPUT_MODE string `json:"INPUT_MODE"`
}

// SERVER configures the local web server.
// RETENTION_H is how many hours of telemetry history to keep; a negative
// value keeps everything.
type SERVER struct {
	ADDR        string `json:"ADDR"`
	DB          string `json:"DB"`
	RETENTION_H int    `json:"RETENTION_H"`
}

// SetDefaults fills every missing section and zero value.
func (p *PARAMETERS) SetDefaults() {
	if p.VEHICLE == nil {
		p.VEHICLE = &VEHICLE{}
	}
	if p.VEHICLE.FAMILY == "" {
		p.VEHICLE.FAMILY = DEFAULTFAMILY
	}
	if p.VEHICLE.SPEED == 0 {
		p.VEHICLE.SPEED = DEFAULTSPEED
	}
	if p.VEHICLE.BRIGHTNESS == 0 {
		p.VEHICLE.BRIGHTNESS = DEFAULTBRIGHTNESS
	}
	if p.VEHICLE.BATTERY == "" {
		p.VEHICLE.BATTERY = DEFAULTBATTERY
	}

	if p.WEBSOCKET == nil {
		p.WEBSOCKET = &WEBSOCKET{}
	}
	if p.WEBSOCKET.PORT == 0 {
		p.WEBSOCKET.PORT = DEFAULTWSPORT
	}
	if p.WEBSOCKET.SEND_INTERVAL_MS == 0 {
		p.WEBSOCKET.SEND_INTERVAL_MS = DEFAULTSENDMS
	}

	if p.SERIAL == nil {
		p.SERIAL = &SERIAL{}
	}
	if p.SERIAL.BAUDRATE == 0 {
		p.SERIAL.BAUDRATE = DEFAULTBAUDRATE
	}

	if p.KAKA == nil {
		p.KAKA = &KAKA{}
	}
	if p.KAKA.RATE_LIMIT == 0 {
		p.KAKA.RATE_LIMIT = DEFAULTRATELIMIT
	}
	if p.KAKA.INPUT_MODE == "" {
		p.KAKA.INPUT_MODE = DEFAULTINPUTMODE
	}

	if p.SERVER == nil {
		p.SERVER = &SERVER{}
	}
	if p.SERVER.ADDR == "" {
		p.SERVER.ADDR = DEFAULTADDR
	}
	if p.SERVER.DB == "" {
		p.SERVER.DB = DEFAULTDB
	}
	if p.SERVER.RETENTION_H == 0 {
		p.SERVER.RETENTION_H = DEFAULTRETENTIONH
	}
}

// Validate checks ranges. It expects SetDefaults to have run.
func (p *PARAMETERS) Validate() error {
	var problems []string
	if p.VEHICLE == nil || p.WEBSOCKET == nil || p.SERIAL == nil || p.KAKA == nil || p.SERVER == nil {
		return fmt.Errorf("%w: missing section", ErrInvalid)
	}
	if p.VEHICLE.SPEED < 0 || p.VEHICLE.SPEED > 100 {
		problems = append(problems, fmt.Sprintf("VEHICLE.SPEED %d outside 0..100", p.VEHICLE.SPEED))
	}
	if p.VEHICLE.BRIGHTNESS < 0 || p.VEHICLE.BRIGHTNESS > 100 {
		problems = append(problems, fmt.Sprintf("VEHICLE.BRIGHTNESS %d outside 0..100", p.VEHICLE.BRIGHTNESS))
	}
	if p.WEBSOCKET.PORT < 1 || p.WEBSOCKET.PORT > 65535 {
		problems = append(problems, fmt.Sprintf("WEBSOCKET.PORT %d", p.WEBSOCKET.PORT))
	}
	if p.WEBSOCKET.SEND_INTERVAL_MS < 10 {
		problems = append(problems, fmt.Sprintf("WEBSOCKET.SEND_INTERVAL_MS %d below 10", p.WEBSOCKET.SEND_INTERVAL_MS))
	}
	if p.SERIAL.BAUDRATE < 0 {
		problems = append(problems, fmt.Sprintf("SERIAL.BAUDRATE %d", p.SERIAL.BAUDRATE))
	}
	if p.KAKA.RATE_LIMIT < 0 {
		problems = append(problems, fmt.Sprintf("KAKA.RATE_LIMIT %d", p.KAKA.RATE_LIMIT))
	}
	switch strings.ToLower(p.KAKA.INPUT_MODE) {
	case "notify", "read":
	default:
		problems = append(problems, fmt.Sprintf("KAKA.INPUT_MODE %q", p.KAKA.INPUT_MODE))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
