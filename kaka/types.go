// Package kaka speaks the Mammoth Kaka hub's BLE I/O protocol: devices are
// registered under small integer ids keyed by (type, pins), actuated with
// output commands and polled with input commands whose answers arrive as
// notifications on INPUT_VALUES.
package kaka

import (
	"fmt"
	"strings"
)

// GATT services and characteristics exposed by the hub.
const (
	DeviceService = "00001001-2d6f-4fcd-aff9-7e305f8fce48"
	IOService     = "00002001-2d6f-4fcd-aff9-7e305f8fce48"

	AttachedIO      = "00001002-2d6f-4fcd-aff9-7e305f8fce48"
	LowVoltageAlert = "00001003-2d6f-4fcd-aff9-7e305f8fce48"
	InputValues     = "00002002-2d6f-4fcd-aff9-7e305f8fce48"
	InputCommand    = "00002003-2d6f-4fcd-aff9-7e305f8fce48"
	OutputCommand   = "00002004-2d6f-4fcd-aff9-7e305f8fce48"
)

// DeviceActionChangeName is the ATTACHED_IO opcode for renaming the hub.
const DeviceActionChangeName byte = 0x01

type DeviceType uint8

const (
	Motor          DeviceType = 1
	Buzzer         DeviceType = 3
	LED            DeviceType = 4
	Servo          DeviceType = 5
	Sound          DeviceType = 6
	Button         DeviceType = 7
	SegmentDisplay DeviceType = 8
	ColorSensor    DeviceType = 9
	LightSensor    DeviceType = 10
	Potentiometer  DeviceType = 11
	Ultrasonic     DeviceType = 12
	Digital        DeviceType = 13
	Analog         DeviceType = 14
	PWM            DeviceType = 15
	LTMotor        DeviceType = 16
)

var deviceNames = map[DeviceType]string{
	Motor:          "Motor",
	Buzzer:         "Buzzer",
	LED:            "LED",
	Servo:          "Servo",
	Sound:          "Sound",
	Button:         "Button",
	SegmentDisplay: "SegmentDisplay",
	ColorSensor:    "ColorSensor",
	LightSensor:    "LightSensor",
	Potentiometer:  "Potentiometer",
	Ultrasonic:     "Ultrasonic",
	Digital:        "Digital",
	Analog:         "Analog",
	PWM:            "PWM",
	LTMotor:        "LTMotor",
}

func (t DeviceType) String() string {
	if s, ok := deviceNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DeviceType(%d)", uint8(t))
}

type Action uint8

const (
	ActionDigitalOutput           Action = 1
	ActionDigitalInput            Action = 2
	ActionPWMPulseWidthPercent    Action = 3
	ActionPWMFrequency            Action = 4
	ActionAnalogInput             Action = 5
	ActionBuzzerPlayTone          Action = 6
	ActionBuzzerStop              Action = 7
	ActionBuzzerPlayToneFor       Action = 8
	ActionUltrasonicGetDistance   Action = 9
	ActionSegmentDisplayShowValue Action = 10
	ActionSegmentDisplayClear     Action = 11
	ActionColorSensorGetColor     Action = 12
	ActionMotorSetStatus          Action = 13
	ActionServoSetAngle           Action = 14
	ActionLTMotorSetValue         Action = 15
	ActionGetSoundLevel           Action = 16
)

// Hub firmware resolution settings.
const (
	AnalogResolution = 10
	PWMResolution    = 8

	AnalogMax = 1<<AnalogResolution - 1
	PWMMax    = 1<<PWMResolution - 1

	ServoMaxAngle = 180
	LTMotorMax    = 100
)

// ColorSensorColors indexes the values returned by the color sensor.
var ColorSensorColors = []string{"red", "orange", "yellow", "green", "cyan", "blue", "purple", "magenta"}

// ColorName maps a color sensor reading to its name, or "" when out of range.
func ColorName(v int) string {
	if v < 0 || v >= len(ColorSensorColors) {
		return ""
	}
	return ColorSensorColors[v]
}

// ButtonEvent is the edge derived from two consecutive button reads.
type ButtonEvent int

const (
	ButtonReleased ButtonEvent = 0
	ButtonPressed  ButtonEvent = 1
	ButtonClicked  ButtonEvent = 2
)

func (e ButtonEvent) String() string {
	switch e {
	case ButtonReleased:
		return "released"
	case ButtonPressed:
		return "pressed"
	case ButtonClicked:
		return "clicked"
	default:
		return fmt.Sprintf("ButtonEvent(%d)", int(e))
	}
}

// InputMode selects how input values are collected.
type InputMode int

const (
	// InputNotify sends the poll and answers from the value the INPUT_VALUES
	// notification handler last stored.
	InputNotify InputMode = iota
	// InputRead sends the poll and reads INPUT_VALUES once, for firmware
	// that does not notify.
	InputRead
)

func (m InputMode) String() string {
	if m == InputRead {
		return "read"
	}
	return "notify"
}

// ParseInputMode accepts "notify" or "read". Empty means notify.
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "notify":
		return InputNotify, nil
	case "read":
		return InputRead, nil
	}
	return InputNotify, fmt.Errorf("kaka: unknown input mode %q", s)
}
