package vehicle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Color is an RGB triple as sent to the light strip.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Movement is one of Differential, FieldCentric or FourWheel. The encoder
// picks the block layout and command id from the concrete type.
type Movement interface {
	isMovement()
	// stopped returns the same variant with its speeds zeroed.
	stopped() Movement
}

// Differential drives the GalaxyRVR left and right tracks, -100..100 each.
type Differential struct {
	Left  int8 `json:"left"`
	Right int8 `json:"right"`
}

// FieldCentric is the ZeusCar heading-relative move: travel direction in
// degrees, speed as radius, and the rotation target.
type FieldCentric struct {
	Angle        int16 `json:"angle"`
	Radius       int8  `json:"radius"`
	CurrentAngle int16 `json:"currentAngle"`
}

// FourWheel sets each ZeusCar mecanum wheel directly, -100..100.
type FourWheel struct {
	LeftFront  int8 `json:"leftFront"`
	LeftRear   int8 `json:"leftRear"`
	RightFront int8 `json:"rightFront"`
	RightRear  int8 `json:"rightRear"`
}

func (Differential) isMovement() {}
func (FieldCentric) isMovement() {}
func (FourWheel) isMovement()    {}

func (Differential) stopped() Movement { return Differential{} }
func (m FieldCentric) stopped() Movement {
	m.Radius = 0
	return m
}
func (FourWheel) stopped() Movement { return FourWheel{} }

// SendState is the outbound command set. A nil field is absent and emits no
// block; once set, a field is re-sent with every frame until changed.
type SendState struct {
	RGB         *Color   `json:"rgb,omitempty"`
	Movement    Movement `json:"movement,omitempty"`
	Servo       *int     `json:"servo,omitempty"`
	Headlights  *bool    `json:"headlights,omitempty"`
	Calibration *bool    `json:"calibration,omitempty"`
}

// Clone returns a deep copy.
func (s *SendState) Clone() *SendState {
	if s == nil {
		return &SendState{}
	}
	out := &SendState{Movement: s.Movement}
	if s.RGB != nil {
		c := *s.RGB
		out.RGB = &c
	}
	if s.Servo != nil {
		v := *s.Servo
		out.Servo = &v
	}
	if s.Headlights != nil {
		v := *s.Headlights
		out.Headlights = &v
	}
	if s.Calibration != nil {
		v := *s.Calibration
		out.Calibration = &v
	}
	return out
}

// IRObstacle holds the two IR proximity bits. The firmware reports 0 when
// something is in front of the sensor.
type IRObstacle struct {
	Left  uint8 `json:"left"`
	Right uint8 `json:"right"`
}

func (ir IRObstacle) LeftBlocked() bool  { return ir.Left == 0 }
func (ir IRObstacle) RightBlocked() bool { return ir.Right == 0 }

var (
	grayscaleAngles  = []string{"-45", "0", "45", "90", "error"}
	grayscaleOffsets = []string{"left", "center", "right", "error"}
)

// GrayscaleState is the line follower's verdict.
type GrayscaleState struct {
	Angle  string `json:"angle"`
	Offset string `json:"offset"`
}

func newGrayscaleState(raw uint8) GrayscaleState {
	return GrayscaleState{
		Angle:  lookup(grayscaleAngles, int(raw&0x07)),
		Offset: lookup(grayscaleOffsets, int(raw>>3&0x03)),
	}
}

func lookup(table []string, i int) string {
	if i < len(table) {
		return table[i]
	}
	return "error"
}

// AngleDegrees parses Angle. ok is false for "error".
func (g GrayscaleState) AngleDegrees() (deg int, ok bool) {
	v, err := strconv.Atoi(g.Angle)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReceiveState is one decoded telemetry frame. Fields the frame did not carry
// stay nil. A ReceiveState is never modified after Decode returns it.
type ReceiveState struct {
	Distance           *uint16         `json:"distance,omitempty"`
	IRObstacle         *IRObstacle     `json:"irObstacle,omitempty"`
	BatteryRaw         *uint8          `json:"battery,omitempty"`
	GrayscaleValue     []uint8         `json:"grayscaleValue,omitempty"`
	GrayscaleState     *GrayscaleState `json:"grayscaleState,omitempty"`
	CarHeading         *int16          `json:"carHeading,omitempty"`
	CarAngle           *int16          `json:"carAngle,omitempty"`
	CompassCalibration *uint8          `json:"compassCalibration,omitempty"`
	ReceivedAt         time.Time       `json:"receivedAt"`
}

// BatteryConvention converts the raw battery byte to volts. Firmware
// revisions disagree, so the convention is chosen per deployment.
type BatteryConvention int

const (
	BatteryCentiOffset6 BatteryConvention = iota // raw/100 + 6
	BatteryTenths                                // raw * 0.1
	BatteryRaw                                   // raw
)

func (c BatteryConvention) Volts(raw uint8) float64 {
	switch c {
	case BatteryTenths:
		return float64(raw) * 0.1
	case BatteryRaw:
		return float64(raw)
	default:
		return float64(raw)/100 + 6
	}
}

func (c BatteryConvention) String() string {
	switch c {
	case BatteryTenths:
		return "tenths"
	case BatteryRaw:
		return "raw"
	default:
		return "centi+6"
	}
}

// ParseBatteryConvention accepts the names produced by String. Empty selects
// the default.
func ParseBatteryConvention(s string) (BatteryConvention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "centi+6", "centi", "default":
		return BatteryCentiOffset6, nil
	case "tenths":
		return BatteryTenths, nil
	case "raw":
		return BatteryRaw, nil
	}
	return 0, fmt.Errorf("vehicle: unknown battery convention %q", s)
}
