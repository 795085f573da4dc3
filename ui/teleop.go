package ui

import (
	"fmt"
	"strings"

	"github.com/CK6170/roverlink/vehicle"
)

// Action is one teleop key binding.
type Action int

const (
	ActionNone Action = iota
	ActionForward
	ActionBackward
	ActionLeft
	ActionRight
	ActionStop
	ActionServoDown
	ActionServoUp
	ActionHeadlights
	ActionCalibrate
	ActionBrighter
	ActionDimmer
	ActionQuit
)

const (
	servoStep      = 10
	brightnessStep = 10
)

var actionNames = map[Action]string{
	ActionForward:    "forward",
	ActionBackward:   "backward",
	ActionLeft:       "left",
	ActionRight:      "right",
	ActionStop:       "stop",
	ActionServoDown:  "servo -",
	ActionServoUp:    "servo +",
	ActionHeadlights: "headlights",
	ActionCalibrate:  "calibrate",
	ActionBrighter:   "brighter",
	ActionDimmer:     "dimmer",
	ActionQuit:       "quit",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "none"
}

// KeyAction maps a key from StartKeyEvents to its action.
func KeyAction(k rune) Action {
	switch k {
	case 'w', 'W':
		return ActionForward
	case 's', 'S':
		return ActionBackward
	case 'a', 'A':
		return ActionLeft
	case 'd', 'D':
		return ActionRight
	case ' ', 'x', 'X':
		return ActionStop
	case 'q', 'Q':
		return ActionServoDown
	case 'e', 'E':
		return ActionServoUp
	case 'h', 'H':
		return ActionHeadlights
	case 'c', 'C':
		return ActionCalibrate
	case '+', '=':
		return ActionBrighter
	case '-', '_':
		return ActionDimmer
	case KeyEsc:
		return ActionQuit
	}
	return ActionNone
}

// Help is the key legend printed when the CLI starts.
const Help = "w/s/a/d drive  space stop  q/e servo  h headlights  c calibrate  +/- brightness  ESC quit"

// Teleop applies key actions to a vehicle and remembers the toggles.
type Teleop struct {
	v          *vehicle.Vehicle
	headlights bool
	calibrate  bool
}

func NewTeleop(v *vehicle.Vehicle) *Teleop { return &Teleop{v: v} }

// Apply runs a. ActionQuit and ActionNone do nothing.
func (t *Teleop) Apply(a Action) error {
	switch a {
	case ActionForward:
		return t.v.Move(vehicle.Forward)
	case ActionBackward:
		return t.v.Move(vehicle.Backward)
	case ActionLeft:
		return t.v.Move(vehicle.TurnLeft)
	case ActionRight:
		return t.v.Move(vehicle.TurnRight)
	case ActionStop:
		return t.v.StopMotor()
	case ActionServoDown:
		return t.v.AddServoAngle(-servoStep)
	case ActionServoUp:
		return t.v.AddServoAngle(servoStep)
	case ActionHeadlights:
		t.headlights = !t.headlights
		return t.v.SetHeadlights(t.headlights)
	case ActionCalibrate:
		t.calibrate = !t.calibrate
		return t.v.Calibrate(t.calibrate)
	case ActionBrighter:
		return t.v.SetBrightness(t.v.Brightness() + brightnessStep)
	case ActionDimmer:
		return t.v.SetBrightness(t.v.Brightness() - brightnessStep)
	}
	return nil
}

// TelemetryLine renders the readings present in rs on one line.
func TelemetryLine(rs *vehicle.ReceiveState, battery vehicle.BatteryConvention) string {
	if rs == nil {
		return "[TEL] waiting for telemetry"
	}
	parts := []string{"[TEL]"}
	if rs.Distance != nil {
		parts = append(parts, fmt.Sprintf("dist:%4dcm", *rs.Distance))
	}
	if rs.IRObstacle != nil {
		parts = append(parts, fmt.Sprintf("ir:%s%s", blocked(rs.IRObstacle.LeftBlocked()), blocked(rs.IRObstacle.RightBlocked())))
	}
	if rs.BatteryRaw != nil {
		parts = append(parts, fmt.Sprintf("bat:%.2fV", battery.Volts(*rs.BatteryRaw)))
	}
	if rs.GrayscaleState != nil {
		parts = append(parts, fmt.Sprintf("line:%s/%s", rs.GrayscaleState.Angle, rs.GrayscaleState.Offset))
	}
	if rs.CarHeading != nil {
		parts = append(parts, fmt.Sprintf("hdg:%4d", *rs.CarHeading))
	}
	if rs.CarAngle != nil {
		parts = append(parts, fmt.Sprintf("ang:%4d", *rs.CarAngle))
	}
	if rs.CompassCalibration != nil && *rs.CompassCalibration == 1 {
		parts = append(parts, "cal:done")
	}
	return strings.Join(parts, " ")
}

func blocked(b bool) string {
	if b {
		return "X"
	}
	return "."
}
