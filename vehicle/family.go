// Package vehicle models the two WebSocket-driven cars (GalaxyRVR and
// ZeusCar): the sticky outbound command state, the telemetry snapshot, the
// codec between them and the frame bytes, and the control operations that
// mutate the command state and push one frame per change.
package vehicle

import (
	"fmt"
	"strings"
)

// Family selects the command table and telemetry interpretation.
type Family int

const (
	GalaxyRVR Family = iota
	ZeusCar
)

func (f Family) String() string {
	switch f {
	case GalaxyRVR:
		return "GalaxyRVR"
	case ZeusCar:
		return "ZeusCar"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// ParseFamily accepts the family name in any case, plus the device type
// strings the cars report in their hello message.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "galaxyrvr", "galaxy-rvr", "mars rover", "rvr":
		return GalaxyRVR, nil
	case "zeuscar", "zeus-car", "zeus_car", "zeus":
		return ZeusCar, nil
	}
	return 0, fmt.Errorf("vehicle: unknown family %q", s)
}

// GalaxyRVR command ids.
const (
	CmdCarMoveControl byte = 0x01
	CmdRGBControl     byte = 0x02
	CmdRudderAngle    byte = 0x03
	CmdHeadlights     byte = 0x04
)

// ZeusCar command ids.
const (
	CmdZeusCarMoveCarCentric   byte = 0x01
	CmdZeusCarMoveFieldCentric byte = 0x02
	CmdZeusMotorControl        byte = 0x03
	CmdZeusRGBControl          byte = 0x04
	CmdZeusSetCarHeading       byte = 0x05
	CmdZeusCalibrateCompass    byte = 0x06
	CmdZeusLineTrackMode       byte = 0x07
	CmdZeusObstacleMode        byte = 0x08
)

// Sensor ids carried in telemetry.
const (
	SensorDistance      byte = 0x81
	SensorIRObstacle    byte = 0x82
	SensorBattery       byte = 0x83 // GalaxyRVR
	SensorGrayscale     byte = 0x83 // ZeusCar
	SensorGrayscaleSt   byte = 0x84
	SensorCarHeading    byte = 0x85
	SensorCarAngle      byte = 0x86
	SensorCalibrateData byte = 0x87
)

func (f Family) rgbID() byte {
	if f == ZeusCar {
		return CmdZeusRGBControl
	}
	return CmdRGBControl
}

// ServoMax is the upper bound of the GalaxyRVR camera tilt servo.
const ServoMax = 140
