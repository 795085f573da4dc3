package vehicle

import (
	"fmt"

	"github.com/CK6170/roverlink/frame"
)

// Encode serializes s into one frame for family f.
//
// Block order is fixed: RGB (always, black when absent), compass calibration,
// headlights, movement, servo. Blocks the family has no command for are
// skipped, as is a movement variant the family cannot drive.
func Encode(f Family, s *SendState) []byte {
	if s == nil {
		s = &SendState{}
	}
	b := frame.NewBuilder()

	var c Color
	if s.RGB != nil {
		c = *s.RGB
	}
	b.Block(f.rgbID(), c.R, c.G, c.B)

	if f == ZeusCar && s.Calibration != nil && *s.Calibration {
		b.Block(CmdZeusCalibrateCompass)
	}

	if f == GalaxyRVR && s.Headlights != nil {
		b.Block(CmdHeadlights, boolByte(*s.Headlights))
	}

	switch m := s.Movement.(type) {
	case Differential:
		if f == GalaxyRVR {
			b.U8(CmdCarMoveControl).I8(m.Left).I8(m.Right)
		}
	case FieldCentric:
		if f == ZeusCar {
			b.U8(CmdZeusCarMoveFieldCentric).I16(m.Angle).I8(m.Radius).I16(m.CurrentAngle)
		}
	case FourWheel:
		if f == ZeusCar {
			b.U8(CmdZeusMotorControl).I8(m.LeftFront).I8(m.LeftRear).I8(m.RightFront).I8(m.RightRear)
		}
	}

	if f == GalaxyRVR && s.Servo != nil {
		b.U8(CmdRudderAngle).I8(int8(clamp(*s.Servo, 0, ServoMax)))
	}

	return b.Frame()
}

// Decode parses one telemetry buffer. Any error means the whole buffer is
// rejected; callers keep their previous snapshot.
//
// Each known sensor id consumes a fixed-width value. Unknown ids consume only
// themselves so a newer firmware's extra sensors do not derail the scan.
func Decode(f Family, buf []byte) (*ReceiveState, error) {
	payload, _, err := frame.Unwrap(buf)
	if err != nil {
		return nil, err
	}
	rs := &ReceiveState{}
	r := frame.NewReader(payload)
	for r.Remaining() > 0 {
		id, _ := r.U8()
		if err := decodeSensor(f, id, r, rs); err != nil {
			return nil, fmt.Errorf("vehicle: sensor 0x%02X: %w", id, err)
		}
	}
	return rs, nil
}

func decodeSensor(f Family, id byte, r *frame.Reader, rs *ReceiveState) error {
	switch id {
	case SensorDistance:
		v, err := r.U16()
		if err != nil {
			return err
		}
		rs.Distance = &v
	case SensorIRObstacle:
		v, err := r.U8()
		if err != nil {
			return err
		}
		rs.IRObstacle = &IRObstacle{Left: v & 0x01, Right: v >> 1 & 0x01}
	case SensorBattery:
		v, err := r.U8()
		if err != nil {
			return err
		}
		if f == ZeusCar {
			rs.GrayscaleValue = make([]uint8, 8)
			for i := range rs.GrayscaleValue {
				rs.GrayscaleValue[i] = v >> i & 0x01
			}
		} else {
			rs.BatteryRaw = &v
		}
	case SensorGrayscaleSt:
		v, err := r.U8()
		if err != nil {
			return err
		}
		gs := newGrayscaleState(v)
		rs.GrayscaleState = &gs
	case SensorCarHeading:
		v, err := r.I16()
		if err != nil {
			return err
		}
		rs.CarHeading = &v
	case SensorCarAngle:
		v, err := r.I16()
		if err != nil {
			return err
		}
		rs.CarAngle = &v
	case SensorCalibrateData:
		v, err := r.U8()
		if err != nil {
			return err
		}
		rs.CompassCalibration = &v
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
