package vehicle

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/roverlink/kinematics"
)

// Sender delivers one encoded frame to the car.
type Sender interface {
	Send(frame []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func([]byte) error

func (f SenderFunc) Send(b []byte) error { return f(b) }

const (
	DefaultSpeed      = 80
	DefaultBrightness = 80
	// DefaultCalibrationPoll is how long Calibrate waits before checking
	// whether the compass reported completion.
	DefaultCalibrationPoll = time.Second
)

// Direction is a GalaxyRVR style move request.
type Direction int

const (
	Forward Direction = iota
	Backward
	TurnLeft
	TurnRight
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case TurnLeft:
		return "turn left"
	case TurnRight:
		return "turn right"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "w":
		return Forward, nil
	case "backward", "back", "s":
		return Backward, nil
	case "turn left", "left", "turn_left", "a":
		return TurnLeft, nil
	case "turn right", "right", "turn_right", "d":
		return TurnRight, nil
	}
	return 0, fmt.Errorf("vehicle: unknown direction %q", s)
}

// Vehicle owns the command state for one car and the latest telemetry.
//
// Control calls may come from several goroutines; they are serialized by mu
// and each one ends with exactly one frame handed to the Sender. Telemetry is
// published through an atomic pointer so readers never see a half-decoded
// frame.
type Vehicle struct {
	family  Family
	log     *zap.Logger
	battery BatteryConvention
	calPoll time.Duration

	initColor      Color
	initBrightness int

	mu         sync.Mutex
	tx         Sender
	state      *SendState
	speed      int
	brightness int
	color      Color
	calTimer   *time.Timer
	calGen     uint64

	rx atomic.Pointer[ReceiveState]

	subMu  sync.RWMutex
	subs   map[int]func(*ReceiveState)
	nextID int
}

type Option func(*Vehicle)

func WithLogger(l *zap.Logger) Option {
	return func(v *Vehicle) {
		if l != nil {
			v.log = l
		}
	}
}

func WithBattery(c BatteryConvention) Option {
	return func(v *Vehicle) { v.battery = c }
}

func WithCalibrationPoll(d time.Duration) Option {
	return func(v *Vehicle) { v.calPoll = d }
}

func WithInitialColor(c Color) Option {
	return func(v *Vehicle) { v.initColor = c }
}

func WithInitialBrightness(b int) Option {
	return func(v *Vehicle) { v.initBrightness = clamp(b, 0, 100) }
}

// New returns a Vehicle for family. tx may be nil and attached later with
// SetSender; until then control calls only update state.
func New(family Family, tx Sender, opts ...Option) *Vehicle {
	v := &Vehicle{
		family:         family,
		log:            zap.NewNop(),
		calPoll:        DefaultCalibrationPoll,
		initColor:      DefaultColor,
		initBrightness: DefaultBrightness,
		tx:             tx,
		subs:           make(map[int]func(*ReceiveState)),
	}
	for _, o := range opts {
		o(v)
	}
	v.log = v.log.With(zap.Stringer("family", family))
	v.resetLocked()
	return v
}

func (v *Vehicle) Family() Family { return v.family }

// Battery returns the battery conversion in use.
func (v *Vehicle) Battery() BatteryConvention { return v.battery }

// SetSender attaches or replaces the transport.
func (v *Vehicle) SetSender(tx Sender) {
	v.mu.Lock()
	v.tx = tx
	v.mu.Unlock()
}

// Frame encodes the current command state. It does not transmit and may be
// called at any rate.
func (v *Vehicle) Frame() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Encode(v.family, v.state)
}

// update runs fn under the lock and, if it succeeds, transmits the
// resulting frame outside the lock.
func (v *Vehicle) update(op string, fn func() error) error {
	v.mu.Lock()
	if err := fn(); err != nil {
		v.mu.Unlock()
		v.log.Warn("vehicle: rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	buf := Encode(v.family, v.state)
	tx := v.tx
	v.mu.Unlock()

	if tx == nil {
		return nil
	}
	if err := tx.Send(buf); err != nil {
		v.log.Warn("vehicle: transmit failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("vehicle: %s: %w", op, err)
	}
	v.log.Debug("vehicle: sent", zap.String("op", op), zap.Binary("frame", buf))
	return nil
}

// SetSpeed sets the cruise speed used by moves that do not name one.
func (v *Vehicle) SetSpeed(speed int) error {
	return v.update("speed", func() error {
		v.speed = clamp(speed, 0, 100)
		return nil
	})
}

func (v *Vehicle) Speed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speed
}

// Move drives in direction at speed, or at the cruise speed when speed is
// omitted. On the ZeusCar, forward and backward become field-centric moves
// and turns spin the car in place.
func (v *Vehicle) Move(dir Direction, speed ...int) error {
	return v.update("move", func() error {
		s := v.speed
		if len(speed) > 0 {
			s = clamp(speed[0], 0, 100)
		}
		n := int8(s)
		if v.family == ZeusCar {
			switch dir {
			case Forward:
				v.state.Movement = FieldCentric{Angle: 0, Radius: n}
			case Backward:
				v.state.Movement = FieldCentric{Angle: 180, Radius: n}
			case TurnLeft:
				v.state.Movement = FourWheel{LeftFront: -n, LeftRear: -n, RightFront: n, RightRear: n}
			case TurnRight:
				v.state.Movement = FourWheel{LeftFront: n, LeftRear: n, RightFront: -n, RightRear: -n}
			default:
				return fmt.Errorf("vehicle: unknown direction %v", dir)
			}
			return nil
		}
		switch dir {
		case Forward:
			v.state.Movement = Differential{Left: n, Right: n}
		case Backward:
			v.state.Movement = Differential{Left: -n, Right: -n}
		case TurnLeft:
			v.state.Movement = Differential{Left: -n, Right: n}
		case TurnRight:
			v.state.Movement = Differential{Left: n, Right: -n}
		default:
			return fmt.Errorf("vehicle: unknown direction %v", dir)
		}
		return nil
	})
}

// SetWheelSpeeds sets left and right side speeds directly, -100..100.
func (v *Vehicle) SetWheelSpeeds(left, right int) error {
	return v.update("wheels", func() error {
		l := int8(clamp(left, -100, 100))
		r := int8(clamp(right, -100, 100))
		if v.family == ZeusCar {
			v.state.Movement = FourWheel{LeftFront: l, LeftRear: l, RightFront: r, RightRear: r}
		} else {
			v.state.Movement = Differential{Left: l, Right: r}
		}
		return nil
	})
}

// StopMotor zeroes the movement block. The block stays present so the stop
// is repeated on every following frame.
func (v *Vehicle) StopMotor() error {
	return v.update("stop", func() error {
		v.stopLocked()
		return nil
	})
}

func (v *Vehicle) stopLocked() {
	if v.state.Movement != nil {
		v.state.Movement = v.state.Movement.stopped()
		return
	}
	if v.family == ZeusCar {
		v.state.Movement = FieldCentric{}
	} else {
		v.state.Movement = Differential{}
	}
}

// MoveAngle is the ZeusCar field-centric move toward angle degrees at the
// cruise speed, keeping any rotation target already set.
func (v *Vehicle) MoveAngle(angle int) error {
	return v.update("move angle", func() error {
		fc, ok := v.state.Movement.(FieldCentric)
		if !ok {
			fc = FieldCentric{}
		}
		fc.Angle = int16(angle)
		fc.Radius = int8(v.speed)
		v.state.Movement = fc
		return nil
	})
}

// MakeTurn sets the ZeusCar rotation target. A left turn is a negative angle.
func (v *Vehicle) MakeTurn(angle int, dir Direction) error {
	return v.update("turn", func() error {
		a := int16(angle)
		if dir == TurnLeft {
			a = -a
		}
		v.state.Movement = FieldCentric{CurrentAngle: a}
		return nil
	})
}

// SetMotors drives each ZeusCar wheel directly.
func (v *Vehicle) SetMotors(w FourWheel) error {
	return v.update("motors", func() error {
		w.LeftFront = clamp8(w.LeftFront)
		w.LeftRear = clamp8(w.LeftRear)
		w.RightFront = clamp8(w.RightFront)
		w.RightRear = clamp8(w.RightRear)
		v.state.Movement = w
		return nil
	})
}

// Drive mixes a travel direction, speed and rotation rate into wheel speeds
// for the ZeusCar mecanum base.
func (v *Vehicle) Drive(angleDeg, speed, rotation float64) error {
	w := kinematics.Mix(angleDeg, speed, rotation)
	return v.SetMotors(FourWheel{
		LeftFront:  int8(math.Round(w[kinematics.LeftFront])),
		LeftRear:   int8(math.Round(w[kinematics.LeftRear])),
		RightFront: int8(math.Round(w[kinematics.RightFront])),
		RightRear:  int8(math.Round(w[kinematics.RightRear])),
	})
}

func clamp8(v int8) int8 { return int8(clamp(int(v), -100, 100)) }

// SetServoAngle sets the camera servo, clamped to 0..ServoMax.
func (v *Vehicle) SetServoAngle(angle int) error {
	return v.update("servo", func() error {
		a := clamp(angle, 0, ServoMax)
		v.state.Servo = &a
		return nil
	})
}

// AddServoAngle moves the servo by delta degrees from its current position.
func (v *Vehicle) AddServoAngle(delta int) error {
	return v.update("servo add", func() error {
		cur := 0
		if v.state.Servo != nil {
			cur = *v.state.Servo
		}
		a := clamp(cur+delta, 0, ServoMax)
		v.state.Servo = &a
		return nil
	})
}

func (v *Vehicle) ServoAngle() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Servo == nil {
		return 0
	}
	return *v.state.Servo
}

// SetColor re-sends the last logical color at the current brightness.
func (v *Vehicle) SetColor() error {
	return v.update("color", func() error {
		v.applyColorLocked(v.color)
		return nil
	})
}

// SetColorHex sets the strip color from a hex string. Invalid input leaves
// the state untouched.
func (v *Vehicle) SetColorHex(hex string) error {
	c, err := ParseHexColor(hex)
	return v.update("color", func() error {
		if err != nil {
			return err
		}
		v.applyColorLocked(c)
		return nil
	})
}

// SetColorRGB sets the strip color from three 0..255 components.
func (v *Vehicle) SetColorRGB(r, g, b int) error {
	c, err := ColorFromInts(r, g, b)
	return v.update("color", func() error {
		if err != nil {
			return err
		}
		v.applyColorLocked(c)
		return nil
	})
}

func (v *Vehicle) applyColorLocked(c Color) {
	v.color = c
	scaled := c.Scale(v.brightness)
	v.state.RGB = &scaled
}

// SetBrightness sets the strip brightness percentage and reapplies the
// logical color.
func (v *Vehicle) SetBrightness(pct int) error {
	return v.update("brightness", func() error {
		v.brightness = clamp(pct, 0, 100)
		v.applyColorLocked(v.color)
		return nil
	})
}

// IncreaseBrightness changes brightness by pct percent of its current value.
// Negative pct dims.
func (v *Vehicle) IncreaseBrightness(pct int) error {
	return v.update("brightness", func() error {
		next := v.brightness + int(math.Round(float64(v.brightness*pct)/100))
		switch {
		case next > 100:
			next = 100
			v.log.Warn("vehicle: brightness at maximum")
		case next < 0:
			next = 0
			v.log.Warn("vehicle: brightness at minimum")
		}
		v.brightness = next
		v.applyColorLocked(v.color)
		return nil
	})
}

func (v *Vehicle) Brightness() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.brightness
}

// Color returns the logical (unscaled) strip color.
func (v *Vehicle) Color() Color {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.color
}

// TurnOffLightStrip sends black without forgetting the logical color.
func (v *Vehicle) TurnOffLightStrip() error {
	return v.update("lights off", func() error {
		v.state.RGB = &Color{}
		return nil
	})
}

func (v *Vehicle) SetHeadlights(on bool) error {
	return v.update("headlights", func() error {
		v.state.Headlights = &on
		return nil
	})
}

// Calibrate starts or stops compass calibration. When enabling, it checks
// once after the poll delay whether the car reported completion and, if so,
// clears the flag and transmits again. It never waits.
func (v *Vehicle) Calibrate(enable bool) error {
	err := v.update("calibrate", func() error {
		v.state.Calibration = &enable
		v.stopCalibrationLocked()
		if enable {
			gen := v.calGen
			v.calTimer = time.AfterFunc(v.calPoll, func() { v.pollCalibration(gen) })
		}
		return nil
	})
	return err
}

// stopCalibrationLocked cancels the pending poll. A poll already running
// sees the bumped generation and leaves the state alone.
func (v *Vehicle) stopCalibrationLocked() {
	if v.calTimer != nil {
		v.calTimer.Stop()
		v.calTimer = nil
	}
	v.calGen++
}

func (v *Vehicle) pollCalibration(gen uint64) {
	rs := v.rx.Load()
	if rs == nil || rs.CompassCalibration == nil || *rs.CompassCalibration != 1 {
		v.log.Debug("vehicle: calibration not reported complete")
		return
	}
	v.mu.Lock()
	stale := v.calGen != gen
	v.mu.Unlock()
	if stale {
		return
	}
	_ = v.update("calibrate done", func() error {
		if v.calGen != gen {
			return nil
		}
		done := false
		v.state.Calibration = &done
		v.calTimer = nil
		return nil
	})
	v.log.Info("vehicle: compass calibration complete")
}

// StopAll halts the motors and turns off the light strip in one frame.
func (v *Vehicle) StopAll() error {
	return v.update("stop all", func() error {
		v.stopLocked()
		v.state.RGB = &Color{}
		return nil
	})
}

// SendState returns a copy of the current command state.
func (v *Vehicle) SendState() *SendState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Clone()
}

// HandleFrame decodes an inbound telemetry buffer and publishes it. Rejected
// buffers are logged and leave the previous snapshot in place.
func (v *Vehicle) HandleFrame(buf []byte) {
	rs, err := Decode(v.family, buf)
	if err != nil {
		v.log.Debug("vehicle: dropped telemetry", zap.Error(err), zap.Binary("buf", buf))
		return
	}
	rs.ReceivedAt = time.Now()
	v.rx.Store(rs)

	v.subMu.RLock()
	fns := make([]func(*ReceiveState), 0, len(v.subs))
	for _, fn := range v.subs {
		fns = append(fns, fn)
	}
	v.subMu.RUnlock()
	for _, fn := range fns {
		fn(rs)
	}
}

// OnTelemetry registers fn to be called after each accepted telemetry frame.
// The returned function unregisters it.
func (v *Vehicle) OnTelemetry(fn func(*ReceiveState)) (cancel func()) {
	v.subMu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.subMu.Unlock()
	return func() {
		v.subMu.Lock()
		delete(v.subs, id)
		v.subMu.Unlock()
	}
}

// Telemetry returns the latest snapshot, or an empty one before any frame.
func (v *Vehicle) Telemetry() *ReceiveState {
	if rs := v.rx.Load(); rs != nil {
		return rs
	}
	return &ReceiveState{}
}

func (v *Vehicle) Distance() (uint16, bool) {
	rs := v.Telemetry()
	if rs.Distance == nil {
		return 0, false
	}
	return *rs.Distance, true
}

func (v *Vehicle) IRObstacle() (IRObstacle, bool) {
	rs := v.Telemetry()
	if rs.IRObstacle == nil {
		return IRObstacle{}, false
	}
	return *rs.IRObstacle, true
}

// BatteryVolts applies the configured convention to the last battery byte.
func (v *Vehicle) BatteryVolts() (float64, bool) {
	rs := v.Telemetry()
	if rs.BatteryRaw == nil {
		return 0, false
	}
	return v.battery.Volts(*rs.BatteryRaw), true
}

func (v *Vehicle) GrayscaleState() (GrayscaleState, bool) {
	rs := v.Telemetry()
	if rs.GrayscaleState == nil {
		return GrayscaleState{}, false
	}
	return *rs.GrayscaleState, true
}

func (v *Vehicle) CarHeading() (int16, bool) {
	rs := v.Telemetry()
	if rs.CarHeading == nil {
		return 0, false
	}
	return *rs.CarHeading, true
}

func (v *Vehicle) CarAngle() (int16, bool) {
	rs := v.Telemetry()
	if rs.CarAngle == nil {
		return 0, false
	}
	return *rs.CarAngle, true
}

// Reset drops all command state and telemetry, for use after a disconnect.
func (v *Vehicle) Reset() {
	v.mu.Lock()
	v.resetLocked()
	v.mu.Unlock()
	v.rx.Store(nil)
}

func (v *Vehicle) resetLocked() {
	v.stopCalibrationLocked()
	v.state = &SendState{}
	v.speed = DefaultSpeed
	v.brightness = v.initBrightness
	v.color = v.initColor
}
