package kaka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/CK6170/roverlink/ratelimit"
)

var (
	ErrNotConnected = errors.New("kaka: not connected")
	// ErrNoValue means the device has been polled but no reading has come
	// back yet.
	ErrNoValue = errors.New("kaka: no value yet")
)

// GATT is the slice of a BLE central the hub needs. The host's BLE stack
// provides it.
type GATT interface {
	Write(ctx context.Context, service, characteristic string, data []byte) error
	Read(ctx context.Context, service, characteristic string) ([]byte, error)
	Subscribe(service, characteristic string, fn func([]byte)) error
}

// DefaultSendRate is the number of commands per second the hub's BLE stack
// tolerates.
const DefaultSendRate = 20

// Hub drives one Kaka board.
//
// Commands pass through the limiter; a denied output is dropped and a denied
// input poll answers from the last cached reading.
type Hub struct {
	log     *zap.Logger
	limiter *ratelimit.Limiter
	mode    InputMode
	reg     *Registry

	mu           sync.Mutex
	gatt         GATT
	lastButton   map[uint8]int
	buttonEvents map[uint8]ButtonEvent
	soundLevel   int
	lowVoltage   bool
}

type HubOption func(*Hub)

func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) HubOption {
	return func(h *Hub) { h.limiter = l }
}

// WithSendRate replaces the limiter with one allowing n commands per second.
func WithSendRate(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.limiter = ratelimit.PerSecond(n)
		}
	}
}

func WithInputMode(m InputMode) HubOption {
	return func(h *Hub) { h.mode = m }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:     zap.NewNop(),
		limiter: ratelimit.PerSecond(DefaultSendRate),
		reg:     NewRegistry(),
	}
	for _, o := range opts {
		o(h)
	}
	h.resetButtons()
	return h
}

// InputMode reports how input readings are fetched.
func (h *Hub) InputMode() InputMode { return h.mode }

// Registry exposes the device table.
func (h *Hub) Registry() *Registry { return h.reg }

// Connect attaches a GATT link and subscribes to input values and the low
// voltage alert.
func (h *Hub) Connect(g GATT) error {
	if g == nil {
		return ErrNotConnected
	}
	if err := g.Subscribe(IOService, InputValues, h.HandleInput); err != nil {
		return fmt.Errorf("kaka: subscribe input values: %w", err)
	}
	if err := g.Subscribe(DeviceService, LowVoltageAlert, h.handleLowVoltage); err != nil {
		// older firmware lacks the characteristic
		h.log.Debug("kaka: low voltage alert unavailable", zap.Error(err))
	}
	h.mu.Lock()
	h.gatt = g
	h.mu.Unlock()
	h.log.Info("kaka: connected", zap.Stringer("inputMode", h.mode))
	return nil
}

// Disconnect detaches the link and clears all session state.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	h.gatt = nil
	h.mu.Unlock()
	h.Reset()
	h.log.Info("kaka: disconnected")
}

func (h *Hub) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gatt != nil
}

func (h *Hub) link() (GATT, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gatt == nil {
		return nil, ErrNotConnected
	}
	return h.gatt, nil
}

// HandleInput stores an INPUT_VALUES notification against its device id.
func (h *Hub) HandleInput(data []byte) {
	id, value, err := ParseInputValue(data)
	if err != nil {
		h.log.Debug("kaka: dropped input value", zap.Error(err), zap.Binary("data", data))
		return
	}
	if !h.reg.SetValue(id, value) {
		h.log.Debug("kaka: value for unregistered device", zap.Uint8("id", id))
	}
}

func (h *Hub) handleLowVoltage(data []byte) {
	low := len(data) > 0 && data[0] != 0
	h.mu.Lock()
	h.lowVoltage = low
	h.mu.Unlock()
	if low {
		h.log.Warn("kaka: low battery voltage")
	}
}

// LowVoltage reports the last low voltage alert state.
func (h *Hub) LowVoltage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lowVoltage
}

func (h *Hub) output(ctx context.Context, t DeviceType, action Action, pins, values []uint8) error {
	g, err := h.link()
	if err != nil {
		return err
	}
	id, err := h.reg.Register(t, pins)
	if err != nil {
		return err
	}
	cmd, err := GenerateOutputCommand(t, id, action, pins, values)
	if err != nil {
		return err
	}
	if !h.limiter.OkayToSend() {
		h.log.Debug("kaka: output dropped by limiter", zap.Stringer("device", t), zap.Uint8("id", id))
		return nil
	}
	return h.write(ctx, g, OutputCommand, cmd)
}

func (h *Hub) write(ctx context.Context, g GATT, char string, cmd []byte) error {
	if err := g.Write(ctx, IOService, char, cmd); err != nil {
		return fmt.Errorf("kaka: write: %w", err)
	}
	h.log.Debug("kaka: sent", zap.Binary("cmd", cmd))
	return nil
}

func (h *Hub) input(ctx context.Context, t DeviceType, action Action, pins []uint8) (int, error) {
	g, err := h.link()
	if err != nil {
		return 0, err
	}
	id, err := h.reg.Register(t, pins)
	if err != nil {
		return 0, err
	}
	cmd, err := GenerateInputCommand(t, id, action, pins)
	if err != nil {
		return 0, err
	}

	if !h.limiter.OkayToSend() {
		h.log.Debug("kaka: poll dropped by limiter", zap.Stringer("device", t), zap.Uint8("id", id))
		return h.cached(id)
	}
	if err := h.write(ctx, g, InputCommand, cmd); err != nil {
		return 0, err
	}
	if h.mode == InputRead {
		data, err := g.Read(ctx, IOService, InputValues)
		if err != nil {
			return 0, fmt.Errorf("kaka: read input values: %w", err)
		}
		rid, value, err := ParseInputValue(data)
		if err != nil {
			return 0, err
		}
		if rid == id {
			h.reg.SetValue(id, value)
			return DecodeValue(value)
		}
		h.reg.SetValue(rid, value)
	}
	return h.cached(id)
}

func (h *Hub) cached(id uint8) (int, error) {
	v, ok := h.reg.Value(id)
	if !ok {
		return 0, ErrNoValue
	}
	return DecodeValue(v)
}

func (h *Hub) SetDigitalOutput(ctx context.Context, pin uint8, on bool) error {
	var v uint8
	if on {
		v = 1
	}
	return h.output(ctx, Digital, ActionDigitalOutput, []uint8{pin}, []uint8{v})
}

// SetPWMOutput sets the duty cycle, 0..PWMMax.
func (h *Hub) SetPWMOutput(ctx context.Context, pin uint8, value int) error {
	v := clampInt(value, 0, PWMMax)
	return h.output(ctx, PWM, ActionPWMPulseWidthPercent, []uint8{pin}, []uint8{uint8(v)})
}

func (h *Hub) BuzzerPlayTone(ctx context.Context, tone int) error {
	return h.output(ctx, Buzzer, ActionBuzzerPlayTone, nil, u16(tone))
}

// BuzzerPlayToneFor plays tone for duration milliseconds.
func (h *Hub) BuzzerPlayToneFor(ctx context.Context, tone, duration int) error {
	return h.output(ctx, Buzzer, ActionBuzzerPlayToneFor, nil, append(u16(tone), u16(duration)...))
}

func (h *Hub) BuzzerStop(ctx context.Context) error {
	return h.output(ctx, Buzzer, ActionBuzzerStop, nil, nil)
}

func (h *Hub) SegmentDisplayShow(ctx context.Context, dio, clk uint8, text string) error {
	return h.output(ctx, SegmentDisplay, ActionSegmentDisplayShowValue, []uint8{dio, clk}, []uint8(text))
}

func (h *Hub) SegmentDisplayClear(ctx context.Context, dio, clk uint8) error {
	return h.output(ctx, SegmentDisplay, ActionSegmentDisplayClear, []uint8{dio, clk}, nil)
}

func (h *Hub) SetMotorStatus(ctx context.Context, pin uint8, state uint8) error {
	return h.output(ctx, Motor, ActionMotorSetStatus, []uint8{pin}, []uint8{state})
}

// SetServoAngle clamps angle to 0..ServoMaxAngle.
func (h *Hub) SetServoAngle(ctx context.Context, pin uint8, angle int) error {
	a := clampInt(angle, 0, ServoMaxAngle)
	return h.output(ctx, Servo, ActionServoSetAngle, []uint8{pin}, []uint8{uint8(a)})
}

// SetLTMotorValue drives a two-pin motor at -100..100, sent as a signed byte.
func (h *Hub) SetLTMotorValue(ctx context.Context, pinA, pinB uint8, value int) error {
	v := int8(clampInt(value, -LTMotorMax, LTMotorMax))
	return h.output(ctx, LTMotor, ActionLTMotorSetValue, []uint8{pinA, pinB}, []uint8{uint8(v)})
}

// ChangeDeviceName renames the hub's BLE advertisement.
func (h *Hub) ChangeDeviceName(ctx context.Context, name string) error {
	g, err := h.link()
	if err != nil {
		return err
	}
	if err := g.Write(ctx, DeviceService, AttachedIO, ChangeNameCommand(name)); err != nil {
		return fmt.Errorf("kaka: change name: %w", err)
	}
	return nil
}

func (h *Hub) DigitalInput(ctx context.Context, pin uint8) (int, error) {
	return h.input(ctx, Digital, ActionDigitalInput, []uint8{pin})
}

// AnalogInput returns a 0..AnalogMax reading.
func (h *Hub) AnalogInput(ctx context.Context, pin uint8) (int, error) {
	return h.input(ctx, Analog, ActionAnalogInput, []uint8{pin})
}

func (h *Hub) SoundLevel(ctx context.Context) (int, error) {
	v, err := h.input(ctx, Sound, ActionGetSoundLevel, nil)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.soundLevel = v
	h.mu.Unlock()
	return v, nil
}

// LastSoundLevel is the most recent SoundLevel result.
func (h *Hub) LastSoundLevel() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.soundLevel
}

func (h *Hub) UltrasonicDistance(ctx context.Context, trig, echo uint8) (int, error) {
	return h.input(ctx, Ultrasonic, ActionUltrasonicGetDistance, []uint8{trig, echo})
}

// ColorSensorColor returns the detected color name.
func (h *Hub) ColorSensorColor(ctx context.Context, sda, scl uint8) (string, error) {
	v, err := h.input(ctx, ColorSensor, ActionColorSensorGetColor, []uint8{sda, scl})
	if err != nil {
		return "", err
	}
	return ColorName(v), nil
}

// ButtonEvent reads the button on pin and classifies the edge: a low read
// is a press, a high read after a high read is a release, and a high read
// after a low one is a click.
func (h *Hub) ButtonEvent(ctx context.Context, pin uint8) (ButtonEvent, error) {
	v, err := h.DigitalInput(ctx, pin)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := h.buttonEvents[pin]
	switch v {
	case 0:
		ev = ButtonPressed
	case 1:
		if last, ok := h.lastButton[pin]; ok && last == 1 {
			ev = ButtonReleased
		} else {
			ev = ButtonClicked
		}
	}
	h.lastButton[pin] = v
	h.buttonEvents[pin] = ev
	return ev, nil
}

// LastButtonEvent is the most recent ButtonEvent result for pin.
func (h *Hub) LastButtonEvent(pin uint8) (ButtonEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.buttonEvents[pin]
	return ev, ok
}

// StopAll silences every registered actuator, then resets the session. Stop
// commands bypass the limiter so none are lost.
func (h *Hub) StopAll(ctx context.Context) error {
	g, err := h.link()
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range h.reg.Entries() {
		var (
			cmd []byte
			err error
		)
		switch e.Type {
		case Motor:
			cmd, err = GenerateOutputCommand(Motor, e.ID, ActionMotorSetStatus, e.Pins, []uint8{0})
		case Buzzer:
			cmd, err = GenerateOutputCommand(Buzzer, e.ID, ActionBuzzerStop, e.Pins, nil)
		case LTMotor:
			cmd, err = GenerateOutputCommand(LTMotor, e.ID, ActionLTMotorSetValue, e.Pins, []uint8{0})
		case SegmentDisplay:
			cmd, err = GenerateOutputCommand(SegmentDisplay, e.ID, ActionSegmentDisplayClear, e.Pins, nil)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		if err := h.write(ctx, g, OutputCommand, cmd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	h.Reset()
	return errors.Join(errs...)
}

// Reset clears the registry, limiter window and button history.
func (h *Hub) Reset() {
	h.reg.Reset()
	h.limiter.Reset()
	h.mu.Lock()
	h.resetButtons()
	h.soundLevel = 0
	h.mu.Unlock()
}

func (h *Hub) resetButtons() {
	h.lastButton = map[uint8]int{0: 1, 5: 1}
	h.buttonEvents = make(map[uint8]ButtonEvent)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
