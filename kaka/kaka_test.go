package kaka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/ratelimit"
)

type write struct {
	service, char string
	data          []byte
}

type fakeGATT struct {
	mu       sync.Mutex
	writes   []write
	subs     map[string]func([]byte)
	readResp []byte
	writeErr error
	// onWrite lets a test answer an input command like the firmware would.
	onWrite func(g *fakeGATT, w write)
}

func newFakeGATT() *fakeGATT {
	return &fakeGATT{subs: make(map[string]func([]byte))}
}

func (g *fakeGATT) Write(_ context.Context, service, char string, data []byte) error {
	w := write{service, char, append([]byte(nil), data...)}
	g.mu.Lock()
	g.writes = append(g.writes, w)
	err := g.writeErr
	hook := g.onWrite
	g.mu.Unlock()
	if hook != nil {
		hook(g, w)
	}
	return err
}

func (g *fakeGATT) Read(_ context.Context, _, _ string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readResp, nil
}

func (g *fakeGATT) Subscribe(_, char string, fn func([]byte)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[char] = fn
	return nil
}

func (g *fakeGATT) notify(char string, data []byte) {
	g.mu.Lock()
	fn := g.subs[char]
	g.mu.Unlock()
	fn(data)
}

func (g *fakeGATT) all() []write {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]write(nil), g.writes...)
}

func connected(t *testing.T, opts ...HubOption) (*Hub, *fakeGATT) {
	t.Helper()
	g := newFakeGATT()
	h := NewHub(opts...)
	require.NoError(t, h.Connect(g))
	return h, g
}

func register(t *testing.T, r *Registry, dt DeviceType, pins ...uint8) uint8 {
	t.Helper()
	id, err := r.Register(dt, pins)
	require.NoError(t, err)
	return id
}

func TestRegistryDedup(t *testing.T) {
	r := NewRegistry()
	a := register(t, r, Motor, 32, 33)
	b := register(t, r, Motor, 32, 33)
	c := register(t, r, Motor, 25, 26)
	d := register(t, r, Motor, 33, 32)
	e := register(t, r, Servo, 32, 33)

	assert.Equal(t, uint8(0), a)
	assert.Equal(t, a, b)
	assert.Equal(t, uint8(1), c)
	assert.Equal(t, uint8(2), d, "pin order is part of the key")
	assert.Equal(t, uint8(3), e)
	assert.Equal(t, 4, r.Len())

	entry, ok := r.Get(a)
	require.True(t, ok)
	assert.Equal(t, "device1_32,33", entry.Name)
	assert.Nil(t, entry.Value)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Equal(t, uint8(0), register(t, r, Servo, 4))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	a := register(t, r, Motor, 1, 2)
	b := register(t, r, Motor, 12)
	assert.NotEqual(t, a, b)
	id, ok := r.Lookup(Motor, []uint8{12})
	require.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = r.Lookup(Servo, []uint8{12})
	assert.False(t, ok)
}

func TestRegistryFull(t *testing.T) {
	r := NewRegistry()
	first := register(t, r, Motor, 0)
	for pin := 0; pin < 255; pin++ {
		register(t, r, Servo, uint8(pin))
	}
	assert.Equal(t, 256, r.Len())

	_, err := r.Register(LTMotor, []uint8{7})
	require.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 256, r.Len())

	entry, ok := r.Get(first)
	require.True(t, ok)
	assert.Equal(t, Motor, entry.Type, "id 0 still belongs to the first device")
	id, ok := r.Lookup(Motor, []uint8{0})
	require.True(t, ok)
	assert.Equal(t, first, id)

	// known devices keep resolving when full
	again, err := r.Register(Servo, []uint8{9})
	require.NoError(t, err)
	assert.Equal(t, uint8(10), again)

	r.Reset()
	_, err = r.Register(LTMotor, []uint8{7})
	assert.NoError(t, err)
}

func TestRegistryValues(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, Analog, 34)
	_, ok := r.Value(id)
	assert.False(t, ok)

	assert.True(t, r.SetValue(id, []byte{0x01, 0x02}))
	assert.False(t, r.SetValue(99, []byte{1}))
	v, ok := r.Value(id)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, v)

	r.ClearValue(id)
	_, ok = r.Value(id)
	assert.False(t, ok)

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Analog, entries[0].Type)
}

func TestGenerateCommands(t *testing.T) {
	out, err := GenerateOutputCommand(Motor, 2, ActionMotorSetStatus, []uint8{32, 33}, []uint8{1})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 13, 2, 32, 33, 1, 1}, out)

	out, err = GenerateOutputCommand(Buzzer, 0, ActionBuzzerStop, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 7, 0, 0}, out)

	in, err := GenerateInputCommand(Ultrasonic, 5, ActionUltrasonicGetDistance, []uint8{12, 13})
	require.NoError(t, err)
	assert.Equal(t, []byte{12, 5, 9, 2, 12, 13}, in)

	assert.Equal(t, []byte{0x01, 3, 'b', 'o', 't'}, ChangeNameCommand("bot"))
}

func TestGenerateCommandsRejectLongLists(t *testing.T) {
	long := make([]uint8, 256)
	_, err := GenerateOutputCommand(SegmentDisplay, 0, ActionSegmentDisplayShowValue, []uint8{1, 2}, long)
	assert.ErrorIs(t, err, ErrTooLong)
	_, err = GenerateOutputCommand(Digital, 0, ActionDigitalOutput, long, []uint8{1})
	assert.ErrorIs(t, err, ErrTooLong)
	_, err = GenerateInputCommand(Digital, 0, ActionDigitalInput, long)
	assert.ErrorIs(t, err, ErrTooLong)

	out, err := GenerateOutputCommand(SegmentDisplay, 0, ActionSegmentDisplayShowValue, []uint8{1, 2}, long[:255])
	require.NoError(t, err)
	assert.Len(t, out, 6+2+255)
}

func TestHubRejectsLongSegmentText(t *testing.T) {
	h, g := connected(t, WithLimiter(nil))
	err := h.SegmentDisplayShow(context.Background(), 1, 2, strings.Repeat("8", 300))
	assert.ErrorIs(t, err, ErrTooLong)
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.writes)
}

func TestParseAndDecodeValue(t *testing.T) {
	id, v, err := ParseInputValue([]byte{4, 2, 0x03, 0xFF, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, uint8(4), id)
	n, err := DecodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, 1023, n)

	n, err = DecodeValue([]byte{7})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = DecodeValue([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadValue)
	_, _, err = ParseInputValue([]byte{1, 3, 0})
	assert.ErrorIs(t, err, ErrBadValue)
}

func TestHubNotConnected(t *testing.T) {
	h := NewHub()
	assert.ErrorIs(t, h.SetDigitalOutput(context.Background(), 1, true), ErrNotConnected)
	_, err := h.AnalogInput(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, h.StopAll(context.Background()), ErrNotConnected)
}

func TestHubOutputs(t *testing.T) {
	h, g := connected(t, WithLimiter(nil))
	ctx := context.Background()

	require.NoError(t, h.SetPWMOutput(ctx, 5, 999))
	require.NoError(t, h.SetServoAngle(ctx, 6, -20))
	require.NoError(t, h.SetLTMotorValue(ctx, 7, 8, -150))
	require.NoError(t, h.BuzzerPlayToneFor(ctx, 0x0106, 500))
	require.NoError(t, h.SegmentDisplayShow(ctx, 9, 10, "12"))
	require.NoError(t, h.ChangeDeviceName(ctx, "k"))

	w := g.all()
	require.Len(t, w, 6)
	assert.Equal(t, write{IOService, OutputCommand, []byte{15, 0, 3, 1, 5, 1, 255}}, w[0])
	assert.Equal(t, []byte{5, 1, 14, 1, 6, 1, 0}, w[1].data)
	assert.Equal(t, []byte{16, 2, 15, 2, 7, 8, 1, 0x9C}, w[2].data)
	assert.Equal(t, []byte{3, 3, 8, 0, 4, 0x01, 0x06, 0x01, 0xF4}, w[3].data)
	assert.Equal(t, []byte{8, 4, 10, 2, 9, 10, 2, '1', '2'}, w[4].data)
	assert.Equal(t, write{DeviceService, AttachedIO, []byte{1, 1, 'k'}}, w[5])
}

func TestHubOutputDroppedByLimiter(t *testing.T) {
	clk := time.Unix(0, 0)
	lim := ratelimit.New(2, time.Second, ratelimit.WithClock(func() time.Time { return clk }))
	h, g := connected(t, WithLimiter(lim))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.SetDigitalOutput(ctx, 2, i%2 == 0))
	}
	assert.Len(t, g.all(), 2)
}

func TestHubInputNotifyMode(t *testing.T) {
	h, g := connected(t, WithLimiter(nil))
	ctx := context.Background()

	_, err := h.AnalogInput(ctx, 34)
	assert.ErrorIs(t, err, ErrNoValue)
	w := g.all()
	require.Len(t, w, 1)
	assert.Equal(t, write{IOService, InputCommand, []byte{14, 0, 5, 1, 34}}, w[0])

	g.notify(InputValues, []byte{0, 2, 0x02, 0x00})
	v, err := h.AnalogInput(ctx, 34)
	require.NoError(t, err)
	assert.Equal(t, 512, v)

	// notifications for unknown ids are ignored
	g.notify(InputValues, []byte{9, 1, 1})
	g.notify(InputValues, []byte{0})
}

func TestHubInputFallsBackToCacheWhenLimited(t *testing.T) {
	clk := time.Unix(0, 0)
	lim := ratelimit.New(1, time.Second, ratelimit.WithClock(func() time.Time { return clk }))
	h, g := connected(t, WithLimiter(lim))
	ctx := context.Background()

	g.onWrite = func(g *fakeGATT, w write) {
		if w.char == InputCommand {
			go g.notify(InputValues, []byte{w.data[1], 1, 42})
		}
	}
	_, _ = h.UltrasonicDistance(ctx, 12, 13)
	require.Eventually(t, func() bool {
		_, ok := h.Registry().Value(0)
		return ok
	}, time.Second, time.Millisecond)

	v, err := h.UltrasonicDistance(ctx, 12, 13)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Len(t, g.all(), 1, "second poll must not be sent")
}

func TestHubInputReadMode(t *testing.T) {
	h, g := connected(t, WithLimiter(nil), WithInputMode(InputRead))
	ctx := context.Background()
	g.readResp = []byte{0, 1, 3}

	name, err := h.ColorSensorColor(ctx, 21, 22)
	require.NoError(t, err)
	assert.Equal(t, "green", name)

	g.readResp = []byte{7, 1, 1}
	_, err = h.SoundLevel(ctx)
	assert.ErrorIs(t, err, ErrNoValue, "reply for another id is not ours")
}

func TestButtonEvents(t *testing.T) {
	h, g := connected(t, WithLimiter(nil), WithInputMode(InputRead))
	ctx := context.Background()

	read := func(pin uint8, value byte) ButtonEvent {
		t.Helper()
		id := register(t, h.Registry(), Digital, pin)
		g.readResp = []byte{id, 1, value}
		ev, err := h.ButtonEvent(ctx, pin)
		require.NoError(t, err)
		return ev
	}

	assert.Equal(t, ButtonReleased, read(0, 1))
	assert.Equal(t, ButtonPressed, read(0, 0))
	assert.Equal(t, ButtonClicked, read(0, 1))
	assert.Equal(t, ButtonReleased, read(0, 1))

	ev, ok := h.LastButtonEvent(0)
	require.True(t, ok)
	assert.Equal(t, ButtonReleased, ev)

	assert.Equal(t, ButtonReleased, read(5, 1))
	assert.Equal(t, ButtonClicked, read(3, 1), "pins without history start pressed")
}

func TestStopAll(t *testing.T) {
	h, g := connected(t, WithLimiter(nil))
	ctx := context.Background()

	require.NoError(t, h.SetMotorStatus(ctx, 32, 1))
	require.NoError(t, h.BuzzerPlayTone(ctx, 440))
	require.NoError(t, h.SetLTMotorValue(ctx, 25, 26, 50))
	require.NoError(t, h.SegmentDisplayShow(ctx, 1, 2, "8"))
	require.NoError(t, h.SetServoAngle(ctx, 4, 90))

	before := len(g.all())
	require.NoError(t, h.StopAll(ctx))
	stops := g.all()[before:]
	require.Len(t, stops, 4)
	assert.Equal(t, []byte{1, 0, 13, 1, 32, 1, 0}, stops[0].data)
	assert.Equal(t, []byte{3, 1, 7, 0, 0}, stops[1].data)
	assert.Equal(t, []byte{16, 2, 15, 2, 25, 26, 1, 0}, stops[2].data)
	assert.Equal(t, []byte{8, 3, 11, 2, 1, 2, 0}, stops[3].data)
	assert.Zero(t, h.Registry().Len())
}

func TestStopAllReportsWriteErrors(t *testing.T) {
	h, g := connected(t, WithLimiter(nil))
	require.NoError(t, h.SetMotorStatus(context.Background(), 1, 1))
	g.writeErr = errors.New("gatt busy")
	err := h.StopAll(context.Background())
	assert.Error(t, err)
}

func TestLowVoltageAlert(t *testing.T) {
	h, g := connected(t)
	assert.False(t, h.LowVoltage())
	g.notify(LowVoltageAlert, []byte{1})
	assert.True(t, h.LowVoltage())
}

func TestDisconnectResets(t *testing.T) {
	h, _ := connected(t, WithLimiter(nil))
	require.NoError(t, h.SetMotorStatus(context.Background(), 1, 1))
	h.Disconnect()
	assert.False(t, h.IsConnected())
	assert.Zero(t, h.Registry().Len())
}

func TestParseInputMode(t *testing.T) {
	m, err := ParseInputMode("READ")
	require.NoError(t, err)
	assert.Equal(t, InputRead, m)

	m, err = ParseInputMode("")
	require.NoError(t, err)
	assert.Equal(t, InputNotify, m)

	_, err = ParseInputMode("poll")
	assert.Error(t, err)
}

func TestNewHubFromParams(t *testing.T) {
	h, err := NewHubFromParams(&models.KAKA{RATE_LIMIT: 1, INPUT_MODE: "read"}, nil)
	require.NoError(t, err)
	assert.Equal(t, InputRead, h.InputMode())

	g := newFakeGATT()
	require.NoError(t, h.Connect(g))
	ctx := context.Background()
	require.NoError(t, h.SetDigitalOutput(ctx, 2, true))
	require.NoError(t, h.SetDigitalOutput(ctx, 2, false))
	g.mu.Lock()
	assert.Len(t, g.writes, 1, "RATE_LIMIT 1 drops the second output")
	g.mu.Unlock()

	h, err = NewHubFromParams(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, InputNotify, h.InputMode())

	_, err = NewHubFromParams(&models.KAKA{INPUT_MODE: "poll"}, nil)
	assert.Error(t, err)
}
