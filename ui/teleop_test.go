package ui

import (
	"sync"
	"testing"

	"github.com/CK6170/roverlink/frame"
	"github.com/CK6170/roverlink/vehicle"
	"github.com/eiannone/keyboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Send(b []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, b)
	r.mu.Unlock()
	return nil
}

func (r *recorder) last(t *testing.T) []byte {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.frames)
	p, _, err := frame.Unwrap(r.frames[len(r.frames)-1])
	require.NoError(t, err)
	return p
}

func TestKeyAction(t *testing.T) {
	cases := map[rune]Action{
		'w': ActionForward, 'S': ActionBackward, 'a': ActionLeft, 'd': ActionRight,
		' ': ActionStop, 'q': ActionServoDown, 'e': ActionServoUp, 'h': ActionHeadlights,
		'c': ActionCalibrate, '+': ActionBrighter, '-': ActionDimmer, KeyEsc: ActionQuit,
		'z': ActionNone,
	}
	for k, want := range cases {
		assert.Equal(t, want, KeyAction(k), "key %q", k)
	}
	assert.Equal(t, "servo +", ActionServoUp.String())
	assert.Equal(t, "none", ActionNone.String())
}

func TestTeleopApply(t *testing.T) {
	rec := &recorder{}
	v := vehicle.New(vehicle.GalaxyRVR, rec, vehicle.WithCalibrationPoll(0))
	tp := NewTeleop(v)

	require.NoError(t, tp.Apply(ActionForward))
	assert.Contains(t, string(rec.last(t)), string([]byte{0x01, vehicle.DefaultSpeed, vehicle.DefaultSpeed}))

	require.NoError(t, tp.Apply(ActionServoUp))
	require.NoError(t, tp.Apply(ActionServoUp))
	require.NoError(t, tp.Apply(ActionServoDown))
	assert.Equal(t, 10, v.ServoAngle())

	require.NoError(t, tp.Apply(ActionHeadlights))
	assert.Contains(t, string(rec.last(t)), string([]byte{0x04, 1}))
	require.NoError(t, tp.Apply(ActionHeadlights))
	assert.Contains(t, string(rec.last(t)), string([]byte{0x04, 0}))

	require.NoError(t, tp.Apply(ActionBrighter))
	assert.Equal(t, 90, v.Brightness())
	require.NoError(t, tp.Apply(ActionDimmer))
	require.NoError(t, tp.Apply(ActionDimmer))
	assert.Equal(t, 70, v.Brightness())

	require.NoError(t, tp.Apply(ActionStop))
	assert.Contains(t, string(rec.last(t)), string([]byte{0x01, 0, 0}))

	n := len(rec.frames)
	require.NoError(t, tp.Apply(ActionNone))
	require.NoError(t, tp.Apply(ActionQuit))
	assert.Len(t, rec.frames, n)
}

func TestTelemetryLine(t *testing.T) {
	assert.Equal(t, "[TEL] waiting for telemetry", TelemetryLine(nil, vehicle.BatteryRaw))

	dist := uint16(42)
	batt := uint8(120)
	rs := &vehicle.ReceiveState{
		Distance:   &dist,
		IRObstacle: &vehicle.IRObstacle{Left: 0, Right: 1},
		BatteryRaw: &batt,
	}
	assert.Equal(t, "[TEL] dist:  42cm ir:X. bat:7.20V", TelemetryLine(rs, vehicle.BatteryCentiOffset6))
}

func TestTranslateKey(t *testing.T) {
	cases := []struct {
		char rune
		key  keyboard.Key
		want rune
		ok   bool
	}{
		{'w', 0, 'w', true},
		{0, keyboard.KeySpace, ' ', true},
		{0, keyboard.KeyEsc, KeyEsc, true},
		{0, keyboard.KeyCtrlC, KeyEsc, true},
		{0, keyboard.KeyArrowUp, 'w', true},
		{0, keyboard.KeyArrowLeft, 'a', true},
		{0, keyboard.KeyF1, 0, false},
		{0, 0, 0, false},
	}
	for _, c := range cases {
		got, ok := translateKey(c.char, c.key)
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, c.want, got)
	}
}
