package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	models "github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/vehicle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParametersDefaults(t *testing.T) {
	p, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, models.DEFAULTFAMILY, p.VEHICLE.FAMILY)
	assert.Equal(t, 80, p.VEHICLE.SPEED)
	assert.Equal(t, 30102, p.WEBSOCKET.PORT)
	assert.Equal(t, 100, p.WEBSOCKET.SEND_INTERVAL_MS)
	assert.Equal(t, 20, p.KAKA.RATE_LIMIT)
	assert.Equal(t, "notify", p.KAKA.INPUT_MODE)
	assert.Equal(t, models.DEFAULTADDR, p.SERVER.ADDR)
	assert.Equal(t, models.DEFAULTRETENTIONH, p.SERVER.RETENTION_H)
}

func TestLoadParametersFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "VEHICLE": {"FAMILY": "zeuscar", "SPEED": 55, "COLOR": "#00ff00"},
  "WEBSOCKET": {"HOST": "192.168.4.1", "SEND_INTERVAL_MS": 50},
  "KAKA": {"RATE_LIMIT": 5, "INPUT_MODE": "read"},
  "DEBUG": true
}`), 0644))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "zeuscar", p.VEHICLE.FAMILY)
	assert.Equal(t, 55, p.VEHICLE.SPEED)
	assert.Equal(t, 80, p.VEHICLE.BRIGHTNESS)
	assert.Equal(t, "#00ff00", p.VEHICLE.COLOR)
	assert.Equal(t, "192.168.4.1", p.WEBSOCKET.HOST)
	assert.Equal(t, 50, p.WEBSOCKET.SEND_INTERVAL_MS)
	assert.Equal(t, 5, p.KAKA.RATE_LIMIT)
	assert.Equal(t, "read", p.KAKA.INPUT_MODE)
	assert.True(t, p.DEBUG)
}

func TestLoadParametersEnvOverride(t *testing.T) {
	t.Setenv("ROVERLINK_VEHICLE_SPEED", "42")
	t.Setenv("ROVERLINK_SERVER_ADDR", ":9999")
	t.Setenv("ROVERLINK_SERVER_RETENTION_H", "24")
	p, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, 42, p.VEHICLE.SPEED)
	assert.Equal(t, ":9999", p.SERVER.ADDR)
	assert.Equal(t, 24, p.SERVER.RETENTION_H)
}

func TestLoadParametersRejects(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"family":  `{"VEHICLE": {"FAMILY": "tank"}}`,
		"speed":   `{"VEHICLE": {"SPEED": 150}}`,
		"battery": `{"VEHICLE": {"BATTERY": "volts"}}`,
		"color":   `{"VEHICLE": {"COLOR": "#zzz"}}`,
		"mode":    `{"KAKA": {"INPUT_MODE": "poll"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadParameters(path)
			assert.ErrorIs(t, err, models.ErrInvalid)
		})
	}

	_, err := LoadParameters(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPersistParametersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	p, err := LoadParameters("")
	require.NoError(t, err)
	p.SERIAL.PORT = "/dev/ttyUSB0"
	p.VEHICLE.FAMILY = "zeuscar"

	require.NoError(t, PersistParameters(path, p))
	back, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", back.SERIAL.PORT)
	assert.Equal(t, "zeuscar", back.VEHICLE.FAMILY)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, PersistParameters(path, nil))
}

func TestAppendTelemetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.csv")
	dist := uint16(150)
	batt := uint8(120)
	rs := &vehicle.ReceiveState{
		Distance:   &dist,
		IRObstacle: &vehicle.IRObstacle{Left: 1, Right: 0},
		BatteryRaw: &batt,
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, AppendTelemetry(path, rs, vehicle.BatteryCentiOffset6))
	require.NoError(t, AppendTelemetry(path, rs, vehicle.BatteryCentiOffset6))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, TelemetryHeader, lines[0])
	assert.Equal(t, "2026-01-02T03:04:05Z,150,1,0,7.20,,,,", lines[1])
	assert.Equal(t, "", TelemetryRow(nil, vehicle.BatteryRaw))
}
