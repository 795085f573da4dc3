// Package file loads and persists configuration and appends telemetry logs
// to disk.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CK6170/roverlink/kaka"
	models "github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/vehicle"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ROVERLINK_VEHICLE_FAMILY.
const EnvPrefix = "ROVERLINK"

type PARAMETERS = models.PARAMETERS

// LoadParameters reads path (JSON, YAML or TOML by extension), layers
// ROVERLINK_* environment overrides on top, fills defaults and validates.
// An empty path loads defaults and environment only.
func LoadParameters(path string) (*PARAMETERS, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("file: read %s: %w", path, err)
		}
	}

	var p PARAMETERS
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("file: decode %s: %w", path, err)
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := vehicle.ParseFamily(p.VEHICLE.FAMILY); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	if _, err := vehicle.ParseBatteryConvention(p.VEHICLE.BATTERY); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	if _, err := kaka.ParseInputMode(p.KAKA.INPUT_MODE); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	if p.VEHICLE.COLOR != "" {
		if _, err := vehicle.ParseHexColor(p.VEHICLE.COLOR); err != nil {
			return nil, fmt.Errorf("%w: VEHICLE.COLOR: %v", models.ErrInvalid, err)
		}
	}
	return &p, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("vehicle.family", models.DEFAULTFAMILY)
	v.SetDefault("vehicle.speed", models.DEFAULTSPEED)
	v.SetDefault("vehicle.brightness", models.DEFAULTBRIGHTNESS)
	v.SetDefault("vehicle.battery", models.DEFAULTBATTERY)
	v.SetDefault("vehicle.color", "")
	v.SetDefault("websocket.host", "")
	v.SetDefault("websocket.port", models.DEFAULTWSPORT)
	v.SetDefault("websocket.send_interval_ms", models.DEFAULTSENDMS)
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baudrate", models.DEFAULTBAUDRATE)
	v.SetDefault("kaka.rate_limit", models.DEFAULTRATELIMIT)
	v.SetDefault("kaka.input_mode", models.DEFAULTINPUTMODE)
	v.SetDefault("server.addr", models.DEFAULTADDR)
	v.SetDefault("server.db", models.DEFAULTDB)
	v.SetDefault("server.retention_h", models.DEFAULTRETENTIONH)
	v.SetDefault("debug", false)
}

// PersistParameters overwrites the JSON file at path with parameters. The
// write goes to a temporary file first and is renamed into place.
func PersistParameters(path string, parameters *PARAMETERS) error {
	if parameters == nil {
		return errors.New("file: nil parameters")
	}
	data, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal parameters: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("file: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file: rename %s: %w", path, err)
	}
	return nil
}

// AppendToFile appends content + newline to file, creating it if it does not
// exist.
func AppendToFile(file, content string) error {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content + "\n"); err != nil {
		return fmt.Errorf("file: append %s: %w", file, err)
	}
	return nil
}

// TelemetryHeader is the first line of a telemetry CSV log.
const TelemetryHeader = "time,distance,ir_left,ir_right,battery_v,gray_angle,gray_offset,heading,angle"

// TelemetryRow renders one snapshot as a CSV line matching TelemetryHeader.
// Missing readings are left empty.
func TelemetryRow(rs *vehicle.ReceiveState, battery vehicle.BatteryConvention) string {
	if rs == nil {
		return ""
	}
	cols := make([]string, 9)
	cols[0] = rs.ReceivedAt.UTC().Format(time.RFC3339Nano)
	if rs.Distance != nil {
		cols[1] = strconv.Itoa(int(*rs.Distance))
	}
	if rs.IRObstacle != nil {
		cols[2] = strconv.Itoa(int(rs.IRObstacle.Left))
		cols[3] = strconv.Itoa(int(rs.IRObstacle.Right))
	}
	if rs.BatteryRaw != nil {
		cols[4] = strconv.FormatFloat(battery.Volts(*rs.BatteryRaw), 'f', 2, 64)
	}
	if rs.GrayscaleState != nil {
		cols[5] = rs.GrayscaleState.Angle
		cols[6] = rs.GrayscaleState.Offset
	}
	if rs.CarHeading != nil {
		cols[7] = strconv.Itoa(int(*rs.CarHeading))
	}
	if rs.CarAngle != nil {
		cols[8] = strconv.Itoa(int(*rs.CarAngle))
	}
	return strings.Join(cols, ",")
}

// AppendTelemetry writes the header when the log is new, then the row.
func AppendTelemetry(path string, rs *vehicle.ReceiveState, battery vehicle.BatteryConvention) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := AppendToFile(path, TelemetryHeader); err != nil {
			return err
		}
	}
	return AppendToFile(path, TelemetryRow(rs, battery))
}
