package ui

import (
	"fmt"

	"github.com/CK6170/roverlink/vehicle"
)

// PrintTelemetryLine redraws the live telemetry line in place.
func PrintTelemetryLine(rs *vehicle.ReceiveState, battery vehicle.BatteryConvention) {
	fmt.Print("\r\033[96m" + TelemetryLine(rs, battery) + "\033[K\033[0m")
}

// PrintActionLine shows the last command in place of the telemetry line
// until the next frame redraws it.
func PrintActionLine(a Action, err error) {
	if err != nil {
		fmt.Printf("\r\033[91m[CMD] %s: %v\033[K\033[0m", a, err)
		return
	}
	fmt.Printf("\r\033[92m[CMD] %s\033[K\033[0m", a)
}
