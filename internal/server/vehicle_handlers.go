package server

import (
	"errors"
	"net/http"

	"github.com/CK6170/roverlink/transport"
	"github.com/CK6170/roverlink/vehicle"
)

var errNotWebSocket = errors.New("device fields need a WebSocket link")

// control runs fn against the connected car and answers with the new state.
// Bad input is a 400; a failed transmit is a 502.
func (s *Server) control(w http.ResponseWriter, fn func(v *vehicle.Vehicle) error) {
	veh, link := s.dev.current()
	if veh == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	if err := fn(veh); err != nil {
		status := 502
		if errors.Is(err, vehicle.ErrInvalidColor) || errors.Is(err, errNotWebSocket) {
			status = 400
		}
		s.writeJSON(w, status, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.vehicleState(veh, link))
}

// decode reads a POST body into v, answering 404/400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return false
	}
	if err := s.readJSON(r, v); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return false
	}
	return true
}

func (s *Server) vehicleState(veh *vehicle.Vehicle, link transport.Link) VehicleStateResponse {
	out := VehicleStateResponse{
		Family:     veh.Family().String(),
		Speed:      veh.Speed(),
		Brightness: veh.Brightness(),
		Color:      veh.Color().Hex(),
		Servo:      veh.ServoAngle(),
		Command:    veh.SendState(),
		Telemetry:  veh.Telemetry(),
	}
	if link != nil {
		out.Link = link.State().String()
	}
	if v, ok := veh.BatteryVolts(); ok {
		out.BatteryVolts = &v
	}
	return out
}

func (s *Server) handleVehicleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.control(w, func(*vehicle.Vehicle) error { return nil })
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	dir, err := vehicle.ParseDirection(req.Direction)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error {
		if req.Speed > 0 {
			return v.Move(dir, req.Speed)
		}
		return v.Move(dir)
	})
}

func (s *Server) handleWheels(w http.ResponseWriter, r *http.Request) {
	var req WheelsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.SetWheelSpeeds(req.Left, req.Right) })
}

func (s *Server) handleDrive(w http.ResponseWriter, r *http.Request) {
	var req DriveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.Drive(req.Angle, req.Speed, req.Rotation) })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.StopMotor() })
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.StopAll() })
}

func (s *Server) handleServo(w http.ResponseWriter, r *http.Request) {
	var req ServoRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error {
		if req.Relative {
			return v.AddServoAngle(req.Angle)
		}
		return v.SetServoAngle(req.Angle)
	})
}

func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	var req ColorRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error {
		switch {
		case req.Hex != "":
			return v.SetColorHex(req.Hex)
		case req.R != nil && req.G != nil && req.B != nil:
			return v.SetColorRGB(*req.R, *req.G, *req.B)
		}
		return vehicle.ErrInvalidColor
	})
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error {
		if req.Relative {
			return v.IncreaseBrightness(req.Value)
		}
		return v.SetBrightness(req.Value)
	})
}

func (s *Server) handleHeadlights(w http.ResponseWriter, r *http.Request) {
	var req HeadlightsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.SetHeadlights(req.On) })
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.Calibrate(req.Enable) })
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(v *vehicle.Vehicle) error { return v.SetSpeed(req.Value) })
}

// handleDeviceSet forwards a SET+ write (rename, station Wi-Fi) to the car.
func (s *Server) handleDeviceSet(w http.ResponseWriter, r *http.Request) {
	var req DeviceFieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.control(w, func(*vehicle.Vehicle) error {
		_, link := s.dev.current()
		ws, ok := link.(*transport.WebSocket)
		if !ok {
			return errNotWebSocket
		}
		return ws.SetDeviceField(req.Fields)
	})
}
