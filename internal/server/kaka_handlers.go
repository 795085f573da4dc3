package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/CK6170/roverlink/kaka"
)

// KakaCentral opens a GATT link to the named hub. The host's BLE stack
// supplies it; without one the /api/kaka routes answer 503.
type KakaCentral func(ctx context.Context, name string) (kaka.GATT, error)

// WithKakaCentral enables the Kaka hub routes.
func WithKakaCentral(c KakaCentral) Option {
	return func(s *Server) { s.kakaCentral = c }
}

var errKakaRequest = errors.New("bad kaka request")

func (s *Server) kakaStatus(err error) int {
	switch {
	case errors.Is(err, errKakaRequest), errors.Is(err, kaka.ErrTooLong),
		errors.Is(err, kaka.ErrRegistryFull), errors.Is(err, kaka.ErrNotConnected):
		return 400
	case errors.Is(err, kaka.ErrNoValue):
		return 404
	}
	return 502
}

// kakaReady answers 503 itself when no BLE central is configured.
func (s *Server) kakaReady(w http.ResponseWriter) bool {
	if s.kakaCentral == nil {
		s.writeJSON(w, 503, APIError{Error: "no BLE central configured"})
		return false
	}
	return true
}

func (s *Server) kakaState() KakaStateResponse {
	out := KakaStateResponse{
		Connected:  s.kaka.IsConnected(),
		LowVoltage: s.kaka.LowVoltage(),
		InputMode:  s.kaka.InputMode().String(),
		Devices:    []KakaDevice{},
	}
	for _, e := range s.kaka.Registry().Entries() {
		d := KakaDevice{ID: int(e.ID), Type: e.Type.String(), Name: e.Name, Pins: make([]int, len(e.Pins))}
		for i, p := range e.Pins {
			d.Pins[i] = int(p)
		}
		if v, err := kaka.DecodeValue(e.Value); err == nil {
			d.Value = &v
		}
		out.Devices = append(out.Devices, d)
	}
	return out
}

func (s *Server) handleKakaConnect(w http.ResponseWriter, r *http.Request) {
	var req KakaConnectRequest
	if !s.decode(w, r, &req) || !s.kakaReady(w) {
		return
	}
	s.kakaMu.Lock()
	defer s.kakaMu.Unlock()
	if s.kaka.IsConnected() {
		s.kaka.Disconnect()
	}
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()
	g, err := s.kakaCentral(ctx, strings.TrimSpace(req.Name))
	if err == nil {
		err = s.kaka.Connect(g)
	}
	if err != nil {
		s.log.Warn("server: kaka connect", zap.String("name", req.Name), zap.Error(err))
		s.writeJSON(w, 502, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.kakaState())
}

func (s *Server) handleKakaDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.kakaMu.Lock()
	err := s.disconnectKakaLocked(r.Context())
	s.kakaMu.Unlock()
	if err != nil {
		s.log.Warn("server: kaka disconnect", zap.Error(err))
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// disconnectKakaLocked silences the hub's actuators before dropping it.
func (s *Server) disconnectKakaLocked(ctx context.Context) error {
	if !s.kaka.IsConnected() {
		return nil
	}
	err := s.kaka.StopAll(ctx)
	s.kaka.Disconnect()
	return err
}

func (s *Server) handleKakaState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, s.kakaState())
}

func (s *Server) handleKakaOutput(w http.ResponseWriter, r *http.Request) {
	var req KakaOutputRequest
	if !s.decode(w, r, &req) || !s.kakaReady(w) {
		return
	}
	if err := s.kakaOutput(r.Context(), req); err != nil {
		s.writeJSON(w, s.kakaStatus(err), APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.kakaState())
}

func (s *Server) kakaOutput(ctx context.Context, req KakaOutputRequest) error {
	dev := strings.ToLower(strings.TrimSpace(req.Device))
	want := 1
	switch dev {
	case "buzzer":
		want = 0
	case "ltmotor", "segment":
		want = 2
	}
	pins, err := kakaPins(req.Pins, want)
	if err != nil {
		return err
	}
	h := s.kaka
	switch dev {
	case "digital":
		return h.SetDigitalOutput(ctx, pins[0], req.Value != 0)
	case "pwm":
		return h.SetPWMOutput(ctx, pins[0], req.Value)
	case "servo":
		return h.SetServoAngle(ctx, pins[0], req.Value)
	case "motor":
		if req.Value < 0 || req.Value > 0xFF {
			return fmt.Errorf("%w: motor status %d", errKakaRequest, req.Value)
		}
		return h.SetMotorStatus(ctx, pins[0], uint8(req.Value))
	case "ltmotor":
		return h.SetLTMotorValue(ctx, pins[0], pins[1], req.Value)
	case "buzzer":
		switch {
		case req.Tone > 0 && req.Duration > 0:
			return h.BuzzerPlayToneFor(ctx, req.Tone, req.Duration)
		case req.Tone > 0:
			return h.BuzzerPlayTone(ctx, req.Tone)
		}
		return h.BuzzerStop(ctx)
	case "segment":
		if req.Text == "" {
			return h.SegmentDisplayClear(ctx, pins[0], pins[1])
		}
		return h.SegmentDisplayShow(ctx, pins[0], pins[1], req.Text)
	}
	return fmt.Errorf("%w: unknown output device %q", errKakaRequest, req.Device)
}

func (s *Server) handleKakaInput(w http.ResponseWriter, r *http.Request) {
	var req KakaInputRequest
	if !s.decode(w, r, &req) || !s.kakaReady(w) {
		return
	}
	out, err := s.kakaInput(r.Context(), req)
	if err != nil {
		s.writeJSON(w, s.kakaStatus(err), APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, out)
}

func (s *Server) kakaInput(ctx context.Context, req KakaInputRequest) (KakaInputResponse, error) {
	dev := strings.ToLower(strings.TrimSpace(req.Device))
	out := KakaInputResponse{Device: dev}
	want := 1
	switch dev {
	case "sound":
		want = 0
	case "ultrasonic", "color":
		want = 2
	}
	pins, err := kakaPins(req.Pins, want)
	if err != nil {
		return out, err
	}
	h := s.kaka
	switch dev {
	case "digital":
		out.Value, err = h.DigitalInput(ctx, pins[0])
	case "analog":
		out.Value, err = h.AnalogInput(ctx, pins[0])
	case "sound":
		out.Value, err = h.SoundLevel(ctx)
	case "ultrasonic":
		out.Value, err = h.UltrasonicDistance(ctx, pins[0], pins[1])
	case "color":
		out.Color, err = h.ColorSensorColor(ctx, pins[0], pins[1])
	case "button":
		var ev kaka.ButtonEvent
		ev, err = h.ButtonEvent(ctx, pins[0])
		out.Value, out.Event = int(ev), ev.String()
	default:
		err = fmt.Errorf("%w: unknown input device %q", errKakaRequest, req.Device)
	}
	return out, err
}

func (s *Server) handleKakaStopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !s.kakaReady(w) {
		return
	}
	if err := s.kaka.StopAll(r.Context()); err != nil {
		s.writeJSON(w, s.kakaStatus(err), APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.kakaState())
}

func (s *Server) handleKakaRename(w http.ResponseWriter, r *http.Request) {
	var req KakaRenameRequest
	if !s.decode(w, r, &req) || !s.kakaReady(w) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeJSON(w, 400, APIError{Error: "name is required"})
		return
	}
	if err := s.kaka.ChangeDeviceName(r.Context(), req.Name); err != nil {
		s.writeJSON(w, s.kakaStatus(err), APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// kakaPins checks count and range and narrows to bytes.
func kakaPins(in []int, want int) ([]uint8, error) {
	if len(in) != want {
		return nil, fmt.Errorf("%w: want %d pins, got %d", errKakaRequest, want, len(in))
	}
	out := make([]uint8, len(in))
	for i, p := range in {
		if p < 0 || p > 0xFF {
			return nil, fmt.Errorf("%w: pin %d", errKakaRequest, p)
		}
		out[i] = uint8(p)
	}
	return out, nil
}
