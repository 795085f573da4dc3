package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CK6170/roverlink/internal/store"
	"github.com/CK6170/roverlink/kaka"
	"github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/ratelimit"
	"github.com/CK6170/roverlink/transport"
	"github.com/CK6170/roverlink/vehicle"
)

const (
	connectTimeout  = 10 * time.Second
	discoverTimeout = 30 * time.Second
	defaultHistory  = 100
	maxHistory      = 10000
	pruneEvery      = time.Minute
)

type Server struct {
	mux    *http.ServeMux
	log    *zap.Logger
	params *models.PARAMETERS

	configs *ConfigStore
	links   *LinkCache
	dev     *DeviceSession

	wsTelemetry *WSHub

	kaka        *kaka.Hub
	kakaMu      sync.Mutex
	kakaCentral KakaCentral

	history     *store.Store
	recordLimit *ratelimit.Limiter
	retention   time.Duration
	pruneMu     sync.Mutex
	lastPrune   time.Time

	dial         Dialer
	discover     func(ctx context.Context, base string) (transport.DeviceInfo, error)
	listPorts    func() []string
	detectSerial func(preferred string, baud int) (string, []string)
	webDir       string
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWebDir serves static files from dir at "/".
func WithWebDir(dir string) Option {
	return func(s *Server) { s.webDir = dir }
}

// WithHistory records telemetry into st, at most perSecond rows a second.
// perSecond <= 0 records every snapshot.
func WithHistory(st *store.Store, perSecond int) Option {
	return func(s *Server) {
		s.history = st
		if perSecond > 0 {
			s.recordLimit = ratelimit.PerSecond(perSecond)
		}
	}
}

func WithLinkCache(lc *LinkCache) Option {
	return func(s *Server) { s.links = lc }
}

func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

func WithDiscoverer(fn func(ctx context.Context, base string) (transport.DeviceInfo, error)) Option {
	return func(s *Server) { s.discover = fn }
}

func WithPortLister(fn func() []string) Option {
	return func(s *Server) { s.listPorts = fn }
}

// New builds the HTTP surface around one car session. params must already
// carry defaults.
func New(params *models.PARAMETERS, opts ...Option) *Server {
	if params == nil {
		params = &models.PARAMETERS{}
		params.SetDefaults()
	}
	s := &Server{
		mux:          http.NewServeMux(),
		log:          zap.NewNop(),
		params:       params,
		configs:      NewConfigStore(),
		links:        NewLinkCache(""),
		dev:          &DeviceSession{},
		wsTelemetry:  NewWSHub(),
		dial:         DialLink,
		listPorts:    transport.ListPorts,
		detectSerial: transport.AutoDetectSerial,
	}
	for _, o := range opts {
		o(s)
	}
	if s.discover == nil {
		port := params.WEBSOCKET.PORT
		s.discover = func(ctx context.Context, base string) (transport.DeviceInfo, error) {
			return transport.Discover(ctx, base, transport.WithScanPort(port))
		}
	}
	if params.SERVER != nil && params.SERVER.RETENTION_H > 0 {
		s.retention = time.Duration(params.SERVER.RETENTION_H) * time.Hour
	}
	hub, err := kaka.NewHubFromParams(params.KAKA, s.log)
	if err != nil {
		s.log.Warn("server: kaka config, using defaults", zap.Error(err))
		hub = kaka.NewHub(kaka.WithHubLogger(s.log))
	}
	s.kaka = hub

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/ports", s.handlePorts)
	s.mux.HandleFunc("/api/discover", s.handleDiscover)
	s.mux.HandleFunc("/api/upload/config", s.handleUploadConfig)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/api/telemetry/history", s.handleTelemetryHistory)

	s.mux.HandleFunc("/api/vehicle/state", s.handleVehicleState)
	s.mux.HandleFunc("/api/vehicle/move", s.handleMove)
	s.mux.HandleFunc("/api/vehicle/wheels", s.handleWheels)
	s.mux.HandleFunc("/api/vehicle/drive", s.handleDrive)
	s.mux.HandleFunc("/api/vehicle/stop", s.handleStop)
	s.mux.HandleFunc("/api/vehicle/stopall", s.handleStopAll)
	s.mux.HandleFunc("/api/vehicle/servo", s.handleServo)
	s.mux.HandleFunc("/api/vehicle/color", s.handleColor)
	s.mux.HandleFunc("/api/vehicle/brightness", s.handleBrightness)
	s.mux.HandleFunc("/api/vehicle/headlights", s.handleHeadlights)
	s.mux.HandleFunc("/api/vehicle/calibrate", s.handleCalibrate)
	s.mux.HandleFunc("/api/vehicle/speed", s.handleSpeed)
	s.mux.HandleFunc("/api/device/set", s.handleDeviceSet)

	s.mux.HandleFunc("/api/kaka/connect", s.handleKakaConnect)
	s.mux.HandleFunc("/api/kaka/disconnect", s.handleKakaDisconnect)
	s.mux.HandleFunc("/api/kaka/state", s.handleKakaState)
	s.mux.HandleFunc("/api/kaka/output", s.handleKakaOutput)
	s.mux.HandleFunc("/api/kaka/input", s.handleKakaInput)
	s.mux.HandleFunc("/api/kaka/stopall", s.handleKakaStopAll)
	s.mux.HandleFunc("/api/kaka/rename", s.handleKakaRename)

	// WS
	s.mux.HandleFunc("/ws/telemetry", s.handleWSTelemetry)

	if s.webDir != "" {
		fs := http.FileServer(http.Dir(s.webDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if p == "/" || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".css") {
				w.Header().Set("Cache-Control", "no-store")
			}
			fs.ServeHTTP(w, r)
		}))
	}
	return s
}

func (s *Server) Handler() http.Handler { return withLogging(s.log, s.mux) }

// Close stops the car and the Kaka hub and drops both links.
func (s *Server) Close() error {
	s.kakaMu.Lock()
	kerr := s.disconnectKakaLocked(context.Background())
	s.kakaMu.Unlock()

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return errors.Join(s.dev.disconnectLocked(), kerr)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	veh, _ := s.dev.current()
	s.writeJSON(w, 200, HealthResponse{OK: true, Connected: veh != nil, Timestamp: time.Now()})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ports := s.listPorts()
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, 200, PortsResponse{Ports: ports})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req DiscoverRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Base) == "" {
		s.writeJSON(w, 400, APIError{Error: "base address required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), discoverTimeout)
	defer cancel()
	info, err := s.discover(ctx, req.Base)
	if errors.Is(err, transport.ErrNoDevice) {
		s.writeJSON(w, 404, APIError{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.log.Info("server: discovered car", zap.String("name", info.Name), zap.String("ip", info.IP))
	s.writeJSON(w, 200, DiscoverResponse{Device: info, URL: hostURL(info.IP, s.params.WEBSOCKET.PORT)})
}

func (s *Server) handleUploadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 1<<20))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	p, err := decodeParameters(raw)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	origName := ""
	if hdr != nil {
		origName = hdr.Filename
	}
	rec, err := s.configs.Put(raw, p, origName)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, UploadResponse{ConfigID: rec.ID, Family: p.VEHICLE.FAMILY})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(2 << 20); err != nil {
		return nil, nil, err
	}
	return r.FormFile(field)
}

func decodeParameters(raw []byte) (*models.PARAMETERS, error) {
	var p models.PARAMETERS
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := vehicle.ParseFamily(p.VEHICLE.FAMILY); err != nil {
		return nil, err
	}
	if _, err := vehicle.ParseBatteryConvention(p.VEHICLE.BATTERY); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	p := s.params
	if req.ConfigID != "" {
		rec, ok := s.configs.Get(req.ConfigID)
		if !ok {
			s.writeJSON(w, 404, APIError{Error: "configId not found (upload config.json first)"})
			return
		}
		p = rec.P
	}
	famName := req.Family
	if famName == "" {
		famName = p.VEHICLE.FAMILY
	}
	family, err := vehicle.ParseFamily(famName)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	battery, err := vehicle.ParseBatteryConvention(p.VEHICLE.BATTERY)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	target, err := resolveTarget(req, p, s.links.Get(family.String()))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	_ = s.dev.disconnectLocked()

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()
	link, err := s.dial(ctx, target, p)

	// A stale serial port from config or cache: look for the car on the
	// other ports before giving up.
	var trace []string
	if err != nil && target.Kind == linkSerial && strings.TrimSpace(req.Port) == "" {
		var found string
		found, trace = s.detectSerial(target.Address, target.Baud)
		if found != "" {
			target.Address = found
			link, err = s.dial(ctx, target, p)
		}
	}
	if err != nil {
		s.log.Warn("server: connect failed", zap.String("address", target.Address), zap.Error(err))
		s.writeJSON(w, 502, APIError{Error: err.Error()})
		return
	}

	opts := []vehicle.Option{
		vehicle.WithLogger(s.log),
		vehicle.WithBattery(battery),
		vehicle.WithInitialBrightness(p.VEHICLE.BRIGHTNESS),
	}
	if c, err := vehicle.ParseHexColor(p.VEHICLE.COLOR); err == nil {
		opts = append(opts, vehicle.WithInitialColor(c))
	}
	veh := vehicle.New(family, link, opts...)
	link.OnReceive(veh.HandleFrame)
	if pl, ok := link.(interface{ SetPayload(func() []byte) }); ok {
		pl.SetPayload(veh.Frame)
	}
	s.dev.unsub = veh.OnTelemetry(func(rs *vehicle.ReceiveState) { s.onTelemetry(veh, rs) })
	s.dev.veh = veh
	s.dev.link = link
	s.dev.target = target
	s.dev.configID = req.ConfigID
	if err := veh.SetSpeed(p.VEHICLE.SPEED); err != nil {
		s.log.Warn("server: initial frame", zap.Error(err))
	}
	s.links.Set(family.String(), target)

	resp := ConnectResponse{
		Connected:     true,
		Family:        family.String(),
		Kind:          target.Kind,
		Address:       target.Address,
		AutoDetectLog: trace,
	}
	if ws, ok := link.(*transport.WebSocket); ok {
		if info, ok := ws.Info(); ok {
			resp.Device = &info
		}
	}
	s.log.Info("server: connected", zap.String("family", resp.Family), zap.String("address", resp.Address))
	s.wsTelemetry.Broadcast(WSMessage{Type: "link", Data: resp})
	s.writeJSON(w, 200, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	err := s.dev.disconnectLocked()
	s.dev.mu.Unlock()
	if err != nil {
		s.log.Warn("server: disconnect", zap.Error(err))
	}
	s.wsTelemetry.Broadcast(WSMessage{Type: "link", Data: ConnectResponse{Connected: false}})
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// onTelemetry runs on the transport's receive goroutine.
func (s *Server) onTelemetry(veh *vehicle.Vehicle, rs *vehicle.ReceiveState) {
	s.wsTelemetry.Broadcast(WSMessage{Type: "telemetry", Data: s.telemetryEvent(veh, rs)})
	if s.history == nil || !s.recordLimit.OkayToSend() {
		return
	}
	if _, err := s.history.InsertTelemetry(context.Background(), veh.Family(), rs, veh.Battery()); err != nil {
		s.log.Warn("server: record telemetry", zap.Error(err))
		return
	}
	s.pruneHistory(time.Now())
}

// pruneHistory drops rows older than the retention window, at most once
// per pruneEvery.
func (s *Server) pruneHistory(now time.Time) {
	if s.retention <= 0 {
		return
	}
	s.pruneMu.Lock()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < pruneEvery {
		s.pruneMu.Unlock()
		return
	}
	s.lastPrune = now
	s.pruneMu.Unlock()

	n, err := s.history.PruneBefore(context.Background(), now.Add(-s.retention))
	if err != nil {
		s.log.Warn("server: prune telemetry", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("server: pruned telemetry", zap.Int64("rows", n))
	}
}

func (s *Server) telemetryEvent(veh *vehicle.Vehicle, rs *vehicle.ReceiveState) TelemetryEvent {
	ev := TelemetryEvent{Family: veh.Family().String(), State: rs}
	if rs != nil && rs.BatteryRaw != nil {
		v := veh.Battery().Volts(*rs.BatteryRaw)
		ev.BatteryVolts = &v
	}
	return ev
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	veh, _ := s.dev.current()
	if veh == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	// Telemetry never returns nil; an empty snapshot has no receive time.
	rs := veh.Telemetry()
	if rs.ReceivedAt.IsZero() {
		s.writeJSON(w, 404, APIError{Error: "no telemetry yet"})
		return
	}
	s.writeJSON(w, 200, s.telemetryEvent(veh, rs))
}

func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if s.history == nil {
		s.writeJSON(w, 503, APIError{Error: "telemetry history disabled"})
		return
	}
	n, err := queryInt(r, "n", defaultHistory, 1, maxHistory)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	recs, err := s.history.RecentTelemetry(r.Context(), n)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	total, err := s.history.CountTelemetry(r.Context())
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]interface{}{"records": recs, "total": total})
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be %d..%d", key, min, max)
	}
	return n, nil
}
