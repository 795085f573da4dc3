package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	file "github.com/CK6170/roverlink/file"
	models "github.com/CK6170/roverlink/models"
	"github.com/CK6170/roverlink/transport"
	ui "github.com/CK6170/roverlink/ui"
	"github.com/CK6170/roverlink/vehicle"
)

// App version variables. Set these at build time with -ldflags if desired.
var (
	AppVersion = "dev"
	AppBuild   = "local"
)

const connectTimeout = 10 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "config file (json, yaml or toml)")
		ip         = flag.String("ip", "", "car IP address")
		rawURL     = flag.String("url", "", "car WebSocket URL, e.g. ws://192.168.4.1:30102")
		port       = flag.String("port", "", "serial port of a wired car")
		family     = flag.String("family", "", "galaxyrvr or zeuscar (overrides config)")
		csvPath    = flag.String("log", "", "append telemetry rows to this CSV file")
		debug      = flag.Bool("debug", false, "verbose logging")
		version    = flag.Bool("v", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s [build %s]\n", AppVersion, AppBuild)
		return
	}

	params, err := file.LoadParameters(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *family != "" {
		params.VEHICLE.FAMILY = *family
	}
	if *debug {
		params.DEBUG = true
	}

	logger, err := newLogger(params.DEBUG)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	fam, err := vehicle.ParseFamily(params.VEHICLE.FAMILY)
	if err != nil {
		log.Fatal(err)
	}
	battery, _ := vehicle.ParseBatteryConvention(params.VEHICLE.BATTERY)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.ClearScreen()
	ui.Greenf("roverlink teleop version: %s [build %s]\n", AppVersion, AppBuild)
	ui.Greenf("--------------------------------------------\n")

	link, err := openLink(ctx, params, *rawURL, *ip, *port, logger)
	if err != nil {
		ui.Warningf("%v\n", err)
		os.Exit(1)
	}

	opts := []vehicle.Option{
		vehicle.WithLogger(logger),
		vehicle.WithBattery(battery),
		vehicle.WithInitialBrightness(params.VEHICLE.BRIGHTNESS),
	}
	if c, err := vehicle.ParseHexColor(params.VEHICLE.COLOR); err == nil {
		opts = append(opts, vehicle.WithInitialColor(c))
	}
	veh := vehicle.New(fam, link, opts...)
	link.OnReceive(veh.HandleFrame)
	if ws, ok := link.(*transport.WebSocket); ok {
		ws.SetPayload(veh.Frame)
	}
	veh.OnTelemetry(func(rs *vehicle.ReceiveState) {
		ui.PrintTelemetryLine(rs, battery)
		if *csvPath == "" {
			return
		}
		if err := file.AppendTelemetry(*csvPath, rs, battery); err != nil {
			logger.Warn("teleop: telemetry log", zap.String("path", *csvPath), zap.Error(err))
		}
	})
	if err := veh.SetSpeed(params.VEHICLE.SPEED); err != nil {
		ui.Warningf("initial frame: %v\n", err)
	}

	ui.Greenf("%s connected. %s\n\n", fam, ui.Help)
	drive(ctx, ui.NewTeleop(veh))

	fmt.Println()
	if err := veh.StopAll(); err != nil {
		ui.Warningf("stop: %v\n", err)
	}
	if err := link.Close(); err != nil {
		ui.Debugf(params.DEBUG, "close: %v\n", err)
	}
	ui.Greenf("bye\n")
}

// drive applies key actions until ESC, a closed keyboard or ctx ends.
func drive(ctx context.Context, tp *ui.Teleop) {
	ui.DrainKeys()
	keys := ui.StartKeyEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-keys:
			if !ok {
				ui.Warningf("%v\n", ui.KeyboardErr())
				return
			}
			a := ui.KeyAction(k)
			switch a {
			case ui.ActionQuit:
				return
			case ui.ActionNone:
				continue
			}
			ui.PrintActionLine(a, tp.Apply(a))
		}
	}
}

// openLink picks serial when a port is given, otherwise WebSocket by URL,
// IP, configured host or, after asking, a scan of the car's access point
// subnet.
func openLink(ctx context.Context, p *models.PARAMETERS, rawURL, ip, port string, logger *zap.Logger) (transport.Link, error) {
	if port == "" && rawURL == "" && ip == "" && p.WEBSOCKET.HOST == "" {
		port = p.SERIAL.PORT
	}
	if port != "" {
		s, err := transport.OpenSerial(port, p.SERIAL.BAUDRATE, logger)
		if err == nil {
			return s, nil
		}
		ui.Warningf("%v\n", err)
		found, trace := transport.AutoDetectSerial(port, p.SERIAL.BAUDRATE)
		for _, line := range trace {
			ui.Debugf(p.DEBUG, "%s\n", line)
		}
		if found == "" {
			return nil, fmt.Errorf("no car found on any serial port")
		}
		return transport.OpenSerial(found, p.SERIAL.BAUDRATE, logger)
	}

	url := strings.TrimSpace(rawURL)
	if url == "" {
		host := strings.TrimSpace(ip)
		if host == "" {
			host = p.WEBSOCKET.HOST
		}
		if host == "" {
			info, err := discover(ctx, p.WEBSOCKET.PORT)
			if err != nil {
				return nil, err
			}
			ui.Greenf("found %s (%s) at %s\n", info.Name, info.Type, info.IP)
			host = info.IP
		}
		url = fmt.Sprintf("ws://%s:%d", host, p.WEBSOCKET.PORT)
	}

	ws := transport.NewWebSocket(url, logger,
		transport.WithSendInterval(time.Duration(p.WEBSOCKET.SEND_INTERVAL_MS)*time.Millisecond))
	ws.OnStateChange(func(s transport.ConnectionState) {
		ui.Debugf(p.DEBUG, "link %s\n", s)
		if s == transport.StateFailed {
			ui.Warningf("\nlink lost, press ESC to quit\n")
		}
	})
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ws.Connect(cctx); err != nil {
		return nil, err
	}
	return ws, nil
}

func discover(ctx context.Context, wsPort int) (transport.DeviceInfo, error) {
	answer, err := ui.NextYN(fmt.Sprintf("No car address configured. Scan %s.x? (Y/N)", apSubnet))
	if err != nil {
		return transport.DeviceInfo{}, fmt.Errorf("no car address: use -ip, -url or -port (%w)", err)
	}
	if answer != 'Y' {
		return transport.DeviceInfo{}, fmt.Errorf("no car address: use -ip, -url or -port")
	}
	ui.Greenf("scanning...\n")
	return transport.Discover(ctx, apSubnet, transport.WithScanPort(wsPort))
}

// apSubnet is the network a car in access point mode hands out.
const apSubnet = "192.168.4"

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		// keep the terminal for the telemetry line
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
