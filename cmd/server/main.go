// Command `roverlink-server` runs the roverlink web UI + HTTP API locally.
//
// It serves static assets from `-web` (defaults to `./web`) and exposes JSON APIs
// + a WebSocket telemetry stream used by the frontend to find the car, connect
// to it over WebSocket or serial, drive it and browse recorded telemetry.
//
// Flags:
//
//	-config: config file (json, yaml or toml); ROVERLINK_* env overrides apply
//	-addr:   TCP address to listen on (overrides SERVER.ADDR)
//	-web:    path to web root containing index.html
//	-db:     SQLite telemetry history (overrides SERVER.DB, "off" disables)
//	-rate:   telemetry rows recorded per second
//	-open:   open the UI URL in your default browser at startup
//
// Env:
//
//	ROVERLINK_NO_OPEN=1 disables browser auto-open even when -open is set.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	file "github.com/CK6170/roverlink/file"
	"github.com/CK6170/roverlink/internal/server"
	"github.com/CK6170/roverlink/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file (json, yaml or toml)")
		addr       = flag.String("addr", "", "http listen address")
		web        = flag.String("web", "./web", "path to web root (index.html)")
		dbPath     = flag.String("db", "", "telemetry history database, or off")
		rate       = flag.Int("rate", 2, "telemetry rows recorded per second")
		cache      = flag.String("links", "roverlink_links.json", "last working link per car family")
		open       = flag.Bool("open", false, "open the web UI in your default browser on startup")
	)
	flag.Parse()

	params, err := file.LoadParameters(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		params.SERVER.ADDR = *addr
	}
	if *dbPath != "" {
		params.SERVER.DB = *dbPath
	}

	logger, err := newLogger(params.DEBUG)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithLinkCache(server.NewLinkCache(*cache)),
	}

	// The API works without a web UI; only warn.
	if webDir, err := filepath.Abs(*web); err == nil {
		if st, err := os.Stat(webDir); err == nil && st.IsDir() {
			opts = append(opts, server.WithWebDir(webDir))
		} else {
			logger.Warn("server: web directory missing, serving API only", zap.String("dir", webDir))
		}
	}

	if params.SERVER.DB != "off" {
		st, err := store.Open(params.SERVER.DB)
		if err != nil {
			logger.Fatal("server: open history", zap.String("db", params.SERVER.DB), zap.Error(err))
		}
		defer func() { _ = st.Close() }()
		opts = append(opts, server.WithHistory(st, *rate))
	}

	s := server.New(params, opts...)
	defer func() { _ = s.Close() }()

	// Bind the listen address early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", params.SERVER.ADDR)
	if err != nil {
		logger.Fatal("server: listen", zap.String("addr", params.SERVER.ADDR), zap.Error(err))
	}

	uiURL := makeUIURL(params.SERVER.ADDR)
	logger.Info("server: serving", zap.String("addr", params.SERVER.ADDR), zap.String("ui", uiURL))

	if *open && os.Getenv("ROVERLINK_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			logger.Warn("server: failed to open browser", zap.Error(err))
		}
	}

	if err := http.Serve(ln, s.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server: stopped", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser tries to open the given URL in the OS default browser without
// waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
