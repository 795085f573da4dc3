package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CK6170/roverlink/frame"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaud         = 115200
	serialReadTimeout   = 300 * time.Millisecond
	defaultListenWindow = 1500 * time.Millisecond
)

// Serial is a framed link over a byte stream such as a USB serial port.
// Inbound bytes are split on frame boundaries; each complete frame is
// delivered to the receivers including its start and end bytes.
type Serial struct {
	name string
	rw   io.ReadWriteCloser
	log  *zap.Logger

	closed atomic.Bool
	state  atomic.Int32

	mu        sync.Mutex
	receivers []func([]byte)
	writeMu   sync.Mutex
	wg        sync.WaitGroup
	startOnce sync.Once
}

// OpenSerial opens a serial port at 8N1 and starts reading.
func OpenSerial(name string, baud int, log *zap.Logger) (*Serial, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      serial.ParityNone,
		Size:        8,
		StopBits:    serial.Stop1,
		ReadTimeout: serialReadTimeout,
	}
	sp, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	s := NewSerial(name, sp, log)
	s.Start()
	return s, nil
}

// NewSerial wraps an already open stream. Call Start to begin reading.
func NewSerial(name string, rw io.ReadWriteCloser, log *zap.Logger) *Serial {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Serial{name: name, rw: rw, log: log}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Serial) Name() string { return s.name }

func (s *Serial) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

func (s *Serial) OnReceive(fn func([]byte)) {
	s.mu.Lock()
	s.receivers = append(s.receivers, fn)
	s.mu.Unlock()
}

// Start launches the read loop once.
func (s *Serial) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.readLoop()
	})
}

func (s *Serial) Send(b []byte) error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rw.Write(b); err != nil {
		return fmt.Errorf("serial: write %s: %w", s.name, err)
	}
	return nil
}

func (s *Serial) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.rw.Close()
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
	s.log.Info("serial: closed", zap.String("port", s.name))
	return err
}

// readLoop delivers only length-delimited frames with a valid checksum.
// Bare "start byte then blocks" bursts have no length to split on and are
// skipped; a burst whose second byte reads as a long length holds the
// scanner until that many bytes have arrived, then it resyncs on the next
// start byte.
func (s *Serial) readLoop() {
	defer s.wg.Done()
	sc := bufio.NewScanner(&patientReader{r: s.rw, closed: &s.closed})
	sc.Buffer(make([]byte, 0, 512), 4*frame.Overhead+4*frame.MaxPayload)
	sc.Split(frame.SplitFunc)
	for sc.Scan() {
		tok := append([]byte(nil), sc.Bytes()...)
		s.mu.Lock()
		fns := append([]func([]byte){}, s.receivers...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn(tok)
		}
	}
	if err := sc.Err(); err != nil && !s.closed.Load() {
		s.log.Warn("serial: read failed", zap.String("port", s.name), zap.Error(err))
		s.state.Store(int32(StateFailed))
	}
}

// patientReader hides read timeouts from the scanner. A serial port with a
// read timeout reports an idle line as io.EOF; only Close ends the stream.
type patientReader struct {
	r      io.Reader
	closed *atomic.Bool
}

func (p *patientReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 {
			return n, nil
		}
		if p.closed.Load() {
			return 0, io.EOF
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// CheckSerial reports whether a car is streaming valid frames on the port
// within window.
func CheckSerial(name string, baud int, window time.Duration) bool {
	if window <= 0 {
		window = defaultListenWindow
	}
	s, err := OpenSerial(name, baud, nil)
	if err != nil {
		return false
	}
	defer func() { _ = s.Close() }()

	got := make(chan struct{}, 1)
	s.OnReceive(func(b []byte) {
		if _, framed, err := frame.Unwrap(b); err == nil && framed {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})
	select {
	case <-got:
		return true
	case <-time.After(window):
		return false
	}
}

// AutoDetectSerial tries the preferred port first and then every enumerated
// port. The trace lists what was tried so a UI can show it.
func AutoDetectSerial(preferred string, baud int) (string, []string) {
	trace := make([]string, 0, 8)
	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		trace = append(trace, fmt.Sprintf("probing configured port %q (baud=%d)", preferred, baud))
		if CheckSerial(preferred, baud, 0) {
			trace = append(trace, fmt.Sprintf("found car on %q", preferred))
			return preferred, trace
		}
	}
	ports := ListPorts()
	if len(ports) == 0 {
		trace = append(trace, "no serial ports enumerated")
		return "", trace
	}
	trace = append(trace, fmt.Sprintf("enumerated %d ports: %v", len(ports), ports))
	for _, name := range ports {
		if strings.EqualFold(name, preferred) {
			continue
		}
		trace = append(trace, fmt.Sprintf("probing %s", name))
		if CheckSerial(name, baud, 0) {
			trace = append(trace, fmt.Sprintf("found car on %s", name))
			return name, trace
		}
	}
	trace = append(trace, "no port carried car frames")
	return "", trace
}
