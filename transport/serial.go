// Package transport implements the serial byte-stream input: port opening
// with bounded retry on contention, a read loop that reassembles CR/LF
// delimited lines from arbitrary chunk boundaries, and a bounded ring between
// the reader and the consumer so input bursts never block the port.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/pkg/buffer"
	"github.com/Nathan219/probemaster2-sub000/pkg/retry"
	"github.com/Nathan219/probemaster2-sub000/wire"
)

// Defaults for the serial input.
const (
	DefaultBaudRate       = 115200
	DefaultRingCapacity   = 1024
	DefaultOpenAttempts   = 5
	DefaultOpenRetryDelay = 2 * time.Second

	readChunkSize = 4096
)

// Sink receives one complete line from the serial stream.
type Sink func(line string)

// PortOpener opens a serial port. Swappable for tests.
type PortOpener func(name string, mode *serial.Mode) (serial.Port, error)

// SerialConfig configures the serial input.
type SerialConfig struct {
	Port           string
	BaudRate       int
	OpenAttempts   int
	OpenRetryDelay time.Duration
	RingCapacity   int
}

// SerialDeps holds runtime dependencies for the serial input.
type SerialDeps struct {
	Config SerialConfig
	Sink   Sink
	Logger *slog.Logger
	Opener PortOpener
}

// SerialInput reads the probe byte stream from a serial port. The read loop
// buffers the trailing partial line across chunk boundaries; complete lines
// land in a DropOldest ring drained by a dispatch goroutine, so a slow
// consumer loses the oldest lines rather than stalling the port.
type SerialInput struct {
	config SerialConfig
	sink   Sink
	logger *slog.Logger
	opener PortOpener

	ring       *buffer.Ring[string]
	notify     chan struct{}
	readerDone chan struct{}

	port     serial.Port
	portMu   sync.Mutex
	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSerialInput creates a serial input component.
func NewSerialInput(deps SerialDeps) (*SerialInput, error) {
	if deps.Config.Port == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"serial-input", "NewSerialInput", "port name validation")
	}
	if deps.Sink == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil sink"),
			"serial-input", "NewSerialInput", "sink validation")
	}

	cfg := deps.Config
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = DefaultOpenAttempts
	}
	if cfg.OpenRetryDelay <= 0 {
		cfg.OpenRetryDelay = DefaultOpenRetryDelay
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "serial-input")
	}
	opener := deps.Opener
	if opener == nil {
		opener = serial.Open
	}

	return &SerialInput{
		config: cfg,
		sink:   deps.Sink,
		logger: logger,
		opener: opener,
		ring:   buffer.NewRing[string](cfg.RingCapacity, buffer.DropOldest),
		notify: make(chan struct{}, 1),
	}, nil
}

// Start opens the port and launches the read and dispatch goroutines. A busy
// port is retried with a fixed delay; contention is only escalated once the
// attempts are exhausted.
func (s *SerialInput) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	port, err := s.open(ctx)
	if err != nil {
		s.running.Store(false)
		return err
	}

	s.portMu.Lock()
	s.port = port
	s.portMu.Unlock()

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.readerDone = make(chan struct{})

	s.wg.Add(2)
	go s.readLoop(port)
	go s.dispatchLoop()

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	s.logger.Info("serial input started",
		"port", s.config.Port, "baud", s.config.BaudRate)
	return nil
}

// Stop releases the reader by closing the port, then waits for both
// goroutines to drain. Safe to call when the reader already exited on a port
// error.
func (s *SerialInput) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	close(s.shutdown)
	s.closePort()

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"serial-input", "Stop", "graceful shutdown")
	}
}

// Buffered returns the number of lines waiting for dispatch.
func (s *SerialInput) Buffered() int {
	return s.ring.Size()
}

// Stats returns ring activity counters, including dropped-line counts.
func (s *SerialInput) Stats() buffer.Statistics {
	return s.ring.Stats()
}

func (s *SerialInput) open(ctx context.Context) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: s.config.BaudRate}

	cfg := retry.Config{
		MaxAttempts:  s.config.OpenAttempts,
		InitialDelay: s.config.OpenRetryDelay,
		MaxDelay:     s.config.OpenRetryDelay,
		Multiplier:   1,
	}

	port, err := retry.DoWithResult(ctx, cfg, func() (serial.Port, error) {
		p, openErr := s.opener(s.config.Port, mode)
		if openErr != nil {
			s.logger.Warn("serial port open failed, retrying",
				"port", s.config.Port, "error", openErr)
			return nil, openErr
		}
		return p, nil
	})
	if err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %s: %v", errors.ErrPortBusy, s.config.Port, err),
			"serial-input", "open", "port acquisition")
	}
	return port, nil
}

func (s *SerialInput) closePort() {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.logger.Debug("port close", "error", err)
		}
		s.port = nil
	}
}

// readLoop pulls raw chunks off the port and reassembles lines. The trailing
// partial line is carried across reads and flushed when the port closes.
func (s *SerialInput) readLoop(port serial.Port) {
	defer s.wg.Done()
	defer close(s.readerDone)

	var partial strings.Builder
	chunk := make([]byte, readChunkSize)

	for {
		n, err := port.Read(chunk)
		if n > 0 {
			partial.WriteString(string(chunk[:n]))
			lines, rest := wire.SplitLines(partial.String())
			partial.Reset()
			partial.WriteString(rest)

			for _, line := range lines {
				if wire.IsBlank(line) {
					continue
				}
				s.ring.Write(line)
			}
			if len(lines) > 0 {
				s.wakeDispatcher()
			}
		}
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				s.logger.Error("serial read failed", "error", err)
			}
			break
		}
	}

	if rest := strings.TrimSpace(partial.String()); rest != "" {
		s.ring.Write(rest)
	}
}

// dispatchLoop drains the ring into the sink. It exits only after the read
// loop has finished, so the final partial-line flush is never lost.
func (s *SerialInput) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.readerDone:
			s.drain()
			return
		case <-s.notify:
			s.drain()
		}
	}
}

func (s *SerialInput) drain() {
	for {
		line, ok := s.ring.Read()
		if !ok {
			return
		}
		s.sink(line)
	}
}

func (s *SerialInput) wakeDispatcher() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
