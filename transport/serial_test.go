package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/Nathan219/probemaster2-sub000/errors"
)

// fakePort feeds scripted chunks to the read loop, blocking between chunks
// the way a real port does between byte bursts.
type fakePort struct {
	chunks chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		chunks: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) feed(chunk string) { p.chunks <- []byte(chunk) }

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.chunks:
		return copy(buf, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakePort) SetMode(*serial.Mode) error { return nil }

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) ResetOutputBuffer() error { return nil }

func (p *fakePort) SetDTR(bool) error { return nil }

func (p *fakePort) SetRTS(bool) error { return nil }

func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Break(time.Duration) error { return nil }

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) sink(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *lineCollector) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, got %v", n, c.snapshot())
	return nil
}

func newTestInput(t *testing.T, port *fakePort) (*SerialInput, *lineCollector) {
	t.Helper()
	collector := &lineCollector{}
	input, err := NewSerialInput(SerialDeps{
		Config: SerialConfig{Port: "/dev/ttyUSB0"},
		Sink:   collector.sink,
		Opener: func(string, *serial.Mode) (serial.Port, error) { return port, nil },
	})
	require.NoError(t, err)
	return input, collector
}

func TestSerialInput_ReassemblesLinesAcrossChunks(t *testing.T) {
	port := newFakePort()
	input, collector := newTestInput(t, port)

	require.NoError(t, input.Start(context.Background()))
	defer input.Stop(time.Second)

	// One line split over three chunks, then a second complete line.
	port.feed("F16R [CO2] ")
	port.feed("640 [Temp]")
	port.feed(" 21.5\r\nAB12 [Hum] 44\n")

	lines := collector.waitFor(t, 2)
	assert.Equal(t, "F16R [CO2] 640 [Temp] 21.5", lines[0])
	assert.Equal(t, "AB12 [Hum] 44", lines[1])
}

func TestSerialInput_SkipsBlankLines(t *testing.T) {
	port := newFakePort()
	input, collector := newTestInput(t, port)

	require.NoError(t, input.Start(context.Background()))
	defer input.Stop(time.Second)

	port.feed("\r\n\r\n  \r\nF16R [CO2] 640\r\n")

	lines := collector.waitFor(t, 1)
	assert.Equal(t, []string{"F16R [CO2] 640"}, lines)
}

func TestSerialInput_FlushesPartialOnClose(t *testing.T) {
	port := newFakePort()
	input, collector := newTestInput(t, port)

	require.NoError(t, input.Start(context.Background()))

	port.feed("F16R [CO2] 640\r\nAB12 [Temp] 2")
	collector.waitFor(t, 1)

	require.NoError(t, input.Stop(time.Second))
	assert.Contains(t, collector.snapshot(), "AB12 [Temp] 2")
}

func TestSerialInput_StartStopIdempotent(t *testing.T) {
	port := newFakePort()
	input, _ := newTestInput(t, port)

	require.NoError(t, input.Start(context.Background()))
	assert.Error(t, input.Start(context.Background()))

	require.NoError(t, input.Stop(time.Second))
	assert.NoError(t, input.Stop(time.Second))
}

func TestSerialInput_OpenRetriesThenEscalates(t *testing.T) {
	attempts := 0
	collector := &lineCollector{}
	input, err := NewSerialInput(SerialDeps{
		Config: SerialConfig{
			Port:           "/dev/ttyUSB0",
			OpenAttempts:   3,
			OpenRetryDelay: time.Millisecond,
		},
		Sink: collector.sink,
		Opener: func(string, *serial.Mode) (serial.Port, error) {
			attempts++
			return nil, fmt.Errorf("resource busy")
		},
	})
	require.NoError(t, err)

	err = input.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortBusy)
	assert.Equal(t, 3, attempts)

	// A failed start leaves the component stoppable and restartable.
	assert.NoError(t, input.Stop(time.Second))
}

func TestSerialInput_OpenRecoversWithinRetryBudget(t *testing.T) {
	port := newFakePort()
	attempts := 0
	collector := &lineCollector{}
	input, err := NewSerialInput(SerialDeps{
		Config: SerialConfig{
			Port:           "/dev/ttyUSB0",
			OpenAttempts:   5,
			OpenRetryDelay: time.Millisecond,
		},
		Sink: collector.sink,
		Opener: func(string, *serial.Mode) (serial.Port, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("resource busy")
			}
			return port, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, input.Start(context.Background()))
	assert.Equal(t, 3, attempts)
	require.NoError(t, input.Stop(time.Second))
}

func TestNewSerialInput_ValidatesConfig(t *testing.T) {
	_, err := NewSerialInput(SerialDeps{Sink: func(string) {}})
	assert.Error(t, err)

	_, err = NewSerialInput(SerialDeps{Config: SerialConfig{Port: "/dev/ttyUSB0"}})
	assert.Error(t, err)
}
