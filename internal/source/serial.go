package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/spray.report/internal/monitoring"
)

// PortOptions describes the serial connection parameters of the encoder
// board.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// LineSource reads newline-delimited readings from a byte stream such as a
// serial port.
type LineSource struct {
	name string
	r    io.ReadCloser

	closeOnce sync.Once
}

func NewLineSource(name string, r io.ReadCloser) *LineSource {
	return &LineSource{name: name, r: r}
}

// Serial reads from a serial device, reopening it on every Run so a
// retried source recovers from an unplugged cable.
type Serial struct {
	path string
	opts PortOptions
	open func(path string, mode *serial.Mode) (io.ReadCloser, error)
}

// NewSerial validates opts and returns a source for the device at path.
func NewSerial(path string, opts PortOptions) (*Serial, error) {
	if _, err := opts.Normalize(); err != nil {
		return nil, err
	}
	return &Serial{path: path, opts: opts, open: openPort}, nil
}

func openPort(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

func (s *Serial) Name() string { return "serial" }

func (s *Serial) Run(ctx context.Context, in *Ingester) error {
	mode, err := s.opts.SerialMode()
	if err != nil {
		return err
	}
	port, err := s.open(s.path, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.path, err)
	}
	return NewLineSource(s.Name(), port).Run(ctx, in)
}

func (s *LineSource) Name() string { return s.name }

// Close releases the underlying stream. It is safe to call more than once.
func (s *LineSource) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.r.Close() })
	return err
}

// Run ingests lines until the stream ends, the sink fails or ctx is
// cancelled. The stream is closed on return.
func (s *LineSource) Run(ctx context.Context, in *Ingester) error {
	defer s.Close()
	scan := bufio.NewScanner(s.r)

	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs apart from the select below so cancellation is
	// noticed while the device is silent.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := append([]byte(nil), scan.Bytes()...)
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	monitoring.Logf("%s: reading telemetry", s.name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("%s: read: %w", s.name, err)
				default:
					monitoring.Logf("%s: stream closed", s.name)
					return nil
				}
			}
			if err := handleLine(ctx, in, s.name, line); err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
		}
	}
}
