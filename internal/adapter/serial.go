package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	goburrow "github.com/goburrow/serial"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialConfig holds connection settings for a serial ELM327 adapter.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	// Driver selects the serial backend: "bugst" (default) or "goburrow".
	Driver string `yaml:"driver" json:"driver"`
}

const (
	// DefaultBaudRate is the factory setting of most ELM327 clones.
	DefaultBaudRate = 38400

	goburrowPollTimeout = 200 * time.Millisecond
	dialTimeout         = 5 * time.Second
)

// OpenSerial opens the adapter's serial port, 8N1.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	switch cfg.Driver {
	case "", "bugst":
		return openBugst(cfg)
	case "goburrow":
		return openGoburrow(cfg)
	}
	return nil, fmt.Errorf("adapter: unknown serial driver %q", cfg.Driver)
}

func openBugst(cfg SerialConfig) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("adapter: failed to open %s: %w", cfg.PortPath, err)
	}
	// Discard whatever the adapter printed before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("adapter: failed to reset input on %s: %w", cfg.PortPath, err)
	}
	log.Printf("[link] opened %s at %d baud", cfg.PortPath, cfg.BaudRate)
	return port, nil
}

func openGoburrow(cfg SerialConfig) (io.ReadWriteCloser, error) {
	port, err := goburrow.Open(&goburrow.Config{
		Address:  cfg.PortPath,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  goburrowPollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter: failed to open %s: %w", cfg.PortPath, err)
	}
	log.Printf("[link] opened %s at %d baud (goburrow)", cfg.PortPath, cfg.BaudRate)
	return &pollingPort{Port: port}, nil
}

// pollingPort turns goburrow's read timeouts into blocking reads so the
// link's line scanner only sees data or a real error.
type pollingPort struct {
	goburrow.Port
}

func (p *pollingPort) Read(b []byte) (int, error) {
	for {
		n, err := p.Port.Read(b)
		if errors.Is(err, goburrow.ErrTimeout) && n == 0 {
			continue
		}
		return n, err
	}
}

// DialTCP connects to a Wi-Fi ELM327 adapter, typically 192.168.0.10:35000.
func DialTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("adapter: failed to dial %s: %w", addr, err)
	}
	log.Printf("[link] connected to %s", addr)
	return conn, nil
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// ListPorts enumerates serial ports, with USB details where available.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("adapter: list ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}
