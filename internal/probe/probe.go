package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober makes a single reachability attempt against an address.
type Prober interface {
	Probe(ctx context.Context, network, address string) error
}

// NetProber dials the address and closes the connection right away.
// A zero Timeout leaves the platform default connect timeout in place.
type NetProber struct{ Timeout time.Duration }

func (p NetProber) Probe(ctx context.Context, network, address string) error {
	d := &net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, network, address string) error

func (f ProberFunc) Probe(ctx context.Context, network, address string) error {
	return f(ctx, network, address)
}

// Result captures the outcome of one probe attempt.
type Result struct {
	Target    string        `json:"target"`
	Network   string        `json:"network"`
	Address   string        `json:"address"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	Err       error         `json:"-"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Error returns the attempt error as text, or "" for a successful attempt.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Check runs one attempt and measures it.
func Check(ctx context.Context, p Prober, name, network, address string) Result {
	start := time.Now()
	err := p.Probe(ctx, network, address)
	return Result{
		Target:    name,
		Network:   network,
		Address:   address,
		OK:        err == nil,
		Latency:   time.Since(start),
		Err:       err,
		CheckedAt: start,
	}
}

// ValidateAddress checks that address is usable for the given network.
func ValidateAddress(network, address string) error {
	switch network {
	case "tcp", "tcp4", "tcp6":
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("invalid %s address %q: %w", network, address, err)
		}
		if host == "" || port == "" {
			return fmt.Errorf("invalid %s address %q: host and port required", network, address)
		}
		if _, err := net.LookupPort(network, port); err != nil {
			return fmt.Errorf("invalid %s port %q: %w", network, port, err)
		}
		return nil
	case "unix":
		if address == "" {
			return fmt.Errorf("unix socket path required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported network: %s", network)
	}
}
