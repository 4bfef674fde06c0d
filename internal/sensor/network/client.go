// Package network owns the sensor-facing TCP stream: the framed packet
// client with failover sniffing and reconnect, stream counters, a raw
// packet log, and an optional PCAP replay source.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/signal"
	"github.com/locusrobotics/quanergy-client/internal/sensor/wire"
)

// ErrConnection wraps network setup and I/O failures. Callers use
// errors.Is to distinguish connectivity problems from data problems.
var ErrConnection = errors.New("connection error")

// Backoff bounds for reconnect attempts.
const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// DefaultPort is the sensor's data stream port.
const DefaultPort = 4141

// Config configures a Client.
type Config struct {
	Host string
	Port int // default DefaultPort

	// DialTimeout bounds connection establishment. Default 5s.
	DialTimeout time.Duration

	// ReadTimeout is the per-read socket deadline; zero means unlimited,
	// the default for streaming. Expiration reconnects.
	ReadTimeout time.Duration

	// FailoverEnabled accepts header-less legacy M8 buffers when the magic
	// signature does not match.
	FailoverEnabled bool

	// Stats receives stream counters when non-nil.
	Stats *PacketStats
}

// Client owns the TCP connection to the sensor. It reads framed packets
// and publishes each complete raw buffer to subscribers as an immutable
// byte sequence.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	stopped bool

	packets signal.Signal[[]byte]
}

// NewClient builds a client for the given configuration, applying
// defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

// Subscribe registers a sink for raw packet buffers. The sink must not
// mutate or retain mutable aliases of the buffer.
func (c *Client) Subscribe(fn func([]byte)) *signal.Handle {
	return c.packets.Subscribe(fn)
}

// Connect establishes the socket.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		conn.Close()
		return fmt.Errorf("%w: client stopped", ErrConnection)
	}
	c.conn = conn
	return nil
}

// Stop requests termination. It wakes a blocked read by shutting the
// socket; safe to call from any goroutine, idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Run is the blocking read loop. It connects if necessary, reconnects
// with bounded backoff on transient errors, and returns nil after Stop or
// a context error on cancellation.
func (c *Client) Run(ctx context.Context) error {
	// Cancellation closes the live connection so a blocked read returns.
	stopWatch := context.AfterFunc(ctx, c.dropConn)
	defer stopWatch()

	backoff := initialBackoff
	for {
		if c.isStopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		conn := c.currentConn()
		if conn == nil {
			if err := c.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("Sensor connect failed: %v; retrying in %v", err, backoff)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			conn = c.currentConn()
			if conn == nil {
				return nil
			}
		}

		buf, err := c.readPacket(conn)
		if err != nil {
			if c.isStopped() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("Sensor read failed: %v; reconnecting", err)
			c.dropConn()
			if c.cfg.Stats != nil {
				c.cfg.Stats.AddReconnect()
			}
			continue
		}
		backoff = initialBackoff

		if c.cfg.Stats != nil {
			c.cfg.Stats.AddPacket(len(buf))
		}
		c.packets.Emit(buf)
	}
}

// readPacket reads one complete framed packet, or one legacy packet when
// failover is enabled and the signature does not match.
func (c *Client) readPacket(conn net.Conn) ([]byte, error) {
	if c.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %v", ErrConnection, err)
		}
	}

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrConnection, err)
	}

	hdr, err := wire.ParseHeader(header)
	if err != nil {
		return nil, err
	}

	if hdr.Signature != wire.Magic {
		if !c.cfg.FailoverEnabled {
			return nil, fmt.Errorf("%w: bad signature 0x%08x", sensor.ErrMalformedPacket, hdr.Signature)
		}
		// The consumed bytes are the start of a legacy M8 payload; read
		// the remainder of the fixed-size packet.
		buf := make([]byte, wire.LegacyPacketSize)
		copy(buf, header)
		if _, err := io.ReadFull(conn, buf[len(header):]); err != nil {
			return nil, fmt.Errorf("%w: read legacy payload: %v", ErrConnection, err)
		}
		return buf, nil
	}

	if hdr.Size < wire.HeaderSize || hdr.Size > wire.MaxPacketSize {
		return nil, fmt.Errorf("%w: implausible packet size %d", sensor.ErrMalformedPacket, hdr.Size)
	}

	buf := make([]byte, hdr.Size)
	copy(buf, header)
	if _, err := io.ReadFull(conn, buf[len(header):]); err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrConnection, err)
	}
	return buf, nil
}
