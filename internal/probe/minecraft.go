package probe

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/anstrom/qubo/internal/targets"
)

// Minecraft probes Java Edition servers with the server list ping exchange.
type Minecraft struct {
	dialer *net.Dialer
	opts   Options
}

// NewMinecraft returns a server list ping prober.
func NewMinecraft(opts Options) *Minecraft {
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	return &Minecraft{dialer: &net.Dialer{}, opts: opts}
}

// Probe sends a handshake and status request and decodes the status reply.
func (m *Minecraft) Probe(ctx context.Context, c targets.Candidate, timeout time.Duration) Outcome {
	return exchange(ctx, m.dialer, c, timeout, func(conn net.Conn) (*Response, error) {
		host := m.opts.ServerAddress
		if host == "" {
			host = c.Addr.String()
		}
		if _, err := conn.Write(handshakePacket(m.opts.ProtocolVersion, host, c.Port)); err != nil {
			return nil, err
		}

		body, err := readPacket(bufio.NewReader(conn), m.opts.MaxResponseBytes)
		if err != nil {
			return nil, err
		}
		payload, err := parseStatusReply(body)
		if err != nil {
			return nil, err
		}
		return decodeStatus(payload)
	})
}
