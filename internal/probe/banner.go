package probe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/anstrom/qubo/internal/targets"
)

// Banner connects, optionally writes a payload and reads one line back.
type Banner struct {
	dialer *net.Dialer
	opts   Options
}

// NewBanner returns a line banner prober.
func NewBanner(opts Options) *Banner {
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	return &Banner{dialer: &net.Dialer{}, opts: opts}
}

// Probe reads the first line the endpoint sends.
func (b *Banner) Probe(ctx context.Context, c targets.Candidate, timeout time.Duration) Outcome {
	return exchange(ctx, b.dialer, c, timeout, func(conn net.Conn) (*Response, error) {
		if b.opts.BannerPayload != "" {
			if _, err := io.WriteString(conn, b.opts.BannerPayload); err != nil {
				return nil, err
			}
		}

		r := bufio.NewReader(io.LimitReader(conn, int64(b.opts.MaxResponseBytes)))
		line, err := r.ReadString('\n')
		// A reply cut short by the size cap or by the peer closing still counts.
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return nil, err
		}

		banner := strings.TrimRight(line, "\r\n")
		clean := StripFormatting(banner)
		if clean == "" {
			return nil, errMalformed
		}
		return &Response{
			Protocol:         ProtocolBanner,
			Banner:           banner,
			Description:      banner,
			CleanDescription: clean,
		}, nil
	})
}
