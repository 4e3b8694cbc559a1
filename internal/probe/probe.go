// Package probe performs a single application-layer exchange against a scan
// candidate and classifies the result.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/targets"
)

// Supported protocols.
const (
	ProtocolMinecraft = "minecraft"
	ProtocolBanner    = "banner"
)

const (
	defaultMaxResponseBytes = 1 << 20
	// defaultProtocolVersion asks the server to answer with its own version.
	defaultProtocolVersion = -1

	opDial     = "dial"
	opExchange = "exchange"
)

// Status classifies the outcome of one probe.
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusConnectionError
	StatusProtocolError
)

// String returns the metric and log label of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusConnectionError:
		return "connection_error"
	case StatusProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Response is the decoded reply of a server.
type Response struct {
	Protocol           string   `json:"protocol"`
	VersionName        string   `json:"version_name,omitempty"`
	ProtocolVersion    int      `json:"protocol_version,omitempty"`
	PlayersOnline      int      `json:"players_online"`
	PlayersMax         int      `json:"players_max"`
	PlayerSample       []string `json:"player_sample,omitempty"`
	Description        string   `json:"description,omitempty"`
	CleanDescription   string   `json:"clean_description,omitempty"`
	HasFavicon         bool     `json:"has_favicon"`
	EnforcesSecureChat bool     `json:"enforces_secure_chat"`
	Banner             string   `json:"banner,omitempty"`
}

// Summary renders the response as a short single line for logs and tables.
func (r *Response) Summary() string {
	if r == nil {
		return ""
	}
	if r.Protocol == ProtocolBanner {
		return r.Banner
	}
	return fmt.Sprintf("(%s)(%d/%d)(%s)", r.VersionName, r.PlayersOnline, r.PlayersMax, r.CleanDescription)
}

// Outcome is the classified result of one probe. Response is set only on success.
type Outcome struct {
	Status   Status
	Response *Response
	Reason   error
	Latency  time.Duration
}

// Success returns a successful outcome.
func Success(resp *Response, latency time.Duration) Outcome {
	return Outcome{Status: StatusSuccess, Response: resp, Latency: latency}
}

// Timeout returns a timed out outcome.
func Timeout(reason error, latency time.Duration) Outcome {
	return Outcome{Status: StatusTimeout, Reason: reason, Latency: latency}
}

// ConnectionError returns an outcome for a refused, reset or unreachable endpoint.
func ConnectionError(reason error, latency time.Duration) Outcome {
	return Outcome{Status: StatusConnectionError, Reason: reason, Latency: latency}
}

// ProtocolError returns an outcome for a reply that could not be decoded.
func ProtocolError(reason error, latency time.Duration) Outcome {
	return Outcome{Status: StatusProtocolError, Reason: reason, Latency: latency}
}

//go:generate mockgen -source=probe.go -destination=mocks/mock_prober.go -package=mocks

// Prober probes one candidate. Implementations must return within timeout
// and must close every connection they open.
type Prober interface {
	Probe(ctx context.Context, c targets.Candidate, timeout time.Duration) Outcome
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, c targets.Candidate, timeout time.Duration) Outcome

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, c targets.Candidate, timeout time.Duration) Outcome {
	return f(ctx, c, timeout)
}

// Options configures the prober built by New.
type Options struct {
	// Protocol selects the exchange: "minecraft" or "banner".
	Protocol string `yaml:"protocol" json:"protocol" validate:"omitempty,oneof=minecraft banner"`
	// ProtocolVersion is sent in the Minecraft handshake.
	ProtocolVersion int32 `yaml:"protocol_version" json:"protocol_version"`
	// ServerAddress overrides the host name sent in the handshake.
	ServerAddress string `yaml:"server_address" json:"server_address"`
	// MaxResponseBytes caps the size of a reply.
	MaxResponseBytes int `yaml:"max_response_bytes" json:"max_response_bytes" validate:"gte=0"`
	// BannerPayload is written after connecting when probing banners.
	BannerPayload string `yaml:"banner_payload" json:"banner_payload"`
}

// DefaultOptions returns options for a Minecraft status probe.
func DefaultOptions() Options {
	return Options{
		Protocol:         ProtocolMinecraft,
		ProtocolVersion:  defaultProtocolVersion,
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

// New returns the prober for opts.Protocol.
func New(opts Options) (Prober, error) {
	if opts.MaxResponseBytes < 0 {
		return nil, qerrors.ErrConfigInvalid("max_response_bytes", opts.MaxResponseBytes)
	}
	if opts.MaxResponseBytes == 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}

	switch strings.ToLower(strings.TrimSpace(opts.Protocol)) {
	case "", ProtocolMinecraft:
		return NewMinecraft(opts), nil
	case ProtocolBanner:
		return NewBanner(opts), nil
	default:
		return nil, qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"unsupported probe protocol", "protocol", opts.Protocol)
	}
}

// exchange dials c and runs fn on the connection. Dial, writes and reads all
// share one deadline of now+timeout, tightened by ctx.
func exchange(ctx context.Context, dialer *net.Dialer, c targets.Candidate, timeout time.Duration,
	fn func(conn net.Conn) (*Response, error)) Outcome {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(pctx, "tcp", c.String())
	if err != nil {
		return classify(ctx, c, opDial, err, time.Since(start))
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := pctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(pctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	resp, err := fn(conn)
	latency := time.Since(start)
	if err != nil {
		return classify(ctx, c, opExchange, err, latency)
	}
	return Success(resp, latency)
}

func classify(ctx context.Context, c targets.Candidate, op string, err error, latency time.Duration) Outcome {
	target := c.String()
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return Timeout(qerrors.NewProbeError(qerrors.CodeCanceled, target, op, ctx.Err()), latency)
	case isTimeout(err):
		return Timeout(qerrors.NewProbeError(qerrors.CodeTimeout, target, op, err), latency)
	case op == opDial:
		return ConnectionError(qerrors.NewProbeError(qerrors.CodeConnection, target, op, err), latency)
	case errors.Is(err, errMalformed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ProtocolError(qerrors.NewProbeError(qerrors.CodeProtocol, target, op, err), latency)
	default:
		return ConnectionError(qerrors.NewProbeError(qerrors.CodeConnection, target, op, err), latency)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
