package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/targets"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "connection_error", StatusConnectionError.String())
	assert.Equal(t, "protocol_error", StatusProtocolError.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		expected interface{}
		wantErr  bool
	}{
		{"defaults", DefaultOptions(), &Minecraft{}, false},
		{"empty protocol", Options{}, &Minecraft{}, false},
		{"banner", Options{Protocol: "Banner"}, &Banner{}, false},
		{"unknown protocol", Options{Protocol: "gopher"}, nil, true},
		{"negative size", Options{MaxResponseBytes: -1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, qerrors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expected, p)
		})
	}
}

func TestProberFunc(t *testing.T) {
	var got targets.Candidate
	p := ProberFunc(func(_ context.Context, c targets.Candidate, _ time.Duration) Outcome {
		got = c
		return Success(&Response{}, time.Millisecond)
	})

	c := targets.Candidate{Addr: netip.MustParseAddr("10.0.0.1"), Port: 25565}
	out := p.Probe(context.Background(), c, time.Second)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, c, got)
}

func TestClassify(t *testing.T) {
	c := targets.Candidate{Addr: netip.MustParseAddr("10.0.0.1"), Port: 25565}
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		op       string
		err      error
		expected Status
		code     qerrors.ErrorCode
	}{
		{"dial refused", context.Background(), opDial, errors.New("connection refused"), StatusConnectionError, qerrors.CodeConnection},
		{"dial timeout", context.Background(), opDial, context.DeadlineExceeded, StatusTimeout, qerrors.CodeTimeout},
		{"read deadline", context.Background(), opExchange, fmt.Errorf("read: %w", os.ErrDeadlineExceeded), StatusTimeout, qerrors.CodeTimeout},
		{"short reply", context.Background(), opExchange, io.ErrUnexpectedEOF, StatusProtocolError, qerrors.CodeProtocol},
		{"no reply", context.Background(), opExchange, io.EOF, StatusProtocolError, qerrors.CodeProtocol},
		{"malformed", context.Background(), opExchange, errMalformed, StatusProtocolError, qerrors.CodeProtocol},
		{"reset", context.Background(), opExchange, errors.New("connection reset by peer"), StatusConnectionError, qerrors.CodeConnection},
		{"canceled", canceled, opExchange, os.ErrDeadlineExceeded, StatusTimeout, qerrors.CodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classify(tt.ctx, c, tt.op, tt.err, time.Millisecond)
			assert.Equal(t, tt.expected, out.Status)
			assert.Equal(t, tt.code, qerrors.GetCode(out.Reason))
			assert.Contains(t, out.Reason.Error(), "10.0.0.1:25565")
		})
	}
}
