// Package targets turns address and port range specifications into a lazy,
// concurrency-safe sequence of scan candidates.
package targets

import (
	"context"
	"fmt"
	"math/bits"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go4.org/netipx"

	qerrors "github.com/anstrom/qubo/internal/errors"
)

const (
	// maxAddresses bounds the number of distinct addresses in one run.
	maxAddresses = uint64(1) << 32
	// maxPatternRanges bounds how many disjoint ranges an octet pattern may expand to.
	maxPatternRanges = 1 << 20

	minPort = 1
	maxPort = 65535

	expectedRangeParts = 2
	ipv4Octets         = 4
)

// Candidate is a single address/port pair to probe.
type Candidate struct {
	Addr netip.Addr
	Port uint16
}

// AddrPort returns the candidate as a netip.AddrPort.
func (c Candidate) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(c.Addr, c.Port)
}

// String returns host:port, bracketing IPv6 addresses.
func (c Candidate) String() string {
	return c.AddrPort().String()
}

// Resolver resolves hostnames found in address specifications.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// Enumerator yields every candidate implied by its address ranges and ports
// exactly once, ordered by ascending address and then ascending port.
// Next is safe for concurrent use.
type Enumerator struct {
	ranges    []netipx.IPRange
	offsets   []uint64
	addrCount uint64
	ports     []uint16
	total     uint64
	cursor    atomic.Uint64
}

// New builds an enumerator. Overlapping ranges and duplicate ports are merged.
func New(ranges []netipx.IPRange, ports []uint16) (*Enumerator, error) {
	var b netipx.IPSetBuilder
	for _, r := range ranges {
		if !r.IsValid() {
			return nil, qerrors.ErrInvalidTarget(r.String(), fmt.Errorf("invalid address range"))
		}
		b.AddRange(r)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, qerrors.ErrInvalidTarget("ranges", err)
	}

	e := &Enumerator{ranges: set.Ranges()}
	e.offsets = make([]uint64, len(e.ranges))
	for i, r := range e.ranges {
		size, ok := rangeSize(r)
		if !ok || e.addrCount+size > maxAddresses {
			return nil, qerrors.NewConfigFieldError(qerrors.CodeValidation,
				fmt.Sprintf("address ranges cover more than %d addresses", maxAddresses), "ranges", r.String())
		}
		e.offsets[i] = e.addrCount
		e.addrCount += size
	}

	e.ports, err = normalizePorts(ports)
	if err != nil {
		return nil, err
	}
	e.total = e.addrCount * uint64(len(e.ports))
	return e, nil
}

// Parse is a convenience wrapper around ParseAddresses, ParsePorts and New.
func Parse(ctx context.Context, addressSpecs []string, portSpec string, resolver Resolver) (*Enumerator, error) {
	ranges, err := ParseAddresses(ctx, addressSpecs, resolver)
	if err != nil {
		return nil, err
	}
	ports, err := ParsePorts(portSpec)
	if err != nil {
		return nil, err
	}
	return New(ranges, ports)
}

// Next returns the next candidate, or false once the sequence is exhausted.
func (e *Enumerator) Next() (Candidate, bool) {
	i := e.cursor.Add(1) - 1
	if i >= e.total {
		return Candidate{}, false
	}

	nPorts := uint64(len(e.ports))
	addrIndex := i / nPorts
	port := e.ports[i%nPorts]

	r := sort.Search(len(e.offsets), func(k int) bool { return e.offsets[k] > addrIndex }) - 1
	return Candidate{
		Addr: addAddr(e.ranges[r].From(), addrIndex-e.offsets[r]),
		Port: port,
	}, true
}

// Total returns the number of candidates the enumerator yields.
func (e *Enumerator) Total() uint64 {
	return e.total
}

// Addresses returns the number of distinct addresses.
func (e *Enumerator) Addresses() uint64 {
	return e.addrCount
}

// Ports returns the distinct ports in ascending order.
func (e *Enumerator) Ports() []uint16 {
	out := make([]uint16, len(e.ports))
	copy(out, e.ports)
	return out
}

// Dispatched returns how many candidates have been handed out so far.
func (e *Enumerator) Dispatched() uint64 {
	return min(e.cursor.Load(), e.total)
}

// ParseAddresses parses address specifications into sorted, disjoint ranges.
//
// Accepted forms: a single address, "first-last", a CIDR prefix, an IPv4
// octet pattern such as "192.168.*.*" or "10.0.1-5.*", and hostnames, which
// are resolved through resolver.
func ParseAddresses(ctx context.Context, specs []string, resolver Resolver) ([]netipx.IPRange, error) {
	var b netipx.IPSetBuilder
	for _, raw := range specs {
		spec := strings.TrimSpace(raw)
		if spec == "" {
			continue
		}
		if err := addSpec(ctx, &b, spec, resolver); err != nil {
			return nil, err
		}
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, qerrors.ErrInvalidTarget(strings.Join(specs, ","), err)
	}
	return set.Ranges(), nil
}

func addSpec(ctx context.Context, b *netipx.IPSetBuilder, spec string, resolver Resolver) error {
	if strings.Contains(spec, "/") {
		prefix, err := netip.ParsePrefix(spec)
		if err != nil {
			return qerrors.ErrInvalidTarget(spec, err)
		}
		b.AddPrefix(prefix.Masked())
		return nil
	}

	if addr, err := netip.ParseAddr(spec); err == nil {
		b.Add(addr.Unmap())
		return nil
	}

	if r, ok, err := parseAddressRange(spec); ok {
		if err != nil {
			return err
		}
		b.AddRange(r)
		return nil
	}

	if looksLikeOctetPattern(spec) {
		ranges, err := parseOctetPattern(spec)
		if err != nil {
			return err
		}
		for _, r := range ranges {
			b.AddRange(r)
		}
		return nil
	}

	if !isHostname(spec) {
		return qerrors.ErrInvalidTarget(spec, fmt.Errorf("unrecognised address specification"))
	}
	if resolver == nil {
		return qerrors.ErrInvalidTarget(spec, fmt.Errorf("hostname targets require a resolver"))
	}
	addrs, err := resolver.LookupHost(ctx, spec)
	if err != nil {
		return qerrors.ErrInvalidTarget(spec, err)
	}
	if len(addrs) == 0 {
		return qerrors.ErrInvalidTarget(spec, fmt.Errorf("hostname has no addresses"))
	}
	for _, addr := range addrs {
		b.Add(addr.Unmap())
	}
	return nil
}

// parseAddressRange handles "first-last" where both sides are full addresses.
// ok is false when spec is not of that shape.
func parseAddressRange(spec string) (netipx.IPRange, bool, error) {
	parts := strings.Split(spec, "-")
	if len(parts) != expectedRangeParts {
		return netipx.IPRange{}, false, nil
	}
	from, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	if err != nil {
		return netipx.IPRange{}, false, nil
	}
	to, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
	if err != nil {
		return netipx.IPRange{}, false, nil
	}
	from, to = from.Unmap(), to.Unmap()
	if from.Is4() != to.Is4() {
		return netipx.IPRange{}, true, qerrors.ErrInvalidTarget(spec, fmt.Errorf("mixed address families"))
	}
	if to.Less(from) {
		return netipx.IPRange{}, true, qerrors.ErrInvalidTarget(spec, fmt.Errorf("start address exceeds end address"))
	}
	return netipx.IPRangeFrom(from, to), true, nil
}

type octetSpan struct {
	lo, hi int
}

func (s octetSpan) full() bool {
	return s.lo == 0 && s.hi == 255
}

func looksLikeOctetPattern(spec string) bool {
	if strings.Count(spec, ".") != ipv4Octets-1 {
		return false
	}
	for _, r := range spec {
		if !(r >= '0' && r <= '9') && r != '.' && r != '-' && r != '*' {
			return false
		}
	}
	return true
}

// parseOctetPattern expands a pattern like "10.0-3.*.*" into contiguous ranges.
// Trailing full octets fold into the preceding octet's span, so
// "192.168.1-5.*" is a single range.
func parseOctetPattern(spec string) ([]netipx.IPRange, error) {
	fields := strings.Split(spec, ".")
	spans := make([]octetSpan, ipv4Octets)
	for i, field := range fields {
		span, err := parseOctet(field)
		if err != nil {
			return nil, qerrors.ErrInvalidTarget(spec, err)
		}
		spans[i] = span
	}

	j := ipv4Octets
	for j > 0 && spans[j-1].full() {
		j--
	}
	if j == 0 {
		return []netipx.IPRange{netipx.IPRangeFrom(
			netip.AddrFrom4([4]byte{0, 0, 0, 0}),
			netip.AddrFrom4([4]byte{255, 255, 255, 255}),
		)}, nil
	}
	k := j - 1

	count := 1
	for _, s := range spans[:k] {
		count *= s.hi - s.lo + 1
		if count > maxPatternRanges {
			return nil, qerrors.ErrInvalidTarget(spec,
				fmt.Errorf("pattern expands to more than %d ranges", maxPatternRanges))
		}
	}

	ranges := make([]netipx.IPRange, 0, count)
	var prefix [ipv4Octets]byte
	var walk func(pos int)
	walk = func(pos int) {
		if pos == k {
			from, to := prefix, prefix
			from[k], to[k] = byte(spans[k].lo), byte(spans[k].hi)
			for i := k + 1; i < ipv4Octets; i++ {
				from[i], to[i] = 0, 255
			}
			ranges = append(ranges, netipx.IPRangeFrom(netip.AddrFrom4(from), netip.AddrFrom4(to)))
			return
		}
		for v := spans[pos].lo; v <= spans[pos].hi; v++ {
			prefix[pos] = byte(v)
			walk(pos + 1)
		}
	}
	walk(0)
	return ranges, nil
}

func parseOctet(field string) (octetSpan, error) {
	if field == "*" {
		return octetSpan{0, 255}, nil
	}
	if lo, hi, found := strings.Cut(field, "-"); found {
		start, err := parseOctetValue(lo)
		if err != nil {
			return octetSpan{}, err
		}
		end, err := parseOctetValue(hi)
		if err != nil {
			return octetSpan{}, err
		}
		if start > end {
			return octetSpan{}, fmt.Errorf("octet range %s: start exceeds end", field)
		}
		return octetSpan{start, end}, nil
	}
	v, err := parseOctetValue(field)
	if err != nil {
		return octetSpan{}, err
	}
	return octetSpan{v, v}, nil
}

func parseOctetValue(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 255 {
		return 0, fmt.Errorf("invalid octet %q", s)
	}
	return v, nil
}

func isHostname(s string) bool {
	if len(s) > 253 {
		return false
	}
	hasLetter := false
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
				hasLetter = true
			case r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
	}
	return hasLetter
}

// ParsePorts parses "25565", "25565-25570" and comma separated lists of both.
// The result is sorted and free of duplicates. An empty spec yields no ports.
func ParsePorts(spec string) ([]uint16, error) {
	var ports []uint16
	for _, raw := range strings.Split(spec, ",") {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}

		if lo, hi, found := strings.Cut(part, "-"); found {
			start, err := parsePort(lo, part)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(hi, part)
			if err != nil {
				return nil, err
			}
			if start > end {
				return nil, qerrors.NewConfigFieldError(qerrors.CodeValidation,
					"start port cannot be greater than end port", "ports", part)
			}
			for p := start; p <= end; p++ {
				ports = append(ports, uint16(p))
			}
			continue
		}

		p, err := parsePort(part, part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, uint16(p))
	}
	return normalizePorts(ports)
}

func parsePort(s, part string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, qerrors.NewConfigFieldError(qerrors.CodeValidation, "invalid port", "ports", part)
	}
	if p < minPort || p > maxPort {
		return 0, qerrors.NewConfigFieldError(qerrors.CodeValidation,
			fmt.Sprintf("port %d out of range (must be %d-%d)", p, minPort, maxPort), "ports", part)
	}
	return p, nil
}

func normalizePorts(ports []uint16) ([]uint16, error) {
	seen := make([]bool, maxPort+1)
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if p < minPort {
			return nil, qerrors.NewConfigFieldError(qerrors.CodeValidation,
				fmt.Sprintf("port %d out of range (must be %d-%d)", p, minPort, maxPort), "ports", p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// rangeSize returns the number of addresses in r, or false if it exceeds maxAddresses.
func rangeSize(r netipx.IPRange) (uint64, bool) {
	fromHi, fromLo := split128(r.From())
	toHi, toLo := split128(r.To())
	diffLo, borrow := bits.Sub64(toLo, fromLo, 0)
	diffHi, _ := bits.Sub64(toHi, fromHi, borrow)
	if diffHi != 0 || diffLo >= maxAddresses {
		return 0, false
	}
	return diffLo + 1, true
}

func split128(a netip.Addr) (hi, lo uint64) {
	b := a.As16()
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(b[i])
		lo = lo<<8 | uint64(b[i+8])
	}
	return hi, lo
}

// addAddr returns a advanced by n addresses. Callers guarantee no overflow.
func addAddr(a netip.Addr, n uint64) netip.Addr {
	hi, lo := split128(a)
	lo, carry := bits.Add64(lo, n, 0)
	hi += carry

	var b [16]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(hi)
		b[i+8] = byte(lo)
		hi >>= 8
		lo >>= 8
	}
	out := netip.AddrFrom16(b)
	if a.Is4() {
		return out.Unmap()
	}
	return out
}
