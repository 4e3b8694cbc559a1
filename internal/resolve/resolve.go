// Package resolve looks up A and AAAA records for hostname scan targets.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultResolvConf = "/etc/resolv.conf"
	defaultTimeout    = 3 * time.Second
	defaultDNSPort    = "53"
)

// Config holds resolver settings.
type Config struct {
	// Servers are host:port nameserver addresses. Empty means read ResolvConf.
	Servers []string `yaml:"servers" json:"servers"`
	// ResolvConf is the resolv.conf used when Servers is empty.
	ResolvConf string `yaml:"resolv_conf" json:"resolv_conf"`
	// Timeout bounds each query.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// IPv6 also queries AAAA records.
	IPv6 bool `yaml:"ipv6" json:"ipv6"`
}

// DefaultConfig returns a default resolver configuration.
func DefaultConfig() Config {
	return Config{
		ResolvConf: defaultResolvConf,
		Timeout:    defaultTimeout,
	}
}

// Resolver resolves hostnames against a fixed list of nameservers.
type Resolver struct {
	client  *dns.Client
	servers []string
	ipv6    bool
}

// New creates a resolver. Nameservers are taken from cfg.Servers, or from
// cfg.ResolvConf when none are given.
func New(cfg Config) (*Resolver, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		path := cfg.ResolvConf
		if path == "" {
			path = defaultResolvConf
		}
		cc, err := dns.ClientConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read resolver config %s: %w", path, err)
		}
		port := cc.Port
		if port == "" {
			port = defaultDNSPort
		}
		for _, s := range cc.Servers {
			servers = append(servers, net.JoinHostPort(s, port))
		}
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Resolver{
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		servers: servers,
		ipv6:    cfg.IPv6,
	}, nil
}

// Servers returns the nameservers the resolver queries, in order.
func (r *Resolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// LookupHost returns the addresses of host. Nameservers are tried in order
// until one answers authoritatively for a record type.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	qtypes := []uint16{dns.TypeA}
	if r.ipv6 {
		qtypes = append(qtypes, dns.TypeAAAA)
	}

	var addrs []netip.Addr
	for _, qtype := range qtypes {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no address records for %s", host)
	}
	return addrs, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
			return extractAddrs(in.Answer), nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: %s", host, dns.RcodeToString[in.Rcode])
		default:
			lastErr = fmt.Errorf("%s answered %s for %s", server, dns.RcodeToString[in.Rcode], host)
		}
	}
	return nil, fmt.Errorf("lookup %s %s: %w", host, typeName(qtype), lastErr)
}

func extractAddrs(answer []dns.RR) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *dns.A:
			ip = rec.A
		case *dns.AAAA:
			ip = rec.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs
}

func typeName(qtype uint16) string {
	if name, ok := dns.TypeToString[qtype]; ok {
		return name
	}
	return strconv.Itoa(int(qtype))
}
