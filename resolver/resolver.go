// Package resolver offers a cheap DNS pre-flight: before spending an
// HTTP timeout on a host, ask whether it has any address records at
// all. Hosts that never resolve fail fast.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const defaultServer = "1.1.1.1:53"

// exchanger captures the subset of the dns.Client API the package
// relies on.
type exchanger interface {
	ExchangeContext(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, time.Duration, error)
}

// Options controls Resolver instantiation behaviour.
type Options struct {
	Server  string // host[:port]; empty selects the system resolver
	Timeout time.Duration
}

type Resolver struct {
	client  exchanger
	server  string
	timeout time.Duration
}

// New instantiates a Resolver. When no server is given, the first
// nameserver from /etc/resolv.conf is used, with a public fallback.
func New(options Options) (*Resolver, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	server := strings.TrimSpace(options.Server)
	if server == "" {
		server = systemServer()
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	client := &dns.Client{
		Net:          "udp",
		Timeout:      timeout,
		Dialer:       &net.Dialer{Timeout: timeout},
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	return &Resolver{client: client, server: server, timeout: timeout}, nil
}

func systemServer() string {
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return defaultServer
	}
	port := config.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(config.Servers[0], port)
}

// Server returns the upstream server in use.
func (r *Resolver) Server() string { return r.server }

// HostExists reports whether host has at least one A or AAAA record.
// IP literals pass without a lookup. A clean NXDOMAIN or empty answer
// reports false with no error; transport failures report the error.
func (r *Resolver) HostExists(ctx context.Context, host string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false, fmt.Errorf("empty hostname")
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return true, nil
	}

	fqdn := dns.Fqdn(host)
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode == dns.RcodeNameError {
			return false, nil
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns rcode %s for %s", dns.RcodeToString[reply.Rcode], host)
			continue
		}
		for _, rr := range reply.Answer {
			switch rr.(type) {
			case *dns.A, *dns.AAAA:
				return true, nil
			}
		}
	}
	return false, lastErr
}
