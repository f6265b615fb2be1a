package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

type stubExchanger struct {
	replies map[uint16]*dns.Msg
	err     error
}

func (s *stubExchanger) ExchangeContext(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, time.Duration, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	reply := s.replies[msg.Question[0].Qtype]
	if reply == nil {
		reply = new(dns.Msg)
		reply.SetReply(msg)
	}
	return reply, 0, nil
}

func answerA(host string) *dns.Msg {
	reply := new(dns.Msg)
	reply.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(host), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP("192.0.2.1"),
	}}
	return reply
}

func nxdomain() *dns.Msg {
	reply := new(dns.Msg)
	reply.Rcode = dns.RcodeNameError
	return reply
}

func TestHostExistsA(t *testing.T) {
	r := &Resolver{client: &stubExchanger{replies: map[uint16]*dns.Msg{dns.TypeA: answerA("example.social")}}, server: "stub"}

	exists, err := r.HostExists(context.Background(), "example.social")
	if err != nil || !exists {
		t.Fatalf("exists=%v err=%v", exists, err)
	}
}

func TestHostExistsNXDomain(t *testing.T) {
	r := &Resolver{client: &stubExchanger{replies: map[uint16]*dns.Msg{dns.TypeA: nxdomain()}}, server: "stub"}

	exists, err := r.HostExists(context.Background(), "no-such.example")
	if err != nil {
		t.Fatalf("clean NXDOMAIN should not error: %v", err)
	}
	if exists {
		t.Fatal("NXDOMAIN host should not exist")
	}
}

func TestHostExistsEmptyAnswers(t *testing.T) {
	r := &Resolver{client: &stubExchanger{}, server: "stub"}

	exists, err := r.HostExists(context.Background(), "dangling.example")
	if err != nil || exists {
		t.Fatalf("exists=%v err=%v", exists, err)
	}
}

func TestHostExistsTransportError(t *testing.T) {
	r := &Resolver{client: &stubExchanger{err: errors.New("timeout")}, server: "stub"}

	exists, err := r.HostExists(context.Background(), "example.social")
	if exists || err == nil {
		t.Fatalf("exists=%v err=%v", exists, err)
	}
}

func TestHostExistsIPLiteral(t *testing.T) {
	r := &Resolver{client: &stubExchanger{err: errors.New("must not query")}, server: "stub"}

	for _, literal := range []string{"192.0.2.7", "[2001:db8::1]"} {
		exists, err := r.HostExists(context.Background(), literal)
		if err != nil || !exists {
			t.Fatalf("%s: exists=%v err=%v", literal, exists, err)
		}
	}
}

func TestNewDefaultsPort(t *testing.T) {
	r, err := New(Options{Server: "9.9.9.9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Server() != "9.9.9.9:53" {
		t.Fatalf("server = %q", r.Server())
	}
}
