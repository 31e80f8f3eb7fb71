// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package federation

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/consul/sdk/testutil"
	"github.com/hashicorp/consul/sdk/testutil/retry"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/xmppd/xmppd/agent/structs"
)

type testConnector struct {
	domain  string
	targets []Target

	closeErr error

	mu      sync.Mutex
	written []*structs.Stanza
	closed  bool
}

func (c *testConnector) Domain() string { return c.domain }

func (c *testConnector) Write(s *structs.Stanza) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, s)
	return nil
}

func (c *testConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *testConnector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type testDialer struct {
	calls int32
}

func (d *testDialer) Dial(_ context.Context, domain string, targets []Target) (Connector, error) {
	atomic.AddInt32(&d.calls, 1)
	return &testConnector{domain: domain, targets: targets}, nil
}

// startDNSServer serves a fixed set of records over UDP on a random port.
func startDNSServer(t *testing.T, records []dns.RR) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		for _, rr := range records {
			if rr.Header().Name == q.Name && rr.Header().Rrtype == q.Qtype {
				resp.Answer = append(resp.Answer, rr)
			}
		}
		if len(resp.Answer) == 0 {
			resp.Rcode = dns.RcodeNameError
		}
		w.WriteMsg(resp)
	})

	up := make(chan struct{})
	server := &dns.Server{
		Addr:              "127.0.0.1:0",
		Net:               "udp",
		Handler:           mux,
		NotifyStartedFunc: func() { close(up) },
	}
	go server.ListenAndServe()
	<-up
	t.Cleanup(func() { server.Shutdown() })
	return server.PacketConn.LocalAddr().String()
}

func srv(name string, prio, weight, port uint16, target string) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
		Priority: prio,
		Weight:   weight,
		Port:     port,
		Target:   dns.Fqdn(target),
	}
}

func a(name, ip string) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP(ip),
	}
}

func testRecords() []dns.RR {
	return []dns.RR{
		srv("_xmpp-server._tcp.example.net", 20, 0, 5270, "backup.example.net"),
		srv("_xmpp-server._tcp.example.net", 10, 5, 5269, "low.example.net"),
		srv("_xmpp-server._tcp.example.net", 10, 50, 5269, "high.example.net"),
		a("a-only.example.net", "192.0.2.1"),
		&dns.SRV{
			Hdr:    dns.RR_Header{Name: "_xmpp-server._tcp.disabled.net.", Rrtype: dns.TypeSRV, Class: dns.ClassINET},
			Target: ".",
		},
	}
}

func testRegistry(t *testing.T, cfg Config, dialer Dialer) *Registry {
	t.Helper()
	if len(cfg.Resolvers) == 0 {
		cfg.Resolvers = []string{startDNSServer(t, testRecords())}
	}
	r, err := NewRegistry(cfg, dialer, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_Resolve(t *testing.T) {
	r := testRegistry(t, Config{}, &testDialer{})
	ctx := context.Background()

	targets, err := r.Resolve(ctx, "example.net")
	require.NoError(t, err)
	require.Equal(t, []string{"high.example.net.", "low.example.net.", "backup.example.net."},
		[]string{targets[0].Host, targets[1].Host, targets[2].Host})
	require.Equal(t, "high.example.net:5269", targets[0].Address())
	require.Equal(t, "backup.example.net:5270", targets[2].Address())

	targets, err = r.Resolve(ctx, "a-only.example.net")
	require.NoError(t, err)
	require.Equal(t, []Target{{Host: "a-only.example.net", Port: DefaultServerPort}}, targets)

	_, err = r.Resolve(ctx, "nowhere.example.net")
	require.ErrorIs(t, err, ErrRemoteServerNotFound)

	_, err = r.Resolve(ctx, "disabled.net")
	require.ErrorIs(t, err, ErrRemoteServerNotFound)
}

func TestRegistry_ConnectCachesConnector(t *testing.T) {
	dialer := &testDialer{}
	r := testRegistry(t, Config{}, dialer)

	c1, err := r.Connect("example.net")
	require.NoError(t, err)
	c2, err := r.Connect("EXAMPLE.net")
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, int32(1), atomic.LoadInt32(&dialer.calls))
	require.Equal(t, 1, r.Connectors())
	require.Len(t, c1.(*testConnector).targets, 3)

	_, err = r.Connect("nowhere.example.net")
	require.ErrorIs(t, err, ErrRemoteServerNotFound)

	r.Disconnect("example.net")
	require.True(t, c1.(*testConnector).isClosed())
	require.Equal(t, 0, r.Connectors())

	c3, err := r.Connect("example.net")
	require.NoError(t, err)
	require.NotSame(t, c1, c3)
	require.Equal(t, int32(2), atomic.LoadInt32(&dialer.calls))
}

func TestRegistry_ConcurrentConnectDialsOnce(t *testing.T) {
	dialer := &testDialer{}
	r := testRegistry(t, Config{}, dialer)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Connect("example.net")
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&dialer.calls))
}

func TestRegistry_CloseReportsErrors(t *testing.T) {
	dialer := DialerFunc(func(_ context.Context, domain string, _ []Target) (Connector, error) {
		return &testConnector{domain: domain, closeErr: errors.New("connection reset")}, nil
	})
	r := testRegistry(t, Config{}, dialer)

	_, err := r.Connect("example.net")
	require.NoError(t, err)
	_, err = r.Connect("a-only.example.net")
	require.NoError(t, err)

	// dropped before Close, still reported by it
	r.Disconnect("a-only.example.net")

	err = r.Close()
	require.ErrorContains(t, err, "closing connector to example.net: connection reset")
	require.ErrorContains(t, err, "closing connector to a-only.example.net: connection reset")
	require.Equal(t, 0, r.Connectors())

	require.NoError(t, r.Close())
}

func TestRegistry_IdleConnectorsAreClosed(t *testing.T) {
	r := testRegistry(t, Config{ConnectorTTL: 50 * time.Millisecond}, &testDialer{})

	c, err := r.Connect("example.net")
	require.NoError(t, err)

	retry.Run(t, func(r *retry.R) {
		if !c.(*testConnector).isClosed() {
			r.Fatal("connector still open")
		}
	})
	require.Equal(t, 0, r.Connectors())
}

func TestRegistry_DialTimeout(t *testing.T) {
	dialer := DialerFunc(func(ctx context.Context, _ string, _ []Target) (Connector, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := testRegistry(t, Config{DialTimeout: 100 * time.Millisecond}, dialer)

	_, err := r.Connect("example.net")
	require.ErrorIs(t, err, ErrRemoteServerTimeout)
}

func TestRegistry_UnreachableResolver(t *testing.T) {
	// nothing listens on the discard port
	r := testRegistry(t, Config{
		Resolvers:      []string{"127.0.0.1:9"},
		ResolveTimeout: 100 * time.Millisecond,
	}, &testDialer{})

	_, err := r.Connect("example.net")
	require.Error(t, err)
}

func TestNewRegistry_RequiresDialer(t *testing.T) {
	_, err := NewRegistry(Config{Resolvers: []string{"127.0.0.1:53"}}, nil, nil)
	require.ErrorContains(t, err, "dialer")
}
