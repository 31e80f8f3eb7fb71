// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package federation locates peer servers and keeps the connectors used to
// send stanzas to them.
package federation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

const (
	// DefaultServerPort is used when a domain publishes no SRV records.
	DefaultServerPort = 5269

	DefaultDialTimeout    = 10 * time.Second
	DefaultResolveTimeout = 5 * time.Second
	DefaultConnectorTTL   = 5 * time.Minute

	srvPrefix = "_xmpp-server._tcp."
)

var (
	// ErrRemoteServerNotFound is returned when a domain cannot be resolved
	// to any server.
	ErrRemoteServerNotFound = errors.New("remote server not found")

	// ErrRemoteServerTimeout is returned when resolving or connecting to a
	// remote server timed out.
	ErrRemoteServerTimeout = errors.New("remote server timeout")
)

// Connector sends stanzas to one remote domain.
type Connector interface {
	Domain() string
	Write(stanza *structs.Stanza) error
	Close() error
}

// ConnectorRegistry hands out connectors to remote domains. Disconnect
// discards a connector that failed so the next Connect dials again.
type ConnectorRegistry interface {
	Connect(domain string) (Connector, error)
	Disconnect(domain string)
}

// Target is a resolved server endpoint of a remote domain.
type Target struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

func (t Target) Address() string {
	return net.JoinHostPort(strings.TrimSuffix(t.Host, "."), strconv.Itoa(int(t.Port)))
}

// Dialer opens a connector to domain trying targets in order. It is the
// boundary to the server-to-server transport.
type Dialer interface {
	Dial(ctx context.Context, domain string, targets []Target) (Connector, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, domain string, targets []Target) (Connector, error)

func (f DialerFunc) Dial(ctx context.Context, domain string, targets []Target) (Connector, error) {
	return f(ctx, domain, targets)
}

// Config configures a Registry.
type Config struct {
	// Resolvers are the DNS servers queried, as host:port. When empty the
	// servers of /etc/resolv.conf are used.
	Resolvers []string

	DialTimeout    time.Duration
	ResolveTimeout time.Duration

	// ConnectorTTL is how long an unused connector is kept open.
	ConnectorTTL time.Duration
}

// Registry resolves remote domains and caches one connector per domain.
// Connectors that were not used for ConnectorTTL are closed.
type Registry struct {
	cfg    Config
	dialer Dialer
	client *dns.Client
	logger hclog.Logger

	connectors *cache.Cache

	// evictErrs holds close failures of idle connectors until Close.
	evictLock sync.Mutex
	evictErrs error

	dialing singleflight.Group
}

// NewRegistry returns a registry dialing through dialer.
func NewRegistry(cfg Config, dialer Dialer, logger hclog.Logger) (*Registry, error) {
	if dialer == nil {
		return nil, errors.New("federation requires a dialer")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.ConnectorTTL == 0 {
		cfg.ConnectorTTL = DefaultConnectorTTL
	}
	if len(cfg.Resolvers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("no resolvers configured and failed reading resolv.conf: %w", err)
		}
		for _, s := range conf.Servers {
			cfg.Resolvers = append(cfg.Resolvers, net.JoinHostPort(s, conf.Port))
		}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := &Registry{
		cfg:        cfg,
		dialer:     dialer,
		client:     &dns.Client{Net: "udp", Timeout: cfg.ResolveTimeout},
		logger:     logger.Named(logging.Federation),
		connectors: cache.New(cfg.ConnectorTTL, cfg.ConnectorTTL/2),
	}
	r.connectors.OnEvicted(func(domain string, raw interface{}) {
		r.logger.Debug("closing idle connector", "domain", domain)
		if err := raw.(Connector).Close(); err != nil {
			r.logger.Warn("failed closing connector", "domain", domain, "error", err)
			r.evictLock.Lock()
			r.evictErrs = multierror.Append(r.evictErrs, fmt.Errorf("closing connector to %s: %w", domain, err))
			r.evictLock.Unlock()
		}
	})
	return r, nil
}

// Connect returns the connector for domain, dialing a new one if none is
// cached.
func (r *Registry) Connect(domain string) (Connector, error) {
	domain = strings.ToLower(domain)
	if c, ok := r.cached(domain); ok {
		return c, nil
	}

	// concurrent callers for the same domain share one dial
	raw, err, _ := r.dialing.Do(domain, func() (interface{}, error) {
		if c, ok := r.cached(domain); ok {
			return c, nil
		}
		return r.dial(domain)
	})
	if err != nil {
		return nil, err
	}
	return raw.(Connector), nil
}

func (r *Registry) dial(domain string) (Connector, error) {
	defer metrics.MeasureSince([]string{"federation", "connect"}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	defer cancel()

	targets, err := r.Resolve(ctx, domain)
	if err != nil {
		metrics.IncrCounter([]string{"federation", "connect", "failed"}, 1)
		return nil, err
	}

	c, err := r.dialer.Dial(ctx, domain, targets)
	if err != nil {
		metrics.IncrCounter([]string{"federation", "connect", "failed"}, 1)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: dialing %s: %v", ErrRemoteServerTimeout, domain, err)
		}
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrRemoteServerNotFound, domain, err)
	}

	r.connectors.SetDefault(domain, c)
	r.logger.Info("connected to remote server", "domain", domain, "targets", len(targets))
	return c, nil
}

func (r *Registry) cached(domain string) (Connector, bool) {
	raw, ok := r.connectors.Get(domain)
	if !ok {
		return nil, false
	}
	// refresh the idle timer
	r.connectors.SetDefault(domain, raw)
	return raw.(Connector), true
}

// Connectors returns the number of open connectors.
func (r *Registry) Connectors() int {
	return r.connectors.ItemCount()
}

// Disconnect closes and forgets the connector of domain, if any.
func (r *Registry) Disconnect(domain string) {
	r.connectors.Delete(strings.ToLower(domain))
}

// Close closes all connectors. It reports every close failure, including
// those of connectors that were evicted earlier.
func (r *Registry) Close() error {
	for domain := range r.connectors.Items() {
		r.connectors.Delete(domain)
	}

	r.evictLock.Lock()
	defer r.evictLock.Unlock()
	err := r.evictErrs
	r.evictErrs = nil
	return err
}

// Resolve returns the server endpoints of domain in the order they should
// be tried. SRV records are preferred; without them the domain itself is
// used on the default port if it has an address record.
func (r *Registry) Resolve(ctx context.Context, domain string) ([]Target, error) {
	srv, err := r.query(ctx, srvPrefix+domain, dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	var targets []Target
	for _, rr := range srv.Answer {
		rec, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		// a single "." target means the service is decidedly not available
		if rec.Target == "." {
			return nil, fmt.Errorf("%w: %s does not offer server-to-server", ErrRemoteServerNotFound, domain)
		}
		targets = append(targets, Target{
			Host:     rec.Target,
			Port:     rec.Port,
			Priority: rec.Priority,
			Weight:   rec.Weight,
		})
	}
	if len(targets) > 0 {
		sort.SliceStable(targets, func(i, j int) bool {
			if targets[i].Priority != targets[j].Priority {
				return targets[i].Priority < targets[j].Priority
			}
			return targets[i].Weight > targets[j].Weight
		})
		return targets, nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := r.query(ctx, domain, qtype)
		if err != nil {
			return nil, err
		}
		for _, rr := range resp.Answer {
			switch rr.(type) {
			case *dns.A, *dns.AAAA:
				return []Target{{Host: domain, Port: DefaultServerPort}}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRemoteServerNotFound, domain)
}

// query asks the configured resolvers in order until one answers.
func (r *Registry) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	var lastErr error
	for _, resolver := range r.cfg.Resolvers {
		resp, rtt, err := r.client.ExchangeContext(ctx, m, resolver)
		if err != nil {
			lastErr = err
			r.logger.Debug("resolver failed", "resolver", resolver, "name", name, "error", err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
			lastErr = fmt.Errorf("resolver %s answered %s", resolver, dns.RcodeToString[resp.Rcode])
			continue
		}
		r.logger.Trace("resolved", "name", name, "type", dns.TypeToString[qtype],
			"answers", len(resp.Answer), "rtt", rtt)
		return resp, nil
	}

	var netErr net.Error
	if (errors.As(lastErr, &netErr) && netErr.Timeout()) || errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrRemoteServerTimeout, name, lastErr)
	}
	return nil, fmt.Errorf("%w: resolving %s: %v", ErrRemoteServerNotFound, name, lastErr)
}
