// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package components keeps the processors of server components that are
// addressed through a sub-domain of the server, for example
// conference.example.org.
package components

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/armon/go-radix"
	"github.com/hashicorp/go-hclog"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

// ErrAlreadyRegistered is returned when a sub-domain already has a component.
var ErrAlreadyRegistered = errors.New("component already registered")

// Processor handles every stanza addressed to a component.
type Processor interface {
	ProcessStanza(stanza *structs.Stanza) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(stanza *structs.Stanza) error

func (f ProcessorFunc) ProcessStanza(stanza *structs.Stanza) error { return f(stanza) }

// Registry maps component sub-domains to processors. Lookups match the
// longest registered domain suffix, so a component registered for
// conference.example.org also receives stanzas for
// room.conference.example.org.
type Registry struct {
	serverDomain string
	logger       hclog.Logger

	lock sync.RWMutex
	tree *radix.Tree
}

// NewRegistry returns an empty registry for components below serverDomain.
func NewRegistry(serverDomain string, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		serverDomain: strings.ToLower(serverDomain),
		logger:       logger.Named(logging.Components),
		tree:         radix.New(),
	}
}

// Register adds the component for subdomain. A single label such as
// "conference" is taken relative to the server domain.
func (r *Registry) Register(subdomain string, p Processor) error {
	domain := r.qualify(subdomain)
	addr, err := structs.ParseAddress(domain)
	if err != nil {
		return fmt.Errorf("invalid component domain: %w", err)
	}
	if addr.HasLocal() || addr.HasResource() || !addr.IsSubdomainOf(r.serverDomain) {
		return fmt.Errorf("%q is not a sub-domain of %q", domain, r.serverDomain)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	key := reverse(domain)
	if _, ok := r.tree.Get(key); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, domain)
	}
	r.tree.Insert(key, p)
	r.logger.Info("registered component", "domain", domain)
	return nil
}

// Unregister removes the component for subdomain.
func (r *Registry) Unregister(subdomain string) {
	domain := r.qualify(subdomain)
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.tree.Delete(reverse(domain)); ok {
		r.logger.Info("unregistered component", "domain", domain)
	}
}

// Lookup returns the processor responsible for addr's domain.
func (r *Registry) Lookup(addr structs.Address) (Processor, bool) {
	key := reverse(addr.Domain)

	r.lock.RLock()
	defer r.lock.RUnlock()
	prefix, raw, ok := r.tree.LongestPrefix(key)
	if !ok {
		return nil, false
	}
	// only match on label boundaries
	if len(prefix) != len(key) && key[len(prefix)] != '.' {
		return nil, false
	}
	return raw.(Processor), true
}

// Domains lists the registered component domains.
func (r *Registry) Domains() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var result []string
	r.tree.Walk(func(key string, _ interface{}) bool {
		result = append(result, reverse(key))
		return false
	})
	return result
}

func (r *Registry) qualify(subdomain string) string {
	subdomain = strings.ToLower(strings.TrimSuffix(subdomain, "."))
	if !strings.Contains(subdomain, ".") {
		subdomain = subdomain + "." + r.serverDomain
	}
	return subdomain
}

// reverse turns a.b.example.org into org.example.b.a so that the radix tree
// can match on domain suffixes.
func reverse(domain string) string {
	labels := strings.Split(domain, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}
