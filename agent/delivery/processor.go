// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"fmt"

	"github.com/xmppd/xmppd/agent/registry"
	"github.com/xmppd/xmppd/agent/structs"
)

// Deliverer is implemented by sessions which accept stanzas directly.
type Deliverer interface {
	Deliver(stanza *structs.Stanza) error
}

// DirectProcessor is the StanzaProcessor used when no protocol pipeline is
// installed. It hands stanzas to sessions implementing Deliverer.
type DirectProcessor struct{}

func (DirectProcessor) ProcessStanza(sess registry.Session, stanza *structs.Stanza) error {
	d, ok := sess.(Deliverer)
	if !ok {
		return fmt.Errorf("session %s cannot receive stanzas", sess.ID())
	}
	return d.Deliver(stanza)
}

// ProcessorFunc adapts a function to a StanzaProcessor.
type ProcessorFunc func(sess registry.Session, stanza *structs.Stanza) error

func (f ProcessorFunc) ProcessStanza(sess registry.Session, stanza *structs.Stanza) error {
	return f(sess, stanza)
}
