// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"errors"

	"github.com/xmppd/xmppd/agent/delivery"
	"github.com/xmppd/xmppd/agent/structs"
)

// offlineOrBounce stores messages for local accounts that have no usable
// resource and bounces everything else.
type offlineOrBounce struct {
	serverDomain string
	offline      delivery.OfflineStore
	bounce       delivery.FailureStrategy
}

func (s offlineOrBounce) Process(stanza *structs.Stanza, errs []error) (delivery.Outcome, error) {
	if stanza.IsMessage() && !stanza.IsError() &&
		stanza.To.HasLocal() && stanza.To.Domain == s.serverDomain &&
		recipientUnavailable(errs) {
		outcome, err := s.offline.Process(stanza, errs)
		if err == nil {
			return outcome, nil
		}
		// storage failed, let the sender know instead of losing the message
		errs = append(errs, err)
	}
	return s.bounce.Process(stanza, errs)
}

// recipientUnavailable reports whether every error says that an existing
// recipient could not be reached.
func recipientUnavailable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if errors.Is(err, delivery.ErrUnknownAccount) || !errors.Is(err, delivery.ErrRecipientUnavailable) {
			return false
		}
	}
	return true
}
