// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAccount means the receiver is not a local account.
	ErrUnknownAccount = errors.New("no such local account")

	// ErrRecipientUnavailable means the receiver exists but has no session
	// that could take the stanza.
	ErrRecipientUnavailable = errors.New("recipient unavailable")

	// ErrSessionNotAuthenticated is recorded for target sessions which are
	// bound but not authenticated.
	ErrSessionNotAuthenticated = errors.New("session not authenticated")

	// ErrSessionProcessing is recorded when a target failed to process the
	// stanza.
	ErrSessionProcessing = errors.New("stanza processing failed")

	// ErrServiceUnavailable means the relay is stopped or the stanza kind
	// cannot be delivered.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrConfiguration means the stanza cannot be routed with the current
	// server configuration.
	ErrConfiguration = errors.New("delivery not configured")
)

// TargetError is the failure of one delivery target. For local delivery
// SessionID names the session, for federated delivery it holds the remote
// domain. Both Kind and Cause match with errors.Is.
type TargetError struct {
	SessionID string
	Kind      error
	Cause     error
}

func (e *TargetError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("target %s: %v", e.SessionID, e.Kind)
	}
	return fmt.Sprintf("target %s: %v: %v", e.SessionID, e.Kind, e.Cause)
}

func (e *TargetError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
