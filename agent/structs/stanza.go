// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import "fmt"

// Top level stanza element names.
const (
	StanzaMessage  = "message"
	StanzaPresence = "presence"
	StanzaIQ       = "iq"
)

// Message types.
const (
	MessageChat      = "chat"
	MessageNormal    = "normal"
	MessageGroupchat = "groupchat"
	MessageHeadline  = "headline"
	MessageError     = "error"
)

// Presence types. Available presence has no type attribute.
const (
	PresenceAvailable    = ""
	PresenceUnavailable  = "unavailable"
	PresenceSubscribe    = "subscribe"
	PresenceSubscribed   = "subscribed"
	PresenceUnsubscribe  = "unsubscribe"
	PresenceUnsubscribed = "unsubscribed"
	PresenceProbe        = "probe"
	PresenceError        = "error"
)

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// Stanza is a parsed protocol message as produced by the codec layer. The
// delivery subsystem treats it as read-only and passes it around by pointer;
// everything that needs a modified copy goes through Clone.
type Stanza struct {
	Name string
	Type string
	ID   string
	From Address
	To   Address
	Lang string

	// Payload holds the serialized child elements. It is opaque to delivery.
	Payload []byte `json:",omitempty"`

	// Error is set on stanzas of type "error".
	Error *StanzaError `json:",omitempty"`
}

// StanzaError describes the error child of an error stanza.
type StanzaError struct {
	Type      ErrorType
	Condition ErrorCondition
	Text      string `json:",omitempty"`
}

// ErrorType is the type attribute of a stanza error.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeCancel   ErrorType = "cancel"
	ErrorTypeContinue ErrorType = "continue"
	ErrorTypeModify   ErrorType = "modify"
	ErrorTypeWait     ErrorType = "wait"
)

// ErrorCondition is the defined condition element of a stanza error.
type ErrorCondition string

const (
	ConditionFeatureNotImplemented ErrorCondition = "feature-not-implemented"
	ConditionItemNotFound          ErrorCondition = "item-not-found"
	ConditionRecipientUnavailable  ErrorCondition = "recipient-unavailable"
	ConditionRemoteServerNotFound  ErrorCondition = "remote-server-not-found"
	ConditionRemoteServerTimeout   ErrorCondition = "remote-server-timeout"
	ConditionServiceUnavailable    ErrorCondition = "service-unavailable"
	ConditionUndefinedCondition    ErrorCondition = "undefined-condition"
)

func NewMessage(from, to Address, msgType, id string, payload []byte) *Stanza {
	return &Stanza{Name: StanzaMessage, Type: msgType, ID: id, From: from, To: to, Payload: payload}
}

func NewPresence(from, to Address, presenceType, id string) *Stanza {
	return &Stanza{Name: StanzaPresence, Type: presenceType, ID: id, From: from, To: to}
}

func NewIQ(from, to Address, iqType, id string, payload []byte) *Stanza {
	return &Stanza{Name: StanzaIQ, Type: iqType, ID: id, From: from, To: to, Payload: payload}
}

// Clone returns a deep copy of the stanza.
func (s *Stanza) Clone() *Stanza {
	if s == nil {
		return nil
	}
	c := *s
	if s.Payload != nil {
		c.Payload = append([]byte(nil), s.Payload...)
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

// IsCore reports whether the stanza is one of message, presence or iq.
func (s *Stanza) IsCore() bool {
	switch s.Name {
	case StanzaMessage, StanzaPresence, StanzaIQ:
		return true
	}
	return false
}

func (s *Stanza) IsMessage() bool  { return s.Name == StanzaMessage }
func (s *Stanza) IsPresence() bool { return s.Name == StanzaPresence }
func (s *Stanza) IsIQ() bool       { return s.Name == StanzaIQ }

// IsError reports whether the stanza is of type "error".
func (s *Stanza) IsError() bool { return s.Type == "error" }

// MessageType returns the effective message type; a message without type is
// a normal message.
func (s *Stanza) MessageType() string {
	if s.Type == "" {
		return MessageNormal
	}
	return s.Type
}

// ErrorResponse builds the error stanza answering s: addresses are swapped,
// the id is kept and the payload is echoed back.
func (s *Stanza) ErrorResponse(cond ErrorCondition, errType ErrorType, text string) *Stanza {
	resp := s.Clone()
	resp.From, resp.To = s.To, s.From
	resp.Type = "error"
	resp.Error = &StanzaError{
		Type:      errType,
		Condition: cond,
		Text:      text,
	}
	return resp
}

func (s *Stanza) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(type=%q id=%q from=%s to=%s)", s.Name, s.Type, s.ID, s.From, s.To)
}
