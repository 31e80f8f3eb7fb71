// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package registry tracks which live sessions are bound to which addresses
// and answers the "who receives traffic for this address" queries of the
// delivery subsystem.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"github.com/hashicorp/go-uuid"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

// AnyPriority disables the lower priority bound of HighestPrioSessions.
const AnyPriority = math.MinInt

// DefaultPriorityThreshold is the threshold applied to implicit (bare
// address) delivery. Resources with negative priority never receive stanzas
// addressed to the bare address.
const DefaultPriorityThreshold = 0

var (
	// ErrNoSession is returned when binding a nil session.
	ErrNoSession = errors.New("session is nil")

	// ErrNoOwningAddress is returned when binding a session which has no
	// initiating address set yet.
	ErrNoOwningAddress = errors.New("session has no initiating address")

	// ErrResourceNotBound is returned for operations on unknown tokens.
	ErrResourceNotBound = errors.New("resource not bound")
)

// Session is the part of a client session the registry needs. ID must be
// unique among live sessions.
type Session interface {
	ID() string
	InitiatingAddress() structs.Address
	State() structs.SessionState
}

// Registry maps resource tokens to sessions. All three views (token, bare
// address and session) live in one memdb database and every bind or unbind
// is a single write transaction, so readers always see a consistent
// snapshot. Reads never block writers.
type Registry struct {
	db     *memdb.MemDB
	logger hclog.Logger

	// seq orders bindings by the time they were created.
	seq uint64

	// generateToken is swapped in tests.
	generateToken func() (string, error)
}

// New returns an empty registry.
func New(logger hclog.Logger) (*Registry, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed setting up resource registry: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		db:            db,
		logger:        logger.Named(logging.Registry),
		generateToken: uuid.GenerateUUID,
	}, nil
}

// BindSession allocates a new resource token for sess and binds it in state
// ResourceConnected with priority 0.
func (r *Registry) BindSession(sess Session) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}
	addr := sess.InitiatingAddress()
	if addr.IsZero() {
		return "", ErrNoOwningAddress
	}

	token, err := r.generateToken()
	if err != nil {
		return "", fmt.Errorf("failed generating resource token: %w", err)
	}

	bare := addr.Bare()
	b := &binding{
		Token:     token,
		SessionID: sess.ID(),
		Bare:      bare.String(),
		Seq:       atomic.AddUint64(&r.seq, 1),
		Address:   bare,
		Session:   sess,
		State:     structs.ResourceConnected,
	}

	tx := r.db.Txn(true)
	defer tx.Abort()

	if existing, err := tx.First(tableResources, indexID, token); err != nil {
		return "", fmt.Errorf("failed resource lookup: %w", err)
	} else if existing != nil {
		return "", fmt.Errorf("resource token %q already bound", token)
	}
	if err := tx.Insert(tableResources, b); err != nil {
		return "", fmt.Errorf("failed inserting resource: %w", err)
	}
	count, err := adjustEntityTxn(tx, b.Bare, 1)
	if err != nil {
		return "", err
	}
	tx.Commit()

	metrics.IncrCounter([]string{"registry", "bind"}, 1)
	r.logger.Debug("bound resource",
		"address", bare.WithResource(token),
		"session", b.SessionID,
		"resources", count,
	)
	return token, nil
}

// UnbindResource removes a single resource. It reports whether the owning
// session has no resources left afterwards.
func (r *Registry) UnbindResource(token string) (bool, error) {
	tx := r.db.Txn(true)
	defer tx.Abort()

	raw, err := tx.First(tableResources, indexID, token)
	if err != nil {
		return false, fmt.Errorf("failed resource lookup: %w", err)
	}
	if raw == nil {
		return false, fmt.Errorf("%w: %s", ErrResourceNotBound, token)
	}
	b := raw.(*binding)

	if err := deleteBindingTxn(tx, b); err != nil {
		return false, err
	}
	remaining, err := tx.First(tableResources, indexSession, b.SessionID)
	if err != nil {
		return false, fmt.Errorf("failed session lookup: %w", err)
	}
	tx.Commit()

	metrics.IncrCounter([]string{"registry", "unbind"}, 1)
	r.logger.Debug("unbound resource", "address", b.Address.WithResource(token), "session", b.SessionID)
	return remaining == nil, nil
}

// UnbindSession removes every resource bound to sess. A nil session is
// ignored.
func (r *Registry) UnbindSession(sess Session) error {
	if sess == nil {
		return nil
	}

	tx := r.db.Txn(true)
	defer tx.Abort()

	bindings, err := bindingsTxn(tx, indexSession, sess.ID())
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if err := deleteBindingTxn(tx, b); err != nil {
			return err
		}
	}
	tx.Commit()

	if len(bindings) > 0 {
		metrics.IncrCounter([]string{"registry", "unbind"}, float32(len(bindings)))
		r.logger.Debug("unbound session", "session", sess.ID(), "resources", len(bindings))
	}
	return nil
}

// SetResourceState sets the state of the resource and reports whether it
// changed.
func (r *Registry) SetResourceState(token string, state structs.ResourceState) (bool, error) {
	changed := false
	err := r.updateBinding(token, func(b *binding) {
		changed = b.State != state
		b.State = state
	})
	return changed, err
}

// ResourceState returns the state of the resource, ok is false if the token
// is not bound.
func (r *Registry) ResourceState(token string) (structs.ResourceState, bool) {
	b := r.binding(token)
	if b == nil {
		return 0, false
	}
	return b.State, true
}

// SetResourcePriority sets the advertised priority of the resource.
func (r *Registry) SetResourcePriority(token string, priority int) error {
	return r.updateBinding(token, func(b *binding) {
		b.Priority = priority
	})
}

// ResourcePriority returns the priority of the resource.
func (r *Registry) ResourcePriority(token string) (int, bool) {
	b := r.binding(token)
	if b == nil {
		return 0, false
	}
	return b.Priority, true
}

// Session returns the session bound to token, or nil.
func (r *Registry) Session(token string) Session {
	b := r.binding(token)
	if b == nil {
		return nil
	}
	return b.Session
}

// ResourcesForSession returns the tokens bound to sess in bind order.
func (r *Registry) ResourcesForSession(sess Session) []string {
	if sess == nil {
		return nil
	}
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := bindingsTxn(tx, indexSession, sess.ID())
	if err != nil {
		r.logger.Error("failed listing session resources", "session", sess.ID(), "error", err)
		return nil
	}
	return tokens(bindings)
}

// UniqueResourceForSession returns the only token bound to sess. It returns
// "" if the session has none or more than one.
func (r *Registry) UniqueResourceForSession(sess Session) string {
	list := r.ResourcesForSession(sess)
	if len(list) != 1 {
		return ""
	}
	return list[0]
}

// BoundResources returns the tokens bound for addr. All tokens of the bare
// address are returned when considerBare is set or addr has no resource;
// otherwise only addr's resource if it is bound to that bare address.
func (r *Registry) BoundResources(addr structs.Address, considerBare bool) []string {
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := r.boundTxn(tx, addr, considerBare)
	if err != nil {
		r.logger.Error("failed listing resources", "address", addr, "error", err)
		return nil
	}
	return tokens(bindings)
}

// Sessions returns the sessions of addr's bare address with a priority of
// at least DefaultPriorityThreshold.
func (r *Registry) Sessions(addr structs.Address) []Session {
	return r.SessionsWithPriority(addr, DefaultPriorityThreshold)
}

// SessionsWithPriority returns the sessions of addr's bare address whose
// priority is greater or equal to threshold. The resource of addr is
// ignored.
func (r *Registry) SessionsWithPriority(addr structs.Address, threshold int) []Session {
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := r.boundTxn(tx, addr, true)
	if err != nil {
		r.logger.Error("failed listing sessions", "address", addr, "error", err)
		return nil
	}
	var result []Session
	for _, b := range bindings {
		if b.Priority >= threshold {
			result = append(result, b.Session)
		}
	}
	return result
}

// AllSessions returns every session bound for addr regardless of priority.
// If addr carries a resource only that resource's session is returned.
func (r *Registry) AllSessions(addr structs.Address) []Session {
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := r.boundTxn(tx, addr, false)
	if err != nil {
		r.logger.Error("failed listing sessions", "address", addr, "error", err)
		return nil
	}
	result := make([]Session, 0, len(bindings))
	for _, b := range bindings {
		result = append(result, b.Session)
	}
	return result
}

// HighestPrioSessions selects the receivers of implicitly addressed traffic.
//
// If addr carries a resource the session bound to exactly that resource is
// returned and threshold is not applied. Otherwise all sessions sharing the
// highest priority among those with a priority of at least threshold are
// returned. Pass AnyPriority to disable the threshold.
func (r *Registry) HighestPrioSessions(addr structs.Address, threshold int) []Session {
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := r.boundTxn(tx, addr, false)
	if err != nil {
		r.logger.Error("failed listing sessions", "address", addr, "error", err)
		return nil
	}

	if addr.HasResource() {
		if len(bindings) == 0 {
			return nil
		}
		return []Session{bindings[0].Session}
	}

	current := threshold
	var result []Session
	for _, b := range bindings {
		switch {
		case b.Priority > current:
			result = result[:0]
			current = b.Priority
			result = append(result, b.Session)
		case b.Priority == current:
			result = append(result, b.Session)
		}
	}
	return result
}

// InterestedResources returns the tokens of addr's bare address which
// requested their roster.
func (r *Registry) InterestedResources(addr structs.Address) []string {
	return r.filterResources(addr, structs.IsInterested)
}

// AvailableResources returns the tokens of addr's bare address which are
// available, interested or not.
func (r *Registry) AvailableResources(addr structs.Address) []string {
	return r.filterResources(addr, structs.IsAvailable)
}

// SessionCount returns the number of distinct bare addresses with at least
// one bound resource.
func (r *Registry) SessionCount() int {
	tx := r.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get(tableEntities, indexID)
	if err != nil {
		r.logger.Error("failed counting entities", "error", err)
		return 0
	}
	n := 0
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		n++
	}
	return n
}

func (r *Registry) filterResources(addr structs.Address, keep func(structs.ResourceState) bool) []string {
	tx := r.db.Txn(false)
	defer tx.Abort()

	bindings, err := bindingsTxn(tx, indexBare, addr.Bare().String())
	if err != nil {
		r.logger.Error("failed listing resources", "address", addr, "error", err)
		return nil
	}
	var result []string
	for _, b := range bindings {
		if keep(b.State) {
			result = append(result, b.Token)
		}
	}
	return result
}

func (r *Registry) binding(token string) *binding {
	tx := r.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableResources, indexID, token)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*binding)
}

func (r *Registry) updateBinding(token string, fn func(b *binding)) error {
	tx := r.db.Txn(true)
	defer tx.Abort()

	raw, err := tx.First(tableResources, indexID, token)
	if err != nil {
		return fmt.Errorf("failed resource lookup: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("%w: %s", ErrResourceNotBound, token)
	}
	b := raw.(*binding).clone()
	fn(b)
	if err := tx.Insert(tableResources, b); err != nil {
		return fmt.Errorf("failed updating resource: %w", err)
	}
	tx.Commit()
	return nil
}

// boundTxn resolves addr to its bindings within tx. See BoundResources.
func (r *Registry) boundTxn(tx *memdb.Txn, addr structs.Address, considerBare bool) ([]*binding, error) {
	bare := addr.Bare().String()
	if considerBare || !addr.HasResource() {
		return bindingsTxn(tx, indexBare, bare)
	}

	raw, err := tx.First(tableResources, indexID, addr.Resource)
	if err != nil {
		return nil, fmt.Errorf("failed resource lookup: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	b := raw.(*binding)
	if b.Bare != bare {
		return nil, nil
	}
	return []*binding{b}, nil
}

// bindingsTxn returns all bindings matching the index lookup in bind order.
func bindingsTxn(tx *memdb.Txn, index string, args ...interface{}) ([]*binding, error) {
	iter, err := tx.Get(tableResources, index, args...)
	if err != nil {
		return nil, fmt.Errorf("failed resource lookup: %w", err)
	}
	var result []*binding
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		result = append(result, raw.(*binding))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func deleteBindingTxn(tx *memdb.Txn, b *binding) error {
	if err := tx.Delete(tableResources, b); err != nil {
		return fmt.Errorf("failed deleting resource: %w", err)
	}
	_, err := adjustEntityTxn(tx, b.Bare, -1)
	return err
}

// adjustEntityTxn changes the binding count of a bare address by delta and
// removes the entity once it drops to zero. It returns the new count.
func adjustEntityTxn(tx *memdb.Txn, bare string, delta int) (int, error) {
	raw, err := tx.First(tableEntities, indexID, bare)
	if err != nil {
		return 0, fmt.Errorf("failed entity lookup: %w", err)
	}
	e := &entity{Bare: bare}
	if raw != nil {
		e.Count = raw.(*entity).Count
	}
	e.Count += delta

	if e.Count <= 0 {
		if raw != nil {
			if err := tx.Delete(tableEntities, raw); err != nil {
				return 0, fmt.Errorf("failed deleting entity: %w", err)
			}
		}
		return 0, nil
	}
	if err := tx.Insert(tableEntities, e); err != nil {
		return 0, fmt.Errorf("failed updating entity: %w", err)
	}
	return e.Count, nil
}

func tokens(bindings []*binding) []string {
	if len(bindings) == 0 {
		return nil
	}
	result := make([]string, 0, len(bindings))
	for _, b := range bindings {
		result = append(result, b.Token)
	}
	return result
}
