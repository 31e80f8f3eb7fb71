// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"github.com/hashicorp/go-memdb"

	"github.com/xmppd/xmppd/agent/structs"
)

const (
	tableResources = "resources"
	tableEntities  = "entities"

	indexID      = "id"
	indexBare    = "bare"
	indexSession = "session"
)

// binding is the row stored for every bound resource. Rows are never
// modified in place once inserted; updates insert a modified copy inside a
// write transaction.
type binding struct {
	Token     string
	SessionID string
	Bare      string
	Seq       uint64

	Address  structs.Address
	Session  Session
	State    structs.ResourceState
	Priority int
}

func (b *binding) clone() *binding {
	c := *b
	return &c
}

// entity counts the bindings of one bare address.
type entity struct {
	Bare  string
	Count int
}

// schema returns the memdb schema of the resource registry.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableResources: resourcesTableSchema(),
			tableEntities:  entitiesTableSchema(),
		},
	}
}

// resourcesTableSchema indexes bindings by token, by owning bare address and
// by owning session so that one write transaction updates all three views.
func resourcesTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableResources,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Token"},
			},
			indexBare: {
				Name:         indexBare,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.StringFieldIndex{Field: "Bare"},
			},
			indexSession: {
				Name:         indexSession,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.StringFieldIndex{Field: "SessionID"},
			},
		},
	}
}

func entitiesTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableEntities,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Bare"},
			},
		},
	}
}
