// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package offline keeps stanzas for accounts without a connected resource
// until they come back online.
package offline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/xmppd/xmppd/agent/structs"
	"github.com/xmppd/xmppd/logging"
)

const (
	dbFileMode = 0600
)

var (
	// bucketStanzas holds one nested bucket per bare receiver address.
	bucketStanzas = []byte("stanzas")

	// ErrNoReceiver is returned for stanzas without a receiver address.
	ErrNoReceiver = errors.New("stanza has no receiver")

	msgpackHandle = &codec.MsgpackHandle{}
)

// Receiver accepts stanzas that could not be delivered to a session.
type Receiver interface {
	Receive(stanza *structs.Stanza) error
}

// Store is a bbolt backed Receiver. Stanzas are kept per bare receiver
// address in arrival order.
type Store struct {
	db     *bolt.DB
	logger hclog.Logger
}

// Open opens or creates the store at path.
func Open(path string, logger hclog.Logger) (*Store, error) {
	db, err := bolt.Open(path, dbFileMode, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed opening offline store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStanzas)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed initializing offline store: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{db: db, logger: logger.Named(logging.Offline)}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Receive appends stanza to the queue of its receiver's bare address.
func (s *Store) Receive(stanza *structs.Stanza) error {
	if stanza == nil || stanza.To.IsZero() {
		return ErrNoReceiver
	}
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(stanza); err != nil {
		return fmt.Errorf("failed encoding stanza: %w", err)
	}

	owner := stanza.To.Bare().String()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketStanzas).CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), buf)
	})
	if err != nil {
		return fmt.Errorf("failed storing stanza: %w", err)
	}

	metrics.IncrCounter([]string{"offline", "stored"}, 1)
	s.logger.Debug("stored stanza", "receiver", owner, "stanza", stanza.Name, "id", stanza.ID)
	return nil
}

// Retrieve returns and removes all stanzas stored for the bare address of
// addr, oldest first.
func (s *Store) Retrieve(addr structs.Address) ([]*structs.Stanza, error) {
	owner := []byte(addr.Bare().String())

	var result []*structs.Stanza
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketStanzas)
		b := root.Bucket(owner)
		if b == nil {
			return nil
		}
		err := b.ForEach(func(_, v []byte) error {
			var stanza structs.Stanza
			if err := codec.NewDecoderBytes(v, msgpackHandle).Decode(&stanza); err != nil {
				return fmt.Errorf("failed decoding stanza: %w", err)
			}
			result = append(result, &stanza)
			return nil
		})
		if err != nil {
			return err
		}
		return root.DeleteBucket(owner)
	})
	if err != nil {
		return nil, err
	}

	if len(result) > 0 {
		metrics.IncrCounter([]string{"offline", "retrieved"}, float32(len(result)))
	}
	return result, nil
}

// Count returns the number of stanzas stored for addr's bare address.
func (s *Store) Count(addr structs.Address) (int, error) {
	owner := []byte(addr.Bare().String())
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStanzas).Bucket(owner)
		if b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
