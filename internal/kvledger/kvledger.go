// Package kvledger stores the registry ledger in a Badger key-value store.
//
// Key layout (all integers big-endian so iteration order is numeric order):
//
//	p                 params record
//	f/<index>         file record
//	g/<ordinal>       grant, ordinal = position in the global grant sequence
//	w/<sequence>      payout
//	e/<index>         event
package kvledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

var (
	keyParams     = []byte("p")
	prefixFiles   = []byte("f/")
	prefixGrants  = []byte("g/")
	prefixPayouts = []byte("w/")
	prefixEvents  = []byte("e/")
)

// Store is a registry.Ledger backed by Badger.
type Store struct {
	db *badger.DB
}

var _ registry.Ledger = (*Store)(nil)

type paramsRecord struct {
	Config      registry.AdminConfig `json:"config"`
	Balance     uint64               `json:"balance"`
	TotalAccess uint64               `json:"total_access"`
	Sequence    uint64               `json:"sequence"`
}

type fileRecord struct {
	Index     uint64           `json:"index"`
	Payload   registry.Payload `json:"payload"`
	Digest    []byte           `json:"digest"`
	CreatedAt int64            `json:"created_at"`
	Sequence  uint64           `json:"sequence"`
}

// Open opens (or creates) a Badger database in dir. log receives Badger's
// own messages; nil silences them.
func Open(dir string, log *logrus.Entry) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if log != nil {
		opts = opts.WithLogger(log.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(prefix []byte, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", k, err)
	}
	if err := txn.Set(k, data); err != nil {
		return fmt.Errorf("set %q: %w", k, err)
	}
	return nil
}

// Commit writes b in a single Badger transaction.
func (s *Store) Commit(ctx context.Context, b *registry.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		params := paramsRecord{
			Config:      b.Config,
			Balance:     b.Balance,
			TotalAccess: b.TotalAccess,
			Sequence:    b.Sequence,
		}
		if err := setJSON(txn, keyParams, params); err != nil {
			return err
		}

		if f := b.File; f != nil {
			rec := fileRecord{
				Index:     f.Index,
				Payload:   f.Payload,
				Digest:    f.Digest[:],
				CreatedAt: f.CreatedAt,
				Sequence:  f.Sequence,
			}
			if err := setJSON(txn, key(prefixFiles, f.Index), rec); err != nil {
				return err
			}
		}

		first := b.TotalAccess - uint64(len(b.Grants))
		for i, g := range b.Grants {
			if err := setJSON(txn, key(prefixGrants, first+uint64(i)), g); err != nil {
				return err
			}
		}

		if b.Payout != nil {
			if err := setJSON(txn, key(prefixPayouts, b.Payout.Sequence), b.Payout); err != nil {
				return err
			}
		}

		for _, ev := range b.Events {
			if err := setJSON(txn, key(prefixEvents, ev.Index), ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the whole ledger.
func (s *Store) Load(ctx context.Context) (*registry.State, error) {
	st := &registry.State{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyParams)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("get params: %w", err)
		}

		var params paramsRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &params) }); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
		st.Config = params.Config
		st.Balance = params.Balance
		st.TotalAccess = params.TotalAccess
		st.Sequence = params.Sequence

		if err := scan(txn, prefixFiles, func(v []byte) error {
			var rec fileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Index != uint64(len(st.Files)) {
				return fmt.Errorf("file index gap: got %d, want %d", rec.Index, len(st.Files))
			}
			f := &registry.File{
				Index:     rec.Index,
				Payload:   rec.Payload,
				CreatedAt: rec.CreatedAt,
				Sequence:  rec.Sequence,
			}
			copy(f.Digest[:], rec.Digest)
			st.Files = append(st.Files, f)
			return nil
		}); err != nil {
			return fmt.Errorf("load files: %w", err)
		}

		if err := scan(txn, prefixGrants, func(v []byte) error {
			var g registry.Grant
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			st.Grants = append(st.Grants, g)
			return nil
		}); err != nil {
			return fmt.Errorf("load grants: %w", err)
		}

		if err := scan(txn, prefixPayouts, func(v []byte) error {
			var p registry.Payout
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			st.Payouts = append(st.Payouts, p)
			return nil
		}); err != nil {
			return fmt.Errorf("load payouts: %w", err)
		}

		if err := scan(txn, prefixEvents, func(v []byte) error {
			var ev registry.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			st.Events = append(st.Events, ev)
			return nil
		}); err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// scan calls fn with every value under prefix, in key order.
func scan(txn *badger.Txn, prefix []byte, fn func(v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
