// Package modcache is a persistent, content-addressed store of module
// binaries and their validation verdicts.
//
// Modules are keyed by CIDv1 (raw codec, sha2-256), so the same bytes
// always map to the same key. A verdict records whether a module passed
// validation; a runtime consults it to reject known-invalid modules
// without decoding them again.
package modcache

import (
	"bytes"

	"github.com/dgraph-io/badger/v3"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
)

var (
	modulePrefix  = []byte("mod/")
	verdictPrefix = []byte("verdict/")
)

const (
	verdictInvalid byte = 0
	verdictValid   byte = 1
)

var prefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Key returns the content identifier of a module binary.
func Key(bin []byte) (cid.Cid, error) {
	return prefix.Sum(bin)
}

// Parse decodes a CID string as printed by cid.Cid.String.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Parse(s)
	if err != nil {
		return cid.Undef, errors.InvalidInput(errors.PhaseLoad, "invalid module id "+s)
	}
	return id, nil
}

// Verdict is the recorded validation outcome of a module.
type Verdict struct {
	Reason string
	Known  bool
	Valid  bool
}

// Cache wraps a badger database.
type Cache struct {
	db *badger.DB
}

// Open opens or creates a cache in dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{Logger().Sugar()}).
		WithLoggingLevel(badger.WARNING)
	return open(opts)
}

// OpenInMemory creates a cache that lives only as long as the process.
func OpenInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*Cache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Load("open module cache", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func key(p []byte, id cid.Cid) []byte {
	return append(append([]byte(nil), p...), id.Bytes()...)
}

// Put stores bin and returns its key. Storing the same bytes twice is a
// no-op.
func (c *Cache) Put(bin []byte) (cid.Cid, error) {
	id, err := Key(bin)
	if err != nil {
		return cid.Undef, errors.Load("hash module", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(modulePrefix, id), bin)
	})
	if err != nil {
		return cid.Undef, errors.Load("store module", err)
	}
	Logger().Debug("module cached", zap.Stringer("cid", id), zap.Int("size", len(bin)))
	return id, nil
}

// Get returns the module stored under id.
func (c *Cache) Get(id cid.Cid) ([]byte, error) {
	var bin []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(modulePrefix, id))
		if err != nil {
			return err
		}
		bin, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.NotFound(errors.PhaseLoad, "module", id.String())
	}
	if err != nil {
		return nil, errors.Load("read module", err)
	}
	return bin, nil
}

// Has reports whether a module is stored under id.
func (c *Cache) Has(id cid.Cid) (bool, error) {
	exists := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(modulePrefix, id))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return exists, err
}

// SetVerdict records the validation outcome for id. A nil verr marks the
// module valid.
func (c *Cache) SetVerdict(id cid.Cid, verr error) error {
	val := []byte{verdictValid}
	if verr != nil {
		val = append([]byte{verdictInvalid}, verr.Error()...)
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(verdictPrefix, id), val)
	})
	if err != nil {
		return errors.Load("store verdict", err)
	}
	return nil
}

// Verdict returns the recorded validation outcome for id. Known is false
// when nothing was recorded.
func (c *Cache) Verdict(id cid.Cid) (Verdict, error) {
	var v Verdict
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(verdictPrefix, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.InvalidData(errors.PhaseLoad, []string{id.String()}, "empty verdict")
			}
			v.Known = true
			v.Valid = val[0] == verdictValid
			v.Reason = string(val[1:])
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Verdict{}, nil
	}
	if err != nil {
		return Verdict{}, errors.Load("read verdict", err)
	}
	return v, nil
}

// Keys lists the stored modules in key order.
func (c *Cache) Keys() ([]cid.Cid, error) {
	var ids []cid.Cid
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = modulePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			id, err := cid.Cast(bytes.TrimPrefix(k, modulePrefix))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Load("list modules", err)
	}
	return ids, nil
}
