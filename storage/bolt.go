package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tolelom/gameoracle/core"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("oracle")

// BoltDB implements DB on a single bbolt bucket.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates) a bbolt file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return core.ErrNotFound
		}
		// bolt values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *BoltDB) Set(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// NewIterator copies the matching pairs out of a read transaction so the
// iterator does not pin a bolt tx while the caller walks it.
func (b *BoltDB) NewIterator(prefix []byte) Iterator {
	it := &sliceIter{idx: -1}
	it.err = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			it.keys = append(it.keys, append([]byte(nil), k...))
			it.vals = append(it.vals, append([]byte(nil), v...))
		}
		return nil
	})
	return it
}

func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

type boltOp struct {
	key   []byte
	value []byte // nil means delete
}

type boltBatch struct {
	db  *bolt.DB
	ops []boltOp
}

func (b *boltBatch) Set(key, value []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...), value: append([]byte{}, value...)})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...)})
}

func (b *boltBatch) Reset() { b.ops = nil }

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for _, op := range b.ops {
			var err error
			if op.value == nil {
				err = bkt.Delete(op.key)
			} else {
				err = bkt.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type sliceIter struct {
	keys, vals [][]byte
	idx        int
	err        error
}

func (it *sliceIter) Next() bool    { it.idx++; return it.idx < len(it.keys) }
func (it *sliceIter) Key() []byte   { return it.keys[it.idx] }
func (it *sliceIter) Value() []byte { return it.vals[it.idx] }
func (it *sliceIter) Release()      {}
func (it *sliceIter) Error() error  { return it.err }
