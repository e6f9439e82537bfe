package auditstore

import (
	"github.com/dgraph-io/badger"
	"github.com/golang/snappy"
)

// BadgerStore is the KV implementation this module ships, adapted
// from the teacher's ethdb.BadgerDB for the v1.6.2 badger API (the
// teacher's file targeted badger's pre-1.0 KV/Entry surface, which
// badger replaced with DB/Txn well before v1.6.2). Values are
// snappy-compressed before being written, same as the teacher's code
// — audit records are small JSON blobs and compress well.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) a Badger store rooted at
// directory.
func OpenBadger(directory string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(directory)
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, snappy.Encode(nil, value))
	})
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val, err = snappy.Decode(nil, raw)
		return err
	})
	return val, err
}

func (s *BadgerStore) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
