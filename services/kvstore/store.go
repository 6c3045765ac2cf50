// Package kvstore is the persisted namespaced string store holding the
// broker credentials.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"doorbell-go/errcode"
)

// Credential namespace and keys.
const (
	NamespaceMQTT = "mqtt"
	KeyAddress    = "mqtt_address"
	KeyUser       = "mqtt_user"
	KeyPassword   = "mqtt_password"
)

// ErrNotFound is returned for a missing key.
var ErrNotFound = errors.New("kvstore: key not found")

type Store struct {
	db *badger.DB
}

// Options selects how the store is opened.
type Options struct {
	Path     string
	ReadOnly bool
	InMemory bool // Path is ignored
}

func Open(o Options) (*Store, error) {
	path := o.Path
	if o.InMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(o.InMemory).
		WithReadOnly(o.ReadOnly && !o.InMemory)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %q: %w", o.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(ns, k string) []byte { return []byte(ns + "/" + k) }

// Get returns the value stored under ns/k.
func (s *Store) Get(ns, k string) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(ns, k))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%s/%s: %w", ns, k, ErrNotFound)
	}
	return out, err
}

// Set stores v under ns/k.
func (s *Store) Set(ns, k, v string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(ns, k), []byte(v))
	})
}

// MQTTCredentials is the broker address and login.
type MQTTCredentials struct {
	Address  string
	User     string
	Password string
}

// LoadMQTT reads the broker credentials. The address is mandatory; user
// and password may be empty.
func (s *Store) LoadMQTT() (MQTTCredentials, error) {
	var c MQTTCredentials
	var err error
	if c.Address, err = s.Get(NamespaceMQTT, KeyAddress); err != nil {
		return c, &errcode.E{C: errcode.MissingCredentials, Op: "kvstore.load", Err: err}
	}
	for k, dst := range map[string]*string{KeyUser: &c.User, KeyPassword: &c.Password} {
		v, err := s.Get(NamespaceMQTT, k)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return c, err
		}
		*dst = v
	}
	return c, nil
}

// SaveMQTT writes all three credential keys in one transaction.
func (s *Store) SaveMQTT(c MQTTCredentials) error {
	if c.Address == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: "kvstore.save", Msg: "empty broker address"}
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range map[string]string{KeyAddress: c.Address, KeyUser: c.User, KeyPassword: c.Password} {
			if err := txn.Set(key(NamespaceMQTT, k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}
